package session

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-agent/internal/observability"
)

var upgrader = websocket.Upgrader{
	// Origin checks belong to the fronting proxy; allow all here.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Handler upgrades requests to websockets and runs one Session per
// connection.
func Handler(deps Deps, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.GetLogger()

		// Upgrade writes its own error response on failure
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		sess := New(conn, deps, opts)
		logger.Info().Str("session_id", sess.ID()).Str("remote", r.RemoteAddr).Msg("New WebSocket connection established")

		if err := sess.Run(r.Context()); err != nil {
			logger.Debug().Err(err).Str("session_id", sess.ID()).Msg("Session ended with error")
		}
	}
}
