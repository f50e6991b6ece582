package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger writing to stdout
func InitLogger(level string, pretty bool) {
	InitLoggerTo(os.Stdout, level, pretty)
}

// InitLoggerTo initializes the global logger on w. Only the first call has
// any effect. The client logs to stderr so stdout stays free for the transcript.
func InitLoggerTo(w io.Writer, level string, pretty bool) {
	initOnce.Do(func() {
		zerolog.SetGlobalLevel(parseLevel(level))

		if pretty {
			// Pretty console output for development
			w = zerolog.ConsoleWriter{
				Out:        w,
				TimeFormat: time.RFC3339,
			}
		}
		globalLogger = zerolog.New(w).With().Timestamp().Logger()

		// Set as global logger
		log.Logger = globalLogger
	})
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	// Initialize with defaults if not already initialized
	InitLogger("info", false)
	return globalLogger
}

// WithSession creates a logger carrying the session id.
// An empty id is replaced by a fresh one.
func WithSession(sessionID string) zerolog.Logger {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return GetLogger().With().Str("session_id", sessionID).Logger()
}

// NewSessionID generates a new session identifier
func NewSessionID() string {
	return uuid.New().String()
}
