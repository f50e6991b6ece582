// Command voice-client talks to the voice agent server.
//
// Usage:
//
//	voice-client [flags]
//
// In text mode every line typed on stdin is an utterance. In mic mode the
// default audio device is opened in duplex and speech is transcribed with
// Deepgram live transcription.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-agent/internal/bargein"
	"github.com/lexiqai/voice-agent/internal/client"
	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
	"github.com/lexiqai/voice-agent/internal/stt"
	"github.com/lexiqai/voice-agent/internal/turn"
)

var (
	cfg *config.ClientConfig

	serverURL string
	mode      string
	mute      bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "voice-client",
	Short: "Talk to the voice agent from a terminal",
	Long: `voice-client connects to a voice agent server over a websocket,
sends utterances and plays the spoken replies.

Modes:
  text  read one utterance per line from stdin
  mic   capture the microphone and transcribe with Deepgram

Examples:
  voice-client --server ws://localhost:4000/ws
  voice-client --mode mic
  echo "What is the range of the GLE?" | voice-client --mute`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		observability.InitLogger(level, cfg.LogPretty)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	var err error
	cfg, err = config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd.Flags().StringVarP(&serverURL, "server", "s", cfg.ServerURL, "voice agent websocket URL")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", cfg.Mode, "input mode: text or mic")
	rootCmd.Flags().BoolVar(&mute, "mute", false, "do not open an audio device; replies are printed only")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func run(ctx context.Context) error {
	logger := observability.GetLogger().With().Str("component", "client").Logger()

	if mode != "text" && mode != "mic" {
		return fmt.Errorf("unknown mode %q, expected text or mic", mode)
	}
	if mode == "mic" && mute {
		return fmt.Errorf("mic mode needs an audio device, drop --mute")
	}
	if mode == "mic" && cfg.DeepgramAPIKey == "" {
		return fmt.Errorf("VOICE_CLIENT_DEEPGRAM_API_KEY is required in mic mode")
	}

	var player client.Player = client.Discard{}
	var device *client.Device
	if !mute {
		var err error
		device, err = client.OpenDevice(cfg.SampleRate, mode == "mic")
		if err != nil {
			return err
		}
		defer device.Close()
		player = device
	}

	reconnect := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	c, err := client.Dial(ctx, player, client.Options{
		URL: serverURL,
		Filter: bargein.Config{
			MinEchoChars:    cfg.EchoMinChars,
			EchoPrefixChars: cfg.EchoPrefixChars,
		},
		Reconnect: reconnect,
		Format:    client.ClipFormat{SampleRate: cfg.SampleRate, Channels: 1},
		OnReplyText: func(_ uint64, text string) {
			fmt.Printf("agent> %s\n", text)
		},
		OnError: func(code, message string) {
			fmt.Printf("error> %s: %s\n", code, message)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
		cancel()
	}()

	var rec stt.Recognizer
	if mode == "mic" {
		rec = stt.NewDeepgramRecognizer(stt.DeepgramConfig{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			Language:   cfg.DeepgramLanguage,
			SampleRate: cfg.SampleRate,
		}, device.Frames())
	} else {
		rec = stt.NewLineRecognizer(os.Stdin)
	}

	onFinal := client.SubmitAll(c)
	logger.Info().Str("server", serverURL).Str("session_id", c.SessionID()).Str("mode", mode).Msg("Listening")

	if err := client.Listen(ctx, rec, onFinal, reconnect); err != nil && ctx.Err() == nil {
		return err
	}

	// stdin closed: let the last reply finish before leaving
	if mode == "text" {
		waitForListening(ctx, c)
	}
	cancel()

	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func waitForListening(ctx context.Context, c *client.Client) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p := c.Phase(); p == turn.Listening || p == turn.Idle {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
