package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/generation"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
	"github.com/lexiqai/voice-agent/internal/retrieval"
	"github.com/lexiqai/voice-agent/internal/session"
	"github.com/lexiqai/voice-agent/internal/stream"
	"github.com/lexiqai/voice-agent/internal/tts"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("tts_provider", cfg.TTSProvider).
		Str("gemini_model", cfg.GeminiModel).
		Str("knowledge_url", cfg.KnowledgeURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice agent service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]observability.HealthCheckFunc{}

	// Speech synthesis
	var provider tts.Synthesizer
	switch strings.ToLower(cfg.TTSProvider) {
	case "cartesia":
		provider = tts.NewCartesiaClient(cfg)
	default:
		provider = tts.NewDeepgramClient(cfg)
	}
	breaker := resilience.NewCircuitBreaker("synthesis", cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	synth := tts.NewGuarded(provider, breaker, cfg.SynthesisCallTimeout())
	checks[provider.Name()] = func(ctx context.Context) (bool, error) {
		// A synthesis call would cost money, so readiness follows the breaker
		state, requests, failures, rate := breaker.GetStats()
		if state == resilience.StateOpen {
			return false, fmt.Errorf("synthesis circuit open: %d of %d requests failed (%.1f%%)", failures, requests, rate)
		}
		return true, nil
	}

	// Retrieval
	var retriever retrieval.Retriever
	if cfg.KnowledgeURL == "" {
		logger.Warn().Msg("KNOWLEDGE_URL is empty, replies will have no retrieved context")
		retriever = retrieval.Static("")
	} else {
		knowledge, err := retrieval.Dial(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create knowledge client")
		}
		defer knowledge.Close()
		retriever = knowledge
		checks["knowledge"] = func(ctx context.Context) (bool, error) {
			if err := knowledge.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	// Generation
	generator, err := generation.NewGeminiFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	checks["gemini"] = func(ctx context.Context) (bool, error) {
		return generator.Model() != "", nil
	}

	engine := stream.NewEngine(synth, tts.VoiceConfig{Language: cfg.AgentLanguage}, cfg.AudioChunkBytes,
		logger.With().Str("component", "stream").Logger())

	deps := session.Deps{
		Retriever: retriever,
		Generator: generator,
		Engine:    engine,
	}

	// Create HTTP server
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", session.Handler(deps, session.OptionsFromConfig(cfg)))
	mux.HandleFunc("/health", observability.HealthCheckHandler(version))
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Websocket sessions manage their own deadlines, so only headers are bounded here
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	endpoint := fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)
	if cfg.PublicURL != "" {
		endpoint = strings.Replace(strings.TrimSuffix(cfg.PublicURL, "/"), "http", "ws", 1) + "/ws"
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
