package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice agent server
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"4000"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when tunnelled).
	// Only used for logging the WebSocket endpoint.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Speech synthesis provider: deepgram or cartesia
	TTSProvider string `envconfig:"TTS_PROVIDER" default:"deepgram"`

	// Deepgram Speak configuration
	DeepgramAPIKey        string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramTTSModel      string `envconfig:"DEEPGRAM_TTS_MODEL" default:""` // empty picks the model for AGENT_LANGUAGE
	DeepgramTTSEncoding   string `envconfig:"DEEPGRAM_TTS_ENCODING" default:"linear16"`
	DeepgramTTSContainer  string `envconfig:"DEEPGRAM_TTS_CONTAINER" default:"wav"`
	DeepgramTTSSampleRate int    `envconfig:"DEEPGRAM_TTS_SAMPLE_RATE" default:"24000"`

	// Cartesia TTS configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Gemini generation configuration
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-lite"`

	// Knowledge service (gRPC). Empty disables retrieval.
	KnowledgeURL        string `envconfig:"KNOWLEDGE_URL" default:"localhost:50051"`
	KnowledgeTLSEnabled bool   `envconfig:"KNOWLEDGE_TLS_ENABLED" default:"false"`
	KnowledgeTopK       int    `envconfig:"KNOWLEDGE_TOP_K" default:"8"`

	// External call timeouts
	ExternalTimeout  int `envconfig:"EXTERNAL_TIMEOUT" default:"30"`  // seconds, retrieval and generation
	SynthesisTimeout int `envconfig:"SYNTHESIS_TIMEOUT" default:"15"` // seconds, per unit

	// Turn engine configuration
	AudioChunkBytes    int    `envconfig:"AUDIO_CHUNK_BYTES" default:"4096"`   // frame size for audio_chunk events
	HistoryMaxMessages int    `envconfig:"HISTORY_MAX_MESSAGES" default:"20"`  // user+assistant entries kept per session
	MaxUtteranceChars  int    `envconfig:"MAX_UTTERANCE_CHARS" default:"2000"` // longer utterances are rejected
	EchoMinChars       int    `envconfig:"ECHO_MIN_CHARS" default:"10"`        // shorter utterances are never echo
	EchoPrefixChars    int    `envconfig:"ECHO_PREFIX_CHARS" default:"40"`     // agent prefix matched against the utterance
	AgentLanguage      string `envconfig:"AGENT_LANGUAGE" default:"en"`
	AgentSystemPrompt  string `envconfig:"AGENT_SYSTEM_PROMPT" default:""`
	AgentWelcomePrompt string `envconfig:"AGENT_WELCOME_PROMPT" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// ClientConfig holds configuration for the command line client.
// Flags on the command line take precedence over these values.
type ClientConfig struct {
	ServerURL string `envconfig:"SERVER_URL" default:"ws://localhost:4000/ws"`
	Mode      string `envconfig:"MODE" default:"text"` // text or mic

	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	SampleRate int `envconfig:"SAMPLE_RATE" default:"24000"` // audio device rate, capture and playback

	EchoMinChars    int `envconfig:"ECHO_MIN_CHARS" default:"10"`
	EchoPrefixChars int `envconfig:"ECHO_PREFIX_CHARS" default:"40"`

	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"` // Maximum reconnection attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`   // Reconnection backoff in milliseconds

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the selected providers have credentials and that
// numeric knobs are usable.
func (c *Config) Validate() error {
	switch strings.ToLower(c.TTSProvider) {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required")
		}
	case "cartesia":
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider)
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.AudioChunkBytes <= 0 {
		return fmt.Errorf("AUDIO_CHUNK_BYTES must be positive, got %d", c.AudioChunkBytes)
	}
	if c.HistoryMaxMessages <= 0 {
		return fmt.Errorf("HISTORY_MAX_MESSAGES must be positive, got %d", c.HistoryMaxMessages)
	}
	return nil
}

// ExternalCallTimeout is the deadline applied to retrieval and generation calls.
func (c *Config) ExternalCallTimeout() time.Duration {
	return time.Duration(c.ExternalTimeout) * time.Second
}

// SynthesisCallTimeout is the deadline applied to each unit's synthesis call.
func (c *Config) SynthesisCallTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeout) * time.Second
}

// LoadClient reads client configuration from VOICE_CLIENT_* variables,
// after loading .env if present.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := envconfig.Process("voice_client", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
