package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
}

func TestLoad(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.GeminiAPIKey != "test-gemini-key" {
		t.Errorf("Expected GeminiAPIKey 'test-gemini-key', got '%s'", cfg.GeminiAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("GEMINI_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_CartesiaProviderNeedsKey(t *testing.T) {
	setRequired(t)
	t.Setenv("TTS_PROVIDER", "cartesia")
	os.Unsetenv("CARTESIA_API_KEY")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when CARTESIA_API_KEY is missing for cartesia provider")
	}

	t.Setenv("CARTESIA_API_KEY", "test-cartesia-key")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.TTSProvider != "cartesia" {
		t.Errorf("Expected TTSProvider 'cartesia', got '%s'", cfg.TTSProvider)
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	setRequired(t)
	t.Setenv("TTS_PROVIDER", "espeak")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for unknown TTS_PROVIDER")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "4000" {
		t.Errorf("Expected default Port '4000', got '%s'", cfg.Port)
	}

	if cfg.TTSProvider != "deepgram" {
		t.Errorf("Expected default TTSProvider 'deepgram', got '%s'", cfg.TTSProvider)
	}

	if cfg.AudioChunkBytes != 4096 {
		t.Errorf("Expected default AudioChunkBytes 4096, got %d", cfg.AudioChunkBytes)
	}

	if cfg.HistoryMaxMessages != 20 {
		t.Errorf("Expected default HistoryMaxMessages 20, got %d", cfg.HistoryMaxMessages)
	}

	if cfg.MaxUtteranceChars != 2000 {
		t.Errorf("Expected default MaxUtteranceChars 2000, got %d", cfg.MaxUtteranceChars)
	}

	if cfg.EchoMinChars != 10 {
		t.Errorf("Expected default EchoMinChars 10, got %d", cfg.EchoMinChars)
	}

	if cfg.EchoPrefixChars != 40 {
		t.Errorf("Expected default EchoPrefixChars 40, got %d", cfg.EchoPrefixChars)
	}

	if cfg.KnowledgeURL != "localhost:50051" {
		t.Errorf("Expected default KnowledgeURL 'localhost:50051', got '%s'", cfg.KnowledgeURL)
	}

	if cfg.ExternalCallTimeout() != 30*time.Second {
		t.Errorf("Expected ExternalCallTimeout 30s, got %v", cfg.ExternalCallTimeout())
	}

	if cfg.SynthesisCallTimeout() != 15*time.Second {
		t.Errorf("Expected SynthesisCallTimeout 15s, got %v", cfg.SynthesisCallTimeout())
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
}

func TestLoad_InvalidChunkSize(t *testing.T) {
	setRequired(t)
	t.Setenv("AUDIO_CHUNK_BYTES", "0")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for zero AUDIO_CHUNK_BYTES")
	}
}

func TestLoadClient_Defaults(t *testing.T) {
	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() failed: %v", err)
	}

	if cfg.ServerURL != "ws://localhost:4000/ws" {
		t.Errorf("Expected default ServerURL 'ws://localhost:4000/ws', got '%s'", cfg.ServerURL)
	}

	if cfg.Mode != "text" {
		t.Errorf("Expected default Mode 'text', got '%s'", cfg.Mode)
	}
}

func TestLoadClient_Prefixed(t *testing.T) {
	t.Setenv("VOICE_CLIENT_SERVER_URL", "ws://example:9000/ws")
	t.Setenv("VOICE_CLIENT_MODE", "mic")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() failed: %v", err)
	}

	if cfg.ServerURL != "ws://example:9000/ws" {
		t.Errorf("Expected ServerURL 'ws://example:9000/ws', got '%s'", cfg.ServerURL)
	}

	if cfg.Mode != "mic" {
		t.Errorf("Expected Mode 'mic', got '%s'", cfg.Mode)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	value := GetEnv("TEST_VAR", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_VAR", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
