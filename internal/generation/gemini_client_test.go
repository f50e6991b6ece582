package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/voice-agent/internal/resilience"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey:     "test-key",
		Model:      "gemini-test",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewGemini failed: %v", err)
	}
	return g
}

func replyJSON(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	})
	return string(body)
}

func TestGeminiClient_GenerateReply(t *testing.T) {
	var got geminiRequest
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(replyJSON("  Welcome to the lounge. Shall we look at the GLE?  ")))
	})

	reply, err := g.GenerateReply(context.Background(), Request{
		SystemPrompt: "Be brief.",
		ContextText:  "The GLE seats seven.",
		Question:     "How many seats?",
		History: []Message{
			{Role: RoleUser, Content: "Hi"},
			{Role: RoleAssistant, Content: "Hello."},
		},
	})
	if err != nil {
		t.Fatalf("GenerateReply failed: %v", err)
	}
	if reply != "Welcome to the lounge. Shall we look at the GLE?" {
		t.Errorf("Expected trimmed reply, got '%s'", reply)
	}

	if len(got.Contents) != 3 {
		t.Fatalf("Expected 3 contents, got %d", len(got.Contents))
	}
	roles := []string{got.Contents[0].Role, got.Contents[1].Role, got.Contents[2].Role}
	if roles[0] != "user" || roles[1] != "model" || roles[2] != "user" {
		t.Errorf("Expected user/model/user roles, got %v", roles)
	}
	want := "CONTEXT:\nThe GLE seats seven.\n\nQUESTION:\nHow many seats?"
	if got.Contents[2].Parts[0].Text != want {
		t.Errorf("Expected turn text %q, got %q", want, got.Contents[2].Parts[0].Text)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Errorf("Expected system instruction, got %+v", got.SystemInstruction)
	}
}

func TestGeminiClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := g.GenerateReply(context.Background(), Request{Question: "q"})
	if !IsGenerationError(err) {
		t.Fatalf("Expected GenerationError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call for a 400, got %d", calls.Load())
	}
}

func TestGeminiClient_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	g := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
			return
		}
		w.Write([]byte(replyJSON("Hi.")))
	})

	reply, err := g.GenerateReply(context.Background(), Request{Question: "q"})
	if err != nil {
		t.Fatalf("Expected success after retry, got %v", err)
	}
	if reply != "Hi." || calls.Load() != 2 {
		t.Errorf("Expected 'Hi.' after 2 calls, got '%s' after %d", reply, calls.Load())
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{Model: "m"}); err == nil {
		t.Error("Expected error without api key")
	}
}
