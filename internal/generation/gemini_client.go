package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

// GeminiConfig configures a GeminiClient. BaseURL and HTTPClient are only
// needed to point the client somewhere other than the public endpoint.
type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Breaker    *resilience.CircuitBreaker
	Retry      *resilience.RetryConfig
	Timeout    time.Duration
}

// GeminiClient generates replies with the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGeminiFromConfig builds a client from server configuration.
func NewGeminiFromConfig(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	return NewGemini(ctx, GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
		Breaker: resilience.NewCircuitBreaker("generation", cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Timeout: cfg.ExternalCallTimeout(),
	})
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, gc GeminiConfig) (*GeminiClient, error) {
	if gc.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     gc.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: gc.HTTPClient,
	}
	if gc.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: gc.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if gc.Breaker == nil {
		gc.Breaker = resilience.NewCircuitBreaker("generation", 5, 30*time.Second)
	}
	if gc.Retry == nil {
		gc.Retry = resilience.DefaultRetryConfig()
	}

	return &GeminiClient{
		client:  client,
		model:   gc.Model,
		breaker: gc.Breaker,
		retry:   gc.Retry,
		timeout: gc.Timeout,
		logger:  observability.GetLogger().With().Str("component", "generation").Str("model", gc.Model).Logger(),
	}, nil
}

// Model returns the model name.
func (g *GeminiClient) Model() string {
	return g.model
}

// GenerateReply asks the model for the next reply. The result is trimmed.
func (g *GeminiClient) GenerateReply(ctx context.Context, req Request) (reply string, err error) {
	defer observability.ObserveStage(observability.StageGeneration, time.Now(), &err)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := buildContents(req)
	gcc := &genai.GenerateContentConfig{}
	if sp := strings.TrimSpace(req.SystemPrompt); sp != "" {
		gcc.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(sp)}}
	}

	var resp *genai.GenerateContentResponse
	err = g.breaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = g.client.Models.GenerateContent(ctx, g.model, contents, gcc)
			return callErr
		}, g.retry, isRetryable)
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("state", g.breaker.GetState().String()).Msg("Generation failed")
		return "", &GenerationError{Model: g.model, Err: err}
	}

	return strings.TrimSpace(resp.Text()), nil
}

// buildContents maps history to user/model turns and appends the current one.
func buildContents(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(TurnText(req.ContextText, req.Question), genai.RoleUser))
}

// isRetryable retries rate limiting and server-side errors, plus the usual
// network failures.
func isRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Code >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}
