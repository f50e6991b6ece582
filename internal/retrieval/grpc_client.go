package retrieval

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

const (
	// ServiceName is the knowledge service name used for health checks.
	ServiceName = "knowledge.v1.KnowledgeService"
	// QueryMethod is the unary similarity-search RPC. Request and response
	// are google.protobuf.Struct: {query, top_k} -> {documents: [string]}.
	QueryMethod = "/" + ServiceName + "/Query"
)

// Client queries the knowledge service over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// Options tune a Client. Zero values pick defaults.
type Options struct {
	Breaker *resilience.CircuitBreaker
	Retry   *resilience.RetryConfig
	Timeout time.Duration
}

// Dial opens a connection to the knowledge service named in cfg.
func Dial(cfg *config.Config) (*Client, error) {
	var opts []grpc.DialOption

	if cfg.KnowledgeTLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))

	conn, err := grpc.NewClient(cfg.KnowledgeURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge client for %s: %w", cfg.KnowledgeURL, err)
	}

	return NewClient(conn, Options{
		Breaker: resilience.NewCircuitBreaker("retrieval", cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Timeout: cfg.ExternalCallTimeout(),
	}), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn, opts Options) *Client {
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker("retrieval", 5, 30*time.Second)
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &Client{
		conn:    conn,
		breaker: opts.Breaker,
		retry:   opts.Retry,
		timeout: opts.Timeout,
		logger:  observability.GetLogger().With().Str("component", "retrieval").Logger(),
	}
}

// FetchContext returns the most relevant document for query, or NoDataFound.
func (c *Client) FetchContext(ctx context.Context, query string, topK int) (text string, err error) {
	defer observability.ObserveStage(observability.StageRetrieval, time.Now(), &err)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"query": query,
		"top_k": float64(topK),
	})
	if err != nil {
		return "", &RetrievalError{Query: query, Err: err}
	}

	resp := &structpb.Struct{}
	err = c.breaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			return c.conn.Invoke(ctx, QueryMethod, req, resp)
		}, c.retry, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("state", c.breaker.GetState().String()).Msg("Knowledge query failed")
		return "", &RetrievalError{Query: query, Err: err}
	}

	doc := firstDocument(resp)
	if doc == "" {
		return NoDataFound, nil
	}
	return doc, nil
}

// firstDocument picks the first non-blank entry of resp.documents.
func firstDocument(resp *structpb.Struct) string {
	docs := resp.GetFields()["documents"].GetListValue().GetValues()
	for _, d := range docs {
		if s := strings.TrimSpace(d.GetStringValue()); s != "" {
			return s
		}
	}
	return ""
}

// HealthCheck asks the knowledge service for its serving status.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("knowledge service is %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
