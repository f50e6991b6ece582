package retrieval

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/voice-agent/internal/resilience"
)

type fakeKnowledge struct {
	docs     []interface{}
	failures int32 // Unavailable responses before succeeding
	calls    atomic.Int32
	lastReq  atomic.Value
}

func (f *fakeKnowledge) query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n := f.calls.Add(1)
	f.lastReq.Store(req)
	if n <= f.failures {
		return nil, status.Error(codes.Unavailable, "index warming up")
	}
	return structpb.NewStruct(map[string]interface{}{"documents": f.docs})
}

var knowledgeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Query",
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(*fakeKnowledge).query(ctx, in)
		},
	}},
	Metadata: "knowledge.proto",
}

func startServer(t *testing.T, fake *fakeKnowledge) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&knowledgeServiceDesc, fake)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	c := NewClient(conn, Options{
		Retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Timeout: 5 * time.Second,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_FetchContext(t *testing.T) {
	fake := &fakeKnowledge{docs: []interface{}{"  ", "The GLE seats seven.", "other"}}
	c := startServer(t, fake)

	text, err := c.FetchContext(context.Background(), "How many seats?", 8)
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}
	if text != "The GLE seats seven." {
		t.Errorf("Expected first non-blank document, got '%s'", text)
	}

	req := fake.lastReq.Load().(*structpb.Struct)
	if req.Fields["query"].GetStringValue() != "How many seats?" {
		t.Errorf("Expected query forwarded, got %v", req.Fields["query"])
	}
	if req.Fields["top_k"].GetNumberValue() != 8 {
		t.Errorf("Expected top_k 8, got %v", req.Fields["top_k"])
	}
}

func TestClient_NoDocuments(t *testing.T) {
	c := startServer(t, &fakeKnowledge{docs: []interface{}{}})

	text, err := c.FetchContext(context.Background(), "weather?", 8)
	if err != nil {
		t.Fatalf("FetchContext failed: %v", err)
	}
	if text != NoDataFound {
		t.Errorf("Expected %q, got %q", NoDataFound, text)
	}
}

func TestClient_RetriesUnavailable(t *testing.T) {
	fake := &fakeKnowledge{docs: []interface{}{"doc"}, failures: 2}
	c := startServer(t, fake)

	text, err := c.FetchContext(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if text != "doc" {
		t.Errorf("Expected 'doc', got '%s'", text)
	}
	if fake.calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", fake.calls.Load())
	}
}

func TestClient_FailureIsRetrievalError(t *testing.T) {
	fake := &fakeKnowledge{failures: 100}
	c := startServer(t, fake)

	_, err := c.FetchContext(context.Background(), "q", 1)
	if !IsRetrievalError(err) {
		t.Errorf("Expected RetrievalError, got %v", err)
	}
	if fake.calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", fake.calls.Load())
	}
}

func TestClient_HealthCheck(t *testing.T) {
	c := startServer(t, &fakeKnowledge{})

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	text, _ := Static("").FetchContext(context.Background(), "q", 1)
	if text != NoDataFound {
		t.Errorf("Expected %q, got %q", NoDataFound, text)
	}
	text, _ = Static("fixed").FetchContext(context.Background(), "q", 1)
	if text != "fixed" {
		t.Errorf("Expected 'fixed', got %q", text)
	}
}
