package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/interview-insights/pkg/resilience"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = url + "/"
	cfg.Timeout = 2 * time.Second
	cfg.RetryWait = time.Millisecond
	cfg.RatePerSecond = 0
	return cfg
}

// embedServer answers with a 2-dim vector per input; status lists the codes
// returned by successive calls before succeeding.
func embedServer(t *testing.T, status ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if n <= len(status) {
			http.Error(w, "nope", status[n-1])
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("unexpected model %q", req.Model)
		}
		out := embedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestEmbed_Batch(t *testing.T) {
	srv, calls := embedServer(t)
	c := New(testConfig(srv.URL), nil)

	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Fatalf("unexpected vectors %v", vecs)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one request for the whole batch, got %d", calls.Load())
	}
}

func TestEmbed_RetriesTransientFailures(t *testing.T) {
	srv, calls := embedServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	c := New(testConfig(srv.URL), nil)

	if _, err := c.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestEmbed_GivesUpAfterMaxAttempts(t *testing.T) {
	srv, calls := embedServer(t, 500, 500, 500, 500)
	c := New(testConfig(srv.URL), nil)

	_, err := c.Embed(context.Background(), []string{"a"})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 || se.Body != "nope" {
		t.Fatalf("expected status error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestEmbed_ClientErrorNotRetried(t *testing.T) {
	srv, calls := embedServer(t, http.StatusBadRequest)
	c := New(testConfig(srv.URL), nil)

	_, err := c.Embed(context.Background(), []string{"a"})
	var se *StatusError
	if !errors.As(err, &se) || se.Transient() {
		t.Fatalf("expected non-transient status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestEmbed_MalformedResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"embeddings": "nope"`))
	}))
	defer srv.Close()
	c := New(testConfig(srv.URL), nil)

	if _, err := c.Embed(context.Background(), []string{"a"}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("malformed responses must not be retried, got %d calls", calls.Load())
	}
}

func TestEmbed_BreakerOpens(t *testing.T) {
	srv, calls := embedServer(t, 500, 500, 500, 500, 500, 500)
	cfg := testConfig(srv.URL)
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 2
	c := New(cfg, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Embed(ctx, []string{"a"}); err == nil {
			t.Fatal("expected error")
		}
	}
	if _, err := c.Embed(ctx, []string{"a"}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("open breaker must not reach the server, got %d calls", calls.Load())
	}
}

func TestEmbed_ContextCanceled(t *testing.T) {
	srv, calls := embedServer(t)
	c := New(testConfig(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Embed(ctx, []string{"a"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("canceled request reached the server %d times", calls.Load())
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 502}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 404}, false},
		{ErrMalformedResponse, false},
		{resilience.ErrCircuitOpen, false},
		{context.Canceled, false},
		{errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
