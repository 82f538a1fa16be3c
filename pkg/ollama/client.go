// Package ollama is an embedding transport for Ollama's batch /api/embed
// endpoint. Pacing, retries of transient failures and circuit breaking all
// live here, so callers see at most one logical attempt per batch.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/interview-insights/engine/domain"
	"github.com/WessleyAI/interview-insights/pkg/fn"
	"github.com/WessleyAI/interview-insights/pkg/resilience"
)

// ErrMalformedResponse is returned when the server answers 2xx with a body
// that does not decode.
var ErrMalformedResponse = errors.New("ollama: malformed response")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama: status %d: %s", e.Code, e.Body)
}

// Transient reports whether the request may succeed if repeated.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Config configures the client.
type Config struct {
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryWait        time.Duration `yaml:"retry_wait"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
}

// DefaultConfig returns defaults for a local Ollama.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:11434",
		Model:            "nomic-embed-text",
		Timeout:          60 * time.Second,
		MaxAttempts:      3,
		RetryWait:        500 * time.Millisecond,
		RatePerSecond:    10,
		Burst:            5,
		BreakerThreshold: 5,
	}
}

// Client implements embedding.Embedder over HTTP.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	logger  *slog.Logger
}

// New creates a Client. A non-positive rate disables pacing.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		retry: fn.RetryOpts{
			MaxAttempts: cfg.MaxAttempts,
			InitialWait: cfg.RetryWait,
			MaxWait:     10 * cfg.RetryWait,
			Jitter:      true,
			Retryable:   retryable,
		},
		logger: logger,
	}
	c.breaker = resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: cfg.BreakerThreshold,
		IsFailure:     remoteFault,
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("ollama: circuit breaker", "from", from.String(), "to", to.String())
		},
	})
	return c
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings []domain.Vector `json:"embeddings"`
}

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([]domain.Vector, error) {
	attempt := 0
	res := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]domain.Vector] {
		attempt++
		return resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[[]domain.Vector] {
			return fn.FromPair(c.embedOnce(ctx, texts))
		})
	})
	vectors, err := res.Unwrap()
	if err != nil {
		c.logger.Warn("ollama: embed failed", "texts", len(texts), "attempts", attempt, "err", err)
		return nil, err
	}
	return vectors, nil
}

func (c *Client) embedOnce(ctx context.Context, texts []string) ([]domain.Vector, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out.Embeddings, nil
}

// retryable admits transient HTTP statuses and transport errors. Client
// errors, malformed bodies, an open breaker and cancellation are final.
func retryable(err error) bool {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Transient()
	case errors.Is(err, ErrMalformedResponse),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// remoteFault counts only failures that indicate an unhealthy server.
func remoteFault(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrMalformedResponse)
}
