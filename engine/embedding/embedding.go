// Package embedding orchestrates calls to an external embedding capability.
// It owns batching, count/dimension checks on what comes back, and the
// cosine similarity used by vector search. Retries and caching belong to
// the transport behind the Embedder interface, never to this package.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

const tracerName = "github.com/WessleyAI/interview-insights/engine/embedding"

// Embedder is the remote embedding capability. It must return one vector per
// input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]domain.Vector, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, texts []string) ([]domain.Vector, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([]domain.Vector, error) {
	return f(ctx, texts)
}

// BatchError reports a failed batch with the identifiers needed for diagnostics.
type BatchError struct {
	Batch     string
	Items     int
	FirstItem string
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding: batch %q (%d items, first %q): %v", e.Batch, e.Items, e.FirstItem, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// QueryVector is an embedded query kept next to its source text.
type QueryVector struct {
	Text   string
	Vector domain.Vector
}

// Gateway batches text-to-vector requests against an Embedder.
type Gateway struct {
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Gateway.
func New(embedder Embedder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{embedder: embedder, logger: logger}
}

// EmbedBatch embeds texts with exactly one call to the embedder. The batch
// fails as a whole when the embedder errors, returns a different number of
// vectors, or returns vectors of differing length.
func (g *Gateway) EmbedBatch(ctx context.Context, batch string, texts []string) ([]domain.Vector, error) {
	if len(texts) == 0 {
		return []domain.Vector{}, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "embedding.batch")
	defer span.End()
	span.SetAttributes(attribute.String("batch", batch), attribute.Int("items", len(texts)))

	start := time.Now()
	vectors, err := g.embedder.Embed(ctx, texts)
	if err == nil {
		err = checkBatch(len(texts), vectors)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &BatchError{Batch: batch, Items: len(texts), FirstItem: preview(texts[0]), Err: err}
	}

	g.logger.Debug("embedding batch done",
		"batch", batch,
		"items", len(texts),
		"dims", len(vectors[0]),
		"duration", time.Since(start),
	)
	return vectors, nil
}

func checkBatch(want int, vectors []domain.Vector) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbedding, len(vectors), want)
	}
	dims := len(vectors[0])
	if dims == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrEmbedding)
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d dims, want %d", domain.ErrDimensionMismatch, i, len(v), dims)
		}
	}
	return nil
}

// EmbedQuery embeds a single query string.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) (QueryVector, error) {
	vectors, err := g.EmbedBatch(ctx, "query", []string{text})
	if err != nil {
		return QueryVector{}, err
	}
	return QueryVector{Text: text, Vector: vectors[0]}, nil
}

// EmbedChunks embeds the content of one file's chunks in a single batch and
// returns copies with embeddings attached. The input slice is not modified.
func (g *Gateway) EmbedChunks(ctx context.Context, fileID string, chunks []domain.TranscriptChunk) ([]domain.TranscriptChunk, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := g.EmbedBatch(ctx, fileID, texts)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TranscriptChunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = vectors[i]
		out[i] = c
	}
	return out, nil
}

// Similarity returns the cosine similarity of a and b. Vectors of different
// length are an error; a zero-magnitude vector yields exactly 0.
func Similarity(a, b domain.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", domain.ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical directions a hair past ±1.
	return math.Max(-1, math.Min(1, sim)), nil
}

// Similarity is the gateway-bound form of the package function.
func (g *Gateway) Similarity(a, b domain.Vector) (float64, error) { return Similarity(a, b) }

func preview(s string) string {
	const limit = 48
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
