// Package search ranks embedded transcript chunks against query vectors.
// Search is an exhaustive scan: similarity is recomputed for every chunk on
// every query, then filtered by threshold, stably sorted and truncated, in
// that order. Combine fuses result lists from independent searches by
// averaging per-chunk scores.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/WessleyAI/interview-insights/engine/domain"
	"github.com/WessleyAI/interview-insights/engine/embedding"
	"github.com/WessleyAI/interview-insights/pkg/fn"
)

// QuestionTemplate frames a guide question before it is embedded.
const QuestionTemplate = "Question: %s\nFind relevant content that answers this question."

// QueryEmbedder turns a query string into a vector. *embedding.Gateway satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (embedding.QueryVector, error)
}

// Options controls a single search.
type Options struct {
	TopK      int
	Threshold float64
	// ThresholdSet marks Threshold as chosen, so a zero Threshold is not
	// replaced by a default.
	ThresholdSet bool
	// Workers bounds concurrent queries in SearchMany. Zero runs them all at once.
	Workers int
}

// DefaultOptions is used for passage-to-passage search.
func DefaultOptions() Options {
	return Options{TopK: 5, Threshold: 0.7, ThresholdSet: true}
}

// QuestionOptions is used for question-to-passage search, which is noisier.
func QuestionOptions() Options {
	return Options{TopK: 3, Threshold: 0.6, ThresholdSet: true}
}

// withDefaults fills the unset fields of opts from def.
func (opts Options) withDefaults(def Options) Options {
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if !opts.ThresholdSet && opts.Threshold == 0 {
		opts.Threshold = def.Threshold
	}
	opts.ThresholdSet = true
	return opts
}

// CombineOptions controls result fusion.
type CombineOptions struct {
	TopK      int
	Threshold float64
}

// DefaultCombineOptions returns the fusion defaults.
func DefaultCombineOptions() CombineOptions {
	return CombineOptions{TopK: 10, Threshold: 0.5}
}

// Engine runs searches, embedding queries through a QueryEmbedder.
type Engine struct {
	queries QueryEmbedder
	logger  *slog.Logger
}

// New creates an Engine.
func New(queries QueryEmbedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{queries: queries, logger: logger}
}

// Search ranks chunks by cosine similarity to query. Results below
// opts.Threshold are dropped before truncation to opts.TopK; equal scores
// keep chunk order. The threshold is used as given; TopK <= 0 means 5.
// A chunk with a missing or differently sized embedding aborts the search.
func Search(query domain.Vector, chunks []domain.TranscriptChunk, opts Options) ([]domain.SearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}

	results := make([]domain.SearchResult, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return nil, fmt.Errorf("search: chunk %s: %w", c.Key(), domain.ErrMissingEmbedding)
		}
		sim, err := embedding.Similarity(query, c.Embedding)
		if err != nil {
			return nil, fmt.Errorf("search: chunk %s: %w", c.Key(), err)
		}
		if sim >= opts.Threshold {
			results = append(results, domain.SearchResult{Chunk: c, Similarity: sim})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	rank(results)
	return results, nil
}

// Search is the engine-bound form of the package function.
func (e *Engine) Search(query domain.Vector, chunks []domain.TranscriptChunk, opts Options) ([]domain.SearchResult, error) {
	return Search(query, chunks, opts)
}

// SearchMany embeds and runs each query independently. A failing query does
// not abort the others: successful queries are returned in the map and the
// failures are joined into the returned error.
func (e *Engine) SearchMany(ctx context.Context, queries []string, chunks []domain.TranscriptChunk, opts Options) (map[string][]domain.SearchResult, error) {
	results := fn.ParMapCtx(ctx, queries, opts.Workers, false, func(ctx context.Context, q string) fn.Result[[]domain.SearchResult] {
		return fn.FromPair(e.searchText(ctx, q, chunks, opts))
	})

	out := make(map[string][]domain.SearchResult, len(queries))
	var errs []error
	for i, r := range results {
		v, err := r.Unwrap()
		if err != nil {
			errs = append(errs, fmt.Errorf("query %q: %w", queries[i], err))
			continue
		}
		out[queries[i]] = v
	}
	if len(errs) > 0 {
		e.logger.Warn("search: some queries failed", "failed", len(errs), "total", len(queries))
	}
	return out, errors.Join(errs...)
}

// FindRelevantForQuestion frames a guide question with QuestionTemplate and
// searches chunks with it. Unset fields of opts come from QuestionOptions:
// TopK <= 0, and a zero Threshold unless ThresholdSet.
func (e *Engine) FindRelevantForQuestion(ctx context.Context, question string, chunks []domain.TranscriptChunk, opts Options) ([]domain.SearchResult, error) {
	opts = opts.withDefaults(QuestionOptions())
	return e.searchText(ctx, fmt.Sprintf(QuestionTemplate, question), chunks, opts)
}

func (e *Engine) searchText(ctx context.Context, text string, chunks []domain.TranscriptChunk, opts Options) ([]domain.SearchResult, error) {
	qv, err := e.queries.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return Search(qv.Vector, chunks, opts)
}

// Dedupe returns the distinct chunks referenced by results in first-seen order.
func Dedupe(results []domain.SearchResult) []domain.TranscriptChunk {
	unique := fn.UniqueBy(results, func(r domain.SearchResult) domain.ChunkKey { return r.Chunk.Key() })
	return fn.Map(unique, func(r domain.SearchResult) domain.TranscriptChunk { return r.Chunk })
}

// Combine fuses results gathered from several searches. Occurrences below
// opts.Threshold are discarded, the rest are grouped by chunk and averaged.
// Groups are ordered by average score; equal averages keep first-seen order.
// A chunk found by only one search is not penalised for missing from others.
func Combine(all []domain.SearchResult, opts CombineOptions) []domain.SearchResult {
	if opts.TopK <= 0 {
		opts.TopK = DefaultCombineOptions().TopK
	}

	kept := fn.Filter(all, func(r domain.SearchResult) bool { return r.Similarity >= opts.Threshold })
	keys, groups := fn.GroupOrdered(kept, func(r domain.SearchResult) domain.ChunkKey { return r.Chunk.Key() })

	fused := make([]domain.SearchResult, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		var sum float64
		for _, r := range g {
			sum += r.Similarity
		}
		fused = append(fused, domain.SearchResult{Chunk: g[0].Chunk, Similarity: sum / float64(len(g))})
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Similarity > fused[j].Similarity
	})
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	rank(fused)
	return fused
}

func rank(results []domain.SearchResult) {
	for i := range results {
		results[i].Rank = i + 1
	}
}
