// Package retrieval composes guide parsing, transcript embedding and vector
// search into a single request: for every guide question it selects a
// bounded, ranked set of transcript passages. The evidence budget is derived
// from the number of transcripts once per request.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/interview-insights/engine/chunker"
	"github.com/WessleyAI/interview-insights/engine/domain"
	"github.com/WessleyAI/interview-insights/engine/embedding"
	"github.com/WessleyAI/interview-insights/engine/guide"
	"github.com/WessleyAI/interview-insights/engine/search"
	"github.com/WessleyAI/interview-insights/pkg/fn"
)

// Chunker splits a transcript supplied as raw text.
type Chunker interface {
	Chunk(fileID, label, text string) []domain.TranscriptChunk
}

// ChunkSink receives each file's embedded chunks, e.g. a vector store.
type ChunkSink interface {
	StoreChunks(ctx context.Context, fileID string, chunks []domain.TranscriptChunk) error
}

// EvidenceSink receives the finished report, e.g. a graph store.
type EvidenceSink interface {
	StoreReport(ctx context.Context, report *domain.Report) error
}

// FailurePolicy decides what a failed question does to the request.
type FailurePolicy int

const (
	// FailFast cancels outstanding questions and fails the request.
	FailFast FailurePolicy = iota
	// Isolate keeps successful questions and reports failures in aggregate.
	Isolate
)

// ParsePolicy parses "fail_fast" or "isolate".
func ParsePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "fail_fast":
		return FailFast, nil
	case "isolate":
		return Isolate, nil
	}
	return FailFast, fmt.Errorf("retrieval: unknown failure policy %q", s)
}

func (p FailurePolicy) String() string {
	if p == Isolate {
		return "isolate"
	}
	return "fail_fast"
}

// Options configures the orchestrator.
type Options struct {
	Guide guide.Options
	// Search applies to each question-in-file search. Zero means search.QuestionOptions.
	Search              search.Options
	MinQuestions        int
	FileConcurrency     int
	QuestionConcurrency int
	FailurePolicy       FailurePolicy
	CombineThreshold    float64
	// Timeout is the request deadline. Zero leaves the caller's context alone.
	Timeout time.Duration
	// ReuseEmbeddings skips embedding files whose chunks all carry one.
	ReuseEmbeddings bool
}

// DefaultOptions returns the orchestrator defaults.
func DefaultOptions() Options {
	return Options{
		Guide:               guide.DefaultOptions(),
		Search:              search.QuestionOptions(),
		MinQuestions:        1,
		FileConcurrency:     4,
		QuestionConcurrency: 4,
		FailurePolicy:       FailFast,
		CombineThreshold:    search.DefaultCombineOptions().Threshold,
	}
}

// Deps are the orchestrator's collaborators. Gateway is required; a nil
// Chunker uses the default sentence chunker and nil sinks are skipped.
type Deps struct {
	Gateway  *embedding.Gateway
	Chunker  Chunker
	Chunks   ChunkSink
	Evidence EvidenceSink
}

// Request is one retrieval job. Guide is a string or an array of
// {theme, question} objects.
type Request struct {
	Guide any                     `json:"guide"`
	Files []domain.TranscriptFile `json:"files"`
}

// Orchestrator runs retrieval requests.
type Orchestrator struct {
	gateway  *embedding.Gateway
	search   *search.Engine
	parser   *guide.Parser
	chunker  Chunker
	chunks   ChunkSink
	evidence EvidenceSink
	opts     Options
	metrics  *instruments
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(deps Deps, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinQuestions <= 0 {
		opts.MinQuestions = 1
	}
	ch := deps.Chunker
	if ch == nil {
		ch = chunker.New(chunker.DefaultConfig())
	}
	return &Orchestrator{
		gateway:  deps.Gateway,
		search:   search.New(deps.Gateway, logger),
		parser:   guide.NewParser(opts.Guide),
		chunker:  ch,
		chunks:   deps.Chunks,
		evidence: deps.Evidence,
		opts:     opts,
		metrics:  newInstruments(logger),
		logger:   logger,
	}
}

// Run executes a request. Input-shape errors are returned before any
// embedding call. Any embedding failure or an expired deadline fails the
// whole request. Under Isolate, failed questions carry their error in the
// report and the joined failures are returned next to it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.Report, error) {
	start := time.Now()
	report, err := o.run(ctx, req)
	o.metrics.record(ctx, report, err, time.Since(start))
	if err != nil && report == nil {
		o.logger.Error("retrieval failed", "err", err, "duration", time.Since(start))
	} else {
		o.logger.Info("retrieval done",
			"questions", len(report.Questions),
			"files", report.FileCount,
			"max_chunks", report.Budget.MaxChunksPerQuestion,
			"partial", err != nil,
			"duration", time.Since(start),
		)
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*domain.Report, error) {
	parse := fn.TracedStage("retrieval.parse", func(_ context.Context, g any) fn.Result[[]domain.GuideQuestion] {
		return fn.FromPair(o.parseGuide(g))
	})
	questions, err := parse(ctx, req.Guide).Unwrap()
	if err != nil {
		return nil, err
	}

	files, err := o.prepare(req.Files)
	if err != nil {
		return nil, domain.NewStageError(domain.StageParsing, "files", err)
	}
	budget := DeriveBudget(len(files))

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	embed := fn.TracedStage("retrieval.embed", func(ctx context.Context, fs []domain.TranscriptFile) fn.Result[[]domain.TranscriptFile] {
		return fn.FromPair(o.embedFiles(ctx, fs))
	})
	files, err = embed(ctx, files).Unwrap()
	if err != nil {
		return nil, err
	}
	o.storeChunks(ctx, files)

	searchAll := fn.TracedStage("retrieval.search", func(ctx context.Context, qs []domain.GuideQuestion) fn.Result[[]questionOutcome] {
		return fn.Ok(o.searchQuestions(ctx, qs, files, budget))
	})
	outcomes, _ := searchAll(ctx, questions).Unwrap()

	report := &domain.Report{
		Questions: make([]domain.QuestionEvidence, len(outcomes)),
		Budget:    budget,
		FileCount: len(files),
	}
	var errs []error
	for i, out := range outcomes {
		q := questions[i]
		report.Questions[i] = domain.QuestionEvidence{Theme: q.Theme, Question: q.Question, Evidence: out.evidence}
		if out.err != nil {
			report.Questions[i].Evidence = nil
			report.Questions[i].Err = out.err.Error()
			err := out.err
			if _, ok := domain.StageOf(err); !ok {
				err = domain.NewStageError(domain.StageSearch, q.Question, err)
			}
			errs = append(errs, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, interruptedBy(errs, err)
	}
	if len(errs) > 0 && o.opts.FailurePolicy == FailFast {
		return nil, firstCause(errs)
	}

	o.storeReport(ctx, report)
	return report, errors.Join(errs...)
}

func (o *Orchestrator) parseGuide(g any) ([]domain.GuideQuestion, error) {
	questions, err := o.parser.Parse(g)
	if err != nil {
		return nil, domain.NewStageError(domain.StageParsing, "guide", err)
	}
	if len(questions) < o.opts.MinQuestions {
		return nil, domain.NewStageError(domain.StageParsing, "guide",
			fmt.Errorf("%w: got %d, need %d", domain.ErrTooFewQuestions, len(questions), o.opts.MinQuestions))
	}
	return questions, nil
}

// prepare validates the files, chunks text-only files and stamps source
// identity on every chunk. The caller's slices are not modified.
func (o *Orchestrator) prepare(in []domain.TranscriptFile) ([]domain.TranscriptFile, error) {
	if err := domain.ValidateFiles(in); err != nil {
		return nil, err
	}
	files := make([]domain.TranscriptFile, len(in))
	for i, f := range in {
		var chunks []domain.TranscriptChunk
		if len(f.Chunks) == 0 {
			chunks = o.chunker.Chunk(f.ID, f.Label, f.Text)
			if err := domain.ValidateChunks(f.ID, chunks); err != nil {
				return nil, err
			}
			if len(chunks) == 0 {
				return nil, domain.NewValidationError("text", f.ID, fmt.Errorf("%w: text produced no chunks", domain.ErrInvalidFile))
			}
		} else {
			chunks = make([]domain.TranscriptChunk, len(f.Chunks))
			copy(chunks, f.Chunks)
		}
		for j := range chunks {
			chunks[j].SourceFileID = f.ID
			if chunks[j].SourceLabel == "" {
				chunks[j].SourceLabel = f.Label
			}
		}
		f.Chunks = chunks
		files[i] = f
	}
	return files, nil
}

// embedFiles embeds every file concurrently, one batch per file. The first
// failure cancels the remaining batches.
func (o *Orchestrator) embedFiles(ctx context.Context, files []domain.TranscriptFile) ([]domain.TranscriptFile, error) {
	results := fn.ParMapCtx(ctx, files, o.opts.FileConcurrency, true, func(ctx context.Context, f domain.TranscriptFile) fn.Result[domain.TranscriptFile] {
		if o.opts.ReuseEmbeddings && allEmbedded(f.Chunks) {
			return fn.Ok(f)
		}
		chunks, err := o.gateway.EmbedChunks(ctx, f.ID, f.Chunks)
		if err != nil {
			return fn.Err[domain.TranscriptFile](domain.NewStageError(domain.StageEmbedding, f.ID, err))
		}
		f.Chunks = chunks
		return fn.Ok(f)
	})

	out, errs := fn.Partition(results)
	if len(errs) > 0 {
		err := firstCause(errs)
		if _, ok := domain.StageOf(err); !ok {
			err = domain.NewStageError(domain.StageEmbedding, "", err)
		}
		return nil, err
	}
	return out, nil
}

func allEmbedded(chunks []domain.TranscriptChunk) bool {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return false
		}
	}
	return true
}

type questionOutcome struct {
	evidence []domain.Evidence
	err      error
}

func (o *Orchestrator) searchQuestions(ctx context.Context, questions []domain.GuideQuestion, files []domain.TranscriptFile, budget domain.Budget) []questionOutcome {
	failFast := o.opts.FailurePolicy == FailFast
	results := fn.ParMapCtx(ctx, questions, o.opts.QuestionConcurrency, failFast, func(ctx context.Context, q domain.GuideQuestion) fn.Result[[]domain.Evidence] {
		return fn.FromPair(o.evidenceFor(ctx, q.Question, files, budget))
	})
	return fn.Map(results, func(r fn.Result[[]domain.Evidence]) questionOutcome {
		ev, err := r.Unwrap()
		return questionOutcome{evidence: ev, err: err}
	})
}

// evidenceFor searches every file for one question and fuses the per-file
// rankings under the request budget.
func (o *Orchestrator) evidenceFor(ctx context.Context, question string, files []domain.TranscriptFile, budget domain.Budget) ([]domain.Evidence, error) {
	perFile := fn.ParMapCtx(ctx, files, o.opts.FileConcurrency, true, func(ctx context.Context, f domain.TranscriptFile) fn.Result[[]domain.SearchResult] {
		res, err := o.search.FindRelevantForQuestion(ctx, question, f.Chunks, o.opts.Search)
		var be *embedding.BatchError
		if errors.As(err, &be) {
			return fn.Err[[]domain.SearchResult](domain.NewStageError(domain.StageEmbedding, question, err))
		}
		if err != nil {
			return fn.Err[[]domain.SearchResult](fmt.Errorf("file %s: %w", f.ID, err))
		}
		return fn.Ok(res)
	})
	lists, errs := fn.Partition(perFile)
	if len(errs) > 0 {
		return nil, firstCause(errs)
	}

	var all []domain.SearchResult
	for _, l := range lists {
		all = append(all, l...)
	}
	fused := search.Combine(all, search.CombineOptions{
		TopK:      budget.MaxChunksPerQuestion,
		Threshold: o.opts.CombineThreshold,
	})
	if len(fused) > budget.MaxChunksPerQuestion {
		fused = fused[:budget.MaxChunksPerQuestion]
	}
	return fn.Map(fused, domain.EvidenceFromResult), nil
}

func (o *Orchestrator) storeChunks(ctx context.Context, files []domain.TranscriptFile) {
	if o.chunks == nil {
		return
	}
	for _, f := range files {
		if err := o.chunks.StoreChunks(ctx, f.ID, f.Chunks); err != nil {
			o.logger.Warn("retrieval: chunk sink failed, continuing", "file", f.ID, "err", err)
		}
	}
}

func (o *Orchestrator) storeReport(ctx context.Context, report *domain.Report) {
	if o.evidence == nil {
		return
	}
	if err := o.evidence.StoreReport(ctx, report); err != nil {
		o.logger.Warn("retrieval: evidence sink failed, continuing", "err", err)
	}
}

// interruptedBy returns the question failure that carries the context error,
// so a deadline names the stage and question it interrupted.
func interruptedBy(errs []error, ctxErr error) error {
	for _, err := range errs {
		if errors.Is(err, ctxErr) {
			return err
		}
	}
	return domain.NewStageError(domain.StageSearch, "", ctxErr)
}

// firstCause prefers a real failure over the cancellations it triggered.
func firstCause(errs []error) error {
	for _, err := range errs {
		if !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return errs[0]
}
