// Package main implements the interview insights API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/interview-insights/engine/domain"
	"github.com/WessleyAI/interview-insights/engine/embedding"
	"github.com/WessleyAI/interview-insights/engine/evidence"
	"github.com/WessleyAI/interview-insights/engine/retrieval"
	"github.com/WessleyAI/interview-insights/pkg/app"
	"github.com/WessleyAI/interview-insights/pkg/config"
	"github.com/WessleyAI/interview-insights/pkg/mid"
	"github.com/WessleyAI/interview-insights/pkg/repo"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.PathEnv+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	h := &handlers{
		retriever: svc.Orchestrator,
		parser:    svc.Parser,
		queries:   svc.Gateway,
		logger:    logger,
	}
	if svc.Evidence != nil {
		h.evidence = svc.Evidence
	}
	if svc.Chunks != nil {
		h.chunks = svc.Chunks
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.routes(cfg.Server),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "model", cfg.Embedder.Model)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// retriever runs one retrieval request. *retrieval.Orchestrator satisfies it.
type retriever interface {
	Run(ctx context.Context, req retrieval.Request) (*domain.Report, error)
}

type guideParser interface {
	Parse(guide any) ([]domain.GuideQuestion, error)
}

type evidenceReader interface {
	Questions(ctx context.Context, opts repo.ListOpts) ([]evidence.Question, error)
	Evidence(ctx context.Context, theme, question string) ([]domain.Evidence, error)
}

type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (embedding.QueryVector, error)
}

// chunkSearcher searches chunks persisted by earlier requests.
type chunkSearcher interface {
	Search(ctx context.Context, vector domain.Vector, topK int, fileID string) ([]domain.SearchResult, error)
}

type handlers struct {
	retriever retriever
	parser    guideParser
	evidence  evidenceReader
	queries   queryEmbedder
	chunks    chunkSearcher
	logger    *slog.Logger
}

func (h *handlers) routes(cfg config.ServerConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/guide/parse", h.handleParseGuide)
	mux.HandleFunc("POST /api/retrieve", h.handleRetrieve)
	mux.HandleFunc("GET /api/questions", h.handleQuestions)
	mux.HandleFunc("GET /api/evidence", h.handleEvidence)
	mux.HandleFunc("POST /api/chunks/search", h.handleChunkSearch)

	return mid.Chain(mux,
		mid.Recover(h.logger),
		mid.RequestID(),
		mid.Logger(h.logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("insights-api"),
		mid.MaxBody(cfg.MaxBodyBytes),
		mid.Timeout(cfg.RequestTimeout),
	)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ParseGuideRequest is the JSON body for POST /api/guide/parse.
type ParseGuideRequest struct {
	Guide any `json:"guide"`
}

// ParseGuideResponse is the JSON response for POST /api/guide/parse.
type ParseGuideResponse struct {
	Questions []domain.GuideQuestion `json:"questions"`
}

func (h *handlers) handleParseGuide(w http.ResponseWriter, r *http.Request) {
	var req ParseGuideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	qs, err := h.parser.Parse(req.Guide)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ParseGuideResponse{Questions: qs})
}

// RetrieveResponse is the JSON response for POST /api/retrieve. Under the
// isolate policy a report may come back alongside an error.
type RetrieveResponse struct {
	Report *domain.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
	Stage  string         `json:"stage,omitempty"`
}

func (h *handlers) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.retriever.Run(r.Context(), req)
	if err == nil {
		writeJSON(w, http.StatusOK, RetrieveResponse{Report: report})
		return
	}

	resp := RetrieveResponse{Report: report, Error: err.Error()}
	if stage, ok := domain.StageOf(err); ok {
		resp.Stage = string(stage)
	}
	status := statusFor(err)
	if report != nil {
		status = http.StatusOK
		h.logger.Warn("retrieval partially failed", "err", err)
	} else if status >= 500 {
		h.logger.Error("retrieval failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
	}
	writeJSON(w, status, resp)
}

// statusFor maps a retrieval error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	switch stage, _ := domain.StageOf(err); stage {
	case domain.StageParsing:
		return http.StatusBadRequest
	case domain.StageEmbedding:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *handlers) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeError(w, http.StatusServiceUnavailable, "evidence graph not configured")
		return
	}
	opts := repo.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	qs, err := h.evidence.Questions(r.Context(), opts)
	if err != nil {
		h.logger.Error("list questions failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if qs == nil {
		qs = []evidence.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

func (h *handlers) handleEvidence(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeError(w, http.StatusServiceUnavailable, "evidence graph not configured")
		return
	}
	theme, question := r.URL.Query().Get("theme"), r.URL.Query().Get("question")
	if question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if theme == "" {
		theme = domain.DefaultTheme
	}
	ev, err := h.evidence.Evidence(r.Context(), theme, question)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "question not found")
		return
	}
	if err != nil {
		h.logger.Error("load evidence failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if ev == nil {
		ev = []domain.Evidence{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"theme": theme, "question": question, "evidence": ev})
}

// ChunkSearchRequest is the JSON body for POST /api/chunks/search.
type ChunkSearchRequest struct {
	Query  string `json:"query"`
	FileID string `json:"file_id,omitempty"`
	TopK   int    `json:"top_k,omitempty"`
}

const (
	defaultChunkTopK = 10
	maxChunkTopK     = 100
)

func (h *handlers) handleChunkSearch(w http.ResponseWriter, r *http.Request) {
	if h.chunks == nil {
		writeError(w, http.StatusServiceUnavailable, "chunk store not configured")
		return
	}
	var req ChunkSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultChunkTopK
	}
	req.TopK = min(req.TopK, maxChunkTopK)

	qv, err := h.queries.EmbedQuery(r.Context(), req.Query)
	if err != nil {
		h.logger.Error("embed chunk query failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		writeError(w, http.StatusBadGateway, "embedding failed")
		return
	}
	results, err := h.chunks.Search(r.Context(), qv.Vector, req.TopK, req.FileID)
	if err != nil {
		h.logger.Error("chunk search failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
