//go:build integration

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/WessleyAI/interview-insights/pkg/app"
	"github.com/WessleyAI/interview-insights/pkg/config"
)

// Needs a running Ollama with the configured embedding model pulled.
func TestAPI_RetrieveAgainstOllama(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc, err := app.Build(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close(context.Background())

	h := &handlers{retriever: svc.Orchestrator, parser: svc.Parser, logger: logger}
	srv := httptest.NewServer(h.routes(cfg.Server))
	defer srv.Close()

	body := `{
  "guide": [{"theme": "Pricing", "question": "How much do you pay for your current tools?"}],
  "files": [{"id": "p1", "label": "Participant 1", "text": "We pay about forty dollars a month per seat. The price felt high at first. Our team mostly uses spreadsheets otherwise."}]
}`
	resp, err := http.Post(srv.URL+"/api/retrieve", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out RetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Report == nil || len(out.Report.Questions) != 1 {
		t.Fatalf("unexpected report: %+v", out)
	}
	for _, ev := range out.Report.Questions[0].Evidence {
		if ev.SourceFileID != "p1" || ev.Similarity < cfg.Retrieval.CombineThreshold {
			t.Fatalf("unexpected evidence: %+v", ev)
		}
	}
}
