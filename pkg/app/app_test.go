package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/WessleyAI/interview-insights/pkg/config"
)

func TestBuildDefaults(t *testing.T) {
	a, err := Build(config.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(context.Background())

	if a.Orchestrator == nil || a.Parser == nil || a.Gateway == nil {
		t.Fatal("core components not wired")
	}
	if a.Chunks != nil || a.Evidence != nil {
		t.Fatal("stores should stay off without addresses")
	}
}

func TestBuildWithStores(t *testing.T) {
	cfg := config.Default()
	cfg.Qdrant.Addr = "localhost:6334"
	cfg.Neo4j.URL = "neo4j://localhost:7687"

	a, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Chunks == nil || a.Evidence == nil {
		t.Fatal("stores not wired")
	}
	if len(a.closers) != 2 {
		t.Fatalf("expected 2 closers, got %d", len(a.closers))
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestBuildParserUsesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Guide.MinQuestionLength = 40
	a, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	qs := a.Parser.ParseText("- What do you think about pricing?\n- How does your team decide which tools to buy each year?")
	if len(qs) != 1 {
		t.Fatalf("expected length filter from config, got %+v", qs)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogLevel = "warn"
	log := NewLogger(&buf, cfg)
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}
