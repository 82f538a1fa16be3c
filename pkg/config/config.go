// Package config loads service configuration. Values are layered: built-in
// defaults, then an optional YAML file, then environment variables. A .env
// file in the working directory is folded into the environment first and
// never overrides variables that are already set.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/interview-insights/engine/chunker"
	"github.com/WessleyAI/interview-insights/engine/guide"
	"github.com/WessleyAI/interview-insights/engine/retrieval"
	"github.com/WessleyAI/interview-insights/engine/search"
	"github.com/WessleyAI/interview-insights/pkg/ollama"
)

// PathEnv names the variable holding the YAML config path.
const PathEnv = "INSIGHTS_CONFIG"

type GuideConfig struct {
	Boilerplate       []string `yaml:"boilerplate"`
	MinQuestionLength int      `yaml:"min_question_length"`
}

type SearchConfig struct {
	TopK      int     `yaml:"top_k"`
	Threshold float64 `yaml:"threshold"`
}

type RetrievalConfig struct {
	MinQuestions        int           `yaml:"min_questions"`
	FileConcurrency     int           `yaml:"file_concurrency"`
	QuestionConcurrency int           `yaml:"question_concurrency"`
	FailurePolicy       string        `yaml:"failure_policy"`
	CombineThreshold    float64       `yaml:"combine_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	ReuseEmbeddings     bool          `yaml:"reuse_embeddings"`
}

// QdrantConfig enables the chunk store when Addr is set.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// Neo4jConfig enables the evidence graph when URL is set.
type Neo4jConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
	// Workers bounds the requests one worker process handles at once.
	Workers int `yaml:"workers"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	CORSOrigin     string        `yaml:"cors_origin"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Embedder  ollama.Config   `yaml:"embedder"`
	Chunker   chunker.Config  `yaml:"chunker"`
	Guide     GuideConfig     `yaml:"guide"`
	Search    SearchConfig    `yaml:"search"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	NATS      NATSConfig      `yaml:"nats"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the built-in configuration. Qdrant and Neo4j are off.
func Default() Config {
	g := guide.DefaultOptions()
	s := search.QuestionOptions()
	r := retrieval.DefaultOptions()
	return Config{
		LogLevel: "info",
		Embedder: ollama.DefaultConfig(),
		Chunker:  chunker.DefaultConfig(),
		Guide: GuideConfig{
			Boilerplate:       g.Boilerplate,
			MinQuestionLength: g.MinQuestionLength,
		},
		Search: SearchConfig{TopK: s.TopK, Threshold: s.Threshold},
		Retrieval: RetrievalConfig{
			MinQuestions:        r.MinQuestions,
			FileConcurrency:     r.FileConcurrency,
			QuestionConcurrency: r.QuestionConcurrency,
			FailurePolicy:       r.FailurePolicy.String(),
			CombineThreshold:    r.CombineThreshold,
			Timeout:             5 * time.Minute,
		},
		Qdrant: QdrantConfig{Collection: "transcripts"},
		Neo4j:  Neo4jConfig{User: "neo4j", Database: "neo4j"},
		NATS:   NATSConfig{URL: "nats://localhost:4222", Subject: "insights.retrieve", Queue: "insights-workers", Workers: 4},
		Server: ServerConfig{
			Port:           "8080",
			CORSOrigin:     "*",
			RequestTimeout: 5 * time.Minute,
			MaxBodyBytes:   32 << 20,
		},
	}
}

// Load builds the configuration. An empty path falls back to $INSIGHTS_CONFIG;
// when neither is set only defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %s: %w", path, err)
		}
		err = decode(f, &cfg)
		f.Close()
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser collects parse failures so one bad variable doesn't hide the rest.
type envParser struct {
	errs []error
}

func (p *envParser) intVar(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (p *envParser) floatVar(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (p *envParser) durationVar(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (p *envParser) boolVar(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func applyEnv(cfg *Config) error {
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)

	cfg.Embedder.BaseURL = envOr("OLLAMA_URL", cfg.Embedder.BaseURL)
	cfg.Embedder.Model = envOr("EMBED_MODEL", cfg.Embedder.Model)

	cfg.Retrieval.FailurePolicy = envOr("FAILURE_POLICY", cfg.Retrieval.FailurePolicy)

	cfg.Qdrant.Addr = envOr("QDRANT_URL", cfg.Qdrant.Addr)
	cfg.Qdrant.Collection = envOr("QDRANT_COLLECTION", cfg.Qdrant.Collection)

	cfg.Neo4j.URL = envOr("NEO4J_URL", cfg.Neo4j.URL)
	cfg.Neo4j.User = envOr("NEO4J_USER", cfg.Neo4j.User)
	cfg.Neo4j.Password = envOr("NEO4J_PASS", cfg.Neo4j.Password)
	cfg.Neo4j.Database = envOr("NEO4J_DATABASE", cfg.Neo4j.Database)

	cfg.NATS.URL = envOr("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = envOr("NATS_SUBJECT", cfg.NATS.Subject)

	cfg.Server.Port = envOr("PORT", cfg.Server.Port)
	cfg.Server.CORSOrigin = envOr("CORS_ORIGIN", cfg.Server.CORSOrigin)

	var p envParser
	p.durationVar("EMBED_TIMEOUT", &cfg.Embedder.Timeout)
	p.floatVar("EMBED_RATE", &cfg.Embedder.RatePerSecond)
	p.intVar("SEARCH_TOP_K", &cfg.Search.TopK)
	p.floatVar("SEARCH_THRESHOLD", &cfg.Search.Threshold)
	p.intVar("MIN_QUESTIONS", &cfg.Retrieval.MinQuestions)
	p.intVar("FILE_CONCURRENCY", &cfg.Retrieval.FileConcurrency)
	p.intVar("QUESTION_CONCURRENCY", &cfg.Retrieval.QuestionConcurrency)
	p.durationVar("RETRIEVAL_TIMEOUT", &cfg.Retrieval.Timeout)
	p.boolVar("REUSE_EMBEDDINGS", &cfg.Retrieval.ReuseEmbeddings)
	p.durationVar("REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	p.intVar("NATS_WORKERS", &cfg.NATS.Workers)
	if len(p.errs) > 0 {
		return fmt.Errorf("config: env: %w", errors.Join(p.errs...))
	}
	return nil
}

// Validate rejects values the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	if _, err := retrieval.ParsePolicy(c.Retrieval.FailurePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Embedder.BaseURL == "" {
		errs = append(errs, errors.New("embedder.base_url is required"))
	}
	if c.Embedder.Model == "" {
		errs = append(errs, errors.New("embedder.model is required"))
	}
	if c.Chunker.TargetTokens <= 0 {
		errs = append(errs, errors.New("chunker.target_tokens must be positive"))
	}
	if c.Chunker.OverlapTokens < 0 || c.Chunker.OverlapTokens >= c.Chunker.TargetTokens {
		errs = append(errs, errors.New("chunker.overlap_tokens must be in [0, target_tokens)"))
	}
	if c.Search.TopK <= 0 {
		errs = append(errs, errors.New("search.top_k must be positive"))
	}
	if c.Search.Threshold < -1 || c.Search.Threshold > 1 {
		errs = append(errs, errors.New("search.threshold must be in [-1, 1]"))
	}
	if c.Retrieval.CombineThreshold < -1 || c.Retrieval.CombineThreshold > 1 {
		errs = append(errs, errors.New("retrieval.combine_threshold must be in [-1, 1]"))
	}
	if c.NATS.Workers <= 0 {
		errs = append(errs, errors.New("nats.workers must be positive"))
	}
	if c.Qdrant.Addr != "" && c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.collection is required when qdrant.addr is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// GuideOptions converts the guide section.
func (c Config) GuideOptions() guide.Options {
	return guide.Options{
		Boilerplate:       c.Guide.Boilerplate,
		MinQuestionLength: c.Guide.MinQuestionLength,
	}
}

// RetrievalOptions converts the guide, search and retrieval sections.
// Call Validate first; an unknown failure policy falls back to fail-fast.
func (c Config) RetrievalOptions() retrieval.Options {
	policy, _ := retrieval.ParsePolicy(c.Retrieval.FailurePolicy)
	return retrieval.Options{
		Guide:               c.GuideOptions(),
		Search:              search.Options{TopK: c.Search.TopK, Threshold: c.Search.Threshold, ThresholdSet: true},
		MinQuestions:        c.Retrieval.MinQuestions,
		FileConcurrency:     c.Retrieval.FileConcurrency,
		QuestionConcurrency: c.Retrieval.QuestionConcurrency,
		FailurePolicy:       policy,
		CombineThreshold:    c.Retrieval.CombineThreshold,
		Timeout:             c.Retrieval.Timeout,
		ReuseEmbeddings:     c.Retrieval.ReuseEmbeddings,
	}
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
