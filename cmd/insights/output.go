package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printQuestions(w io.Writer, qs []domain.GuideQuestion) {
	theme := ""
	for _, q := range qs {
		if q.Theme != theme {
			theme = q.Theme
			fmt.Fprintf(w, "%s\n", theme)
		}
		fmt.Fprintf(w, "  - %s\n", q.Question)
	}
	fmt.Fprintf(w, "\n%d questions\n", len(qs))
}

func printReport(w io.Writer, r *domain.Report) {
	fmt.Fprintf(w, "%d files, up to %d passages per question\n\n", r.FileCount, r.Budget.MaxChunksPerQuestion)
	for _, q := range r.Questions {
		fmt.Fprintf(w, "[%s] %s\n", q.Theme, q.Question)
		if q.Err != "" {
			fmt.Fprintf(w, "  failed: %s\n\n", q.Err)
			continue
		}
		if len(q.Evidence) == 0 {
			fmt.Fprintf(w, "  no evidence\n\n")
			continue
		}
		for i, e := range q.Evidence {
			fmt.Fprintf(w, "  %d. %.3f %s: %s\n", i+1, e.Similarity, sourceName(e), snippet(e.Content, 100))
		}
		fmt.Fprintln(w)
	}
}

func sourceName(e domain.Evidence) string {
	if e.SourceLabel != "" {
		return e.SourceLabel
	}
	return e.SourceFileID
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
