package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/WessleyAI/interview-insights/engine/domain"
)

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// loadGuide returns a guide in the shape the parser accepts.
func loadGuide(stdin io.Reader, path string) (any, error) {
	data, err := readInput(stdin, path)
	if err != nil {
		return nil, fmt.Errorf("read guide: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var g any
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("decode guide %s: %w", path, err)
		}
		return g, nil
	}
	return string(data), nil
}

// loadTranscripts reads transcript files. A .json file holds one transcript
// object or an array of them; anything else is plain text named after the file.
func loadTranscripts(paths []string) ([]domain.TranscriptFile, error) {
	var files []domain.TranscriptFile
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		base := filepath.Base(p)
		ext := filepath.Ext(base)
		if !strings.EqualFold(ext, ".json") {
			files = append(files, domain.TranscriptFile{
				ID:    strings.TrimSuffix(base, ext),
				Label: base,
				Text:  string(data),
			})
			continue
		}

		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			var many []domain.TranscriptFile
			if err := json.Unmarshal(data, &many); err != nil {
				return nil, fmt.Errorf("decode transcripts %s: %w", p, err)
			}
			files = append(files, many...)
			continue
		}
		var one domain.TranscriptFile
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("decode transcript %s: %w", p, err)
		}
		files = append(files, one)
	}
	return files, nil
}
