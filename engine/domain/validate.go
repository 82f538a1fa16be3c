package domain

import (
	"fmt"
	"strings"
)

// ValidateFile checks a transcript file before chunking or embedding.
// Files carrying text but no chunks are accepted; their chunks are produced later.
func ValidateFile(f TranscriptFile) error {
	if strings.TrimSpace(f.ID) == "" {
		return NewValidationError("id", f.ID, ErrInvalidFile)
	}
	if len(f.Chunks) == 0 {
		if strings.TrimSpace(f.Text) == "" {
			return NewValidationError("text", f.ID, fmt.Errorf("%w: no chunks and no text", ErrInvalidFile))
		}
		return nil
	}
	return ValidateChunks(f.ID, f.Chunks)
}

// ValidateChunks enforces chunk identity and content within one file's collection.
func ValidateChunks(fileID string, chunks []TranscriptChunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.ID) == "" {
			return NewValidationError("chunks.id", fmt.Sprintf("%s[%d]", fileID, i), ErrInvalidFile)
		}
		if _, dup := seen[c.ID]; dup {
			return NewValidationError("chunks.id", c.ID, fmt.Errorf("%w: duplicate chunk id in %s", ErrInvalidFile, fileID))
		}
		seen[c.ID] = struct{}{}
		if strings.TrimSpace(c.Content) == "" {
			return NewValidationError("chunks.content", c.ID, fmt.Errorf("%w: empty content", ErrInvalidFile))
		}
	}
	return nil
}

// ValidateFiles validates every file and rejects duplicate file IDs.
func ValidateFiles(files []TranscriptFile) error {
	if len(files) == 0 {
		return NewValidationError("files", "", fmt.Errorf("%w: no transcript files", ErrInvalidFile))
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if err := ValidateFile(f); err != nil {
			return err
		}
		if _, dup := seen[f.ID]; dup {
			return NewValidationError("id", f.ID, fmt.Errorf("%w: duplicate file id", ErrInvalidFile))
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}
