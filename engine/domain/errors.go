package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrInvalidGuide      = errors.New("guide must be an array of {theme, question} or a string")
	ErrInvalidFile       = errors.New("invalid transcript file")
	ErrTooFewQuestions   = errors.New("too few guide questions")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrMissingEmbedding  = errors.New("chunk has no embedding")
	ErrEmbedding         = errors.New("embedding failed")
)

// Stage names the pipeline step responsible for a failure.
type Stage string

const (
	StageParsing   Stage = "parsing"
	StageEmbedding Stage = "embedding"
	StageSearch    Stage = "search"
)

// StageError is the single, descriptive failure surfaced by the retrieval
// pipeline. Subject identifies the file, batch or question involved.
type StageError struct {
	Stage   Stage
	Subject string
	Err     error
}

func (e *StageError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Subject, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError creates a StageError.
func NewStageError(stage Stage, subject string, err error) *StageError {
	return &StageError{Stage: stage, Subject: subject, Err: err}
}

// StageOf returns the stage of the first StageError in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
