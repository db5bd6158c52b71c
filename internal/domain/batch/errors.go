package batch

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("batch not found")
	ErrParameterMismatch = errors.New("batch params mismatch")
	ErrIncomplete        = errors.New("batch not complete")
	ErrInvalidPart       = errors.New("invalid batch part")
	ErrInProgress        = errors.New("batch finalize already in progress")
)

// IncompleteError carries the counts seen at finalize time.
type IncompleteError struct {
	Received int
	Total    int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("batch not complete: received %d/%d", e.Received, e.Total)
}

func (e *IncompleteError) Is(target error) bool { return target == ErrIncomplete }
