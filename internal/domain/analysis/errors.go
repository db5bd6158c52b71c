package analysis

import "errors"

var (
	// ErrNotFound is returned when no record matches the owner and id (or cache key).
	ErrNotFound = errors.New("analysis not found")

	// ErrInvalidInput covers bad category, identity, empty text or empty file.
	ErrInvalidInput = errors.New("invalid input")

	ErrFileTooLarge = errors.New("file too large")

	// ErrNoFile means the record came from the text path or the batch path.
	ErrNoFile = errors.New("analysis has no original file")

	// ErrGuardBusy means another holder kept the flight guard past the wait.
	ErrGuardBusy = errors.New("same work already in progress")
)
