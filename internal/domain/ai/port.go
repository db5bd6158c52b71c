package ai

import (
	"context"

	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
)

// Input is one analysis request. Text may carry a chunk header.
type Input struct {
	Category analysis.Category
	Identity analysis.Identity
	Text     string
}

type MergeInput struct {
	Category analysis.Category
	Identity analysis.Identity
	Partials []analysis.Result
}

// Oracle maps contract text to a structured risk result.
type Oracle interface {
	Analyze(ctx context.Context, in Input) (analysis.Result, error)
	// Merge reduces chunk results into one final result.
	Merge(ctx context.Context, in MergeInput) (analysis.Result, error)
}

// OCR reads text from a small group of images in a single call.
type OCR interface {
	Recognize(ctx context.Context, images []extraction.Image) (string, error)
}
