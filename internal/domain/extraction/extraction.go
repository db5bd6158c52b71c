package extraction

import (
	"context"
	"errors"
)

// FailedSentinel replaces empty extraction output so the oracle and the user
// both see an explicit failure marker.
const FailedSentinel = "（解析失败：未提取到文本）"

var ErrUnsupportedMediaType = errors.New("unsupported media type")

type Kind string

const (
	KindDocx  Kind = "docx"
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

// Media is the detected kind plus the corrected media type.
type Media struct {
	Kind      Kind
	MediaType string
}

type Image struct {
	Data      []byte
	MediaType string
}

// Extractor port. Detect is cheap and runs before billing; Extract and
// ExtractImages may call the OCR oracle.
type Extractor interface {
	Detect(mediaType, filename string) (Media, error)
	Extract(ctx context.Context, data []byte, m Media) (string, error)
	ExtractImages(ctx context.Context, images []Image) (string, error)
}
