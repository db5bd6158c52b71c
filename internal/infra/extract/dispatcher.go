// Package extract turns uploaded documents and page photos into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
	"github.com/bryanwahyu/contract-risk/internal/logger"
)

const (
	MediaDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaPDF  = "application/pdf"

	// DefaultOCRGroup is how many images go into one OCR call.
	DefaultOCRGroup = 5
)

var tracer = otel.Tracer("contract-risk/infra/extract")

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// Dispatcher implements extraction.Extractor.
type Dispatcher struct {
	OCR    ai.OCR
	Runner Runner
	Log    *logger.Logger

	Pdftotext    string
	Pdftoppm     string
	MaxImageEdge int
	OCRGroup     int
}

func New(ocr ai.OCR, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		OCR:          ocr,
		Runner:       ExecRunner{Log: log},
		Log:          log,
		Pdftotext:    "pdftotext",
		Pdftoppm:     "pdftoppm",
		MaxImageEdge: DefaultMaxImageEdge,
		OCRGroup:     DefaultOCRGroup,
	}
}

var _ extraction.Extractor = (*Dispatcher)(nil)

// Detect classifies by extension first, then by declared media type. Image
// media types are corrected from the extension since clients often send
// application/octet-stream or image/jpg.
func (d *Dispatcher) Detect(mediaType, filename string) (extraction.Media, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}

	switch {
	case ext == ".docx" || mt == MediaDocx:
		return extraction.Media{Kind: extraction.KindDocx, MediaType: MediaDocx}, nil
	case ext == ".pdf" || mt == MediaPDF:
		return extraction.Media{Kind: extraction.KindPDF, MediaType: MediaPDF}, nil
	}
	if t, ok := imageTypes[ext]; ok {
		return extraction.Media{Kind: extraction.KindImage, MediaType: t}, nil
	}
	switch mt {
	case "image/png", "image/webp", "image/jpeg", "image/gif":
		return extraction.Media{Kind: extraction.KindImage, MediaType: mt}, nil
	case "image/jpg", "image/pjpeg":
		return extraction.Media{Kind: extraction.KindImage, MediaType: "image/jpeg"}, nil
	}
	return extraction.Media{}, fmt.Errorf("%w: %q (%s)", extraction.ErrUnsupportedMediaType, filename, mediaType)
}

func (d *Dispatcher) Extract(ctx context.Context, data []byte, m extraction.Media) (string, error) {
	ctx, span := tracer.Start(ctx, "extract."+string(m.Kind))
	defer span.End()
	span.SetAttributes(attribute.Int("bytes", len(data)))

	switch m.Kind {
	case extraction.KindDocx:
		return docxText(data)
	case extraction.KindPDF:
		return d.pdfText(ctx, data)
	case extraction.KindImage:
		return d.ExtractImages(ctx, []extraction.Image{{Data: data, MediaType: m.MediaType}})
	default:
		return "", fmt.Errorf("%w: kind %q", extraction.ErrUnsupportedMediaType, m.Kind)
	}
}

// ExtractImages OCRs images in order, a few per call, and joins the texts
// with blank lines.
func (d *Dispatcher) ExtractImages(ctx context.Context, images []extraction.Image) (string, error) {
	if len(images) == 0 {
		return "", nil
	}
	if d.OCR == nil {
		return "", errors.New("ocr not configured")
	}
	log := logger.OrNop(d.Log)

	prepared := make([]extraction.Image, len(images))
	for i, img := range images {
		small, err := shrink(img, d.MaxImageEdge)
		switch {
		case errors.Is(err, errTooManyPixels):
			log.Warn("extract.image.oversized", "index", i, "bytes", len(img.Data), "error", err)
		case err != nil:
			log.Debug("image not resized", "index", i, "error", err)
		}
		prepared[i] = small
	}

	group := d.OCRGroup
	if group <= 0 {
		group = DefaultOCRGroup
	}
	var texts []string
	for start := 0; start < len(prepared); start += group {
		end := min(start+group, len(prepared))
		t, err := d.OCR.Recognize(ctx, prepared[start:end])
		if err != nil {
			return "", fmt.Errorf("ocr images %d-%d: %w", start+1, end, err)
		}
		if t = strings.TrimSpace(t); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}
