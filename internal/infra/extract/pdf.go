package extract

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
	"github.com/bryanwahyu/contract-risk/internal/logger"
)

const (
	pdfTextPages = 10
	pdfOCRPages  = 3
	pdfOCRDPI    = "200"
	// below this many characters the text layer is treated as a scan
	minPDFText = 200
)

func (d *Dispatcher) pdfText(ctx context.Context, data []byte) (string, error) {
	log := logger.OrNop(d.Log)

	dir, err := os.MkdirTemp("", "contract-pdf-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("remove temp dir", "dir", dir, "error", err)
		}
	}()
	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return "", err
	}

	// pdftotext -f 1 -l 10 -layout -enc UTF-8 <in> -
	out, _, err := d.Runner.Run(ctx, d.Pdftotext,
		"-f", "1", "-l", strconv.Itoa(pdfTextPages), "-layout", "-enc", "UTF-8", in, "-")
	text := ""
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("pdftotext failed, trying OCR", "error", err)
	} else {
		text = cleanPDFText(string(out))
	}
	if utf8.RuneCountInString(text) >= minPDFText {
		return text, nil
	}

	// pdftoppm -f 1 -l 3 -r 200 -png <in> <dir/page>
	prefix := filepath.Join(dir, "page")
	if _, _, err := d.Runner.Run(ctx, d.Pdftoppm,
		"-f", "1", "-l", strconv.Itoa(pdfOCRPages), "-r", pdfOCRDPI, "-png", in, prefix); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("pdftoppm failed", "error", err)
		return text, nil
	}
	pages, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(pages)
	if len(pages) > pdfOCRPages {
		pages = pages[:pdfOCRPages]
	}
	if len(pages) == 0 {
		return text, nil
	}

	images := make([]extraction.Image, 0, len(pages))
	for _, p := range pages {
		b, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		images = append(images, extraction.Image{Data: b, MediaType: "image/png"})
	}
	return d.ExtractImages(ctx, images)
}

// cleanPDFText turns form feeds into blank lines and drops empty pages.
func cleanPDFText(s string) string {
	var pages []string
	for _, p := range strings.Split(s, "\f") {
		if p = strings.TrimSpace(p); p != "" {
			pages = append(pages, p)
		}
	}
	return strings.Join(pages, "\n\n")
}
