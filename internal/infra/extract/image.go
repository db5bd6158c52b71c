package extract

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
)

const (
	// DefaultMaxImageEdge keeps phone photos under the vision model's detail limit.
	DefaultMaxImageEdge = 2048

	// MaxDecodePixels bounds what shrink will decode. A decoded image costs
	// width*height*4 bytes however small the file is.
	MaxDecodePixels = 40_000_000
)

var errTooManyPixels = errors.New("image too large to decode")

// shrink downsizes images whose long edge exceeds maxEdge. Images that cannot
// be decoded, or that declare more than MaxDecodePixels, are passed through
// untouched; the OCR model may still read them.
func shrink(img extraction.Image, maxEdge int) (extraction.Image, error) {
	if maxEdge <= 0 {
		return img, nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return img, err
	}
	if cfg.Width <= maxEdge && cfg.Height <= maxEdge {
		return img, nil
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > MaxDecodePixels {
		return img, fmt.Errorf("%w: %dx%d", errTooManyPixels, cfg.Width, cfg.Height)
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return img, err
	}
	dst := imaging.Fit(src, maxEdge, maxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	out := extraction.Image{MediaType: "image/png"}
	if format == "jpeg" || format == "webp" {
		err = imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(85))
		out.MediaType = "image/jpeg"
	} else {
		err = imaging.Encode(&buf, dst, imaging.PNG)
	}
	if err != nil {
		return img, err
	}
	out.Data = buf.Bytes()
	return out, nil
}
