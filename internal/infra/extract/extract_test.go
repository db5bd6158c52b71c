package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
)

type fakeOCR struct {
	mu     sync.Mutex
	groups [][]extraction.Image
	err    error
}

func (f *fakeOCR) Recognize(_ context.Context, images []extraction.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, images)
	if f.err != nil {
		return "", f.err
	}
	return " 第" + string(rune('0'+len(f.groups))) + "组 ", nil
}

type fakeRunner struct {
	text     string
	textErr  error
	pages    int
	commands []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.commands = append(f.commands, name+" "+strings.Join(args, " "))
	switch name {
	case "pdftotext":
		return []byte(f.text), nil, f.textErr
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			name := prefix + "-" + string(rune('0'+i)) + ".png"
			if err := os.WriteFile(name, pngBytes(10, 10), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
	return nil, nil, errors.New("unexpected command " + name)
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// pngHeader is a PNG that declares w x h pixels but carries no image data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	ihdr = append(ihdr, 8, 0, 0, 0, 0) // 8-bit grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr))
	return buf.Bytes()
}

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestDispatcher(ocr *fakeOCR, r *fakeRunner) *Dispatcher {
	d := New(ocr, nil)
	d.Runner = r
	return d
}

func TestDetect(t *testing.T) {
	d := New(nil, nil)
	cases := []struct {
		mt, name string
		kind     extraction.Kind
		want     string
	}{
		{"application/octet-stream", "合同.docx", extraction.KindDocx, MediaDocx},
		{"application/pdf", "scan", extraction.KindPDF, MediaPDF},
		{"application/octet-stream", "IMG_1.JPG", extraction.KindImage, "image/jpeg"},
		{"image/jpg", "photo", extraction.KindImage, "image/jpeg"},
		{"", "page.webp", extraction.KindImage, "image/webp"},
		{"application/octet-stream", "scan.GIF", extraction.KindImage, "image/gif"},
		{"image/gif", "upload", extraction.KindImage, "image/gif"},
	}
	for _, c := range cases {
		m, err := d.Detect(c.mt, c.name)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.kind, m.Kind, c.name)
		assert.Equal(t, c.want, m.MediaType, c.name)
	}

	_, err := d.Detect("application/msword", "old.doc")
	assert.ErrorIs(t, err, extraction.ErrUnsupportedMediaType)
	_, err = d.Detect("text/plain", "a.txt")
	assert.ErrorIs(t, err, extraction.ErrUnsupportedMediaType)
}

func TestDocx_DocumentOrderWithTables(t *testing.T) {
	data := buildDocx(t,
		`<w:p><w:r><w:t>第一条 租金</w:t></w:r><w:r><w:t xml:space="preserve"> 每月</w:t></w:r></w:p>`+
			`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>项目</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>金额</w:t></w:r></w:p></w:tc></w:tr>`+
			`<w:tr><w:tc><w:p/></w:tc><w:tc><w:p/></w:tc></w:tr>`+
			`<w:tr><w:tc><w:p><w:r><w:t>押金</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>3000</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`+
			`<w:p><w:r><w:t>第二条 违约</w:t></w:r></w:p>`+
			`<w:p></w:p>`)

	text, err := New(nil, nil).Extract(context.Background(), data, extraction.Media{Kind: extraction.KindDocx})
	require.NoError(t, err)
	assert.Equal(t, "第一条 租金 每月\n项目 | 金额\n押金 | 3000\n第二条 违约", text)
}

func TestDocx_Corrupt(t *testing.T) {
	_, err := docxText([]byte("not a zip"))
	assert.Error(t, err)
}

func TestPDF_TextLayer(t *testing.T) {
	ocr := &fakeOCR{}
	r := &fakeRunner{text: strings.Repeat("甲", 150) + "\f" + strings.Repeat("乙", 60) + "\f"}
	text, err := newTestDispatcher(ocr, r).Extract(context.Background(), []byte("%PDF"), extraction.Media{Kind: extraction.KindPDF})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("甲", 150)+"\n\n"+strings.Repeat("乙", 60), text)
	assert.Empty(t, ocr.groups)
	require.Len(t, r.commands, 1)
	assert.Contains(t, r.commands[0], "-f 1 -l 10 -layout -enc UTF-8")
}

func TestPDF_ShortTextFallsBackToOCR(t *testing.T) {
	ocr := &fakeOCR{}
	r := &fakeRunner{text: "扫描件", pages: 4}
	text, err := newTestDispatcher(ocr, r).Extract(context.Background(), []byte("%PDF"), extraction.Media{Kind: extraction.KindPDF})
	require.NoError(t, err)
	assert.Equal(t, "第1组", text)
	require.Len(t, ocr.groups, 1)
	assert.Len(t, ocr.groups[0], 3, "only the first three pages are rendered")
	assert.Contains(t, r.commands[1], "-f 1 -l 3 -r 200 -png")
}

func TestPDF_ToolFailureStillTriesOCR(t *testing.T) {
	ocr := &fakeOCR{}
	r := &fakeRunner{textErr: errors.New("exit 1"), pages: 1}
	text, err := newTestDispatcher(ocr, r).Extract(context.Background(), []byte("%PDF"), extraction.Media{Kind: extraction.KindPDF})
	require.NoError(t, err)
	assert.Equal(t, "第1组", text)
}

func TestExtractImages_GroupsOfFive(t *testing.T) {
	ocr := &fakeOCR{}
	d := newTestDispatcher(ocr, &fakeRunner{})
	images := make([]extraction.Image, 9)
	for i := range images {
		images[i] = extraction.Image{Data: pngBytes(4, 4), MediaType: "image/png"}
	}
	text, err := d.ExtractImages(context.Background(), images)
	require.NoError(t, err)
	require.Len(t, ocr.groups, 2)
	assert.Len(t, ocr.groups[0], 5)
	assert.Len(t, ocr.groups[1], 4)
	assert.Equal(t, "第1组\n\n第2组", text)
}

func TestExtractImages_OCRErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	d := newTestDispatcher(&fakeOCR{err: boom}, &fakeRunner{})
	_, err := d.ExtractImages(context.Background(), []extraction.Image{{Data: pngBytes(2, 2), MediaType: "image/png"}})
	assert.ErrorIs(t, err, boom)
}

func TestShrink(t *testing.T) {
	small := extraction.Image{Data: pngBytes(100, 50), MediaType: "image/png"}
	out, err := shrink(small, 64)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
	assert.Equal(t, "image/png", out.MediaType)

	same, err := shrink(small, 2048)
	require.NoError(t, err)
	assert.Equal(t, small.Data, same.Data)

	junk := extraction.Image{Data: []byte("nope"), MediaType: "image/png"}
	kept, err := shrink(junk, 64)
	assert.Error(t, err)
	assert.Equal(t, junk, kept)
}

func TestShrink_HugeDeclaredSizeIsNotDecoded(t *testing.T) {
	huge := extraction.Image{Data: pngHeader(8000, 8000), MediaType: "image/png"}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(huge.Data))
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Width)

	out, err := shrink(huge, DefaultMaxImageEdge)
	assert.ErrorIs(t, err, errTooManyPixels)
	assert.Equal(t, huge, out)

	// a budget-sized image still goes through the decoder
	_, err = shrink(extraction.Image{Data: pngHeader(6000, 6000), MediaType: "image/png"}, DefaultMaxImageEdge)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errTooManyPixels)
}

func TestExtractImages_OversizedImagePassesThrough(t *testing.T) {
	ocr := &fakeOCR{}
	d := newTestDispatcher(ocr, &fakeRunner{})
	huge := pngHeader(20000, 20000)

	_, err := d.ExtractImages(context.Background(), []extraction.Image{{Data: huge, MediaType: "image/png"}})
	require.NoError(t, err)
	require.Len(t, ocr.groups, 1)
	assert.Equal(t, huge, ocr.groups[0][0].Data)
}
