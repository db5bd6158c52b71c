package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// docxText walks word/document.xml in document order. Paragraphs become
// lines; table rows become one line with cells joined by " | ".
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx: word/document.xml missing")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}
	defer rc.Close()

	var (
		dec    = xml.NewDecoder(rc)
		lines  []string
		para   strings.Builder
		inPara bool
		depth  int // table nesting
		row    []string
		cell   []string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				para.Reset()
				inPara = true
			case "t":
				if !inPara {
					continue
				}
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", fmt.Errorf("docx text run: %w", err)
				}
				para.WriteString(s)
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					para.WriteByte('\n')
				}
			case "tbl":
				depth++
			case "tr":
				if depth == 1 {
					row = row[:0]
				}
			case "tc":
				if depth == 1 {
					cell = cell[:0]
				}
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				inPara = false
				s := strings.TrimSpace(para.String())
				if s == "" {
					continue
				}
				if depth > 0 {
					cell = append(cell, s)
				} else {
					lines = append(lines, s)
				}
			case "tc":
				if depth == 1 {
					row = append(row, strings.Join(cell, " "))
				}
			case "tr":
				if depth == 1 && strings.TrimSpace(strings.Join(row, "")) != "" {
					lines = append(lines, strings.Join(row, " | "))
				}
			case "tbl":
				if depth > 0 {
					depth--
				}
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}
