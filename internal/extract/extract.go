// Package extract turns uploaded documents into plain text and renders PDF
// pages to images.
package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

type extractFunc func(ctx context.Context, path string) (string, error)

// Extractor picks a text extractor by file extension.
type Extractor struct {
	byExt map[string]extractFunc
}

// New returns an Extractor for pdf, docx, xlsx, pptx, txt, md, csv and srt.
func New() *Extractor {
	return &Extractor{byExt: map[string]extractFunc{
		"pdf":  pdfText,
		"docx": docxText,
		"pptx": pptxText,
		"xlsx": xlsxText,
		"txt":  plainText,
		"md":   plainText,
		"csv":  plainText,
		"srt":  srtText,
	}}
}

// Supports reports whether ext (without dot) has an extractor.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}

// Extract returns the text content of path. Unknown extensions fail with an
// unsupported_format error.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	fn, ok := e.byExt[ext]
	if !ok {
		return "", jobs.Unsupported("unsupported file type %q", ext)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := fn(ctx, path)
	if err != nil {
		return "", jobs.Extraction("extract_text", err)
	}
	return strings.TrimSpace(text), nil
}
