package extract

import (
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// PageSource is an open paginated document. Implementations are not safe
// for concurrent use.
type PageSource interface {
	NumPages() int
	RenderPage(ctx context.Context, page int, dst string) error
	PageText(page int) (string, error)
	Close() error
}

// FitzRenderer opens PDFs with MuPDF.
type FitzRenderer struct {
	DPI     float64
	Quality int
}

// Open opens path for rendering.
func (r FitzRenderer) Open(path string) (PageSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, fmt.Errorf("pdf has no pages")
	}
	return &fitzSource{doc: doc, dpi: r.DPI, quality: r.Quality}, nil
}

type fitzSource struct {
	doc     *fitz.Document
	dpi     float64
	quality int
}

func (s *fitzSource) NumPages() int { return s.doc.NumPage() }

// RenderPage writes page (0-based) to dst as JPEG.
func (s *fitzSource) RenderPage(ctx context.Context, page int, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := s.doc.ImageDPI(page, s.dpi)
	if err != nil {
		return fmt.Errorf("render page %d: %w", page+1, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create page image: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		return fmt.Errorf("encode page %d: %w", page+1, err)
	}
	return f.Close()
}

func (s *fitzSource) PageText(page int) (string, error) {
	return s.doc.Text(page)
}

func (s *fitzSource) Close() error { return s.doc.Close() }

func pdfText(ctx context.Context, path string) (string, error) {
	src, err := FitzRenderer{}.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	var b strings.Builder
	for i := 0; i < src.NumPages(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := src.PageText(i)
		if err != nil {
			return "", fmt.Errorf("page %d text: %w", i+1, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
