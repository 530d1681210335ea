package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/docx"
	"github.com/mattjoyce/mediaflow/internal/extract"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// PageResult is one page's analysis as written to <base>_extracted.json.
type PageResult struct {
	PageNumber int       `json:"page_number"`
	ImageName  string    `json:"image_name"`
	Content    string    `json:"content,omitempty"`
	Error      string    `json:"error,omitempty"`
	SourcePDF  string    `json:"source_pdf"`
	Timestamp  time.Time `json:"timestamp"`
}

// PDFParse renders every page of a PDF and describes each page image.
// A failed page analysis is recorded in its PageResult and does not fail
// the job.
type PDFParse struct {
	Renderer    PageRenderer
	Analyzer    ImageAnalyzer
	Concurrency int
	Now         func() time.Time
}

func (p *PDFParse) Name() string { return config.ServicePDFParse }

func (p *PDFParse) Run(ctx context.Context, job jobs.Job, env Env) (*workspace.Manifest, error) {
	log := env.logger()
	prog := env.progress()
	now := p.Now
	if now == nil {
		now = time.Now
	}

	imagesDir := filepath.Join(job.OutputDir, "images")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	var src extract.PageSource
	if err := env.Stages.Stage(ctx, "open", func(context.Context) error {
		var err error
		src, err = p.Renderer.Open(job.SourcePath)
		return err
	}); err != nil {
		return nil, err
	}
	defer src.Close()

	pages := src.NumPages()
	prog.AddPages(pages)
	log.Info("rendering pdf", "pages", pages)

	images := make([]string, pages)
	if err := env.Stages.Stage(ctx, "render", func(sctx context.Context) error {
		for i := 0; i < pages; i++ {
			if err := Checkpoint(ctx, "render"); err != nil {
				return err
			}
			rel := path.Join("images", fmt.Sprintf("%s_page_%d.jpg", job.BaseName, i+1))
			if err := src.RenderPage(sctx, i, filepath.Join(job.OutputDir, filepath.FromSlash(rel))); err != nil {
				return err
			}
			images[i] = rel
		}
		return nil
	}); err != nil {
		return nil, err
	}

	results := make([]PageResult, pages)
	if err := env.Stages.Stage(ctx, "analyze", func(sctx context.Context) error {
		g, gctx := errgroup.WithContext(sctx)
		g.SetLimit(max(p.Concurrency, 1))
		for i := range images {
			if err := Checkpoint(ctx, "analyze"); err != nil {
				_ = g.Wait()
				return err
			}
			g.Go(func() error {
				if err := Checkpoint(ctx, "analyze"); err != nil {
					return err
				}
				res := PageResult{
					PageNumber: i + 1,
					ImageName:  path.Base(images[i]),
					SourcePDF:  job.OriginalFilename,
				}
				content, err := p.Analyzer.AnalyzeImage(gctx, filepath.Join(job.OutputDir, filepath.FromSlash(images[i])))
				if err != nil {
					log.Warn("page analysis failed", "page", i+1, "error", err)
					res.Error = err.Error()
				} else {
					res.Content = content
				}
				res.Timestamp = now().UTC()
				results[i] = res
				prog.PageDone()
				return nil
			})
		}
		return g.Wait()
	}); err != nil {
		return nil, err
	}

	man := newManifest(job)
	if err := env.Stages.Stage(ctx, "write", func(context.Context) error {
		stem := job.BaseName + "_extracted"
		if err := writeJSON(filepath.Join(job.OutputDir, stem+".json"), results); err != nil {
			return err
		}
		md := pageMarkdown(job.OriginalFilename, results)
		if err := os.WriteFile(filepath.Join(job.OutputDir, stem+".md"), []byte(md), 0o644); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
		if err := docx.WriteFile(filepath.Join(job.OutputDir, stem+".docx"), pageDocument(job.OriginalFilename, results)); err != nil {
			return err
		}
		for _, rel := range images {
			if err := man.Add(job.OutputDir, rel); err != nil {
				return err
			}
		}
		for _, ext := range []string{".json", ".md", ".docx"} {
			if err := man.Add(job.OutputDir, stem+ext); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	log.Info("pdf parsed", "pages", pages, "failed_pages", failed)
	return man, nil
}

func writeJSON(p string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func pageMarkdown(source string, results []PageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", source)
	for _, r := range results {
		fmt.Fprintf(&b, "## Page %d\n\n", r.PageNumber)
		if r.Error != "" {
			fmt.Fprintf(&b, "> Processing error: %s\n\n", r.Error)
			continue
		}
		b.WriteString(strings.TrimSpace(r.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}

func pageDocument(source string, results []PageResult) docx.Document {
	doc := docx.Document{Title: source + " extraction"}
	for _, r := range results {
		doc.Heading(1, fmt.Sprintf("%s page %d", source, r.PageNumber))
		if r.Error != "" {
			doc.Para("Processing error: " + r.Error)
			continue
		}
		page := docx.FromMarkdown("", r.Content)
		doc.Blocks = append(doc.Blocks, page.Blocks...)
	}
	return doc
}
