package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/docx"
	"github.com/mattjoyce/mediaflow/internal/extract"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// ErrNoText fails documents whose extraction yields nothing to summarize.
var ErrNoText = errors.New("no extractable text")

// DocReader extracts a document's text and writes an LLM interpretation of
// it. Progress advances in three steps: extract, summarize, write.
type DocReader struct {
	Extractor     TextExtractor
	Summarizer    Summarizer
	MaxInputChars int
	Now           func() time.Time
}

func (d *DocReader) Name() string { return config.ServicePDFReader }

func (d *DocReader) Run(ctx context.Context, job jobs.Job, env Env) (*workspace.Manifest, error) {
	prog := env.progress()
	now := d.Now
	if now == nil {
		now = time.Now
	}
	prog.AddPages(3)

	var text string
	if err := env.Stages.Stage(ctx, "extract", func(sctx context.Context) error {
		var err error
		text, err = d.Extractor.Extract(sctx, job.SourcePath)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return jobs.Extraction("extract", ErrNoText)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	prog.PageDone()

	lang := extract.DetectLanguage(text)
	input := TruncateRunes(text, d.MaxInputChars)
	env.logger().Info("summarizing document", "language", lang, "chars", len([]rune(input)))

	var summary string
	if err := env.Stages.Stage(ctx, "summarize", func(sctx context.Context) error {
		var err error
		summary, err = d.Summarizer.Summarize(sctx, input, lang, job.OriginalFilename)
		return err
	}); err != nil {
		return nil, err
	}
	prog.PageDone()

	man := newManifest(job)
	if err := env.Stages.Stage(ctx, "write", func(context.Context) error {
		name := CleanFilename(job.OriginalFilename) + "_" + now().Format("20060102")
		if err := os.WriteFile(filepath.Join(job.OutputDir, name+".md"), []byte(summary+"\n"), 0o644); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
		if err := docx.WriteFile(filepath.Join(job.OutputDir, name+".docx"), docx.FromMarkdown(job.OriginalFilename, summary)); err != nil {
			return err
		}
		if err := man.Add(job.OutputDir, name+".docx"); err != nil {
			return err
		}
		return man.Add(job.OutputDir, name+".md")
	}); err != nil {
		return nil, err
	}
	prog.PageDone()
	return man, nil
}

// TruncateRunes cuts s to at most n runes. n <= 0 means no limit.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

var underscoreRuns = regexp.MustCompile(`_+`)

// CleanFilename turns an uploaded name into an output stem: the extension
// is dropped, characters that are unsafe in file names or are whitespace
// are removed, underscore runs collapse and edge underscores are trimmed.
func CleanFilename(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || strings.ContainsRune(`《》<>"|*?\/:`, r) {
			return -1
		}
		return r
	}, stem)
	stem = strings.Trim(underscoreRuns.ReplaceAllString(stem, "_"), "_")
	if stem == "" {
		return "document"
	}
	return stem
}
