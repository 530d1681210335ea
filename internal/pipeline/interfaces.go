package pipeline

import (
	"context"
	"time"

	"github.com/mattjoyce/mediaflow/internal/extract"
	"github.com/mattjoyce/mediaflow/internal/media"
)

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks github.com/mattjoyce/mediaflow/internal/pipeline PageRenderer,ImageAnalyzer,TextExtractor,Summarizer,AudioPreparer,Transcriber

// PageRenderer opens paginated documents.
type PageRenderer interface {
	Open(path string) (extract.PageSource, error)
}

// ImageAnalyzer describes one page image.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, path string) (string, error)
}

// TextExtractor returns the plain text of a document.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Summarizer interprets extracted text.
type Summarizer interface {
	Summarize(ctx context.Context, text, lang, displayName string) (string, error)
}

// AudioPreparer cleans up and slices the audio track of a media file.
type AudioPreparer interface {
	Prepare(ctx context.Context, input, workDir string, canceled func() bool) (string, error)
	Segment(ctx context.Context, wav, dir string, length time.Duration) ([]media.AudioChunk, error)
}

// Transcriber turns one audio chunk into timed text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk media.AudioChunk) ([]media.Segment, error)
}
