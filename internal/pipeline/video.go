package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/guard"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/media"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// ErrNoSpeech fails videos whose transcription produced no text.
var ErrNoSpeech = errors.New("transcription produced no text")

// Video cleans up the audio track of a video and transcribes it while
// holding the transcription guard. Chunks that fail to transcribe are
// skipped.
type Video struct {
	Audio         AudioPreparer
	Transcriber   Transcriber
	Guard         *guard.Guard
	SegmentLength time.Duration
}

func (v *Video) Name() string { return config.ServiceVideo }

func (v *Video) Run(ctx context.Context, job jobs.Job, env Env) (*workspace.Manifest, error) {
	log := env.logger()
	prog := env.progress()

	workDir := filepath.Join(job.OutputDir, ".work")
	defer os.RemoveAll(workDir)

	var wav string
	if err := env.Stages.Stage(ctx, "prepare_audio", func(sctx context.Context) error {
		var err error
		wav, err = v.Audio.Prepare(sctx, job.SourcePath, workDir, func() bool { return ctx.Err() != nil })
		return err
	}); err != nil {
		return nil, err
	}

	var chunks []media.AudioChunk
	if err := env.Stages.Stage(ctx, "segment", func(sctx context.Context) error {
		var err error
		chunks, err = v.Audio.Segment(sctx, wav, filepath.Join(workDir, "chunks"), v.SegmentLength)
		return err
	}); err != nil {
		return nil, err
	}
	prog.AddPages(len(chunks))

	// Waiting for the guard is itself a checkpoint; it is not counted
	// against the transcribe deadline.
	release, err := v.Guard.Acquire(ctx, job.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, jobs.Canceled("transcribe")
		}
		return nil, err
	}
	var segs []media.Segment
	err = func() error {
		defer release()
		return env.Stages.Stage(ctx, "transcribe", func(sctx context.Context) error {
			for _, c := range chunks {
				if err := Checkpoint(ctx, "transcribe"); err != nil {
					return err
				}
				out, err := v.Transcriber.Transcribe(sctx, c)
				if err != nil {
					if sctx.Err() != nil {
						return sctx.Err()
					}
					log.Warn("chunk transcription failed", "chunk", c.Index, "error", err)
				} else {
					segs = append(segs, out...)
				}
				prog.PageDone()
			}
			return nil
		})
	}()
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, jobs.Extraction("transcribe", ErrNoSpeech)
	}

	man := newManifest(job)
	if err := env.Stages.Stage(ctx, "write", func(context.Context) error {
		srt := job.BaseName + ".srt"
		txt := job.BaseName + ".txt"
		if err := writeWith(filepath.Join(job.OutputDir, srt), func(f *os.File) error { return media.WriteSRT(f, segs) }); err != nil {
			return err
		}
		if err := writeWith(filepath.Join(job.OutputDir, txt), func(f *os.File) error { return media.WriteText(f, segs) }); err != nil {
			return err
		}
		if err := man.Add(job.OutputDir, srt); err != nil {
			return err
		}
		return man.Add(job.OutputDir, txt)
	}); err != nil {
		return nil, err
	}
	log.Info("video transcribed", "chunks", len(chunks), "segments", len(segs))
	return man, nil
}

func writeWith(p string, fn func(f *os.File) error) error {
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(p), err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(p), err)
	}
	return f.Close()
}
