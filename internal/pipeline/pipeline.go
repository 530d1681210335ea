// Package pipeline runs one uploaded file through its service's stages.
//
// Cancellation is observed at checkpoints: before each stage and between
// sub-units (a page, an audio chunk, a summarization call). Work already
// inside a sub-unit runs to completion, bounded by the stage deadline, so
// the worst-case stop latency is one sub-unit.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// Pipeline processes one job and reports the artifacts it left in
// job.OutputDir.
type Pipeline interface {
	Name() string
	Run(ctx context.Context, job jobs.Job, env Env) (*workspace.Manifest, error)
}

// Progress receives sub-unit progress for the running job.
type Progress interface {
	AddPages(n int)
	PageDone()
}

// Env is what the dispatcher hands a pipeline for one job.
type Env struct {
	Stages   *Runner
	Progress Progress
	Logger   *slog.Logger
}

// Checkpoint returns a cancellation error tagged with stage when ctx has
// been canceled.
func Checkpoint(ctx context.Context, stage string) error {
	if ctx.Err() != nil {
		return jobs.Canceled(stage)
	}
	return nil
}

// Runner executes named stages under per-stage deadlines.
type Runner struct {
	cfg    config.PipelineConfig
	logger *slog.Logger
}

// NewRunner builds a stage runner for one service's configuration.
func NewRunner(cfg config.PipelineConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Stage checkpoints ctx, then runs fn. The context passed to fn carries the
// stage deadline but not ctx's cancellation; fn is expected to checkpoint
// ctx itself between sub-units. Errors come back classified: timeouts as
// jobs.KindTimeout, cancellations untouched, other unclassified errors as
// jobs.KindExtraction.
func (r *Runner) Stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := Checkpoint(ctx, name); err != nil {
		return err
	}

	d := r.cfg.Timeout(name)
	stageCtx := context.WithoutCancel(ctx)
	cancel := func() {}
	if d > 0 {
		stageCtx, cancel = context.WithTimeout(stageCtx, d)
	}
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)

	switch {
	case jobs.IsCanceled(err):
		r.logger.Info("stage canceled", "stage", name, "duration_ms", elapsed.Milliseconds())
		return err
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		r.logger.Warn("stage timed out", "stage", name, "timeout", d.String())
		return jobs.Timeout(name, d)
	case err != nil:
		r.logger.Warn("stage failed", "stage", name, "error", err)
		var je *jobs.Error
		if errors.As(err, &je) {
			return err
		}
		return jobs.Extraction(name, err)
	}
	r.logger.Debug("stage completed", "stage", name, "duration_ms", elapsed.Milliseconds())
	return nil
}

func newManifest(job jobs.Job) *workspace.Manifest {
	return &workspace.Manifest{
		JobID:            job.ID,
		BaseName:         job.BaseName,
		OriginalFilename: job.OriginalFilename,
		Service:          job.Service,
	}
}

type noopProgress struct{}

func (noopProgress) AddPages(int) {}
func (noopProgress) PageDone()    {}

func (e Env) progress() Progress {
	if e.Progress == nil {
		return noopProgress{}
	}
	return e.Progress
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
