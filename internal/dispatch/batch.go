package dispatch

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/events"
	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/pipeline"
	"github.com/mattjoyce/mediaflow/internal/session"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

// batchRun executes the jobs of one submitted batch.
type batchRun struct {
	d       *Dispatcher
	state   *session.State
	batch   session.Batch
	svc     config.PipelineConfig
	p       pipeline.Pipeline
	items   []staged
	logger  *slog.Logger
	batchID string
}

func (b *batchRun) parallel() {
	var wg sync.WaitGroup
	for _, it := range b.items {
		wg.Add(1)
		go func(it staged) {
			defer wg.Done()
			b.execute(it)
		}(it)
	}
	wg.Wait()
}

func (b *batchRun) sequential() {
	for i, it := range b.items {
		if err := pipeline.Checkpoint(b.batch.Ctx, "queue"); err != nil {
			rest := b.items[i:]
			b.logger.Info("batch canceled, dropping queued files", "remaining", len(rest))
			for _, r := range rest {
				b.canceled(r, err)
			}
			return
		}
		b.execute(it)
	}
}

// execute runs one job end to end. Staging is discarded on every path.
func (b *batchRun) execute(it staged) {
	job := it.job
	logger := b.logger.With("job_id", job.ID, "file", job.OriginalFilename)
	ctx := b.batch.Ctx

	if err := pipeline.Checkpoint(ctx, "start"); err != nil {
		b.canceled(it, err)
		return
	}
	if !b.state.StartJob(b.batch.Seq, job.OriginalFilename) {
		// Superseded by a newer batch or a cancel that raced the checkpoint.
		b.canceled(it, jobs.Canceled("start"))
		return
	}

	started := b.d.now()
	logger.Info("job started")
	b.d.publish(events.JobStarted, job.Client, job.Service, map[string]string{
		"job_id": job.ID,
		"file":   job.OriginalFilename,
	})

	env := pipeline.Env{
		Stages:   pipeline.NewRunner(b.svc, logger),
		Progress: &jobProgress{run: b, job: job},
		Logger:   logger,
	}

	man, err := b.p.Run(ctx, job, env)
	if err == nil && man == nil {
		err = &jobs.Error{Kind: jobs.KindInternal, Stage: b.p.Name(), Message: "pipeline returned no manifest"}
	}
	if err == nil {
		err = pipeline.Checkpoint(ctx, "promote")
	}
	if err == nil {
		man.CompletedAt = b.d.now().UTC()
		moved, perr := b.d.ws.Promote(ctx, it.ws, job.Service, workspace.SafeSegment(job.Client), man)
		if perr != nil {
			report := b.d.ws.Rollback(moved)
			logger.Warn("promotion rolled back", "error", perr, "removed", report.Removed, "failed", report.Failed)
			err = perr
		}
	}

	b.d.ws.Discard(it.ws)

	// A cancel purges staging under running stages, so their failures are
	// reported as the cancellation they were caused by.
	if err != nil && !jobs.IsCanceled(err) && ctx.Err() != nil {
		logger.Debug("failure after cancel", "error", err)
		err = jobs.Canceled(stageOf(err))
	}

	entry := history.Entry{
		JobID:            job.ID,
		BatchID:          job.BatchID,
		Service:          job.Service,
		ClientID:         job.Client,
		OriginalFilename: job.OriginalFilename,
		BaseName:         job.BaseName,
		StartedAt:        started,
	}

	switch {
	case jobs.IsCanceled(err):
		logger.Info("job canceled", "stage", stageOf(err))
		entry.Status = jobs.StatusCanceled
		entry.Reason = jobs.Reason(err)
		b.d.publish(events.JobCanceled, job.Client, job.Service, map[string]string{"job_id": job.ID})
	case err != nil:
		logger.Error("job failed", "error", err, "kind", string(jobs.KindOf(err)))
		entry.Status = jobs.StatusFailed
		entry.Reason = jobs.Reason(err)
		b.d.publish(events.JobFailed, job.Client, job.Service, map[string]string{
			"job_id": job.ID,
			"reason": entry.Reason,
		})
		b.finish(err)
	default:
		entry.Status = jobs.StatusCompleted
		entry.Artifacts = len(man.Files)
		entry.Bytes = man.TotalSize()
		logger.Info("job completed", "artifacts", entry.Artifacts, "duration_ms", b.d.now().Sub(started).Milliseconds())
		b.d.publish(events.JobCompleted, job.Client, job.Service, map[string]any{
			"job_id":    job.ID,
			"base_name": man.BaseName,
			"artifacts": entry.Artifacts,
		})
		b.finish(nil)
	}

	b.d.record(entry)
}

// canceled accounts for a job that never ran.
func (b *batchRun) canceled(it staged, err error) {
	b.d.ws.Discard(it.ws)
	b.d.publish(events.JobCanceled, it.job.Client, it.job.Service, map[string]string{"job_id": it.job.ID})
	b.d.record(history.Entry{
		JobID:            it.job.ID,
		BatchID:          it.job.BatchID,
		Service:          it.job.Service,
		ClientID:         it.job.Client,
		OriginalFilename: it.job.OriginalFilename,
		BaseName:         it.job.BaseName,
		Status:           jobs.StatusCanceled,
		Reason:           jobs.Reason(err),
	})
}

// finish reports one job outcome and announces the batch once it is terminal.
func (b *batchRun) finish(err error) {
	status := b.state.FinishJob(b.batch.Seq, err)
	if !status.Terminal() {
		return
	}
	p := b.state.Snapshot()
	b.logger.Info("batch finished",
		"status", string(status),
		"processed", p.ProcessedFiles,
		"failed", p.FailedFiles,
	)
	b.d.publish(events.BatchFinished, b.items[0].job.Client, b.items[0].job.Service, map[string]any{
		"batch_id":        b.batchID,
		"status":          status,
		"processed_files": p.ProcessedFiles,
		"failed_files":    p.FailedFiles,
		"reason":          p.Reason,
	})
}

func stageOf(err error) string {
	var je *jobs.Error
	if errors.As(err, &je) {
		return je.Stage
	}
	return ""
}

// jobProgress forwards pipeline progress into the client's record.
type jobProgress struct {
	run *batchRun
	job jobs.Job
}

func (p *jobProgress) AddPages(n int) {
	p.run.state.AddPages(p.run.batch.Seq, n)
}

func (p *jobProgress) PageDone() {
	p.run.state.PageDone(p.run.batch.Seq)
	snap := p.run.state.Snapshot()
	p.run.d.publish(events.JobProgress, p.job.Client, p.job.Service, map[string]any{
		"job_id":       p.job.ID,
		"current_page": snap.CurrentPage,
		"total_pages":  snap.TotalPages,
	})
}
