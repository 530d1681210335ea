package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/events"
	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/log"
	"github.com/mattjoyce/mediaflow/internal/pipeline"
	"github.com/mattjoyce/mediaflow/internal/session"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

const historyWriteTimeout = 5 * time.Second

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(eventType, client, service string, data any)
}

// Recorder persists job outcomes.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Upload is one file of a submitted batch.
type Upload struct {
	Filename string
	// Size is the declared size, or -1 when unknown. A declared size of 0
	// is rejected before anything is written.
	Size    int64
	Content io.Reader
}

// Receipt is returned once a batch has been staged.
type Receipt struct {
	BatchID    string   `json:"batch_id"`
	TotalFiles int      `json:"total_files"`
	JobIDs     []string `json:"job_ids"`
}

// Dispatcher runs upload batches through their service pipelines.
type Dispatcher struct {
	cfg       *config.Config
	sessions  *session.Registry
	ws        workspace.Manager
	pipelines map[string]pipeline.Pipeline
	events    Publisher
	history   Recorder
	logger    *slog.Logger
	now       func() time.Time

	base context.Context
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEvents publishes lifecycle events to p.
func WithEvents(p Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithHistory records every finished job in r.
func WithHistory(r Recorder) Option {
	return func(d *Dispatcher) { d.history = r }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithBaseContext sets the parent of every batch context. Canceling it
// cancels all running work.
func WithBaseContext(ctx context.Context) Option {
	return func(d *Dispatcher) { d.base = ctx }
}

// New creates a Dispatcher. pipelines maps service names to their pipeline.
func New(cfg *config.Config, sessions *session.Registry, ws workspace.Manager, pipelines map[string]pipeline.Pipeline, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		sessions:  sessions,
		ws:        ws,
		pipelines: pipelines,
		logger:    log.WithComponent("dispatch"),
		now:       time.Now,
		base:      context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// staged is one job whose upload has been written to staging-in.
type staged struct {
	job   jobs.Job
	ws    workspace.Workspace
	bytes int64
}

// SubmitBatch validates and stages files, then starts background work and
// returns immediately. Validation errors are *jobs.Error of KindValidation.
func (d *Dispatcher) SubmitBatch(ctx context.Context, clientID, service string, files []Upload) (Receipt, error) {
	svc, p, err := d.service(service)
	if err != nil {
		return Receipt{}, err
	}
	if len(files) == 0 {
		return Receipt{}, jobs.Validation("no files uploaded")
	}
	for _, f := range files {
		if err := checkUpload(service, svc, f); err != nil {
			return Receipt{}, err
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Receipt{}, fmt.Errorf("dispatcher is shutting down")
	}
	// Held until the batch worker starts so Shutdown cannot miss it.
	d.wg.Add(1)
	d.mu.Unlock()
	started := false
	defer func() {
		if !started {
			d.wg.Done()
		}
	}()

	batchID := uuid.NewString()
	logger := d.logger.With("client_id", clientID, "service", service, "batch_id", batchID)

	items, err := d.stage(ctx, batchID, clientID, service, files)
	if err != nil {
		return Receipt{}, err
	}

	st := d.sessions.GetOrCreate(clientID, service)
	batch, err := st.BeginBatch(d.base, len(items))
	if err != nil {
		d.discardAll(items)
		return Receipt{}, fmt.Errorf("begin batch: %w", err)
	}

	receipt := Receipt{BatchID: batchID, TotalFiles: len(items)}
	var total int64
	for _, it := range items {
		receipt.JobIDs = append(receipt.JobIDs, it.job.ID)
		total += it.bytes
	}

	logger.Info("batch submitted", "files", len(items), "dispatch", svc.Dispatch, "bytes", humanize.Bytes(uint64(total)))
	d.publish(events.BatchSubmitted, clientID, service, receipt)

	run := &batchRun{
		d:       d,
		state:   st,
		batch:   batch,
		svc:     svc,
		p:       p,
		items:   items,
		logger:  logger,
		batchID: batchID,
	}

	started = true
	go func() {
		defer d.wg.Done()
		defer st.EndBatch(batch.Seq)
		if svc.Dispatch == config.DispatchSequential {
			run.sequential()
		} else {
			run.parallel()
		}
	}()

	return receipt, nil
}

// RequestCancel stops the client's in-flight work on service. Progress and
// counters are reset immediately; running jobs stop at their next checkpoint.
func (d *Dispatcher) RequestCancel(ctx context.Context, clientID, service string) error {
	if _, _, err := d.service(service); err != nil {
		return err
	}

	st := d.sessions.GetOrCreate(clientID, service)
	signaled := st.Cancel()
	report := d.ws.PurgeStaging(ctx, service, workspace.SafeSegment(clientID))

	d.logger.Info("cancel requested",
		"client_id", clientID,
		"service", service,
		"batches", signaled,
		"purged", report.Removed,
		"purge_failed", report.Failed,
	)
	d.publish(events.BatchCanceled, clientID, service, map[string]int{"batches": signaled})
	return nil
}

// Shutdown cancels every batch and waits for workers to return or ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.sessions.Each(func(st *session.State) {
		if st.Active() {
			st.Cancel()
		}
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("all workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers still running: %w", ctx.Err())
	}
}

// Services lists the mounted services.
func (d *Dispatcher) Services() []string {
	out := make([]string, 0, len(d.pipelines))
	for name := range d.pipelines {
		if svc, ok := d.cfg.Services[name]; ok && svc.IsEnabled() {
			out = append(out, name)
		}
	}
	return out
}

func (d *Dispatcher) service(name string) (config.PipelineConfig, pipeline.Pipeline, error) {
	svc, ok := d.cfg.Services[name]
	if !ok || !svc.IsEnabled() {
		return config.PipelineConfig{}, nil, jobs.NotFound("unknown service %q", name)
	}
	p, ok := d.pipelines[name]
	if !ok {
		return config.PipelineConfig{}, nil, jobs.NotFound("service %q has no pipeline", name)
	}
	return svc, p, nil
}

func checkUpload(service string, svc config.PipelineConfig, f Upload) error {
	name, err := workspace.SanitizeFilename(f.Filename)
	if err != nil {
		return jobs.Validation("invalid filename %q", f.Filename)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	allowed := false
	for _, e := range svc.Extensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return jobs.Validation("unsupported file type %q for %s; allowed: %s", name, service, strings.Join(svc.Extensions, ", "))
	}
	if f.Size == 0 {
		return jobs.Validation("file %q is empty", name)
	}
	if f.Content == nil {
		return jobs.Validation("file %q has no content", name)
	}
	return nil
}

// stage writes every upload into its own job workspace. On any failure all
// workspaces created so far are discarded.
func (d *Dispatcher) stage(ctx context.Context, batchID, clientID, service string, files []Upload) ([]staged, error) {
	dirClient := workspace.SafeSegment(clientID)
	items := make([]staged, 0, len(files))

	for _, f := range files {
		jobID := uuid.NewString()
		ws, err := d.ws.Create(ctx, service, dirClient, jobID)
		if err != nil {
			d.discardAll(items)
			return nil, fmt.Errorf("create workspace: %w", err)
		}

		path, n, err := d.ws.Save(ctx, ws, f.Filename, f.Content)
		if err != nil {
			d.ws.Discard(ws)
			d.discardAll(items)
			return nil, fmt.Errorf("save %q: %w", f.Filename, err)
		}
		if n == 0 {
			d.ws.Discard(ws)
			d.discardAll(items)
			return nil, jobs.Validation("file %q is empty", filepath.Base(path))
		}

		original := filepath.Base(path)
		items = append(items, staged{
			ws:    ws,
			bytes: n,
			job: jobs.Job{
				ID:               jobID,
				BatchID:          batchID,
				Service:          service,
				Client:           clientID,
				SourcePath:       path,
				OutputDir:        ws.OutDir,
				BaseName:         strings.TrimSuffix(original, filepath.Ext(original)),
				OriginalFilename: original,
				SubmittedAt:      d.now(),
			},
		})
	}
	return items, nil
}

func (d *Dispatcher) discardAll(items []staged) {
	for _, it := range items {
		d.ws.Discard(it.ws)
	}
}

func (d *Dispatcher) publish(eventType, clientID, service string, data any) {
	if d.events == nil {
		return
	}
	d.events.Publish(eventType, clientID, service, data)
}

func (d *Dispatcher) record(e history.Entry) {
	if d.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.base), historyWriteTimeout)
	defer cancel()
	if err := d.history.Record(ctx, e); err != nil {
		d.logger.Warn("failed to record job history", "job_id", e.JobID, "error", err)
	}
}
