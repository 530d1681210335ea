package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/events"
	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/pipeline"
	"github.com/mattjoyce/mediaflow/internal/session"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

const testClient = "10.0.0.7"

// TestLogBuffer captures JSON log output.
type TestLogBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.String()
}

// NewTestSlogger creates a *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	buf := &TestLogBuffer{}
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), buf
}

type runFunc func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error)

type fakePipeline struct {
	name string
	run  runFunc
}

func (f *fakePipeline) Name() string { return f.name }

func (f *fakePipeline) Run(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
	return f.run(ctx, job, env)
}

// writeOutput leaves one artifact in the job's output dir and returns its manifest.
func writeOutput(job jobs.Job) (*workspace.Manifest, error) {
	rel := job.BaseName + ".txt"
	if err := os.WriteFile(filepath.Join(job.OutputDir, rel), []byte("out:"+job.OriginalFilename), 0o644); err != nil {
		return nil, err
	}
	m := &workspace.Manifest{JobID: job.ID, BaseName: job.BaseName, OriginalFilename: job.OriginalFilename, Service: job.Service}
	if err := m.Add(job.OutputDir, rel); err != nil {
		return nil, err
	}
	return m, nil
}

type memHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (h *memHistory) Record(_ context.Context, e history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *memHistory) byStatus(s jobs.Status) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.Status == s {
			n++
		}
	}
	return n
}

type fixture struct {
	d        *Dispatcher
	sessions *session.Registry
	ws       *workspace.FSManager
	hub      *events.Hub
	history  *memHistory
	logs     *TestLogBuffer
}

func newFixture(t *testing.T, service string, p runFunc) *fixture {
	t.Helper()
	logger, buf := NewTestSlogger()

	ws, err := workspace.NewFSManager(t.TempDir(), logger)
	require.NoError(t, err)

	cfg := config.Defaults()
	sessions := session.NewRegistry(16, time.Hour)
	hub := events.NewHub(256)
	hist := &memHistory{}

	d := New(cfg, sessions, ws,
		map[string]pipeline.Pipeline{service: &fakePipeline{name: service, run: p}},
		WithEvents(hub),
		WithHistory(hist),
		WithLogger(logger),
	)
	return &fixture{d: d, sessions: sessions, ws: ws, hub: hub, history: hist, logs: buf}
}

func (f *fixture) waitIdle(t *testing.T, service string) *session.State {
	t.Helper()
	st := f.sessions.GetOrCreate(testClient, service)
	require.Eventually(t, func() bool { return !st.Active() }, 5*time.Second, 10*time.Millisecond)
	return st
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, ev := range f.hub.SnapshotSince(0) {
		out = append(out, ev.Type)
	}
	return out
}

func upload(name, body string) Upload {
	return Upload{Filename: name, Size: int64(len(body)), Content: strings.NewReader(body)}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSubmitBatchValidation(t *testing.T) {
	f := newFixture(t, config.ServicePDFParse, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		t.Fatal("pipeline must not run")
		return nil, nil
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		service string
		files   []Upload
		kind    jobs.Kind
	}{
		{name: "empty batch", service: config.ServicePDFParse, kind: jobs.KindValidation},
		{name: "bad extension", service: config.ServicePDFParse, files: []Upload{upload("a.pdf", "x"), upload("b.exe", "x")}, kind: jobs.KindValidation},
		{name: "empty file", service: config.ServicePDFParse, files: []Upload{{Filename: "a.pdf", Size: 0, Content: strings.NewReader("")}}, kind: jobs.KindValidation},
		{name: "unknown service", service: "nope", files: []Upload{upload("a.pdf", "x")}, kind: jobs.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.d.SubmitBatch(ctx, testClient, tt.service, tt.files)
			require.Error(t, err)
			assert.Equal(t, tt.kind, jobs.KindOf(err))
		})
	}

	areas, err := f.ws.Areas(config.ServicePDFParse, testClient)
	require.NoError(t, err)
	assert.Empty(t, dirEntries(t, areas.StagingIn))
	assert.Equal(t, jobs.StatusIdle, f.sessions.GetOrCreate(testClient, config.ServicePDFParse).Snapshot().Status)
}

func TestSubmitBatchUnknownSizeEmptyUpload(t *testing.T) {
	f := newFixture(t, config.ServicePDFParse, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		return writeOutput(job)
	})

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFParse, []Upload{
		upload("a.pdf", "data"),
		{Filename: "b.pdf", Size: -1, Content: strings.NewReader("")},
	})
	require.Error(t, err)
	assert.Equal(t, jobs.KindValidation, jobs.KindOf(err))

	areas, err := f.ws.Areas(config.ServicePDFParse, testClient)
	require.NoError(t, err)
	assert.Empty(t, dirEntries(t, areas.StagingIn), "staged files of a rejected batch are discarded")
}

func TestParallelBatchCompletes(t *testing.T) {
	f := newFixture(t, config.ServicePDFParse, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		env.Progress.AddPages(2)
		env.Progress.PageDone()
		env.Progress.PageDone()
		return writeOutput(job)
	})

	receipt, err := f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFParse, []Upload{
		upload("one.pdf", "1"),
		upload("two.pdf", "22"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.TotalFiles)
	assert.Len(t, receipt.JobIDs, 2)

	st := f.waitIdle(t, config.ServicePDFParse)
	p := st.Snapshot()
	assert.Equal(t, jobs.StatusCompleted, p.Status)
	assert.Equal(t, 2, p.ProcessedFiles)
	assert.Equal(t, 0, p.FailedFiles)
	assert.Equal(t, 4, p.TotalPages)
	assert.Equal(t, 4, p.CurrentPage)

	groups, err := f.ws.List(config.ServicePDFParse, testClient)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.False(t, g.Legacy)
	}

	areas, err := f.ws.Areas(config.ServicePDFParse, testClient)
	require.NoError(t, err)
	assert.Empty(t, dirEntries(t, areas.StagingIn))
	assert.Empty(t, dirEntries(t, areas.StagingOut))

	assert.Equal(t, 2, f.history.byStatus(jobs.StatusCompleted))
	types := f.eventTypes()
	assert.Contains(t, types, events.BatchSubmitted)
	assert.Contains(t, types, events.JobCompleted)
	assert.Contains(t, types, events.BatchFinished)
}

func TestPaddedFilenameCompletes(t *testing.T) {
	var baseName atomic.Value
	f := newFixture(t, config.ServicePDFReader, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		baseName.Store(job.BaseName)
		return writeOutput(job)
	})

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFReader, []Upload{
		upload("report .pdf", "data"),
	})
	require.NoError(t, err)

	st := f.waitIdle(t, config.ServicePDFReader)
	p := st.Snapshot()
	assert.Equal(t, jobs.StatusCompleted, p.Status, "reason: %s", p.Reason)
	assert.Equal(t, "report", baseName.Load())

	rels, err := f.ws.Resolve(config.ServicePDFReader, testClient, "report")
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt"}, rels)
}

func TestParallelFailureIsolated(t *testing.T) {
	f := newFixture(t, config.ServicePDFParse, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		if job.BaseName == "bad" {
			return nil, jobs.Extraction("analyze", errors.New("model unavailable"))
		}
		return writeOutput(job)
	})

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFParse, []Upload{
		upload("good.pdf", "1"),
		upload("bad.pdf", "2"),
	})
	require.NoError(t, err)

	st := f.waitIdle(t, config.ServicePDFParse)
	p := st.Snapshot()
	assert.Equal(t, jobs.StatusFailed, p.Status)
	assert.Equal(t, 1, p.ProcessedFiles)
	assert.Equal(t, 1, p.FailedFiles)
	assert.Equal(t, "1 of 2 files failed: analyze: model unavailable", p.Reason)

	groups, err := f.ws.List(config.ServicePDFParse, testClient)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "good", groups[0].BaseName)

	areas, err := f.ws.Areas(config.ServicePDFParse, testClient)
	require.NoError(t, err)
	assert.Empty(t, dirEntries(t, areas.StagingOut), "partial outputs are purged")
	assert.Contains(t, f.logs.String(), `"msg":"job failed"`)
}

func TestNilManifestFailsJob(t *testing.T) {
	f := newFixture(t, config.ServicePDFParse, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		return nil, nil
	})

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFParse, []Upload{upload("a.pdf", "1")})
	require.NoError(t, err)

	st := f.waitIdle(t, config.ServicePDFParse)
	assert.Equal(t, jobs.StatusFailed, st.Snapshot().Status)
}

func TestSequentialCancelDropsQueue(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{}, 1)

	f := newFixture(t, config.ServiceVideo, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		runs.Add(1)
		started <- struct{}{}
		<-ctx.Done()
		return nil, jobs.Canceled("transcribe")
	})

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServiceVideo, []Upload{
		upload("a.mp4", "1"),
		upload("b.mp4", "2"),
		upload("c.mp4", "3"),
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}

	require.NoError(t, f.d.RequestCancel(context.Background(), testClient, config.ServiceVideo))

	st := f.waitIdle(t, config.ServiceVideo)
	assert.Equal(t, int32(1), runs.Load(), "queued files must not run after cancel")

	p := st.Snapshot()
	assert.Equal(t, jobs.StatusCanceled, p.Status)
	assert.True(t, p.Canceling)
	assert.Equal(t, 0, p.TotalFiles)
	assert.Equal(t, 0, p.ProcessedFiles)

	assert.Equal(t, 3, f.history.byStatus(jobs.StatusCanceled))
	assert.Contains(t, f.eventTypes(), events.BatchCanceled)

	areas, err := f.ws.Areas(config.ServiceVideo, testClient)
	require.NoError(t, err)
	assert.Empty(t, dirEntries(t, areas.StagingIn))
	assert.Empty(t, dirEntries(t, areas.StagingOut))
	groups, err := f.ws.List(config.ServiceVideo, testClient)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSequentialRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	f := newFixture(t, config.ServiceVideo, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		mu.Lock()
		order = append(order, job.OriginalFilename)
		mu.Unlock()
		return writeOutput(job)
	})

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServiceVideo, []Upload{
		upload("1.mp4", "a"),
		upload("2.mp4", "b"),
		upload("3.mp4", "c"),
	})
	require.NoError(t, err)

	st := f.waitIdle(t, config.ServiceVideo)
	assert.Equal(t, jobs.StatusCompleted, st.Snapshot().Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1.mp4", "2.mp4", "3.mp4"}, order)
}

func TestCancelAfterPipelineSkipsPromotion(t *testing.T) {
	f := newFixture(t, config.ServicePDFReader, nil)
	release := make(chan struct{})
	done := make(chan struct{}, 1)
	f.d.pipelines[config.ServicePDFReader] = &fakePipeline{name: "reader", run: func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		m, err := writeOutput(job)
		done <- struct{}{}
		<-release
		return m, err
	}}

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFReader, []Upload{upload("a.txt", "hello")})
	require.NoError(t, err)
	<-done

	require.NoError(t, f.d.RequestCancel(context.Background(), testClient, config.ServicePDFReader))
	close(release)
	f.waitIdle(t, config.ServicePDFReader)

	groups, err := f.ws.List(config.ServicePDFReader, testClient)
	require.NoError(t, err)
	assert.Empty(t, groups, "a canceled job is never promoted")
	assert.Equal(t, 1, f.history.byStatus(jobs.StatusCanceled))
}

func TestShutdownWaitsForWorkers(t *testing.T) {
	started := make(chan struct{}, 1)
	f := newFixture(t, config.ServicePDFParse, func(ctx context.Context, job jobs.Job, env pipeline.Env) (*workspace.Manifest, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, pipeline.Checkpoint(ctx, "analyze")
	})

	_, err := f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFParse, []Upload{upload("a.pdf", "1")})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.d.Shutdown(ctx))

	_, err = f.d.SubmitBatch(context.Background(), testClient, config.ServicePDFParse, []Upload{upload("b.pdf", "1")})
	assert.Error(t, err)
}
