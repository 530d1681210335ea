package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mediaflow/internal/config"
	"github.com/mattjoyce/mediaflow/internal/jobs"
	"github.com/mattjoyce/mediaflow/internal/session"
)

func completeBatch(t *testing.T, st *session.State, files int) {
	t.Helper()
	b, err := st.BeginBatch(context.Background(), files)
	require.NoError(t, err)
	for i := 0; i < files; i++ {
		st.StartJob(b.Seq, "f.pdf")
		st.FinishJob(b.Seq, nil)
	}
	st.EndBatch(b.Seq)
}

func TestResetOnRead(t *testing.T) {
	reg := session.NewRegistry(10, time.Hour)
	r := NewReporter(reg, map[string]Policy{"pdf_parse": ResetOnRead{}})
	completeBatch(t, reg.GetOrCreate("c", "pdf_parse"), 3)

	first := r.GetProgress("c", "pdf_parse")
	assert.Equal(t, jobs.StatusCompleted, first.Status)
	assert.Equal(t, 3, first.ProcessedFiles)
	assert.Equal(t, 3, first.TotalFiles)

	second := r.GetProgress("c", "pdf_parse")
	assert.Equal(t, jobs.StatusIdle, second.Status)
	assert.Equal(t, 0, second.ProcessedFiles)
	assert.Equal(t, 0, second.TotalFiles)
}

func TestResetOnReadAfterCancel(t *testing.T) {
	reg := session.NewRegistry(10, time.Hour)
	r := NewReporter(reg, map[string]Policy{"pdf_parse": ResetOnRead{}})
	reg.GetOrCreate("c", "pdf_parse").Cancel()

	assert.Equal(t, jobs.StatusCanceled, r.GetProgress("c", "pdf_parse").Status)
	assert.Equal(t, jobs.StatusIdle, r.GetProgress("c", "pdf_parse").Status)
}

func TestGraceWindow(t *testing.T) {
	reg := session.NewRegistry(10, time.Hour)
	r := NewReporter(reg, map[string]Policy{"video": Grace{Window: 2 * time.Second}})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	completeBatch(t, reg.GetOrCreate("c", "video"), 1)

	assert.Equal(t, jobs.StatusCompleted, r.GetProgress("c", "video").Status)
	now = now.Add(1500 * time.Millisecond)
	assert.Equal(t, jobs.StatusCompleted, r.GetProgress("c", "video").Status)
	now = now.Add(600 * time.Millisecond)
	p := r.GetProgress("c", "video")
	assert.Equal(t, jobs.StatusIdle, p.Status)
	assert.Equal(t, 0, p.TotalFiles)
}

func TestGraceWindowStartsAtFirstObservation(t *testing.T) {
	reg := session.NewRegistry(10, time.Hour)
	r := NewReporter(reg, map[string]Policy{"video": Grace{Window: 2 * time.Second}})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	completeBatch(t, reg.GetOrCreate("c", "video"), 1)
	// Nobody polls for a long time; the first poll still sees the result.
	now = now.Add(time.Hour)
	assert.Equal(t, jobs.StatusCompleted, r.GetProgress("c", "video").Status)
}

func TestNonTerminalUntouched(t *testing.T) {
	reg := session.NewRegistry(10, time.Hour)
	r := NewReporter(reg, map[string]Policy{"video": Grace{Window: time.Second}})
	st := reg.GetOrCreate("c", "video")
	b, _ := st.BeginBatch(context.Background(), 2)
	st.StartJob(b.Seq, "talk.mp4")
	st.AddPages(b.Seq, 4)
	st.PageDone(b.Seq)

	p := r.GetProgress("c", "video")
	assert.Equal(t, jobs.StatusProcessing, p.Status)
	assert.Equal(t, "talk.mp4", p.CurrentFile)
	assert.Equal(t, 1, p.CurrentPage)
	assert.Equal(t, 4, p.TotalPages)
	assert.Equal(t, p, r.GetProgress("c", "video"))
}

func TestUnknownServiceDefaultsToResetOnRead(t *testing.T) {
	reg := session.NewRegistry(10, time.Hour)
	r := NewReporter(reg, nil)
	reg.GetOrCreate("c", "x").Cancel()

	assert.Equal(t, jobs.StatusCanceled, r.GetProgress("c", "x").Status)
	assert.Equal(t, jobs.StatusIdle, r.GetProgress("c", "x").Status)
}

func TestPolicyFor(t *testing.T) {
	p, err := PolicyFor(config.PipelineConfig{TerminalPolicy: config.TerminalGrace, GraceWindow: 3 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, Grace{Window: 3 * time.Second}, p)

	p, err = PolicyFor(config.PipelineConfig{TerminalPolicy: config.TerminalResetOnRead})
	require.NoError(t, err)
	assert.Equal(t, "reset_on_read", p.Name())

	_, err = PolicyFor(config.PipelineConfig{TerminalPolicy: "never"})
	assert.Error(t, err)
}
