package watch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mediaflow/internal/events"
)

func ev(t *testing.T, typ string, data map[string]any) events.Event {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{Type: typ, Client: "10.0.0.1", Service: "pdf_parse", At: time.Now(), Data: b}
}

func TestUpdateBatchState(t *testing.T) {
	batches := map[string]*BatchState{}

	updateBatchState(batches, ev(t, events.BatchSubmitted, map[string]any{"batch_id": "b1", "total_files": 2}))
	updateBatchState(batches, ev(t, events.JobStarted, map[string]any{"job_id": "j1", "file": "a.pdf"}))
	updateBatchState(batches, ev(t, events.JobProgress, map[string]any{"job_id": "j1", "current_page": 2, "total_pages": 4}))

	b := batches["pdf_parse/10.0.0.1"]
	require.NotNil(t, b)
	assert.Equal(t, "processing", b.Status)
	assert.Equal(t, "a.pdf", b.CurrentFile)
	assert.InDelta(t, 0.25, b.Percent(), 0.001)

	updateBatchState(batches, ev(t, events.JobCompleted, map[string]any{"job_id": "j1"}))
	updateBatchState(batches, ev(t, events.JobFailed, map[string]any{"job_id": "j2", "reason": "analyze: boom"}))
	updateBatchState(batches, ev(t, events.BatchFinished, map[string]any{"status": "failed", "processed_files": 1, "failed_files": 1, "reason": "1 of 2 files failed: analyze: boom"}))

	assert.Equal(t, "failed", b.Status)
	assert.Equal(t, 2, b.Done())
	assert.Equal(t, 1.0, b.Percent())
	assert.Equal(t, "", b.CurrentFile)

	updateBatchState(batches, ev(t, events.SessionEvicted, nil))
	assert.Empty(t, batches)
}

func TestUpdateBatchStateIgnoresUnscoped(t *testing.T) {
	batches := map[string]*BatchState{}
	updateBatchState(batches, events.Event{Type: events.JobStarted, Data: json.RawMessage(`{}`)})
	assert.Empty(t, batches)
}

func TestParseEvent(t *testing.T) {
	full := `{"id":7,"type":"job.started","at":"2026-01-02T03:04:05Z","client_id":"c","service":"video","data":{"job_id":"abc"}}`
	e := parseEvent(0, "", full)
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, "job.started", e.Type)
	assert.Equal(t, "c", e.Client)
	assert.JSONEq(t, `{"job_id":"abc"}`, string(e.Data))

	raw := parseEvent(3, "batch.canceled", `{"batches":1}`)
	assert.Equal(t, int64(3), raw.ID)
	assert.Equal(t, "batch.canceled", raw.Type)
	assert.JSONEq(t, `{"batches":1}`, string(raw.Data))
}

func TestExtractEventDesc(t *testing.T) {
	e := ev(t, events.JobFailed, map[string]any{"job_id": "0123456789", "reason": "boom"})
	assert.Equal(t, "pdf_parse 10.0.0.1 [01234567] boom", extractEventDesc(e))
}

func TestThemeStatus(t *testing.T) {
	theme := NewDefaultTheme()
	assert.Equal(t, theme.OK.Render("x"), theme.Status("completed").Render("x"))
	assert.Equal(t, theme.Alert.Render("x"), theme.Status("failed").Render("x"))
	assert.Equal(t, theme.Dim.Render("x"), theme.Status("queued").Render("x"))
	assert.Equal(t, theme.Dim.Render("x"), theme.Status("bogus").Render("x"))
}
