package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/jobs"
)

type fakeEntries map[string]history.Entry

func (f fakeEntries) Get(_ context.Context, jobID string) (history.Entry, error) {
	e, ok := f[jobID]
	if !ok {
		return history.Entry{}, history.ErrNotFound
	}
	return e, nil
}

type fakeArtifacts struct {
	files map[string][]string
	err   error
}

func (f fakeArtifacts) Resolve(_, _, baseName string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.files[baseName], nil
}

func completedEntry() history.Entry {
	done := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	return history.Entry{
		JobID:            "job-1",
		BatchID:          "batch-1",
		Service:          "pdf_parse",
		ClientID:         "10.0.0.7",
		OriginalFilename: "Report.pdf",
		BaseName:         "Report",
		Status:           jobs.StatusCompleted,
		Artifacts:        2,
		Bytes:            2048,
		StartedAt:        done.Add(-90 * time.Second),
		CompletedAt:      done,
	}
}

func TestBuildReport(t *testing.T) {
	entries := fakeEntries{"job-1": completedEntry()}
	artifacts := fakeArtifacts{files: map[string][]string{
		"Report": {"Report_extracted.docx", "images/Report_page_1.jpg"},
	}}

	out, err := BuildReport(context.Background(), entries, artifacts, "job-1")
	require.NoError(t, err)

	for _, needle := range []string{
		"Job Report",
		"job-1",
		"batch-1",
		"Report.pdf (Report)",
		"completed",
		"1m30s",
		"2.0 kB",
		"Report_extracted.docx",
		"images/Report_page_1.jpg",
	} {
		assert.Contains(t, out, needle)
	}
	assert.NotContains(t, out, "note:")
}

func TestBuildJSONReport(t *testing.T) {
	entries := fakeEntries{"job-1": completedEntry()}
	artifacts := fakeArtifacts{files: map[string][]string{"Report": {"Report_extracted.docx"}}}

	out, err := BuildJSONReport(context.Background(), entries, artifacts, "job-1")
	require.NoError(t, err)

	var r Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "job-1", r.JobID)
	assert.Equal(t, []string{"Report_extracted.docx"}, r.Files)
	assert.Contains(t, r.Note, "holds 1 file(s), job produced 2")
	assert.True(t, strings.Contains(out, `"original_filename": "Report.pdf"`))
}

func TestGatherFailedJobSkipsArtifacts(t *testing.T) {
	e := completedEntry()
	e.Status = jobs.StatusFailed
	e.Reason = "analyze: model unavailable"
	e.Artifacts = 0
	entries := fakeEntries{"job-1": e}

	r, err := Gather(context.Background(), entries, fakeArtifacts{err: errors.New("must not be called")}, "job-1")
	require.NoError(t, err)
	assert.Empty(t, r.Files)
	assert.Empty(t, r.Note)

	out, err := BuildReport(context.Background(), entries, nil, "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Reason      : analyze: model unavailable")
}

func TestGatherDeletedArtifactsAddsNote(t *testing.T) {
	entries := fakeEntries{"job-1": completedEntry()}

	r, err := Gather(context.Background(), entries, fakeArtifacts{err: jobs.NotFound("no files for %q", "Report")}, "job-1")
	require.NoError(t, err)
	assert.Contains(t, r.Note, "artifacts unavailable")
}

func TestGatherUnknownJob(t *testing.T) {
	_, err := Gather(context.Background(), fakeEntries{}, nil, "nope")
	assert.ErrorIs(t, err, history.ErrNotFound)
}
