// Package inspect renders a finished job's history entry together with the
// artifacts it left in the persistent area.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/mediaflow/internal/history"
	"github.com/mattjoyce/mediaflow/internal/jobs"
)

// EntryReader loads a history entry by job id.
type EntryReader interface {
	Get(ctx context.Context, jobID string) (history.Entry, error)
}

// ArtifactResolver lists the persistent artifacts of a base name.
type ArtifactResolver interface {
	Resolve(service, clientID, baseName string) ([]string, error)
}

// Report is the structured JSON representation of a job report.
type Report struct {
	history.Entry
	Duration string   `json:"duration"`
	Files    []string `json:"files"`
	// Note is set when the persistent area no longer matches the entry.
	Note string `json:"note,omitempty"`
}

// Gather builds the report for jobID. Only completed jobs have artifacts to
// look up; a completed job whose files were deleted gets a note instead of
// an error.
func Gather(ctx context.Context, entries EntryReader, artifacts ArtifactResolver, jobID string) (*Report, error) {
	e, err := entries.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	r := &Report{Entry: e, Files: []string{}}
	if !e.StartedAt.IsZero() && e.CompletedAt.After(e.StartedAt) {
		r.Duration = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
	}

	if e.Status != jobs.StatusCompleted || artifacts == nil {
		return r, nil
	}
	files, err := artifacts.Resolve(e.Service, e.ClientID, e.BaseName)
	if err != nil {
		r.Note = fmt.Sprintf("artifacts unavailable: %v", err)
		return r, nil
	}
	r.Files = files
	if len(files) != e.Artifacts {
		r.Note = fmt.Sprintf("persistent area holds %d file(s), job produced %d", len(files), e.Artifacts)
	}
	return r, nil
}

// BuildReport renders a terminal-friendly report for a job.
func BuildReport(ctx context.Context, entries EntryReader, artifacts ArtifactResolver, jobID string) (string, error) {
	r, err := Gather(ctx, entries, artifacts, jobID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", r.JobID)
	fmt.Fprintf(&out, "Batch ID    : %s\n", r.BatchID)
	fmt.Fprintf(&out, "Service     : %s\n", r.Service)
	fmt.Fprintf(&out, "Client      : %s\n", r.ClientID)
	fmt.Fprintf(&out, "File        : %s (%s)\n", r.OriginalFilename, r.BaseName)
	fmt.Fprintf(&out, "Status      : %s\n", r.Status)
	if r.Reason != "" {
		fmt.Fprintf(&out, "Reason      : %s\n", r.Reason)
	}
	fmt.Fprintf(&out, "Completed   : %s (%s)\n", r.CompletedAt.Format(time.RFC3339), humanize.Time(r.CompletedAt))
	if r.Duration != "" {
		fmt.Fprintf(&out, "Duration    : %s\n", r.Duration)
	}
	fmt.Fprintf(&out, "Artifacts   : %d (%s)\n", r.Artifacts, humanize.Bytes(uint64(r.Bytes)))

	if len(r.Files) > 0 {
		fmt.Fprintf(&out, "\n")
		for _, f := range r.Files {
			fmt.Fprintf(&out, "    %s\n", f)
		}
	}
	if r.Note != "" {
		fmt.Fprintf(&out, "\nnote: %s\n", r.Note)
	}
	return out.String(), nil
}

// BuildJSONReport renders the report as indented JSON.
func BuildJSONReport(ctx context.Context, entries EntryReader, artifacts ArtifactResolver, jobID string) (string, error) {
	r, err := Gather(ctx, entries, artifacts, jobID)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(b), nil
}
