package jobs

import "time"

// Status is the closed set of states a job-state record can be in.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends a batch.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusFailed
}

// Active reports whether work is queued or running under s.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusProcessing
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusQueued, StatusProcessing, StatusCompleted, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// CanTransition enforces the allowed status edges.
//
// A new batch may supersede any state, so every status can move to queued.
// Terminal states only leave through idle (reset) or queued (new batch).
func CanTransition(from, to Status) bool {
	if to == StatusQueued {
		return from.Valid()
	}
	switch from {
	case StatusIdle:
		return to == StatusIdle || to == StatusCanceled
	case StatusQueued:
		return to == StatusProcessing || to == StatusCanceled || to == StatusFailed || to == StatusIdle
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed || to == StatusCanceled
	case StatusCompleted, StatusFailed, StatusCanceled:
		return to == StatusIdle || to == StatusCanceled
	default:
		return false
	}
}

// Job is one uploaded file moving through a service pipeline.
type Job struct {
	ID      string
	BatchID string
	Service string
	Client  string

	// SourcePath is the staged upload inside the job's staging-in directory.
	SourcePath string
	// OutputDir is the job's staging-out directory.
	OutputDir string
	// BaseName is the source file name without extension, used to name outputs.
	BaseName string
	// OriginalFilename is the name the client uploaded, kept for display and output naming.
	OriginalFilename string

	SubmittedAt time.Time
}
