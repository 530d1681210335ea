package workspace

import (
	"context"
	"io"
	"time"
)

// Workspace is the job-scoped pair of staging directories.
//
// Staging trees are partitioned by service, then client, then job id, so
// two jobs of the same client never share a directory and purging one job
// cannot touch another's files.
type Workspace struct {
	JobID  string
	InDir  string
	OutDir string
}

// Areas are the three per-(service, client) directory trees.
type Areas struct {
	StagingIn  string
	StagingOut string
	Persistent string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// PurgeReport summarizes a best-effort purge.
type PurgeReport struct {
	Removed int
	Failed  int
}

// Manager governs the staging and persistent areas.
type Manager interface {
	// Create initializes staging-in and staging-out directories for jobID.
	Create(ctx context.Context, service, clientID, jobID string) (Workspace, error)

	// Save copies an upload into the job's staging-in directory and returns
	// its path and size.
	Save(ctx context.Context, ws Workspace, filename string, r io.Reader) (string, int64, error)

	// Promote moves every manifest file from the job's staging-out directory
	// into the client's persistent area and records the manifest there. On
	// error it returns the destination paths already moved so the caller
	// can roll back.
	Promote(ctx context.Context, ws Workspace, service, clientID string, m *Manifest) ([]string, error)

	// Rollback deletes promoted paths after a failed or canceled promotion.
	Rollback(paths []string) PurgeReport

	// Discard removes both staging directories of a job.
	Discard(ws Workspace) PurgeReport

	// PurgeStaging empties staging-in and staging-out for a client on a service.
	PurgeStaging(ctx context.Context, service, clientID string) PurgeReport

	// Cleanup removes job staging directories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
