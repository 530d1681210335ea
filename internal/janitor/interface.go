package janitor

import (
	"context"
	"time"

	"github.com/mattjoyce/mediaflow/internal/session"
	"github.com/mattjoyce/mediaflow/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_janitor.go -package=mocks github.com/mattjoyce/mediaflow/internal/janitor SessionSweeper,StagingCleaner,HistoryPruner

// SessionSweeper evicts idle client sessions.
type SessionSweeper interface {
	EvictExpired() []session.Key
}

// StagingCleaner removes abandoned job staging directories.
type StagingCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (workspace.CleanupReport, error)
}

// HistoryPruner drops old job outcome records.
type HistoryPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
