package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

// Promote moves m's artifacts from ws.OutDir into the persistent area and
// writes the manifest. Each file is verified against its recorded digest
// after the move. ctx is checked between files; on cancellation or error the
// destinations moved so far are returned for Rollback.
func (m *FSManager) Promote(ctx context.Context, ws Workspace, service, clientID string, man *Manifest) ([]string, error) {
	if man == nil || len(man.Files) == 0 {
		return nil, jobs.Validation("nothing to promote")
	}
	if err := validateSegment("base name", man.BaseName); err != nil {
		return nil, jobs.Validation("%v", err)
	}
	areas, err := m.Areas(service, clientID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(areas.Persistent, 0o755); err != nil {
		return nil, fmt.Errorf("create persistent area: %w", err)
	}

	var moved []string
	for _, f := range man.Files {
		if ctx.Err() != nil {
			return moved, jobs.Canceled("promote")
		}
		src, err := safeJoin(ws.OutDir, f.Path)
		if err != nil {
			return moved, err
		}
		dst, err := safeJoin(areas.Persistent, f.Path)
		if err != nil {
			return moved, err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return moved, fmt.Errorf("create artifact directory: %w", err)
		}
		if err := moveFile(src, dst); err != nil {
			return moved, fmt.Errorf("move %s: %w", f.Path, err)
		}
		moved = append(moved, dst)

		_, digest, err := fileDigest(dst)
		if err != nil {
			return moved, err
		}
		if digest != f.Digest {
			return moved, fmt.Errorf("artifact %s digest mismatch after move", f.Path)
		}
	}

	if ctx.Err() != nil {
		return moved, jobs.Canceled("promote")
	}
	if err := writeManifest(areas.Persistent, man); err != nil {
		return moved, err
	}
	return moved, nil
}

// Rollback removes promoted paths. Missing files are ignored.
func (m *FSManager) Rollback(paths []string) PurgeReport {
	var report PurgeReport
	for _, p := range paths {
		if err := m.removeWithRetry(p); err != nil {
			m.logger.Warn("rollback could not remove artifact", "path", p, "error", err)
			report.Failed++
			continue
		}
		report.Removed++
	}
	return report
}

func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
