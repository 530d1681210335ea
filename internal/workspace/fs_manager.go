package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	dirStagingIn  = "staging-in"
	dirStagingOut = "staging-out"
	dirPersistent = "persistent"
	dirManifests  = ".manifests"

	defaultRetryDelay = 500 * time.Millisecond
)

// FSManager manages the staging and persistent trees on local disk.
type FSManager struct {
	root       string
	now        func() time.Time
	retryDelay time.Duration
	remove     func(string) error
	logger     *slog.Logger
}

var _ Manager = (*FSManager)(nil)

// NewFSManager creates a filesystem-backed manager rooted at root.
func NewFSManager(root string, logger *slog.Logger) (*FSManager, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("storage root is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FSManager{
		root:       filepath.Clean(trimmed),
		now:        time.Now,
		retryDelay: defaultRetryDelay,
		remove:     os.Remove,
		logger:     logger,
	}, nil
}

// Root returns the storage root.
func (m *FSManager) Root() string { return m.root }

// Areas resolves the three directory trees for a client on a service.
func (m *FSManager) Areas(service, clientID string) (Areas, error) {
	if err := validateSegment("service", service); err != nil {
		return Areas{}, err
	}
	if err := validateSegment("client", clientID); err != nil {
		return Areas{}, err
	}
	return Areas{
		StagingIn:  filepath.Join(m.root, dirStagingIn, service, clientID),
		StagingOut: filepath.Join(m.root, dirStagingOut, service, clientID),
		Persistent: filepath.Join(m.root, dirPersistent, service, clientID),
	}, nil
}

// Create initializes the staging directories for jobID.
func (m *FSManager) Create(ctx context.Context, service, clientID, jobID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if err := validateSegment("job", jobID); err != nil {
		return Workspace{}, err
	}
	areas, err := m.Areas(service, clientID)
	if err != nil {
		return Workspace{}, err
	}

	ws := Workspace{
		JobID:  jobID,
		InDir:  filepath.Join(areas.StagingIn, jobID),
		OutDir: filepath.Join(areas.StagingOut, jobID),
	}
	for _, dir := range []string{areas.StagingIn, areas.StagingOut, areas.Persistent} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Workspace{}, fmt.Errorf("create storage directory: %w", err)
		}
	}
	if err := os.Mkdir(ws.InDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create staging-in for job %q: %w", jobID, err)
	}
	if err := os.Mkdir(ws.OutDir, 0o755); err != nil {
		_ = os.RemoveAll(ws.InDir)
		return Workspace{}, fmt.Errorf("create staging-out for job %q: %w", jobID, err)
	}
	return ws, nil
}

// Save copies r into the job's staging-in directory under a sanitized name.
func (m *FSManager) Save(ctx context.Context, ws Workspace, filename string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	name, err := SanitizeFilename(filename)
	if err != nil {
		return "", 0, err
	}

	dst := filepath.Join(ws.InDir, name)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create staged upload: %w", err)
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("write staged upload: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("close staged upload: %w", closeErr)
	}
	return dst, n, nil
}

// Discard purges and removes both staging directories of a job.
func (m *FSManager) Discard(ws Workspace) PurgeReport {
	var report PurgeReport
	for _, dir := range []string{ws.InDir, ws.OutDir} {
		if dir == "" {
			continue
		}
		r := m.Purge(dir)
		report.Removed += r.Removed
		report.Failed += r.Failed
		if err := m.removeWithRetry(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			report.Failed++
		}
	}
	return report
}

// PurgeStaging empties both staging areas of a client on a service. The
// area directories themselves are kept.
func (m *FSManager) PurgeStaging(ctx context.Context, service, clientID string) PurgeReport {
	areas, err := m.Areas(service, clientID)
	if err != nil {
		m.logger.Warn("purge skipped", "service", service, "client_id", clientID, "error", err)
		return PurgeReport{}
	}
	in := m.Purge(areas.StagingIn)
	out := m.Purge(areas.StagingOut)
	return PurgeReport{Removed: in.Removed + out.Removed, Failed: in.Failed + out.Failed}
}

// Purge deletes every file under dir, then every subdirectory, deepest
// first. dir itself is kept. Each failed deletion is retried once after a
// short delay, then logged and skipped.
func (m *FSManager) Purge(dir string) PurgeReport {
	var files, dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			m.logger.Warn("purge walk error", "path", path, "error", walkErr)
			return nil
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("purge walk aborted", "dir", dir, "error", err)
	}

	var report PurgeReport
	for _, f := range files {
		if err := m.removeWithRetry(f); err != nil {
			m.logger.Warn("purge could not remove file", "path", f, "error", err)
			report.Failed++
			continue
		}
		report.Removed++
	}

	// Deepest first so parents are empty by the time they are removed.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		if err := m.removeWithRetry(d); err != nil {
			m.logger.Warn("purge could not remove directory", "path", d, "error", err)
			report.Failed++
		}
	}
	return report
}

func (m *FSManager) removeWithRetry(path string) error {
	err := m.remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	time.Sleep(m.retryDelay)
	if err := m.remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Cleanup removes job staging directories older than olderThan based on
// directory modification time.
func (m *FSManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, area := range []string{dirStagingIn, dirStagingOut} {
		// <root>/<area>/<service>/<client>/<job>
		jobDirs, err := filepath.Glob(filepath.Join(m.root, area, "*", "*", "*"))
		if err != nil {
			return report, fmt.Errorf("scan %s: %w", area, err)
		}
		for _, path := range jobDirs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			info, err := os.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return report, fmt.Errorf("stat staging entry %q: %w", path, err)
			}
			if !info.IsDir() || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				return report, fmt.Errorf("remove stale staging %q: %w", path, err)
			}
			report.DeletedDirs++
		}
	}

	return report, nil
}

func validateSegment(kind, v string) error {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return fmt.Errorf("%s is empty", kind)
	}
	if trimmed != v || trimmed == "." || trimmed == ".." || strings.HasPrefix(trimmed, ".") {
		return fmt.Errorf("%s %q is invalid", kind, v)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("%s %q must not contain path separators", kind, v)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("%s %q is invalid", kind, v)
	}
	return nil
}

// SanitizeFilename reduces an uploaded name to a safe single path element.
// Non-ASCII letters are kept so original names stay readable.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(strings.TrimSpace(b.String()), ".")
	// The stem becomes the job's base name, so it must pass validateSegment.
	ext := filepath.Ext(out)
	stem := strings.TrimLeft(strings.TrimSpace(strings.TrimSuffix(out, ext)), ". ")
	if stem == "" || out == "/" {
		return "", fmt.Errorf("filename %q is empty after sanitizing", name)
	}
	return stem + ext, nil
}

// SafeSegment maps an arbitrary client identity onto a directory name.
func SafeSegment(v string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(v) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.':
			if b.Len() == 0 {
				b.WriteRune('_')
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
