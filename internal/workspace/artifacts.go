package workspace

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

const previewLimit = 1 << 20

// ArtifactFile is one listed file in a client's persistent area.
type ArtifactFile struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	Digest    string    `json:"digest,omitempty"`
	Modified  time.Time `json:"modified"`
}

// ArtifactGroup is the set of files produced for one source document.
// Groups without a manifest are Legacy and were matched by name.
type ArtifactGroup struct {
	BaseName         string         `json:"base_name"`
	OriginalFilename string         `json:"original_filename,omitempty"`
	CompletedAt      time.Time      `json:"completed_at,omitempty"`
	Files            []ArtifactFile `json:"files"`
	TotalSize        string         `json:"total_size"`
	Legacy           bool           `json:"legacy,omitempty"`
}

// List returns the artifact groups of a client on a service, newest first.
func (m *FSManager) List(service, clientID string) ([]ArtifactGroup, error) {
	areas, err := m.Areas(service, clientID)
	if err != nil {
		return nil, err
	}
	manifests, err := listManifests(areas.Persistent)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	claimed := make(map[string]bool)
	groups := make([]ArtifactGroup, 0, len(manifests))
	for _, man := range manifests {
		g := ArtifactGroup{
			BaseName:         man.BaseName,
			OriginalFilename: man.OriginalFilename,
			CompletedAt:      man.CompletedAt,
		}
		var total int64
		for _, f := range man.Files {
			claimed[f.Path] = true
			info, err := os.Stat(filepath.Join(areas.Persistent, filepath.FromSlash(f.Path)))
			if err != nil {
				continue
			}
			af := newArtifactFile(f.Path, info)
			af.Digest = f.Digest
			g.Files = append(g.Files, af)
			total += info.Size()
		}
		if len(g.Files) == 0 {
			continue
		}
		g.TotalSize = humanize.Bytes(uint64(total))
		groups = append(groups, g)
	}

	loose, err := walkArtifacts(areas.Persistent)
	if err != nil {
		return nil, err
	}
	for _, rel := range loose {
		if claimed[rel] {
			continue
		}
		info, err := os.Stat(filepath.Join(areas.Persistent, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		name := path.Base(rel)
		groups = append(groups, ArtifactGroup{
			BaseName:    strings.TrimSuffix(name, path.Ext(name)),
			CompletedAt: info.ModTime(),
			Files:       []ArtifactFile{newArtifactFile(rel, info)},
			TotalSize:   humanize.Bytes(uint64(info.Size())),
			Legacy:      true,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].CompletedAt.After(groups[j].CompletedAt)
	})
	return groups, nil
}

func newArtifactFile(rel string, info fs.FileInfo) ArtifactFile {
	return ArtifactFile{
		Path:      rel,
		Size:      info.Size(),
		SizeHuman: humanize.Bytes(uint64(info.Size())),
		Modified:  info.ModTime(),
	}
}

// OpenFile opens one artifact for download.
func (m *FSManager) OpenFile(service, clientID, rel string) (*os.File, fs.FileInfo, error) {
	areas, err := m.Areas(service, clientID)
	if err != nil {
		return nil, nil, err
	}
	p, err := safeJoin(areas.Persistent, rel)
	if err != nil {
		return nil, nil, err
	}
	if isManifestPath(rel) {
		return nil, nil, jobs.NotFound("file %q not found", rel)
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return nil, nil, jobs.NotFound("file %q not found", rel)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, info, nil
}

// Resolve returns the relative artifact paths belonging to baseName. An
// empty baseName selects every artifact of the client. Without a manifest,
// or when none of its files remain, files that no manifest claims are
// matched by substring with MatchBaseName.
func (m *FSManager) Resolve(service, clientID, baseName string) ([]string, error) {
	areas, err := m.Areas(service, clientID)
	if err != nil {
		return nil, err
	}
	all, err := walkArtifacts(areas.Persistent)
	if err != nil {
		return nil, err
	}
	if baseName == "" {
		if len(all) == 0 {
			return nil, jobs.NotFound("no files available")
		}
		return all, nil
	}
	if err := validateSegment("base name", baseName); err != nil {
		return nil, jobs.Validation("%v", err)
	}

	man, err := readManifest(areas.Persistent, baseName)
	if err == nil {
		present := make(map[string]bool, len(all))
		for _, rel := range all {
			present[rel] = true
		}
		var out []string
		for _, f := range man.Files {
			if present[f.Path] {
				out = append(out, f.Path)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	legacy, err := MatchBaseName(areas.Persistent, baseName)
	if err != nil {
		return nil, err
	}
	claimed, err := claimedPaths(areas.Persistent)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	var out []string
	for _, rel := range legacy.Paths() {
		if !claimed[rel] {
			out = append(out, rel)
		}
	}
	if len(out) == 0 {
		return nil, jobs.NotFound("no files for %q", baseName)
	}
	return out, nil
}

// claimedPaths is the set of persistent paths owned by a stored manifest.
// The substring fallback never reaches them.
func claimedPaths(persistent string) (map[string]bool, error) {
	manifests, err := listManifests(persistent)
	if err != nil {
		return nil, err
	}
	claimed := make(map[string]bool)
	for _, man := range manifests {
		for _, f := range man.Files {
			claimed[f.Path] = true
		}
	}
	return claimed, nil
}

// Delete removes every artifact of baseName and its manifest. Directories
// left empty are pruned. Returns the number of files removed.
func (m *FSManager) Delete(ctx context.Context, service, clientID, baseName string) (int, error) {
	if baseName == "" {
		return 0, jobs.Validation("base name is required")
	}
	rels, err := m.Resolve(service, clientID, baseName)
	if err != nil {
		return 0, err
	}
	areas, _ := m.Areas(service, clientID)

	removed := 0
	dirs := make(map[string]bool)
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		p := filepath.Join(areas.Persistent, filepath.FromSlash(rel))
		if err := m.removeWithRetry(p); err != nil {
			m.logger.Warn("delete could not remove artifact", "path", p, "error", err)
			continue
		}
		removed++
		if d := filepath.Dir(p); d != areas.Persistent {
			dirs[d] = true
		}
	}
	if err := os.Remove(manifestPath(areas.Persistent, baseName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("delete could not remove manifest", "base_name", baseName, "error", err)
	}
	for d := range dirs {
		// Fails harmlessly when other artifacts still live there.
		_ = os.Remove(d)
	}
	return removed, nil
}

// WriteArchive streams a zip of rels from the client's persistent area.
func (m *FSManager) WriteArchive(ctx context.Context, w io.Writer, service, clientID string, rels []string) error {
	areas, err := m.Areas(service, clientID)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		if err := addToZip(zw, areas.Persistent, rel); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, root, rel string) error {
	p, err := safeJoin(root, rel)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = rel
	hdr.Method = zip.Deflate
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, f)
	return err
}

// Preview returns the text of the most readable artifact of baseName:
// plain text, then markdown, then subtitles, then JSON.
func (m *FSManager) Preview(service, clientID, baseName string) (string, string, error) {
	rels, err := m.Resolve(service, clientID, baseName)
	if err != nil {
		return "", "", err
	}
	areas, _ := m.Areas(service, clientID)
	for _, ext := range []string{".txt", ".md", ".srt", ".json"} {
		for _, rel := range rels {
			if !strings.EqualFold(path.Ext(rel), ext) {
				continue
			}
			f, err := os.Open(filepath.Join(areas.Persistent, filepath.FromSlash(rel)))
			if err != nil {
				continue
			}
			data, err := io.ReadAll(io.LimitReader(f, previewLimit))
			f.Close()
			if err != nil {
				return "", "", fmt.Errorf("read preview: %w", err)
			}
			return rel, string(data), nil
		}
	}
	return "", "", jobs.NotFound("no previewable file for %q", baseName)
}

func walkArtifacts(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == dirManifests {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan artifacts: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

func isManifestPath(rel string) bool {
	first := strings.SplitN(filepath.ToSlash(filepath.Clean(rel)), "/", 2)[0]
	return first == dirManifests
}

func safeJoin(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", jobs.Validation("invalid path %q", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", jobs.Validation("invalid path %q", rel)
	}
	return filepath.Join(root, clean), nil
}
