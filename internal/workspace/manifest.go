package workspace

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Manifest lists the artifacts one job produced. Paths are relative to the
// job's staging-out directory before promotion and to the persistent area
// afterwards; the layout is identical in both.
type Manifest struct {
	JobID            string         `json:"job_id"`
	BaseName         string         `json:"base_name"`
	OriginalFilename string         `json:"original_filename"`
	Service          string         `json:"service"`
	CompletedAt      time.Time      `json:"completed_at"`
	Files            []ManifestFile `json:"files"`
}

// ManifestFile is one artifact entry.
type ManifestFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"blake3"`
}

// Add records the file at root/rel, computing its size and digest.
func (m *Manifest) Add(root, rel string) error {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
		return fmt.Errorf("artifact path %q escapes output directory", rel)
	}
	size, digest, err := fileDigest(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	m.Files = append(m.Files, ManifestFile{Path: rel, Size: size, Digest: digest})
	return nil
}

// Paths returns the relative artifact paths.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		out = append(out, f.Path)
	}
	return out
}

// TotalSize sums artifact sizes.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

func fileDigest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash artifact: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func manifestPath(persistent, baseName string) string {
	return filepath.Join(persistent, dirManifests, baseName+".json")
}

func writeManifest(persistent string, m *Manifest) error {
	dir := filepath.Join(persistent, dirManifests)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(manifestPath(persistent, m.BaseName), data)
}

func readManifest(persistent, baseName string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath(persistent, baseName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %q: %w", baseName, err)
	}
	return &m, nil
}

func listManifests(persistent string) ([]*Manifest, error) {
	entries, err := os.ReadDir(filepath.Join(persistent, dirManifests))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Manifest
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		m, err := readManifest(persistent, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// MatchBaseName builds a manifest of every file under dir whose name
// contains baseName. It serves artifacts that predate stored manifests. The
// match is a plain substring test, so "report" also claims
// "other_report2.docx"; callers that know the exact outputs should build the
// manifest with Add instead.
func MatchBaseName(dir, baseName string) (*Manifest, error) {
	if baseName == "" {
		return nil, fmt.Errorf("base name is empty")
	}
	all, err := walkArtifacts(dir)
	if err != nil {
		return nil, err
	}
	m := &Manifest{BaseName: baseName}
	for _, rel := range all {
		if !strings.Contains(path.Base(rel), baseName) {
			continue
		}
		if err := m.Add(dir, rel); err != nil {
			return nil, err
		}
	}
	return m, nil
}
