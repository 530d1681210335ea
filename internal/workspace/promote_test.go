package workspace

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

func stageJob(t *testing.T, mgr *FSManager, service, client, jobID string, files map[string]string) (Workspace, *Manifest) {
	t.Helper()
	ws, err := mgr.Create(context.Background(), service, client, jobID)
	require.NoError(t, err)
	man := &Manifest{JobID: jobID, Service: service, CompletedAt: time.Now().UTC()}
	var rels []string
	for rel := range files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		writeFile(t, filepath.Join(ws.OutDir, filepath.FromSlash(rel)), files[rel])
		require.NoError(t, man.Add(ws.OutDir, rel))
	}
	return ws, man
}

func TestPromoteMovesManifestFiles(t *testing.T) {
	mgr := newTestManager(t)
	ws, man := stageJob(t, mgr, "pdf_parse", "c1", "job-1", map[string]string{
		"images/report_page_1.jpg": "jpg",
		"report_extracted.json":    "{}",
		"report_extracted.docx":    "docx",
	})
	man.BaseName = "report"
	// Produced by another job in the same staging dir; not in the manifest.
	writeFile(t, filepath.Join(ws.OutDir, "other_report2.docx"), "other")

	moved, err := mgr.Promote(context.Background(), ws, "pdf_parse", "c1", man)
	require.NoError(t, err)
	assert.Len(t, moved, 3)

	areas, _ := mgr.Areas("pdf_parse", "c1")
	for _, rel := range man.Paths() {
		_, err := os.Stat(filepath.Join(areas.Persistent, filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
		_, err = os.Stat(filepath.Join(ws.OutDir, filepath.FromSlash(rel)))
		assert.True(t, os.IsNotExist(err), "staging copy of %s should be gone", rel)
	}
	_, err = os.Stat(filepath.Join(areas.Persistent, "other_report2.docx"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(ws.OutDir, "other_report2.docx"))
	assert.NoError(t, err)

	stored, err := readManifest(areas.Persistent, "report")
	require.NoError(t, err)
	assert.Equal(t, man.Files, stored.Files)
}

func TestPromoteCanceledReturnsMovedForRollback(t *testing.T) {
	mgr := newTestManager(t)
	ws, man := stageJob(t, mgr, "pdf_parse", "c1", "job-1", map[string]string{
		"a.json": "a",
	})
	man.BaseName = "a"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	moved, err := mgr.Promote(ctx, ws, "pdf_parse", "c1", man)
	require.Error(t, err)
	assert.True(t, jobs.IsCanceled(err))
	assert.Empty(t, moved)
}

func TestPromoteDigestMismatch(t *testing.T) {
	mgr := newTestManager(t)
	ws, man := stageJob(t, mgr, "video", "c1", "job-1", map[string]string{
		"clip.srt": "1\n",
		"clip.txt": "hello",
	})
	man.BaseName = "clip"
	man.Files[1].Digest = "bogus"

	moved, err := mgr.Promote(context.Background(), ws, "video", "c1", man)
	require.Error(t, err)
	require.Len(t, moved, 2)

	report := mgr.Rollback(moved)
	assert.Equal(t, 2, report.Removed)
	for _, p := range moved {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestPromoteRejectsEmptyManifest(t *testing.T) {
	mgr := newTestManager(t)
	ws, err := mgr.Create(context.Background(), "video", "c1", "job-1")
	require.NoError(t, err)

	_, err = mgr.Promote(context.Background(), ws, "video", "c1", &Manifest{BaseName: "x"})
	assert.Equal(t, jobs.KindValidation, jobs.KindOf(err))
}

func TestMatchBaseNameSubstringOverMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "images", "report_page_1.jpg"), "1")
	writeFile(t, filepath.Join(dir, "report_extracted.docx"), "2")
	writeFile(t, filepath.Join(dir, "other_report2.docx"), "3")
	writeFile(t, filepath.Join(dir, "summary.md"), "4")

	man, err := MatchBaseName(dir, "report")
	require.NoError(t, err)
	// The legacy fallback is a substring match, so other_report2.docx is
	// claimed too. Jobs that record their outputs never take this path.
	assert.ElementsMatch(t, []string{
		"images/report_page_1.jpg",
		"report_extracted.docx",
		"other_report2.docx",
	}, man.Paths())
	assert.Equal(t, int64(3), man.TotalSize())
}

func TestLegacyMatchSkipsManifestedFiles(t *testing.T) {
	mgr := newTestManager(t)
	ws, man := stageJob(t, mgr, "pdf_reader", "c1", "job-2", map[string]string{
		"other_report2.docx": "owned",
	})
	man.BaseName = "other_report2"
	_, err := mgr.Promote(context.Background(), ws, "pdf_reader", "c1", man)
	require.NoError(t, err)

	areas, _ := mgr.Areas("pdf_reader", "c1")
	writeFile(t, filepath.Join(areas.Persistent, "report_old.md"), "legacy")

	rels, err := mgr.Resolve("pdf_reader", "c1", "report")
	require.NoError(t, err)
	assert.Equal(t, []string{"report_old.md"}, rels)

	n, err := mgr.Delete(context.Background(), "pdf_reader", "c1", "report")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(filepath.Join(areas.Persistent, "other_report2.docx"))
	assert.NoError(t, err, "file owned by another manifest must survive")

	// Only manifested files match: nothing is left for the fallback.
	_, err = mgr.Delete(context.Background(), "pdf_reader", "c1", "report")
	assert.Equal(t, jobs.KindNotFound, jobs.KindOf(err))
}

func TestArtifactsListDeleteAndArchive(t *testing.T) {
	mgr := newTestManager(t)
	ws, man := stageJob(t, mgr, "pdf_reader", "c1", "job-1", map[string]string{
		"notes_20260301.docx": "docx",
		"notes_20260301.md":   "# notes",
	})
	man.BaseName = "notes"
	man.OriginalFilename = "notes.pdf"
	_, err := mgr.Promote(context.Background(), ws, "pdf_reader", "c1", man)
	require.NoError(t, err)

	areas, _ := mgr.Areas("pdf_reader", "c1")
	writeFile(t, filepath.Join(areas.Persistent, "legacy_old.md"), "old")

	groups, err := mgr.List("pdf_reader", "c1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	byName := map[string]ArtifactGroup{}
	for _, g := range groups {
		byName[g.BaseName] = g
	}
	assert.Len(t, byName["notes"].Files, 2)
	assert.Equal(t, "notes.pdf", byName["notes"].OriginalFilename)
	assert.True(t, byName["legacy_old"].Legacy)

	rel, content, err := mgr.Preview("pdf_reader", "c1", "notes")
	require.NoError(t, err)
	assert.Equal(t, "notes_20260301.md", rel)
	assert.Equal(t, "# notes", content)

	rels, err := mgr.Resolve("pdf_reader", "c1", "")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, mgr.WriteArchive(context.Background(), &buf, "pdf_reader", "c1", rels))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 3)

	n, err := mgr.Delete(context.Background(), "pdf_reader", "c1", "notes")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = os.Stat(manifestPath(areas.Persistent, "notes"))
	assert.True(t, os.IsNotExist(err))

	n, err = mgr.Delete(context.Background(), "pdf_reader", "c1", "legacy")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = mgr.Delete(context.Background(), "pdf_reader", "c1", "missing")
	assert.Equal(t, jobs.KindNotFound, jobs.KindOf(err))
}

func TestOpenFileRejectsTraversal(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Create(context.Background(), "video", "c1", "job-1")
	require.NoError(t, err)
	areas, _ := mgr.Areas("video", "c1")
	writeFile(t, filepath.Join(areas.Persistent, "clip.srt"), "1")

	f, _, err := mgr.OpenFile("video", "c1", "clip.srt")
	require.NoError(t, err)
	f.Close()

	for _, rel := range []string{"../../../etc/passwd", "/etc/passwd", ".manifests/clip.json", "missing.srt"} {
		_, _, err := mgr.OpenFile("video", "c1", rel)
		assert.Error(t, err, rel)
	}
}
