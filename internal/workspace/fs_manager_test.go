package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *FSManager {
	t.Helper()
	mgr, err := NewFSManager(filepath.Join(t.TempDir(), "data"), nil)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	mgr.retryDelay = time.Millisecond
	return mgr
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s) error = %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func TestFSManagerCreateLayout(t *testing.T) {
	mgr := newTestManager(t)

	ws, err := mgr.Create(context.Background(), "pdf_parse", "10.0.0.5", "job-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantIn := filepath.Join(mgr.Root(), "staging-in", "pdf_parse", "10.0.0.5", "job-a")
	wantOut := filepath.Join(mgr.Root(), "staging-out", "pdf_parse", "10.0.0.5", "job-a")
	if ws.InDir != wantIn {
		t.Fatalf("InDir = %q, want %q", ws.InDir, wantIn)
	}
	if ws.OutDir != wantOut {
		t.Fatalf("OutDir = %q, want %q", ws.OutDir, wantOut)
	}
	for _, dir := range []string{ws.InDir, ws.OutDir, filepath.Join(mgr.Root(), "persistent", "pdf_parse", "10.0.0.5")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err = %v", dir, err)
		}
	}

	if _, err := mgr.Create(context.Background(), "pdf_parse", "10.0.0.5", "job-a"); err == nil {
		t.Fatalf("Create() duplicate job expected error")
	}
}

func TestFSManagerRejectsInvalidSegments(t *testing.T) {
	mgr := newTestManager(t)
	cases := []struct{ service, client, job string }{
		{"", "c", "j"},
		{"svc", "../x", "j"},
		{"svc", "c", "a/b"},
		{"svc", "c", ".."},
		{"svc", "c", ".hidden"},
	}
	for _, tc := range cases {
		if _, err := mgr.Create(context.Background(), tc.service, tc.client, tc.job); err == nil {
			t.Fatalf("Create(%q,%q,%q) expected error", tc.service, tc.client, tc.job)
		}
	}
}

func TestFSManagerSaveSanitizes(t *testing.T) {
	mgr := newTestManager(t)
	ws, err := mgr.Create(context.Background(), "pdf_reader", "c1", "job-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	path, n, err := mgr.Save(context.Background(), ws, `..\..\evil/报告?.pdf`, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != 5 {
		t.Fatalf("Save() size = %d, want 5", n)
	}
	if filepath.Dir(path) != ws.InDir {
		t.Fatalf("Save() path %q escaped %q", path, ws.InDir)
	}
	if filepath.Base(path) != "报告_.pdf" {
		t.Fatalf("Save() name = %q", filepath.Base(path))
	}
}

func TestFSManagerPurgeKeepsRoot(t *testing.T) {
	mgr := newTestManager(t)
	dir := filepath.Join(mgr.Root(), "area")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "job", "images", "p1.jpg"), "p")

	report := mgr.Purge(dir)
	if report.Removed != 2 || report.Failed != 0 {
		t.Fatalf("Purge() report = %+v", report)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Purge() left %d entries", len(entries))
	}
}

func TestFSManagerPurgeRetriesOnce(t *testing.T) {
	mgr := newTestManager(t)
	dir := filepath.Join(mgr.Root(), "area")
	writeFile(t, filepath.Join(dir, "flaky.txt"), "x")
	writeFile(t, filepath.Join(dir, "stuck.txt"), "x")

	attempts := map[string]int{}
	mgr.remove = func(p string) error {
		base := filepath.Base(p)
		attempts[base]++
		switch {
		case base == "flaky.txt" && attempts[base] == 1:
			return errors.New("busy")
		case base == "stuck.txt":
			return errors.New("locked")
		}
		return os.Remove(p)
	}

	report := mgr.Purge(dir)
	if report.Removed != 1 || report.Failed != 1 {
		t.Fatalf("Purge() report = %+v, want 1 removed 1 failed", report)
	}
	if attempts["flaky.txt"] != 2 {
		t.Fatalf("flaky attempts = %d, want 2", attempts["flaky.txt"])
	}
	if attempts["stuck.txt"] != 2 {
		t.Fatalf("stuck attempts = %d, want 2", attempts["stuck.txt"])
	}
}

func TestFSManagerPurgeMissingDir(t *testing.T) {
	mgr := newTestManager(t)
	report := mgr.Purge(filepath.Join(mgr.Root(), "missing"))
	if report != (PurgeReport{}) {
		t.Fatalf("Purge(missing) = %+v", report)
	}
}

func TestFSManagerPurgeStagingLeavesPersistent(t *testing.T) {
	mgr := newTestManager(t)
	ws, err := mgr.Create(context.Background(), "video", "c1", "job-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeFile(t, filepath.Join(ws.InDir, "clip.mp4"), "v")
	writeFile(t, filepath.Join(ws.OutDir, "clip.srt"), "s")
	areas, _ := mgr.Areas("video", "c1")
	writeFile(t, filepath.Join(areas.Persistent, "old.srt"), "o")

	report := mgr.PurgeStaging(context.Background(), "video", "c1")
	if report.Removed != 2 {
		t.Fatalf("PurgeStaging() removed = %d, want 2", report.Removed)
	}
	if _, err := os.Stat(ws.InDir); !os.IsNotExist(err) {
		t.Fatalf("staging-in job dir still present")
	}
	if _, err := os.Stat(filepath.Join(areas.Persistent, "old.srt")); err != nil {
		t.Fatalf("persistent artifact removed: %v", err)
	}
}

func TestFSManagerDiscard(t *testing.T) {
	mgr := newTestManager(t)
	ws, err := mgr.Create(context.Background(), "video", "c1", "job-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	writeFile(t, filepath.Join(ws.OutDir, "chunks", "c0.wav"), "w")

	mgr.Discard(ws)
	for _, dir := range []string{ws.InDir, ws.OutDir} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("Discard() left %s", dir)
		}
	}
}

func TestFSManagerCleanupOlderThan(t *testing.T) {
	mgr := newTestManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return now }

	oldWS, err := mgr.Create(context.Background(), "pdf_parse", "c1", "job-old")
	if err != nil {
		t.Fatalf("Create(old) error = %v", err)
	}
	newWS, err := mgr.Create(context.Background(), "pdf_parse", "c1", "job-new")
	if err != nil {
		t.Fatalf("Create(new) error = %v", err)
	}

	oldTime := now.Add(-3 * time.Hour)
	for _, dir := range []string{oldWS.InDir, oldWS.OutDir} {
		if err := os.Chtimes(dir, oldTime, oldTime); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
	}
	for _, dir := range []string{newWS.InDir, newWS.OutDir} {
		if err := os.Chtimes(dir, now, now); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
	}

	report, err := mgr.Cleanup(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 2 {
		t.Fatalf("Cleanup() deleted = %d, want 2", report.DeletedDirs)
	}
	if _, err := os.Stat(oldWS.InDir); !os.IsNotExist(err) {
		t.Fatalf("old workspace still exists")
	}
	if _, err := os.Stat(newWS.InDir); err != nil {
		t.Fatalf("new workspace removed: %v", err)
	}

	if _, err := mgr.Cleanup(context.Background(), 0); err == nil {
		t.Fatalf("Cleanup(0) expected error")
	}
}

func TestSafeSegment(t *testing.T) {
	cases := map[string]string{
		"10.0.0.1":     "10.0.0.1",
		"2001:db8::1":  "2001_db8__1",
		"default_user": "default_user",
		"":             "_",
		"../x":         "_._x",
	}
	for in, want := range cases {
		if got := SafeSegment(in); got != want {
			t.Fatalf("SafeSegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "notes.pdf", want: "notes.pdf"},
		{in: "report .pdf", want: "report.pdf"},
		{in: "  my report  .docx ", want: "my report.docx"},
		{in: `C:\Users\me\scan.pdf`, want: "scan.pdf"},
		{in: "..hidden .pdf", want: "hidden.pdf"},
		{in: "a<b>.txt", want: "a_b_.txt"},
		{in: "   ", wantErr: true},
		{in: ". .pdf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeFilename(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SanitizeFilename(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeFilename(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
			base := strings.TrimSuffix(got, filepath.Ext(got))
			if err := validateSegment("base name", base); err != nil {
				t.Fatalf("base name %q rejected: %v", base, err)
			}
		})
	}
}
