package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestComputeBlake3Hash(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("service:\n  name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("service:\n  name: y\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ha, err := ComputeBlake3Hash(a)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() error = %v", err)
	}
	if len(ha) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(ha))
	}

	again, _ := ComputeBlake3Hash(a)
	if again != ha {
		t.Error("hash is not stable")
	}
	hb, _ := ComputeBlake3Hash(b)
	if hb == ha {
		t.Error("different content produced the same hash")
	}

	if _, err := ComputeBlake3Hash(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
