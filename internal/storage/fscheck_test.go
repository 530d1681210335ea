package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectorReturning(fsType string, seen *string) func(string) (string, error) {
	return func(path string) (string, error) {
		if seen != nil {
			*seen = path
		}
		return fsType, nil
	}
}

func TestCheckLocalAllowsLocalFS(t *testing.T) {
	t.Parallel()

	err := checkLocal(filepath.Join(t.TempDir(), "history.db"), "storage.history_path", "need", detectorReturning("ext4", nil))
	assert.NoError(t, err)
}

func TestCheckLocalRejectsNetworkFS(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "data")
	err := checkLocal(root, "storage.root", "the storage lock requires a local filesystem", detectorReturning("nfs", nil))
	require.Error(t, err)

	var nfsErr *NetworkFSError
	require.True(t, errors.As(err, &nfsErr))
	assert.Equal(t, "nfs", nfsErr.FSType)
	assert.Equal(t, "storage.root", nfsErr.Setting)
	assert.Contains(t, err.Error(), "Point storage.root at local disk")
}

func TestCheckLocalUsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocal(filepath.Join(root, "nested", "dir", "history.db"), "storage.history_path", "need", detectorReturning("apfs", &inspected))
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestCheckLocalDetectorFailure(t *testing.T) {
	t.Parallel()

	err := checkLocal(t.TempDir(), "storage.root", "need", func(string) (string, error) {
		return "", errors.New("statfs: permission denied")
	})
	assert.ErrorContains(t, err, "detect filesystem")
}

func TestCheckLocalEmptyPath(t *testing.T) {
	t.Parallel()

	assert.ErrorContains(t, checkLocal("", "storage.root", "need", detectorReturning("ext4", nil)), "storage.root is empty")
}

func TestCheckStorageRootOnTempDir(t *testing.T) {
	t.Parallel()

	// Test temp dirs are local on every supported CI host.
	assert.NoError(t, CheckStorageRoot(t.TempDir()))
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"apfs":   false,
		"0x6969": false,
	}
	for fs, want := range cases {
		assert.Equal(t, want, isNetworkFilesystem(fs), fs)
	}
}
