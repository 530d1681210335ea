package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// NetworkFSError reports a path that must be local but sits on a network
// filesystem.
type NetworkFSError struct {
	Path   string
	FSType string
	// Setting is the config key the operator should change.
	Setting string
	Need    string
}

func (e *NetworkFSError) Error() string {
	return fmt.Sprintf("%q is on network filesystem %q; %s. Point %s at local disk",
		e.Path, e.FSType, e.Need, e.Setting)
}

// CheckStorageRoot ensures the storage root is on a local filesystem. The
// root lock relies on flock and promotion relies on same-device rename.
func CheckStorageRoot(root string) error {
	return checkLocal(root, "storage.root", "the storage lock and artifact promotion require a local filesystem", detectFilesystemType)
}

func validateSQLiteFilesystem(path string) error {
	return checkLocal(path, "storage.history_path", "SQLite requires a local filesystem for reliable locking", detectFilesystemType)
}

func checkLocal(path, setting, need string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", setting, path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return &NetworkFSError{Path: path, FSType: fsType, Setting: setting, Need: need}
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
