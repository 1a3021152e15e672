package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems are filesystem type names on which SQLite locking is unreliable.
var remoteFilesystems = []string{"afpfs", "cifs", "nfs", "smbfs", "smb2", "webdav"}

// fsTypeFunc names the filesystem holding an existing path.
type fsTypeFunc func(path string) (string, error)

// CheckFilesystem reports an error when the history database at path would
// live on a network filesystem. path need not exist yet.
func CheckFilesystem(path string) error {
	return checkFilesystem(path, detectFilesystemType)
}

func checkFilesystem(path string, fsType fsTypeFunc) error {
	if path == "" {
		return errors.New("history path is empty")
	}

	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve history path %q: %w", path, err)
	}

	kind, err := fsType(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isRemoteFilesystem(kind) {
		return fmt.Errorf("history database %q is on network filesystem %q where SQLite locking is unreliable; "+
			"point history.path at a local disk or set history.enabled: false", path, kind)
	}
	return nil
}

// existingAncestor returns path, or its closest parent that exists.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		dir = parent
	}
}

func isRemoteFilesystem(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	for _, fs := range remoteFilesystems {
		if kind == fs {
			return true
		}
	}
	return false
}
