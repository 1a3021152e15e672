package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsType  string
		wantErr bool
	}{
		{name: "local ext4 magic", fsType: "0xef53"},
		{name: "local apfs", fsType: "apfs"},
		{name: "nfs", fsType: "nfs", wantErr: true},
		{name: "smb uppercase", fsType: "SMBFS", wantErr: true},
		{name: "cifs padded", fsType: " cifs ", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "history.db")
			err := checkFilesystem(path, func(string) (string, error) { return tc.fsType, nil })
			if tc.wantErr != (err != nil) {
				t.Fatalf("checkFilesystem(%q) error = %v, wantErr %v", tc.fsType, err, tc.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "history.path") {
				t.Fatalf("error should point at history.path: %v", err)
			}
		})
	}
}

func TestCheckFilesystemInspectsNearestExistingParent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "not", "yet", "history.db")

	var inspected string
	err := checkFilesystem(path, func(p string) (string, error) {
		inspected = p
		return "xfs", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestCheckFilesystemEmptyPath(t *testing.T) {
	t.Parallel()
	if err := CheckFilesystem(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCheckFilesystemRealTempDir(t *testing.T) {
	t.Parallel()
	if err := CheckFilesystem(filepath.Join(t.TempDir(), "history.db")); err != nil {
		t.Fatalf("temp dir should be local: %v", err)
	}
}
