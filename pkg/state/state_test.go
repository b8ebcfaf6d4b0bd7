package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureStateDirsCreatesLayout(t *testing.T) {
	base := t.TempDir()
	if err := EnsureStateDirs(base); err != nil {
		t.Fatalf("EnsureStateDirs: %v", err)
	}
	for _, dir := range []string{PathsVar.Store, PathsVar.Retention, PathsVar.Crash} {
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			t.Fatalf("missing dir %s: %v", dir, err)
		}
	}
	// idempotent
	if err := EnsureStateDirs(base); err != nil {
		t.Fatalf("second EnsureStateDirs: %v", err)
	}
}

func TestEnsureStateDirsRejectsSymlink(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real")
	if err := os.MkdirAll(real, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(real, filepath.Join(base, "store")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := EnsureStateDirs(base); err == nil {
		t.Fatalf("symlinked store dir should be rejected")
	}
}

func TestEnsureStateDirsRejectsFile(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "store"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := EnsureStateDirs(base); err == nil {
		t.Fatalf("plain file at store path should be rejected")
	}
}
