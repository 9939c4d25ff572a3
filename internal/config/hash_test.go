package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLockTarget(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLockConfigDryRun(t *testing.T) {
	path := writeLockTarget(t, "listen: 127.0.0.1:1\n")

	res, err := LockConfig(path, true)
	if err != nil {
		t.Fatalf("LockConfig() failed: %v", err)
	}
	if res.Written {
		t.Fatal("res.Written = true, want false in dry-run")
	}
	if len(res.Hash) != 64 {
		t.Fatalf("hash = %q, want 64-char hex", res.Hash)
	}
	if _, err := os.Stat(res.ChecksumPath); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockConfigThenVerify(t *testing.T) {
	path := writeLockTarget(t, "listen: 127.0.0.1:1\n")

	res, err := LockConfig(path, false)
	if err != nil {
		t.Fatalf("LockConfig() failed: %v", err)
	}
	if !res.Written {
		t.Fatal("res.Written = false, want true")
	}

	lock, err := ReadLock(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadLock() failed: %v", err)
	}
	if lock.File != ConfigFileName || lock.BLAKE3 != res.Hash {
		t.Fatalf("lock = %+v, want %s pinned to %s", lock, ConfigFileName, res.Hash)
	}
	if err := VerifyLock(path); err != nil {
		t.Fatalf("VerifyLock() on untouched file: %v", err)
	}

	if err := os.WriteFile(path, []byte("listen: 0.0.0.0:1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := VerifyLock(path); !errors.Is(err, ErrConfigModified) {
		t.Fatalf("VerifyLock() after edit = %v, want ErrConfigModified", err)
	}
}

func TestVerifyLockUnlocked(t *testing.T) {
	if err := VerifyLock(writeLockTarget(t, "listen: 127.0.0.1:1\n")); err != nil {
		t.Fatalf("VerifyLock() without manifest = %v, want nil", err)
	}
}

func TestVerifyLockOtherFile(t *testing.T) {
	path := writeLockTarget(t, "listen: 127.0.0.1:1\n")
	if _, err := LockConfig(path, false); err != nil {
		t.Fatal(err)
	}

	other := filepath.Join(filepath.Dir(path), "other.yaml")
	if err := os.WriteFile(other, []byte("listen: 127.0.0.1:1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	err := VerifyLock(other)
	if err == nil || !strings.Contains(err.Error(), "locks config.yaml, not other.yaml") {
		t.Fatalf("VerifyLock() = %v, want file mismatch", err)
	}
}

func TestReadLockMissing(t *testing.T) {
	if _, err := ReadLock(t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadLock() on empty dir = %v, want ErrNotExist", err)
	}
}

func TestReadLockOldVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ChecksumFileName), []byte("version: 1\nhashes: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLock(dir); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("ReadLock() = %v, want unsupported version", err)
	}
}
