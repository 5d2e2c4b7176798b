package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, Holder{Session: "main", Participant: "u-ana"})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if l.Holder().PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", l.Holder().PID, os.Getpid())
	}

	// Verify lock file exists and contains the holder.
	h, err := readHolder(filepath.Join(tmpDir, FileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if h.Session != "main" || h.Participant != "u-ana" || h.PID != os.Getpid() {
		t.Errorf("holder = %+v", h)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, Holder{Session: "main"})
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, Holder{Session: "main"})
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("error = %T, want *LockHeldError", err)
	}
	if held.Holder.PID != os.Getpid() {
		t.Errorf("held PID = %d, want %d", held.Holder.PID, os.Getpid())
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, Holder{})
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Release(); err != nil {
		t.Fatal(err)
	}

	l2, err := Acquire(tmpDir, Holder{})
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestInspect(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Inspect(tmpDir); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Inspect() on empty dir error = %v, want ErrNotHeld", err)
	}

	l, err := Acquire(tmpDir, Holder{Session: "work", Socket: "/tmp/d.sock"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := Inspect(tmpDir)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if h.Session != "work" || h.Socket != "/tmp/d.sock" {
		t.Errorf("holder = %+v", h)
	}
	_ = l.Release()

	// A leftover file without a live flock is stale.
	if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(`{"pid":1}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Inspect(tmpDir); !errors.Is(err, ErrNotHeld) {
		t.Errorf("stale lock error = %v, want ErrNotHeld", err)
	}
}
