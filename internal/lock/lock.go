// Package lock guarantees a single daemon per session through an flock'd
// LOCK file that also records who holds it.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileName is the lock file inside a session directory.
const FileName = "LOCK"

// Holder describes the process holding a session lock.
type Holder struct {
	PID         int       `json:"pid"`
	Session     string    `json:"session"`
	Participant string    `json:"participant,omitempty"`
	Socket      string    `json:"socket,omitempty"`
	AcquiredAt  time.Time `json:"acquiredAt"`
}

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	Holder Holder
	Path   string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d since %s (%s)",
		e.Holder.PID, e.Holder.AcquiredAt.Format(time.RFC3339), e.Path)
}

// Lock represents an acquired session lock file.
type Lock struct {
	file   *os.File
	path   string
	holder Holder
}

// Acquire takes the exclusive lock of sessionDir and records holder in it.
// PID and AcquiredAt are filled in. Returns LockHeldError if another
// process already holds it.
func Acquire(sessionDir string, holder Holder) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, FileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		held := &LockHeldError{Path: lockPath}
		if h, readErr := readHolder(lockPath); readErr == nil {
			held.Holder = *h
		}
		return nil, held
	}

	holder.PID = os.Getpid()
	holder.AcquiredAt = time.Now().UTC()
	data, err := json.Marshal(holder)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt(append(data, '\n'), 0); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath, holder: holder}, nil
}

// Holder returns what this lock recorded.
func (l *Lock) Holder() Holder {
	return l.holder
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ErrNotHeld is returned by Inspect when no daemon holds the session.
var ErrNotHeld = errors.New("session lock not held")

// Inspect reports the current holder of sessionDir's lock.
func Inspect(sessionDir string) (*Holder, error) {
	lockPath := filepath.Join(sessionDir, FileName)
	f, err := os.Open(lockPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotHeld
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	// A lock we can take ourselves is stale.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return nil, ErrNotHeld
	}
	return readHolder(lockPath)
}

func readHolder(path string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode lock file: %w", err)
	}
	return &h, nil
}
