// Package store provides JSON-file persistence guarded by advisory file locks.
//
// Write rate across all stores is low (pairing approvals, session creation,
// cron edits), so a lock-read-modify-write-rename cycle per mutation is cheap
// and keeps concurrent CLI invocations safe against a running gateway.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockRetries    = 50
	lockRetryDelay = 100 * time.Millisecond
)

// JSONFile is one persisted JSON document with an advisory sidecar lock.
type JSONFile struct {
	path string
	lock *flock.Flock
}

// NewJSONFile creates a handle for path; the parent directory is created.
func NewJSONFile(path string) (*JSONFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &JSONFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the backing file path.
func (f *JSONFile) Path() string { return f.path }

// Load reads the document into v under a shared lock.
// A missing file leaves v untouched and returns nil.
func (f *JSONFile) Load(v any) error {
	if err := f.acquire(false); err != nil {
		return err
	}
	defer f.lock.Unlock()
	return f.loadLocked(v)
}

// Update runs fn under the exclusive lock. fn receives a decode function
// that reads the current on-disk document and returns the value to persist;
// returning an error aborts without writing, leaving disk untouched.
func (f *JSONFile) Update(fn func(decode func(any) error) (any, error)) error {
	if err := f.acquire(true); err != nil {
		return err
	}
	defer f.lock.Unlock()

	out, err := fn(f.loadLocked)
	if err != nil {
		return err
	}
	return f.writeLocked(out)
}

func (f *JSONFile) loadLocked(v any) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(f.path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(f.path), err)
	}
	return nil
}

// writeLocked writes atomically via temp file + rename.
func (f *JSONFile) writeLocked(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(f.path), err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(f.path), err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(f.path), err)
	}
	return nil
}

// acquire takes the advisory lock with bounded retries so a wedged peer
// process cannot block a mutation forever.
func (f *JSONFile) acquire(exclusive bool) error {
	try := f.lock.TryRLock
	if exclusive {
		try = f.lock.TryLock
	}
	for i := 0; i < lockRetries; i++ {
		ok, err := try()
		if err != nil {
			return fmt.Errorf("lock %s: %w", filepath.Base(f.path), err)
		}
		if ok {
			return nil
		}
		time.Sleep(lockRetryDelay)
	}
	return fmt.Errorf("lock %s: timed out", filepath.Base(f.path))
}
