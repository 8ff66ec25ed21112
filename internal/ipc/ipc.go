// Package ipc implements the atomic, lock-protected JSON snapshot
// exchange described in spec §4.2: exactly one writer per shared state
// file, write-via-temp-then-rename publishing, and non-blocking locked
// reads that degrade to "no new data" rather than erroring out.
//
// File locking uses github.com/gofrs/flock, the advisory-lock library
// the wider example pack reaches for (it has no precedent of its own
// file-IPC code to adapt from, so this is adopted from the ecosystem
// rather than grounded on the teacher directly).
package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/unklstewy/domecore/internal/errs"
)

// Publish serializes v to JSON and atomically installs it at path:
// write to a sibling temp file, take an exclusive lock on path,
// rename the temp file over it, release the lock. fsync is
// deliberately skipped — the snapshot is ephemeral tmpfs state, not
// data that must survive a crash (§4.2).
func Publish(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.NewIpcFault("publish", "marshal failed", err).CoreError
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return errs.NewIpcFault("publish", "create temp file failed", err).CoreError
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.NewIpcFault("publish", "write temp file failed", err).CoreError
	}
	if err := tmp.Close(); err != nil {
		return errs.NewIpcFault("publish", "close temp file failed", err).CoreError
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return errs.NewIpcFault("publish", "lock acquisition failed", err).CoreError
	}
	if !locked {
		// Another writer should never hold this lock (single-writer
		// contract); treat contention as a transient fault.
		return errs.NewIpcFault("publish", "target locked by another writer", nil).CoreError
	}
	defer lock.Unlock()

	if err := os.Rename(tmpPath, path); err != nil {
		return errs.NewIpcFault("publish", "atomic rename failed", err).CoreError
	}

	return nil
}

// Read attempts to load and parse the snapshot at path into v.
// Per §4.2, a non-blocking lock failure or a parse failure both
// yield (false, nil) — "no new data" — rather than propagating as an
// error; only genuinely unexpected I/O failure (not ENOENT, not lock
// contention) is returned as an error.
func Read(path string, v any) (ok bool, err error) {
	lock := flock.New(path)
	locked, lockErr := lock.TryRLock()
	if lockErr != nil || !locked {
		return false, nil
	}
	defer lock.Unlock()

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot %s: %w", path, readErr)
	}

	if jsonErr := json.Unmarshal(data, v); jsonErr != nil {
		return false, nil
	}

	return true, nil
}

// Freshness describes the consumer side of §4.2's staleness contract:
// a snapshot older than MaxAge (relative to its own Timestamp field)
// is STALE and the reader should keep using its last observed value
// rather than act on it.
type Freshness struct {
	MaxAge time.Duration
}

// IsStale reports whether a snapshot captured at t has aged past f.MaxAge.
func (f Freshness) IsStale(t time.Time) bool {
	return time.Since(t) > f.MaxAge
}

const (
	// EncoderMaxAge is the default staleness budget for encoder snapshots (§4.2).
	EncoderMaxAge = 2 * time.Second
	// MotorStatusMaxAge is the default staleness budget for motor status snapshots (§4.2).
	MotorStatusMaxAge = 5 * time.Second
)
