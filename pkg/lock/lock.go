package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/swiftfleet/pkg/log"
)

// ErrConflict means another operation holds the lock
var ErrConflict = errors.New("another fleet operation is in progress")

// ConflictError names the holder found in an existing lock file
type ConflictError struct {
	Path   string
	Holder *Holder // nil when the lock file could not be read
}

func (e *ConflictError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("%v: lock %s is held", ErrConflict, e.Path)
	}
	return fmt.Sprintf("%v: lock %s held by %q (pid %d on %s since %s)",
		ErrConflict, e.Path, e.Holder.Operation, e.Holder.PID, e.Holder.Hostname,
		e.Holder.AcquiredAt.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Holder is written into the lock file to help clear stale locks
type Holder struct {
	Operation  string    `json:"operation"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Lock is an acquired lock file. Its presence on disk is the lock.
type Lock struct {
	Path     string
	released bool
}

// Acquire creates the lock file if it does not exist. It never waits: if
// the file exists a *ConflictError is returned immediately.
func Acquire(path, operation string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, &ConflictError{Path: path, Holder: readHolder(path)}
		}
		return nil, fmt.Errorf("failed to create lock %s: %w", path, err)
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	holder := Holder{
		Operation:  operation,
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}
	logger := log.WithComponent("lock")
	if err := json.NewEncoder(f).Encode(&holder); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to record lock holder")
	}

	logger.Debug().Str("path", path).Str("operation", operation).Msg("Lock acquired")
	return &Lock{Path: path}, nil
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock %s: %w", l.Path, err)
	}
	logger := log.WithComponent("lock")
	logger.Debug().Str("path", l.Path).Msg("Lock released")
	return nil
}

// Run executes fn while holding the lock at path. The lock is released on
// every exit path, including a panic in fn, which is re-raised afterwards.
func Run(path, operation string, fn func() error) (err error) {
	l, err := Acquire(path, operation)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := l.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}

// Inspect returns the holder of an existing lock, or nil if none is held
func Inspect(path string) (*Holder, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	h := readHolder(path)
	if h == nil {
		return &Holder{}, nil
	}
	return h, nil
}

// Clear removes a stale lock left behind by a crashed process
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear lock %s: %w", path, err)
	}
	return nil
}

func readHolder(path string) *Holder {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil
	}
	return &h
}
