package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delta", "swift.lock")

	l, err := Acquire(path, "add-storage")
	require.NoError(t, err)
	assert.FileExists(t, path)

	holder, err := Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "add-storage", holder.Operation)
	assert.Equal(t, os.Getpid(), holder.PID)

	require.NoError(t, l.Release())
	assert.NoFileExists(t, path)

	// Second release is harmless
	assert.NoError(t, l.Release())

	holder, err = Inspect(path)
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestAcquire_ConflictFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swift.lock")

	first, err := Acquire(path, "deploy-proxy")
	require.NoError(t, err)
	defer first.Release()

	start := time.Now()
	second, err := Acquire(path, "remove-storage")
	assert.Nil(t, second)
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, errors.Is(err, ErrConflict))
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	require.NotNil(t, ce.Holder)
	assert.Equal(t, "deploy-proxy", ce.Holder.Operation)
	assert.Contains(t, err.Error(), "deploy-proxy")
}

func TestAcquire_ConcurrentOnlyOneWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swift.lock")

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won, conflicts := 0, 0
	var locks []*Lock

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := Acquire(path, "add-storage")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
				locks = append(locks, l)
			} else if errors.Is(err, ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, workers-1, conflicts)
	for _, l := range locks {
		require.NoError(t, l.Release())
	}
}

func TestRun_ReleasesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swift.lock")
	boom := errors.New("ring build failed")

	err := Run(path, "add-storage", func() error {
		assert.FileExists(t, path)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, path)
}

func TestRun_ReleasesOnPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swift.lock")

	assert.Panics(t, func() {
		_ = Run(path, "remove-storage", func() error {
			panic("unexpected")
		})
	})
	assert.NoFileExists(t, path)
}

func TestRun_NestedConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swift.lock")
	called := false

	err := Run(path, "deploy-proxy", func() error {
		return Run(path, "add-storage", func() error {
			called = true
			return nil
		})
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, called)
	assert.NoFileExists(t, path)
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swift.lock")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	holder, err := Inspect(path)
	require.NoError(t, err)
	assert.NotNil(t, holder)

	_, err = Acquire(path, "deploy-proxy")
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Nil(t, ce.Holder)

	require.NoError(t, Clear(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, Clear(path))
}
