package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestManager(t *testing.T, path string, timeout time.Duration) *Manager {
	t.Helper()
	return New(Options{
		Path:       path,
		Timeout:    timeout,
		StaleAfter: time.Minute,
		Poll:       5 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})
}

func writeMarker(t *testing.T, path string, mk marker) {
	t.Helper()
	raw, err := json.Marshal(mk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	m := newTestManager(t, path, time.Second)

	l, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Held())
	assert.FileExists(t, path)

	mk, err := readMarker(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), mk.PID)
	assert.NotEmpty(t, mk.Token)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release(), "release is idempotent")
	assert.False(t, m.Held())
	assert.NoFileExists(t, path)
}

func TestAcquireTimeoutAcrossManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	a := newTestManager(t, path, time.Second)
	b := newTestManager(t, path, 50*time.Millisecond)

	l, err := a.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release()

	_, err = b.Acquire(context.Background())
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.FileExists(t, path, "a timed out waiter must not remove the owner's marker")
}

func TestAcquireHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	a := newTestManager(t, path, time.Second)
	b := newTestManager(t, path, time.Minute)

	l, err := a.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = b.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNestedAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	m := newTestManager(t, path, 50*time.Millisecond)

	outer, err := m.Acquire(context.Background())
	require.NoError(t, err)
	ctx := outer.Context(context.Background())

	inner, err := m.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, inner.Release())
	assert.True(t, m.Held(), "inner release keeps the outer lock")
	assert.FileExists(t, path)

	// Without the held context a second acquisition waits like anyone else.
	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, outer.Release())
	assert.NoFileExists(t, path)

	// A released lock no longer nests.
	_, err = m.AcquireTimeout(ctx, time.Second)
	require.NoError(t, err)
}

func TestReclaimDeadOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	host, _ := os.Hostname()
	writeMarker(t, path, marker{PID: 999999999, Host: host, Token: "dead", AcquiredAt: time.Now()})

	m := newTestManager(t, path, time.Second)
	l, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release()

	mk, err := readMarker(path)
	require.NoError(t, err)
	assert.NotEqual(t, "dead", mk.Token)
}

func TestReclaimStaleMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	writeMarker(t, path, marker{PID: os.Getpid(), Host: "elsewhere", Token: "old", AcquiredAt: time.Now().Add(-time.Hour)})

	m := newTestManager(t, path, time.Second)
	l, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestLiveForeignMarkerIsRespected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	writeMarker(t, path, marker{PID: os.Getpid(), Host: "elsewhere", Token: "live", AcquiredAt: time.Now()})

	m := newTestManager(t, path, 40*time.Millisecond)
	_, err := m.Acquire(context.Background())
	require.ErrorIs(t, err, ErrLockTimeout)

	mk, err := readMarker(path)
	require.NoError(t, err)
	assert.Equal(t, "live", mk.Token)
}

func TestUnreadableMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o644))

	m := newTestManager(t, path, 40*time.Millisecond)
	_, err := m.Acquire(context.Background())
	require.ErrorIs(t, err, ErrLockTimeout, "fresh unreadable marker may still be mid-write")

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	l, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestReleaseLeavesForeignMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	m := newTestManager(t, path, time.Second)
	l, err := m.Acquire(context.Background())
	require.NoError(t, err)

	writeMarker(t, path, marker{PID: 1, Host: "other", Token: "theirs", AcquiredAt: time.Now()})
	require.NoError(t, l.Release())

	mk, err := readMarker(path)
	require.NoError(t, err)
	assert.Equal(t, "theirs", mk.Token)
}

func TestMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	var inside, maxInside atomic.Int32

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		m := newTestManager(t, path, 5*time.Second)
		g.Go(func() error {
			for j := 0; j < 5; j++ {
				l, err := m.Acquire(ctx)
				if err != nil {
					return err
				}
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				if err := l.Release(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside.Load())
	assert.NoFileExists(t, path)
}

func asideFiles(t *testing.T, path string) []string {
	t.Helper()
	files, err := filepath.Glob(path + ".stale-*")
	require.NoError(t, err)
	return files
}

func TestEvictRemovesStaleMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	writeMarker(t, path, marker{PID: 1, Host: "elsewhere", Token: "stale", AcquiredAt: time.Now().Add(-time.Hour)})

	m := newTestManager(t, path, time.Second)
	assert.True(t, m.evict(path, "stale"))
	assert.NoFileExists(t, path)
	assert.Empty(t, asideFiles(t, path))
}

func TestEvictRestoresReplacedMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	writeMarker(t, path, marker{PID: 1, Host: "elsewhere", Token: "live", AcquiredAt: time.Now()})

	m := newTestManager(t, path, time.Second)
	assert.False(t, m.evict(path, "stale"), "marker was replaced after it was judged stale")

	mk, err := readMarker(path)
	require.NoError(t, err)
	assert.Equal(t, "live", mk.Token)
	assert.Empty(t, asideFiles(t, path))
}

func TestEvictKeepsDisplacedMarkerWhenNameIsRetaken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.lock")
	writeMarker(t, path, marker{PID: 1, Host: "elsewhere", Token: "live", AcquiredAt: time.Now()})

	m := newTestManager(t, path, time.Second)
	m.afterAside = func(string) {
		writeMarker(t, path, marker{PID: 2, Host: "elsewhere", Token: "third", AcquiredAt: time.Now()})
	}
	assert.False(t, m.evict(path, "stale"))

	mk, err := readMarker(path)
	require.NoError(t, err)
	assert.Equal(t, "third", mk.Token, "the contender's marker stays in place")

	aside := asideFiles(t, path)
	require.Len(t, aside, 1)
	kept, err := readMarker(aside[0])
	require.NoError(t, err)
	assert.Equal(t, "live", kept.Token, "the displaced marker is not deleted")
}
