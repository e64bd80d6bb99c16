// Package lock serializes mutations of one store root across processes with
// an exclusive marker file.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/engram/internal/config"
)

// ErrLockTimeout is returned when the marker could not be taken in time.
var ErrLockTimeout = errors.New("lock timeout")

// Options configures a Manager.
type Options struct {
	Path       string
	Timeout    time.Duration
	StaleAfter time.Duration
	Poll       time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Manager owns the marker file of one store root.
type Manager struct {
	opts Options
	host string
	pid  int

	// sem serializes goroutines of this process before they touch the marker.
	sem chan struct{}

	mu    sync.Mutex
	token string

	afterAside func(aside string) // test hook, runs between eviction steps
}

// marker is the JSON body of the lock file.
type marker struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// New creates a Manager. Zero durations take the package defaults.
func New(opts Options) *Manager {
	d := config.Default().Lock
	if opts.Timeout <= 0 {
		opts.Timeout = d.Timeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = d.StaleAfter
	}
	if opts.Poll <= 0 {
		opts.Poll = d.PollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	host, _ := os.Hostname()
	return &Manager{
		opts: opts,
		host: host,
		pid:  os.Getpid(),
		sem:  make(chan struct{}, 1),
	}
}

// ForRoot creates a Manager for the marker inside root.
func ForRoot(root string, cfg config.Lock, log zerolog.Logger) *Manager {
	return New(Options{
		Path:       filepath.Join(root, cfg.File),
		Timeout:    cfg.Timeout,
		StaleAfter: cfg.StaleAfter,
		Poll:       cfg.PollInterval,
		Logger:     log,
	})
}

// Path returns the marker location.
func (m *Manager) Path() string { return m.opts.Path }

// Held reports whether this manager currently owns the marker.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != ""
}

// Lock is a held acquisition. Release is idempotent.
type Lock struct {
	m      *Manager
	token  string
	nested bool
	once   sync.Once
	err    error
}

type heldKey struct{}

// Context returns ctx carrying l, so that Acquire calls made with it by the
// same manager nest instead of waiting on themselves.
func (l *Lock) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, heldKey{}, l)
}

// Acquire takes the marker using the configured timeout.
func (m *Manager) Acquire(ctx context.Context) (*Lock, error) {
	return m.AcquireTimeout(ctx, m.opts.Timeout)
}

// AcquireTimeout takes the marker, waiting at most d. A ctx produced by
// Lock.Context for a live lock of this manager yields a nested lock.
func (m *Manager) AcquireTimeout(ctx context.Context, d time.Duration) (*Lock, error) {
	if held, ok := ctx.Value(heldKey{}).(*Lock); ok && held.m == m && m.owns(held.token) {
		return &Lock{m: m, token: held.token, nested: true}, nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m.sem <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s held by another goroutine", ErrLockTimeout, m.opts.Path)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token := ulid.Make().String()
	for {
		err := m.create(token)
		if err == nil {
			m.mu.Lock()
			m.token = token
			m.mu.Unlock()
			return &Lock{m: m, token: token}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			<-m.sem
			return nil, fmt.Errorf("create lock %s: %w", m.opts.Path, err)
		}
		if m.reclaimIfStale() {
			continue
		}

		select {
		case <-timer.C:
			<-m.sem
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, m.opts.Path)
		case <-ctx.Done():
			<-m.sem
			return nil, ctx.Err()
		case <-time.After(m.opts.Poll):
		}
	}
}

// Release removes the marker if it still carries this lock's token.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		if l.nested {
			return
		}
		m := l.m
		m.mu.Lock()
		if m.token == l.token {
			m.token = ""
		}
		m.mu.Unlock()
		defer func() { <-m.sem }()

		cur, err := readMarker(m.opts.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return
		case err == nil && cur.Token != l.token:
			m.opts.Logger.Warn().Str("path", m.opts.Path).Msg("lock marker replaced by another owner, leaving it")
			return
		}
		if err := os.Remove(m.opts.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = fmt.Errorf("remove lock %s: %w", m.opts.Path, err)
		}
	})
	return l.err
}

func (m *Manager) owns(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return token != "" && m.token == token
}

func (m *Manager) create(token string) error {
	if err := os.MkdirAll(filepath.Dir(m.opts.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(m.opts.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(marker{PID: m.pid, Host: m.host, Token: token, AcquiredAt: m.opts.Now().UTC()})
	_, werr := f.Write(body)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(m.opts.Path)
		return errors.Join(werr, cerr)
	}
	return nil
}

// reclaimIfStale removes a marker whose owner is gone or which is older than
// StaleAfter. It reports whether the caller should retry immediately.
func (m *Manager) reclaimIfStale() bool {
	path := m.opts.Path
	now := m.opts.Now()
	cur, err := readMarker(path)
	if errors.Is(err, os.ErrNotExist) {
		return true
	}

	log := m.opts.Logger.Warn().Str("path", path)
	if err != nil {
		info, serr := os.Stat(path)
		if serr != nil {
			return errors.Is(serr, os.ErrNotExist)
		}
		age := now.Sub(info.ModTime())
		if age <= m.opts.StaleAfter {
			return false
		}
		if !m.evict(path, "") {
			return false
		}
		log.Dur("age", age).Msg("reclaimed unreadable stale lock")
		return true
	}

	age := now.Sub(cur.AcquiredAt)
	var reason string
	switch {
	case cur.Host == m.host && !processAlive(cur.PID):
		reason = "owner process exited"
	case age > m.opts.StaleAfter:
		reason = "lock older than stale threshold"
	default:
		return false
	}
	if !m.evict(path, cur.Token) {
		return false
	}
	log.Int("owner_pid", cur.PID).Str("owner_host", cur.Host).Dur("age", age).Str("reason", reason).Msg("reclaimed stale lock")
	return true
}

// evict moves the marker aside and deletes it when it is still the one judged
// stale (token, or an unreadable one for ""). A live marker that a concurrent
// reclaimer wrote in the meantime is linked back. If a third contender already
// took the name, the displaced marker is left aside and the eviction fails.
func (m *Manager) evict(path, token string) bool {
	aside := path + ".stale-" + ulid.Make().String()
	if err := os.Rename(path, aside); err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	if m.afterAside != nil {
		m.afterAside(aside)
	}
	got, err := readMarker(aside)
	if err != nil || got.Token == token {
		os.Remove(aside)
		return true
	}
	if err := os.Link(aside, path); err != nil {
		m.opts.Logger.Error().Err(err).Str("path", path).Str("aside", aside).Msg("live lock marker displaced during reclaim")
		return false
	}
	os.Remove(aside)
	return false
}

func readMarker(path string) (marker, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return marker{}, err
	}
	var mk marker
	if err := json.Unmarshal(raw, &mk); err != nil {
		return marker{}, fmt.Errorf("parse lock marker: %w", err)
	}
	if mk.Token == "" || mk.AcquiredAt.IsZero() {
		return marker{}, errors.New("incomplete lock marker")
	}
	return mk, nil
}
