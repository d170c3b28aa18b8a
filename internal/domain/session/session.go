package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
)

// DefaultHandshakeTimeout bounds a single handshake.
const DefaultHandshakeTimeout = 30 * time.Second

// HandshakeFunc performs the upstream initialize exchange and returns the
// session id the upstream assigned.
type HandshakeFunc func(ctx context.Context) (string, error)

// RejectedError reports a handshake the upstream answered with a JSON-RPC
// error. The exchange itself worked, so it is not an availability failure.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return "initialize rejected by upstream: " + e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Observer receives session lifecycle events.
type Observer interface {
	HandshakeCompleted(d time.Duration, err error)
	SessionInvalidated()
}

// Option configures a Manager.
type Option func(*Manager)

// WithHandshakeTimeout sets the deadline applied to each handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.handshakeTimeout = d
		}
	}
}

// WithObserver registers an observer for handshake and invalidation events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns the one upstream session shared by every caller.
//
// Reads of a valid session take no lock. When no session is cached the first
// caller starts a handshake attempt and every caller arriving while it runs
// waits for that attempt and receives its result, failure included.
type Manager struct {
	handshake        HandshakeFunc
	handshakeTimeout time.Duration
	observer         Observer
	logger           *slog.Logger

	current atomic.Pointer[entry]

	mu       sync.Mutex
	inflight *attempt
}

// attempt is one handshake in flight. id and err are set before done closes.
type attempt struct {
	done chan struct{}
	id   string
	err  error
}

func (a *attempt) wait(ctx context.Context) (string, error) {
	select {
	case <-a.done:
		return a.id, a.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for session handshake: %w", ctx.Err())
	}
}

// NewManager creates a Manager that creates sessions with fn.
func NewManager(fn HandshakeFunc, opts ...Option) *Manager {
	m := &Manager{
		handshake:        fn,
		handshakeTimeout: DefaultHandshakeTimeout,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the id of the cached session, performing a handshake
// when none is cached. Concurrent callers share one handshake.
func (m *Manager) GetOrCreate(ctx context.Context) (string, error) {
	if e := m.current.Load(); e != nil {
		return e.id, nil
	}

	m.mu.Lock()
	if e := m.current.Load(); e != nil {
		m.mu.Unlock()
		return e.id, nil
	}
	a := m.inflight
	if a == nil {
		a = m.start(ctx, m.handshake)
	}
	m.mu.Unlock()
	return a.wait(ctx)
}

// Establish always runs fn and replaces the cached session with its result.
// It is used when the caller itself sends initialize. An attempt already in
// flight is allowed to finish first.
func (m *Manager) Establish(ctx context.Context, fn HandshakeFunc) (string, error) {
	for {
		m.mu.Lock()
		prev := m.inflight
		if prev == nil {
			if old := m.current.Swap(nil); old != nil {
				m.logger.Debug("replacing upstream session", "session", Fingerprint(old.id))
			}
			a := m.start(ctx, fn)
			m.mu.Unlock()
			return a.wait(ctx)
		}
		m.mu.Unlock()

		select {
		case <-prev.done:
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for session handshake: %w", ctx.Err())
		}
	}
}

// Invalidate clears the cached session if it is still id. A stale id from a
// request that raced with a newer handshake leaves the cache untouched.
// It reports whether the cache was cleared.
func (m *Manager) Invalidate(id string) bool {
	e := m.current.Load()
	if e == nil || e.id != id {
		return false
	}
	if !m.current.CompareAndSwap(e, nil) {
		return false
	}
	m.logger.Info("upstream session invalidated", "session", Fingerprint(id))
	if m.observer != nil {
		m.observer.SessionInvalidated()
	}
	return true
}

// Touch records a successful round trip on session id.
func (m *Manager) Touch(id string) {
	if e := m.current.Load(); e != nil && e.id == id {
		e.lastUsed.Store(time.Now().UnixNano())
	}
}

// Current returns a snapshot of the cached session.
func (m *Manager) Current() (Session, bool) {
	e := m.current.Load()
	if e == nil {
		return Session{}, false
	}
	return e.snapshot(), true
}

// State reports whether a valid session is cached. A handshake in flight
// reads as absent.
func (m *Manager) State() State {
	if m.current.Load() != nil {
		return StateActive
	}
	return StateAbsent
}

// start publishes a new attempt and runs fn for it in the background. The
// caller must hold m.mu. The handshake keeps the values of ctx but not its
// cancellation, so a caller giving up does not fail the others; it is
// bounded by the handshake timeout instead.
func (m *Manager) start(ctx context.Context, fn HandshakeFunc) *attempt {
	a := &attempt{done: make(chan struct{})}
	m.inflight = a
	go m.run(context.WithoutCancel(ctx), a, fn)
	return a
}

func (m *Manager) run(ctx context.Context, a *attempt, fn HandshakeFunc) {
	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	start := time.Now()
	id, err := fn(hctx)
	elapsed := time.Since(start)
	if m.observer != nil {
		m.observer.HandshakeCompleted(elapsed, err)
	}

	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		m.logger.Info("upstream rejected initialize", "error", rejected.Err, "duration", elapsed)
		err = fmt.Errorf("session handshake: %w", err)
	case err != nil:
		m.logger.Warn("upstream handshake failed", "error", err, "duration", elapsed)
		err = fmt.Errorf("session handshake: %w", classify(err))
	default:
		m.current.Store(newEntry(id))
		m.logger.Info("upstream session established", "session", Fingerprint(id), "duration", elapsed)
	}

	m.mu.Lock()
	if err == nil {
		a.id = id
	}
	a.err = err
	m.inflight = nil
	m.mu.Unlock()
	close(a.done)
}

// classify keeps protocol and transport errors as they are and reports any
// other handshake failure as the upstream being unavailable.
func classify(err error) error {
	if errors.Is(err, upstream.ErrBadResponse) || errors.Is(err, upstream.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", upstream.ErrUnavailable, err)
}
