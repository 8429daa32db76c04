package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Simplici0/pricebook/internal/catalog"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Loader reads the persisted catalog.
type Loader interface {
	Load(ctx context.Context) (catalog.Bootstrap, error)
}

// Snapshotter keeps unsaved session state outside the process.
type Snapshotter interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, bool, error)
	Delete(ctx context.Context, id string) error
}

type entry struct {
	session  *Session
	lastUsed time.Time
}

// Manager owns the live sessions of the process.
type Manager struct {
	loader    Loader
	persister Persister
	snapshots Snapshotter
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSnapshots stores unsaved edits through sn so sessions survive restarts.
func WithSnapshots(sn Snapshotter) ManagerOption {
	return func(m *Manager) { m.snapshots = sn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(loader Loader, persister Persister, ttl time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		loader:    loader,
		persister: persister,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create loads the catalog and starts a clean session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	b, err := m.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := New(uuid.NewString(), b, m.persister)

	m.mu.Lock()
	m.sessions[s.ID()] = &entry{session: s, lastUsed: m.now()}
	m.mu.Unlock()
	return s, nil
}

// Get returns a live session, or rebuilds it from its snapshot when the
// process no longer holds it.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		e.lastUsed = m.now()
		m.mu.Unlock()
		return e.session, nil
	}
	m.mu.Unlock()

	if m.snapshots == nil {
		return nil, ErrNotFound
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	snap, ok, err := m.snapshots.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session snapshot: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	b, err := m.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	s := New(id, b, m.persister)
	s.Restore(snap)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastUsed = m.now()
		return e.session, nil
	}
	m.sessions[id] = &entry{session: s, lastUsed: m.now()}
	return s, nil
}

// Persist writes the session's unsaved edits to the snapshot store, or
// removes the snapshot when nothing is left unsaved.
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	if m.snapshots == nil {
		return nil
	}
	snap := s.Snapshot(m.now())
	if snap.Empty() {
		if err := m.snapshots.Delete(ctx, s.ID()); err != nil {
			return fmt.Errorf("delete session snapshot: %w", err)
		}
		return nil
	}
	if err := m.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

// Close forgets a session and its snapshot.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.snapshots != nil {
		if err := m.snapshots.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete session snapshot: %w", err)
		}
		return nil
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Evict drops sessions idle for longer than the TTL and returns how many were
// removed. Snapshots expire on their own.
func (m *Manager) Evict() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.sessions {
		if e.lastUsed.Before(cutoff) && e.session.State() != StateSaving {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run evicts idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration, onEvict func(n int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Evict(); n > 0 && onEvict != nil {
				onEvict(n)
			}
		}
	}
}
