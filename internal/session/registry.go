package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrRegistryClosed = errors.New("session registry is shut down")

// Registry maps session ids to their live managers; at most one per id.
// It is created at startup and shut down with the process.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	managers map[string]*Manager
	closed   bool
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, managers: make(map[string]*Manager)}
}

// Create returns the live manager for id, or builds and initializes a new
// one. created reports whether this call did the initialization. The error
// is the initialization error of a new manager; its entry is already gone
// from the registry by then.
func (r *Registry) Create(ctx context.Context, id string, ownerUserID uint64) (m *Manager, created bool, err error) {
	m, created, err = r.insert(id, ownerUserID)
	if err != nil || !created {
		return m, created, err
	}
	// bring-up outlives the caller (an HTTP request, usually)
	if err := m.Initialize(context.WithoutCancel(ctx)); err != nil {
		return m, true, err
	}
	return m, true, nil
}

// Start is Create without waiting for bring-up. The outcome shows up in the
// manager's status and on the event bus.
func (r *Registry) Start(ctx context.Context, id string, ownerUserID uint64) (m *Manager, created bool, err error) {
	m, created, err = r.insert(id, ownerUserID)
	if err != nil || !created {
		return m, created, err
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		// failures are logged and published by the manager
		_ = m.Initialize(ctx)
	}()
	return m, true, nil
}

func (r *Registry) insert(id string, ownerUserID uint64) (*Manager, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	if existing, ok := r.managers[id]; ok {
		return existing, false, nil
	}
	m := newManager(id, ownerUserID, r.deps, r.release)
	r.managers[id] = m
	return m, true, nil
}

func (r *Registry) Get(id string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id]
	return m, ok
}

// Remove drops the entry for id and returns it; the caller decides whether
// to Cleanup it.
func (r *Registry) Remove(id string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[id]
	if !ok {
		return nil
	}
	delete(r.managers, id)
	return m
}

// release is the managers' terminal hook. It only removes the entry if it
// still points at m, so a newer manager for the same id is left alone.
func (r *Registry) release(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.managers[m.id]; ok && cur == m {
		delete(r.managers, m.id)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// List returns snapshots of every live session ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	ms := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		ms = append(ms, m)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Shutdown rejects further Create calls and suspends every live manager in
// parallel. Managers still busy when ctx ends are abandoned and ctx.Err()
// is returned.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	ms := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		ms = append(ms, m)
	}
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	var g errgroup.Group
	for _, m := range ms {
		g.Go(func() error { return m.Suspend(ctx) })
	}
	return g.Wait()
}
