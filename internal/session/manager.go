package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/events"
	"github.com/suPer8Hu/ai-salesbot/internal/messaging"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
	"go.uber.org/zap"
)

// Responder turns an inbound message into reply text. It must not fail:
// an empty string means "do not reply".
type Responder interface {
	Respond(ctx context.Context, sessionID string, msg messaging.InboundMessage) string
}

type Options struct {
	// InitPolicy bounds adapter bring-up (default 3 attempts, 5s apart).
	InitPolicy     retry.Policy
	PersistTimeout time.Duration
	PublishTimeout time.Duration
	MessageTimeout time.Duration
	QueueSize      int
}

func DefaultOptions() Options {
	return Options{
		InitPolicy:     retry.Fixed(3, 5*time.Second),
		PersistTimeout: 5 * time.Second,
		PublishTimeout: 3 * time.Second,
		MessageTimeout: 3 * time.Minute,
		QueueSize:      64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InitPolicy.Attempts <= 0 {
		o.InitPolicy = d.InitPolicy
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = d.PersistTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = d.PublishTimeout
	}
	if o.MessageTimeout <= 0 {
		o.MessageTimeout = d.MessageTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	return o
}

// Deps are the collaborators shared by every manager of a registry.
type Deps struct {
	Store     Store
	Bus       events.Publisher
	Clients   messaging.Factory
	Responder Responder
	Log       *zap.Logger
	Options   Options
}

type InitError struct {
	SessionID string
	Attempts  int
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session %s: client initialization failed after %d attempts: %v", e.SessionID, e.Attempts, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

var errReleased = errors.New("session manager released")

// Manager supervises one session: it owns the messaging client, drains the
// client's events one at a time and applies the state machine.
type Manager struct {
	id   string
	deps Deps
	opts Options
	log  *zap.Logger

	// mu guards snap. writeMu serializes transition+persist+publish so the
	// durable row and the bus see transitions in order.
	mu      sync.RWMutex
	writeMu sync.Mutex
	snap    Snapshot

	clientMu sync.Mutex
	client   messaging.Client
	started  bool
	released bool

	queue    chan messaging.Event
	stop     chan struct{}
	loopDone chan struct{}

	releaseOnce sync.Once
	cleanupOnce sync.Once
	onTerminal  func(*Manager)
}

func newManager(id string, owner uint64, deps Deps, onTerminal func(*Manager)) *Manager {
	opts := deps.Options.withDefaults()
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = events.Discard{}
	}
	now := time.Now()
	return &Manager{
		id:   id,
		deps: deps,
		opts: opts,
		log:  log.With(zap.String("session_id", id)),
		snap: Snapshot{
			SessionID:    id,
			OwnerUserID:  owner,
			Status:       StatusInitializing,
			LastActivity: now,
			CreatedAt:    now,
		},
		queue:      make(chan messaging.Event, opts.QueueSize),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		onTerminal: onTerminal,
	}
}

func (m *Manager) ID() string { return m.id }

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Manager) Status() Status {
	return m.Snapshot().Status
}

// Done is closed once the event loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.loopDone }

// Push implements messaging.Sink. Events pushed after release are dropped.
func (m *Manager) Push(ev messaging.Event) {
	select {
	case <-m.stop:
		return
	default:
	}
	select {
	case m.queue <- ev:
	case <-m.stop:
	}
}

// Initialize persists the initial state, starts the event loop and brings
// the client up within the retry budget. Exhausting the budget moves the
// session to ERROR and releases it.
func (m *Manager) Initialize(ctx context.Context) error {
	snap := m.Snapshot()
	m.persist(snap)
	m.publish(snap)

	if !m.startLoop() {
		return errReleased
	}

	attempts := 0
	err := retry.Do(ctx, m.opts.InitPolicy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		c, err := m.ensureClient()
		if err != nil {
			if errors.Is(err, errReleased) {
				return retry.Permanent(err)
			}
			m.log.Warn("client factory failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if err := c.Initialize(ctx); err != nil {
			m.log.Warn("client initialization failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", m.opts.InitPolicy.Attempts),
				zap.Error(err))
			return err
		}
		return nil
	})
	if err == nil {
		m.log.Info("client initialized", zap.Int("attempts", attempts))
		return nil
	}
	if errors.Is(err, errReleased) {
		return err
	}

	ierr := &InitError{SessionID: m.id, Attempts: attempts, Err: err}
	m.log.Error("client initialization exhausted", zap.Error(ierr))
	m.transition(StatusError, func(s *Snapshot) {
		s.Error = err.Error()
		s.Ready = false
		s.PairingCode = ""
	})
	m.terminate(context.Background())
	return ierr
}

// Cleanup releases the client and forces DISCONNECTED. Later calls are no-ops.
// A session already in a terminal state keeps that state.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.cleanupOnce.Do(func() {
		m.transition(StatusDisconnected, func(s *Snapshot) {
			s.Ready = false
			s.PairingCode = ""
		})
		m.terminate(ctx)
		m.wait(ctx)
	})
	return nil
}

// Suspend releases the client without a lifecycle transition, so the durable
// status is kept and the session is resumed on the next start.
func (m *Manager) Suspend(ctx context.Context) error {
	m.release(ctx)
	return m.wait(ctx)
}

func (m *Manager) wait(ctx context.Context) error {
	select {
	case <-m.loopDone:
		return nil
	case <-ctx.Done():
		m.log.Warn("abandoning session still busy at shutdown")
		return ctx.Err()
	}
}

func (m *Manager) startLoop() bool {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if m.released {
		return false
	}
	if !m.started {
		m.started = true
		go m.run()
	}
	return true
}

func (m *Manager) ensureClient() (messaging.Client, error) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if m.released {
		return nil, errReleased
	}
	if m.client != nil {
		return m.client, nil
	}
	if m.deps.Clients == nil {
		return nil, errors.New("no messaging client factory configured")
	}
	c, err := m.deps.Clients(m.id, m)
	if err != nil {
		return nil, err
	}
	m.client = c
	return c, nil
}

func (m *Manager) currentClient() messaging.Client {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	return m.client
}

// release stops the loop and destroys the client exactly once.
func (m *Manager) release(ctx context.Context) {
	m.releaseOnce.Do(func() {
		m.clientMu.Lock()
		m.released = true
		c := m.client
		m.client = nil
		if !m.started {
			close(m.loopDone)
		}
		m.clientMu.Unlock()

		close(m.stop)
		if c != nil {
			if err := c.Destroy(ctx); err != nil {
				m.log.Warn("client destroy failed", zap.Error(err))
			}
		}
	})
}

func (m *Manager) terminate(ctx context.Context) {
	m.release(ctx)
	if m.onTerminal != nil {
		m.onTerminal(m)
	}
}

func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.stop:
			return
		case ev := <-m.queue:
			m.dispatch(ev)
		}
	}
}

func (m *Manager) dispatch(ev messaging.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic while handling client event",
				zap.String("event", string(ev.Kind)),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	switch ev.Kind {
	case messaging.EventPairingCode:
		m.transition(StatusWaitingPairing, func(s *Snapshot) {
			s.PairingCode = ev.PairingCode
		})
	case messaging.EventAuthenticated:
		m.transition(StatusAuthenticated, func(s *Snapshot) {
			s.PairingCode = ""
		})
	case messaging.EventReady:
		m.transition(StatusConnected, func(s *Snapshot) {
			s.Ready = true
			s.Error = ""
		})
	case messaging.EventAuthFailure:
		if m.transition(StatusAuthFailure, func(s *Snapshot) {
			s.Ready = false
			s.PairingCode = ""
			s.Error = reasonOr(ev.Reason, "authentication failed")
		}) {
			m.terminate(context.Background())
		}
	case messaging.EventDisconnected:
		if m.transition(StatusDisconnected, func(s *Snapshot) {
			s.Ready = false
			s.PairingCode = ""
		}) {
			m.terminate(context.Background())
		}
	case messaging.EventMessage:
		m.handleMessage(ev.Message)
	default:
		m.log.Debug("unknown client event", zap.String("event", string(ev.Kind)))
	}
}

func (m *Manager) handleMessage(msg *messaging.InboundMessage) {
	if msg == nil {
		return
	}
	if st := m.Status(); st != StatusConnected {
		m.log.Debug("dropping message, session not connected", zap.String("status", string(st)))
		return
	}
	m.touch()

	if m.deps.Responder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.MessageTimeout)
	defer cancel()

	start := time.Now()
	reply := m.deps.Responder.Respond(ctx, m.id, *msg)
	if reply == "" {
		return
	}
	c := m.currentClient()
	if c == nil {
		return
	}
	if err := c.SendReply(ctx, *msg, reply); err != nil {
		m.log.Error("send reply failed", zap.String("chat", msg.ChatID), zap.Error(err))
		return
	}
	m.log.Debug("reply sent", zap.String("chat", msg.ChatID), zap.Duration("cost", time.Since(start)))
}

// transition applies one state change if the table allows it, then
// best-effort persists and publishes. It reports whether it was applied.
func (m *Manager) transition(to Status, mutate func(*Snapshot)) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	from := m.snap.Status
	if !canTransition(from, to) {
		m.mu.Unlock()
		m.log.Debug("transition ignored", zap.String("from", string(from)), zap.String("to", string(to)))
		return false
	}
	m.snap.Status = to
	if mutate != nil {
		mutate(&m.snap)
	}
	m.snap.LastActivity = time.Now()
	snap := m.snap
	m.mu.Unlock()

	m.log.Info("session state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	m.persist(snap)
	m.publish(snap)
	return true
}

func (m *Manager) touch() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	m.snap.LastActivity = time.Now()
	snap := m.snap
	m.mu.Unlock()
	m.persist(snap)
}

func (m *Manager) persist(s Snapshot) {
	if m.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PersistTimeout)
	defer cancel()
	if err := m.deps.Store.UpsertSession(ctx, recordFrom(s)); err != nil {
		m.log.Warn("session persist failed", zap.String("status", string(s.Status)), zap.Error(err))
	}
}

func (m *Manager) publish(s Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PublishTimeout)
	defer cancel()
	if err := m.deps.Bus.Publish(ctx, events.New(eventKind(s.Status), s.SessionID, payloadFor(s))); err != nil {
		m.log.Warn("session event publish failed", zap.String("status", string(s.Status)), zap.Error(err))
	}
}

func reasonOr(reason, def string) string {
	if reason == "" {
		return def
	}
	return reason
}
