package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/events"
	"github.com/suPer8Hu/ai-salesbot/internal/messaging"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
)

type memStore struct {
	mu      sync.Mutex
	recs    map[string]Record
	upserts int
	fail    error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Record)}
}

func (s *memStore) UpsertSession(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.fail != nil {
		return s.fail
	}
	s.recs[rec.SessionID] = *rec
	return nil
}

func (s *memStore) FindActiveSessions(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.recs {
		for _, st := range ActiveStatuses {
			if r.Status == st {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (s *memStore) get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	return r, ok
}

type recBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recBus) Publish(_ context.Context, e events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, e.Topic)
	return nil
}

func (b *recBus) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...)
}

type fakeClient struct {
	mu        sync.Mutex
	sink      messaging.Sink
	initErr   error
	inits     int
	destroyed int
	sent      []string
}

func (c *fakeClient) Initialize(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	return c.initErr
}

func (c *fakeClient) SendReply(_ context.Context, _ messaging.InboundMessage, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeClient) Destroy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed++
	return nil
}

func (c *fakeClient) counts() (inits, destroyed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits, c.destroyed
}

func (c *fakeClient) replies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// clientFactory hands out one fakeClient per session id.
type clientFactory struct {
	mu      sync.Mutex
	calls   int
	clients map[string]*fakeClient
	failFor map[string]error
}

func newClientFactory() *clientFactory {
	return &clientFactory{clients: make(map[string]*fakeClient), failFor: make(map[string]error)}
}

func (f *clientFactory) build(sessionID string, sink messaging.Sink) (messaging.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	c := &fakeClient{sink: sink, initErr: f.failFor[sessionID]}
	f.clients[sessionID] = c
	return c, nil
}

func (f *clientFactory) client(id string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[id]
}

func (f *clientFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, _ string, msg messaging.InboundMessage) string {
	return "echo: " + msg.Text
}

func testDeps(store Store, bus events.Publisher, f *clientFactory) Deps {
	return Deps{
		Store:     store,
		Bus:       bus,
		Clients:   f.build,
		Responder: echoResponder{},
		Options: Options{
			InitPolicy:     retry.Fixed(3, time.Millisecond),
			PersistTimeout: time.Second,
			MessageTimeout: time.Second,
		},
	}
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("status: want %s, got %s", want, m.Status())
}

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("event loop of %s did not exit", m.ID())
	}
}

var errBringUp = errors.New("browser did not start")
