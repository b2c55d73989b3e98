package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/ai-salesbot/internal/common"
	"github.com/suPer8Hu/ai-salesbot/internal/events"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type flakySink struct {
	mu    sync.Mutex
	fails int
	calls int
	rows  []Event
}

func (s *flakySink) Insert(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fails {
		return errors.New("db gone")
	}
	s.rows = append(s.rows, *e)
	return nil
}

func body(t *testing.T, e events.Event) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestConsumer_StoresPublishedEvent(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	c := NewConsumer(repo, retry.Fixed(1, 0), nil)
	ctx := context.Background()

	pairing := events.New(events.KindPairing, "shop-1", map[string]string{"pairing_code": "2@abc"})
	ready := events.New(events.KindReady, "shop-1", nil)
	ready.At = pairing.At.Add(time.Second)
	other := events.New(events.KindReady, "shop-2", nil)

	for _, e := range []events.Event{pairing, ready, other} {
		if err := c.Handle(ctx, body(t, e)); err != nil {
			t.Fatalf("handle %s: %v", e.Topic, err)
		}
	}

	got, err := repo.ListBySession(ctx, "shop-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Topic != "ready-shop-1" || got[1].Topic != "pairing-shop-1" {
		t.Fatalf("unexpected order: %s, %s", got[0].Topic, got[1].Topic)
	}
	if !strings.Contains(got[1].Payload, "2@abc") {
		t.Fatalf("payload not kept: %q", got[1].Payload)
	}
	if got[0].Payload != "" {
		t.Fatalf("null payload should be empty, got %q", got[0].Payload)
	}
}

func TestConsumer_RejectsMalformed(t *testing.T) {
	sink := &flakySink{}
	c := NewConsumer(sink, retry.Fixed(3, 0), nil)

	cases := map[string]string{
		"not json":   `{"kind":`,
		"no kind":    `{"session_id":"a"}`,
		"no session": `{"kind":"ready"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			err := c.Handle(context.Background(), []byte(raw))
			if !errors.Is(err, common.ErrValidation) || !retry.IsPermanent(err) {
				t.Fatalf("want permanent validation error, got %v", err)
			}
		})
	}
	if sink.calls != 0 {
		t.Fatalf("malformed bodies reached the store %d times", sink.calls)
	}
}

func TestConsumer_RetriesStoreErrors(t *testing.T) {
	sink := &flakySink{fails: 2}
	c := NewConsumer(sink, retry.Fixed(3, time.Millisecond), nil)

	if err := c.Handle(context.Background(), []byte(`{"kind":"error","session_id":"x"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sink.calls != 3 || len(sink.rows) != 1 {
		t.Fatalf("calls=%d rows=%d", sink.calls, len(sink.rows))
	}
	row := sink.rows[0]
	if row.Topic != "error-x" || row.At.IsZero() {
		t.Fatalf("defaults not filled: %+v", row)
	}

	sink = &flakySink{fails: 5}
	c = NewConsumer(sink, retry.Fixed(2, time.Millisecond), nil)
	if err := c.Handle(context.Background(), []byte(`{"kind":"error","session_id":"x"}`)); err == nil {
		t.Fatalf("expected error once attempts are exhausted")
	}
	if sink.calls != 2 {
		t.Fatalf("calls=%d", sink.calls)
	}
}
