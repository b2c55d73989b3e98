// Package events is the real-time bus session managers publish lifecycle
// changes to. Topics are "<kind>-<session id>", e.g. "pairing-abc".
package events

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	KindInitializing  = "initializing"
	KindPairing       = "pairing"
	KindAuthenticated = "authenticated"
	KindReady         = "ready"
	KindAuthFailure   = "auth-failure"
	KindDisconnected  = "disconnected"
	KindError         = "error"
)

func Topic(kind, sessionID string) string {
	return fmt.Sprintf("%s-%s", kind, sessionID)
}

type Event struct {
	Topic     string    `json:"topic"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

func New(kind, sessionID string, payload any) Event {
	return Event{
		Topic:     Topic(kind, sessionID),
		Kind:      kind,
		SessionID: sessionID,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to every publisher; one failing sink does not
// stop the others.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
