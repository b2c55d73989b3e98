// Package audit persists session lifecycle events consumed from the
// message broker into the session_events table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
	"github.com/suPer8Hu/ai-salesbot/internal/events"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Event struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string    `gorm:"type:varchar(191);index;not null" json:"topic"`
	Kind      string    `gorm:"type:varchar(32);index;not null" json:"kind"`
	SessionID string    `gorm:"type:varchar(64);index;not null" json:"session_id"`
	Payload   string    `gorm:"type:text" json:"payload,omitempty"`
	At        time.Time `gorm:"index;not null" json:"at"`
	CreatedAt time.Time `json:"created_at"`
}

func (Event) TableName() string { return "session_events" }

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Insert(ctx context.Context, e *Event) error {
	return common.Persist("session event", r.db.WithContext(ctx).Create(e).Error)
}

// ListBySession returns the newest events of a session first.
func (r *Repo) ListBySession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var out []Event
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

type Sink interface {
	Insert(ctx context.Context, e *Event) error
}

// Consumer turns broker deliveries into rows. Malformed bodies fail
// permanently; store errors are retried before giving up.
type Consumer struct {
	sink   Sink
	policy retry.Policy
	log    *zap.Logger
	now    func() time.Time
}

func NewConsumer(sink Sink, policy retry.Policy, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{sink: sink, policy: policy, log: log, now: time.Now}
}

type wireEvent struct {
	Topic     string          `json:"topic"`
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

// Decode validates a delivery body. Errors are permanent.
func (c *Consumer) Decode(body []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %v", common.ErrValidation, err))
	}
	w.Kind = strings.TrimSpace(w.Kind)
	w.SessionID = strings.TrimSpace(w.SessionID)
	if w.Kind == "" || w.SessionID == "" {
		return nil, retry.Permanent(fmt.Errorf("%w: kind and session_id are required", common.ErrValidation))
	}
	if w.Topic == "" {
		w.Topic = events.Topic(w.Kind, w.SessionID)
	}
	if w.At.IsZero() {
		w.At = c.now().UTC()
	}
	e := &Event{Topic: w.Topic, Kind: w.Kind, SessionID: w.SessionID, At: w.At}
	if len(w.Payload) > 0 && string(w.Payload) != "null" {
		e.Payload = string(w.Payload)
	}
	return e, nil
}

// Handle decodes and stores one delivery body.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	e, err := c.Decode(body)
	if err != nil {
		return err
	}
	return retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		row := *e
		if err := c.sink.Insert(ctx, &row); err != nil {
			c.log.Warn("store session event",
				zap.String("topic", e.Topic),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
}
