package session

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is what managers and recovery need from durable storage.
type Store interface {
	UpsertSession(ctx context.Context, rec *Record) error
	FindActiveSessions(ctx context.Context) ([]Record, error)
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// UpsertSession writes the lifecycle columns keyed by session_id. device_jid
// and created_at are never touched by an update.
func (r *Repo) UpsertSession(ctx context.Context, rec *Record) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "status", "pairing_code", "error_message", "last_activity_at", "updated_at",
			}),
		}).
		Create(rec).Error
	return common.Persist("session "+rec.SessionID, err)
}

func (r *Repo) FindActiveSessions(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := r.db.WithContext(ctx).
		Where("status IN ?", ActiveStatuses).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *Repo) GetSession(ctx context.Context, sessionID string) (*Record, error) {
	var rec Record
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID uint64) ([]Record, error) {
	var recs []Record
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *Repo) DeleteSession(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&Record{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeviceJID returns the messaging-device id stored for the session, "" if
// the session never paired.
func (r *Repo) DeviceJID(ctx context.Context, sessionID string) (string, error) {
	rec, err := r.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	if rec.DeviceJID == nil {
		return "", nil
	}
	return *rec.DeviceJID, nil
}

func (r *Repo) SaveDeviceJID(ctx context.Context, sessionID, jid string) error {
	err := r.db.WithContext(ctx).Model(&Record{}).
		Where("session_id = ?", sessionID).
		Update("device_jid", jid).Error
	return common.Persist("device jid "+sessionID, err)
}
