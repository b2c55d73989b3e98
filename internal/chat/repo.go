package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/ai-salesbot/internal/common"
)

// Store is what the resolver needs from persistence.
type Store interface {
	ListSellers(ctx context.Context, sessionID string) ([]Seller, error)
	FindVendor(ctx context.Context, sessionID string) (*Vendor, error)
	SaveVendor(ctx context.Context, v *Vendor) error
	InsertMessage(ctx context.Context, m *Message) error
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return common.Persist("insert message", err)
	}
	return nil
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListSellers returns the session's sellers oldest first.
func (r *Repo) ListSellers(ctx context.Context, sessionID string) ([]Seller, error) {
	var out []Seller
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetSeller(ctx context.Context, sessionID string, id uint64) (*Seller, error) {
	var s Seller
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND id = ?", sessionID, id).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSeller fails with common.ErrConflict when the name is taken in the session.
func (r *Repo) CreateSeller(ctx context.Context, s *Seller) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Seller{}).
		Where("session_id = ? AND name = ?", s.SessionID, s.Name).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return common.ErrConflict
	}
	return r.db.WithContext(ctx).Create(s).Error
}

// UpdateSeller overwrites the offer fields; the name is immutable.
func (r *Repo) UpdateSeller(ctx context.Context, s *Seller) error {
	res := r.db.WithContext(ctx).Model(&Seller{}).
		Where("session_id = ? AND id = ?", s.SessionID, s.ID).
		Updates(map[string]any{
			"product":     s.Product,
			"description": s.Description,
			"benefits":    s.Benefits,
			"image_url":   s.ImageURL,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) DeleteSeller(ctx context.Context, sessionID string, id uint64) error {
	res := r.db.WithContext(ctx).
		Where("session_id = ? AND id = ?", sessionID, id).
		Delete(&Seller{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindVendor returns (nil, nil) when the session has no vendor yet.
func (r *Repo) FindVendor(ctx context.Context, sessionID string) (*Vendor, error) {
	var v Vendor
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveVendor upserts on session_id so a session keeps a single vendor row.
func (r *Repo) SaveVendor(ctx context.Context, v *Vendor) error {
	now := time.Now()
	row := *v
	// conflict resolution is on session_id only
	row.ID = 0
	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_ref", "name", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return common.Persist("save vendor", err)
	}
	return nil
}

// DeleteSessionData drops everything chat-related for a session.
func (r *Repo) DeleteSessionData(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&Message{}, &Seller{}, &Vendor{}} {
			if err := tx.Where("session_id = ?", sessionID).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
