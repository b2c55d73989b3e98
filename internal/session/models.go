package session

import "time"

// Record is the durable row of a session.
type Record struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	UserID         uint64     `gorm:"index;not null" json:"user_id"`
	Status         Status     `gorm:"type:varchar(32);index;not null" json:"status"`
	PairingCode    *string    `gorm:"type:text" json:"pairing_code,omitempty"`
	ErrorMessage   *string    `gorm:"type:text" json:"error_message,omitempty"`
	DeviceJID      *string    `gorm:"type:varchar(128)" json:"-"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Record) TableName() string { return "bot_sessions" }

func recordFrom(s Snapshot) *Record {
	rec := &Record{
		SessionID: s.SessionID,
		UserID:    s.OwnerUserID,
		Status:    s.Status,
	}
	if s.PairingCode != "" {
		code := s.PairingCode
		rec.PairingCode = &code
	}
	if s.Error != "" {
		msg := s.Error
		rec.ErrorMessage = &msg
	}
	if !s.LastActivity.IsZero() {
		at := s.LastActivity
		rec.LastActivityAt = &at
	}
	return rec
}
