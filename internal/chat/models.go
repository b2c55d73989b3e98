package chat

import "time"

const (
	SenderClient    = "client"
	SenderAssistant = "assistant"
)

// Message is one side of a conversation handled by a bot session.
type Message struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"type:varchar(64);not null;index:idx_chat_msg_session_id,priority:1" json:"session_id"`
	Sender     string    `gorm:"type:varchar(16);index;not null" json:"sender"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	MediaURL   *string   `gorm:"type:varchar(512)" json:"media_url,omitempty"`
	AccountRef *string   `gorm:"type:varchar(64);index" json:"account_ref,omitempty"`
	CreatedAt  time.Time `gorm:"index:idx_chat_msg_session_id,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Seller is a product offer a session's bot can sell.
type Seller struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"type:varchar(64);not null;index:uniq_seller_session_name,unique,priority:1" json:"session_id"`
	Name        string    `gorm:"type:varchar(128);not null;index:uniq_seller_session_name,unique,priority:2" json:"seller_name"`
	Product     string    `gorm:"type:varchar(255);not null" json:"product"`
	Description string    `gorm:"type:text" json:"description"`
	Benefits    string    `gorm:"type:text" json:"benefits"`
	ImageURL    *string   `gorm:"type:varchar(512)" json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Seller) TableName() string { return "sellers" }

// Vendor is the persona a session currently speaks as. At most one per session.
type Vendor struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	AccountRef string    `gorm:"type:varchar(64)" json:"account_ref"`
	Name       string    `gorm:"type:varchar(128);not null" json:"vendor_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Vendor) TableName() string { return "vendors" }
