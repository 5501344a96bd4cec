package model

import (
	"errors"
	"time"
)

type DeliveryState string

// The receipt ledger moves strictly forward: sent, then delivered, then
// read. Deletion is reachable from any state and is terminal.
const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
	StateDeleted   DeliveryState = "deleted"
)

var ErrBadAddress = errors.New("message must address exactly one of recipient or group")

type Message struct {
	ID          string        `json:"id"`
	CompanyID   string        `json:"companyId"`
	SenderID    string        `json:"senderId"`
	RecipientID *string       `json:"recipientId,omitempty"`
	GroupID     *string       `json:"groupId,omitempty"`
	ParentID    *string       `json:"parentId,omitempty"`
	Content     string        `json:"content"`
	Status      DeliveryState `json:"status"`
	Deleted     bool          `json:"deleted"`
	CreatedAt   time.Time     `json:"createdAt"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	DeletedAt   *time.Time    `json:"deletedAt,omitempty"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	Reactions   []Reaction    `json:"reactions,omitempty"`
}

// ValidateAddress enforces the recipient-xor-group invariant. The DB
// CHECK backs this up, but callers get a typed error before any I/O.
func (m *Message) ValidateAddress() error {
	if (m.RecipientID == nil) == (m.GroupID == nil) {
		return ErrBadAddress
	}
	return nil
}

// DeriveStatus recomputes Status and Deleted from the timestamps. Called
// after every scan and after every ledger transition.
func (m *Message) DeriveStatus() {
	switch {
	case m.DeletedAt != nil:
		m.Status = StateDeleted
		m.Deleted = true
	case m.ReadAt != nil:
		m.Status = StateRead
	case m.DeliveredAt != nil:
		m.Status = StateDelivered
	default:
		m.Status = StateSent
	}
}

// Tombstone strips a deleted message down to its shell. The row stays
// addressable (thread position, reply anchors) but carries no content.
func (m *Message) Tombstone() {
	if m.DeletedAt == nil {
		return
	}
	m.Content = ""
	m.Attachments = nil
	m.Reactions = nil
	m.DeriveStatus()
}

type Reaction struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

type Attachment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	FileName  string    `json:"fileName"`
	ObjectKey string    `json:"-"`
	URL       string    `json:"url,omitempty"`
	SizeBytes int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
}

// Request types

type SendMessageRequest struct {
	RecipientID string `json:"recipientId" validate:"required,uuid"`
	Content     string `json:"content" validate:"required,max=4000"`
	ParentID    string `json:"parentId" validate:"omitempty,uuid"`
}

// EnhancedSendRequest arrives as multipart form fields; attachments ride
// alongside as files. Exactly one of RecipientID / GroupID must be set.
type EnhancedSendRequest struct {
	RecipientID string `form:"recipientId" validate:"omitempty,uuid,required_without=GroupID,excluded_with=GroupID"`
	GroupID     string `form:"groupId" validate:"omitempty,uuid"`
	Content     string `form:"content" validate:"required,max=4000"`
	ParentID    string `form:"parentId" validate:"omitempty,uuid"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type ReactRequest struct {
	Emoji string `json:"emoji" validate:"required,max=64"`
}

type SearchScope string

const (
	SearchDirect SearchScope = "direct"
	SearchGroup  SearchScope = "group"
	SearchAll    SearchScope = "all"
)

type SearchQuery struct {
	Term    string
	Scope   SearchScope
	UserID  string
	GroupID string
	Limit   int
	Offset  int
}
