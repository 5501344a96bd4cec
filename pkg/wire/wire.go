// Package wire defines the socket protocol shared by the server and the
// client SDK: one envelope, a closed set of event types, and a typed
// payload per event. Both sides decode through a single switch so an
// unknown event can never be half-handled.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

// Client -> server.
const (
	EventAuth        EventType = "auth"
	EventTypingStart EventType = "typing:start"
	EventTypingStop  EventType = "typing:stop"
)

// Server -> client. EventMessageDelivered and EventMessageRead also
// travel client -> server as receipt acks carrying just the message id.
const (
	EventError            EventType = "error"
	EventMessageNew       EventType = "message:new"
	EventMessageDelivered EventType = "message:delivered"
	EventMessageRead      EventType = "message:read"
	EventMessageEdited    EventType = "message:edited"
	EventMessageDeleted   EventType = "message:deleted"
	EventReactionUpdated  EventType = "reaction:updated"
	EventPresenceInitial  EventType = "presence:initial"
	EventPresenceUpdate   EventType = "presence:update"

	EventGroupCreated       EventType = "group:created"
	EventGroupUpdated       EventType = "group:updated"
	EventGroupMemberAdded   EventType = "group:memberAdded"
	EventGroupMemberRemoved EventType = "group:memberRemoved"
	EventGroupRemovedFrom   EventType = "group:removedFromGroup"
)

type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is the wire shape of a chat message. Exactly one of
// RecipientID / GroupID is set. Deleted messages arrive as tombstones:
// Deleted true, Content empty, reactions and attachments omitted.
type Message struct {
	ID          string       `json:"id"`
	CompanyID   string       `json:"companyId"`
	SenderID    string       `json:"senderId"`
	RecipientID string       `json:"recipientId,omitempty"`
	GroupID     string       `json:"groupId,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	Content     string       `json:"content"`
	Status      string       `json:"status"`
	Deleted     bool         `json:"deleted,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	EditedAt    *time.Time   `json:"editedAt,omitempty"`
	ReadAt      *time.Time   `json:"readAt,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
}

type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type Group struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"companyId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Auth is the first frame a client must send after connecting.
type Auth struct {
	Token string `json:"token"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Receipt acknowledges delivery or read of a single message. Client ->
// server it carries only MessageID; server -> client relays add the
// acting user and timestamp so senders can advance their local copy.
type Receipt struct {
	MessageID string     `json:"messageId"`
	UserID    string     `json:"userId,omitempty"`
	At        *time.Time `json:"at,omitempty"`
}

// Typing identifies the typist and the thread scope. Client -> server
// frames omit UserID; the server stamps it before relaying.
type Typing struct {
	UserID      string `json:"userId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
}

// ReactionState carries the full current reaction set of a message so
// receivers replace rather than merge.
type ReactionState struct {
	MessageID   string     `json:"messageId"`
	RecipientID string     `json:"recipientId,omitempty"`
	GroupID     string     `json:"groupId,omitempty"`
	Reactions   []Reaction `json:"reactions"`
}

type PresenceInitial struct {
	Online []string `json:"online"`
}

type PresenceUpdate struct {
	UserID   string     `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Membership describes a group membership change. For
// group:removedFromGroup it is addressed to the removed user directly.
type Membership struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName,omitempty"`
	UserID    string `json:"userId"`
	ActorID   string `json:"actorId,omitempty"`
}

// Marshal wraps a payload in the event envelope.
func Marshal(t EventType, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		data = b
	}
	return json.Marshal(Event{Type: t, Data: data})
}

// MustMarshal is Marshal for payloads that cannot fail (static structs).
func MustMarshal(t EventType, payload any) []byte {
	b, err := Marshal(t, payload)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses an incoming frame into the envelope. Payload decoding
// stays with the dispatch switch so each side handles every type once.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return ev, nil
}
