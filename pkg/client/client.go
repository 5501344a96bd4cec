// Package client is the reconciliation layer an interactive client keeps
// between the REST surface and the socket stream. It holds one ordered
// message list per open thread, applies optimistic sends immediately,
// and merges server events in place, so a UI never refetches a thread
// to stay current.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"
)

var ErrBadThread = errors.New("thread must address exactly one of user or group")

// ThreadKey names a thread: the peer for a direct conversation, or the
// group. Exactly one field is set.
type ThreadKey struct {
	UserID  string
	GroupID string
}

func (k ThreadKey) valid() bool {
	return (k.UserID == "") != (k.GroupID == "")
}

// Sender performs the server send. The application's REST client
// satisfies it; tests use fakes.
type Sender interface {
	Send(ctx context.Context, recipientID, groupID, content string) (wire.Message, error)
}

// Acker emits receipt acknowledgments back over the socket.
type Acker interface {
	AckDelivered(messageID string)
	AckRead(messageID string)
}

// Entry is one message as the client holds it. Optimistic marks a send
// the server has not confirmed yet; Unread marks an inbound message the
// user has not seen.
type Entry struct {
	wire.Message
	Optimistic bool
	Unread     bool
}

// stagedStatus buffers delivered/read receipts that arrived before the
// message row they refer to. Receipts race the send confirmation over
// two transports, so matching is by durable id, never arrival order.
type stagedStatus struct {
	delivered bool
	readAt    *time.Time
}

// State is the client-side thread store. All methods are safe for
// concurrent use; the socket reader and the UI share one State.
type State struct {
	selfID string
	sender Sender
	acker  Acker

	mu      sync.Mutex
	focus   ThreadKey
	threads map[ThreadKey][]*Entry
	byID    map[string]*Entry
	pending map[string]*Entry
	staged  map[string]stagedStatus

	now func() time.Time
}

func New(selfID string, sender Sender, acker Acker) *State {
	return &State{
		selfID:  selfID,
		sender:  sender,
		acker:   acker,
		threads: make(map[ThreadKey][]*Entry),
		byID:    make(map[string]*Entry),
		pending: make(map[string]*Entry),
		staged:  make(map[string]stagedStatus),
		now:     time.Now,
	}
}

// Send inserts a provisional entry under a client-generated id, submits
// the message, and reconciles: on confirmation the provisional entry is
// swapped for the authoritative record via the pending map; on failure
// it is removed and the error returned. No retry.
func (s *State) Send(ctx context.Context, key ThreadKey, content string) (wire.Message, error) {
	if !key.valid() {
		return wire.Message{}, ErrBadThread
	}

	pid := uuid.NewString()
	provisional := &Entry{
		Message: wire.Message{
			ID:          pid,
			SenderID:    s.selfID,
			RecipientID: key.UserID,
			GroupID:     key.GroupID,
			Content:     content,
			Status:      "sent",
			CreatedAt:   s.now().UTC(),
		},
		Optimistic: true,
	}

	s.mu.Lock()
	s.threads[key] = append(s.threads[key], provisional)
	s.byID[pid] = provisional
	s.pending[pid] = provisional
	s.mu.Unlock()

	confirmed, err := s.sender.Send(ctx, key.UserID, key.GroupID, content)
	if err != nil {
		s.discard(key, pid)
		return wire.Message{}, err
	}
	s.confirm(key, pid, confirmed)
	return confirmed, nil
}

func (s *State) discard(key ThreadKey, pid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[pid]
	if !ok {
		return
	}
	delete(s.pending, pid)
	delete(s.byID, pid)
	s.removeLocked(key, e)
}

func (s *State) confirm(key ThreadKey, pid string, m wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[pid]
	if !ok {
		return
	}
	delete(s.pending, pid)
	delete(s.byID, pid)

	// A concurrent fetch may have loaded the durable row already; the
	// provisional copy is then redundant.
	if _, dup := s.byID[m.ID]; dup {
		s.removeLocked(key, e)
		return
	}

	e.Message = m
	e.Optimistic = false
	s.applyStagedLocked(e)
	s.byID[m.ID] = e
}

func (s *State) removeLocked(key ThreadKey, target *Entry) {
	list := s.threads[key]
	for i, e := range list {
		if e == target {
			s.threads[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *State) applyStagedLocked(e *Entry) {
	st, ok := s.staged[e.ID]
	if !ok {
		return
	}
	delete(s.staged, e.ID)
	if st.delivered && e.Status == "sent" {
		e.Status = "delivered"
	}
	if st.readAt != nil {
		e.Status = "read"
		e.ReadAt = st.readAt
	}
}

// Load seeds a thread from a REST fetch. The server page replaces what
// is held locally; unconfirmed optimistic entries survive at the tail.
func (s *State) Load(key ThreadKey, msgs []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.threads[key]
	for _, e := range old {
		if !e.Optimistic {
			delete(s.byID, e.ID)
		}
	}

	fresh := make([]*Entry, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		e := &Entry{Message: m}
		e.Unread = m.SenderID != s.selfID && m.ReadAt == nil && !m.Deleted
		s.applyStagedLocked(e)
		s.byID[m.ID] = e
		fresh = append(fresh, e)
	}
	for _, e := range old {
		if e.Optimistic {
			fresh = append(fresh, e)
		}
	}
	s.threads[key] = fresh
}

// Focus marks a thread as the one on screen. Unread inbound entries are
// acked read immediately, and later arrivals in this thread ack as they
// land.
func (s *State) Focus(key ThreadKey) {
	s.mu.Lock()
	s.focus = key
	var ack []string
	for _, e := range s.threads[key] {
		if e.Unread {
			e.Unread = false
			ack = append(ack, e.ID)
		}
	}
	s.mu.Unlock()

	if s.acker != nil {
		for _, id := range ack {
			s.acker.AckRead(id)
		}
	}
}

// Blur drops thread focus; new arrivals pile up unread.
func (s *State) Blur() {
	s.mu.Lock()
	s.focus = ThreadKey{}
	s.mu.Unlock()
}

// Apply merges one socket event into local state. Message lookups are
// by durable id across every held thread; events for messages not held
// locally are dropped, a later fetch recovers them.
func (s *State) Apply(ev wire.Event) error {
	switch ev.Type {
	case wire.EventMessageNew:
		var m wire.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			return err
		}
		s.applyNew(m)

	case wire.EventMessageDelivered, wire.EventMessageRead:
		var r wire.Receipt
		if err := json.Unmarshal(ev.Data, &r); err != nil {
			return err
		}
		s.applyReceipt(ev.Type, r)

	case wire.EventMessageEdited, wire.EventMessageDeleted:
		var m wire.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			return err
		}
		s.patch(m)

	case wire.EventReactionUpdated:
		var st wire.ReactionState
		if err := json.Unmarshal(ev.Data, &st); err != nil {
			return err
		}
		s.mu.Lock()
		if e, ok := s.byID[st.MessageID]; ok {
			e.Reactions = st.Reactions
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *State) applyNew(m wire.Message) {
	s.mu.Lock()
	if _, dup := s.byID[m.ID]; dup {
		s.mu.Unlock()
		return
	}

	key := s.keyFor(m)
	e := &Entry{Message: m}
	inbound := m.SenderID != s.selfID
	focused := key == s.focus
	if inbound && !focused {
		e.Unread = true
	}
	s.applyStagedLocked(e)
	s.byID[m.ID] = e
	s.threads[key] = append(s.threads[key], e)
	s.mu.Unlock()

	if inbound && s.acker != nil {
		s.acker.AckDelivered(m.ID)
		if focused {
			s.acker.AckRead(m.ID)
		}
	}
}

func (s *State) applyReceipt(t wire.EventType, r wire.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[r.MessageID]
	if !ok {
		st := s.staged[r.MessageID]
		if t == wire.EventMessageDelivered {
			st.delivered = true
		} else {
			st.readAt = receiptTime(r, s.now)
		}
		s.staged[r.MessageID] = st
		return
	}

	if t == wire.EventMessageDelivered {
		if e.Status == "sent" {
			e.Status = "delivered"
		}
		return
	}
	e.Status = "read"
	e.ReadAt = receiptTime(r, s.now)
}

// patch replaces a held message with its authoritative edited or
// tombstoned form, wherever it lives. Local flags survive.
func (s *State) patch(m wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[m.ID]
	if !ok {
		return
	}
	unread := e.Unread
	e.Message = m
	e.Unread = unread && !m.Deleted
}

// Thread returns a snapshot of one thread in local order.
func (s *State) Thread(key ThreadKey) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.threads[key]))
	for i, e := range s.threads[key] {
		out[i] = *e
	}
	return out
}

// Unread counts inbound messages not yet seen in one thread.
func (s *State) Unread(key ThreadKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.threads[key] {
		if e.Unread {
			n++
		}
	}
	return n
}

func (s *State) keyFor(m wire.Message) ThreadKey {
	if m.GroupID != "" {
		return ThreadKey{GroupID: m.GroupID}
	}
	if m.SenderID == s.selfID {
		return ThreadKey{UserID: m.RecipientID}
	}
	return ThreadKey{UserID: m.SenderID}
}

func receiptTime(r wire.Receipt, now func() time.Time) *time.Time {
	if r.At != nil {
		return r.At
	}
	at := now().UTC()
	return &at
}
