package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/metrics"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/search"
	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Senders may amend a message for a day; after that the record is fixed.
const editWindow = 24 * time.Hour

const maxAttachments = 5

// MessageStore is the persistence surface the message service needs.
// *repository.MessageRepository satisfies it; tests use fakes.
type MessageStore interface {
	Insert(ctx context.Context, m *model.Message, attachments []model.Attachment) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ByIDs(ctx context.Context, companyID string, ids []string) ([]*model.Message, error)
	Thread(ctx context.Context, userA, userB string, limit int, before time.Time) ([]*model.Message, error)
	GroupThread(ctx context.Context, groupID string, limit int, before time.Time) ([]*model.Message, error)
	MarkDelivered(ctx context.Context, messageID, recipientID string) (bool, error)
	MarkManyDelivered(ctx context.Context, messageIDs []string, recipientID string) ([]string, error)
	MarkRead(ctx context.Context, messageID, recipientID string) (*time.Time, bool, error)
	Edit(ctx context.Context, messageID, content string) (*model.Message, error)
	SoftDelete(ctx context.Context, messageID string) (*time.Time, bool, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	Reactions(ctx context.Context, messageID string) ([]model.Reaction, error)
	Search(ctx context.Context, companyID, requesterID string, q model.SearchQuery) ([]*model.Message, error)
}

// UserDirectory resolves users for tenant checks.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// GroupDirectory resolves groups and memberships.
type GroupDirectory interface {
	GetByID(ctx context.Context, id string) (*model.Group, error)
	MemberIDs(ctx context.Context, groupID string) ([]string, error)
	Membership(ctx context.Context, groupID, userID string) (string, bool, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Group, error)
}

// EventSink is the realtime fan-out surface. *Hub satisfies it.
type EventSink interface {
	ToUser(userID string, frame []byte)
	ToUsers(userIDs []string, frame []byte)
	ToCompany(companyID string, frame []byte)
	IsOnline(userID string) bool
	OnlineIDs(companyID string) []string
}

// Searcher is the optional accelerated search index.
type Searcher interface {
	Enabled() bool
	Search(q search.Query) ([]string, error)
	Index(doc search.Doc)
	Remove(id string)
}

// AttachmentStore persists attachment payloads. *blob.Store satisfies it.
type AttachmentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key, fileName string) (string, error)
}

// Upload is one incoming attachment, decoded from multipart by the
// handler.
type Upload struct {
	FileName string
	Size     int64
	MimeType string
	Reader   io.Reader
}

type MessageService struct {
	messages MessageStore
	users    UserDirectory
	groups   GroupDirectory
	events   EventSink
	search   Searcher
	blobs    AttachmentStore
	log      *logrus.Entry
	now      func() time.Time
}

// NewMessageService wires the thread store. search and blobs may be nil
// when those backends are not configured.
func NewMessageService(messages MessageStore, users UserDirectory, groups GroupDirectory, events EventSink, searcher Searcher, blobs AttachmentStore) *MessageService {
	return &MessageService{
		messages: messages,
		users:    users,
		groups:   groups,
		events:   events,
		search:   searcher,
		blobs:    blobs,
		log:      logger.With("messages"),
		now:      time.Now,
	}
}

// Send persists a direct message and pushes message:new to the
// recipient's sessions. The REST response, not the socket, confirms the
// send to the sender.
func (s *MessageService) Send(ctx context.Context, companyID, senderID string, req *model.SendMessageRequest) (*model.Message, error) {
	return s.send(ctx, companyID, senderID, req.RecipientID, "", req.Content, req.ParentID, nil)
}

// SendEnhanced handles the multipart variant: direct or group target
// plus up to maxAttachments uploads.
func (s *MessageService) SendEnhanced(ctx context.Context, companyID, senderID string, req *model.EnhancedSendRequest, uploads []Upload) (*model.Message, error) {
	return s.send(ctx, companyID, senderID, req.RecipientID, req.GroupID, req.Content, req.ParentID, uploads)
}

func (s *MessageService) send(ctx context.Context, companyID, senderID, recipientID, groupID, content, parentID string, uploads []Upload) (*model.Message, error) {
	m := &model.Message{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		SenderID:  senderID,
		Content:   content,
	}
	if recipientID != "" {
		m.RecipientID = &recipientID
	}
	if groupID != "" {
		m.GroupID = &groupID
	}
	if err := m.ValidateAddress(); err != nil {
		return nil, ErrBadTarget
	}

	if parentID != "" {
		parent, err := s.messages.GetByID(ctx, parentID)
		if err != nil {
			return nil, mapNoRows(err)
		}
		if parent.CompanyID != companyID {
			return nil, ErrNotFound
		}
		m.ParentID = &parentID
	}

	var fanTargets []string
	target := "direct"
	if m.RecipientID != nil {
		recipient, err := s.users.GetByID(ctx, recipientID)
		if err != nil {
			return nil, mapNoRows(err)
		}
		if recipient.CompanyID != companyID {
			return nil, ErrNotFound
		}
		fanTargets = []string{recipientID}
	} else {
		target = "group"
		g, err := s.groups.GetByID(ctx, groupID)
		if err != nil {
			return nil, mapNoRows(err)
		}
		if g.CompanyID != companyID {
			return nil, ErrNotFound
		}
		_, member, err := s.groups.Membership(ctx, groupID, senderID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrForbidden
		}
		memberIDs, err := s.groups.MemberIDs(ctx, groupID)
		if err != nil {
			return nil, err
		}
		fanTargets = exclude(memberIDs, senderID)
	}

	attachments, err := s.storeUploads(ctx, m, uploads)
	if err != nil {
		return nil, err
	}

	if err := s.messages.Insert(ctx, m, attachments); err != nil {
		s.discardUploads(attachments)
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(target).Inc()

	if s.search != nil {
		s.search.Index(searchDoc(m))
	}
	s.hydrateURLs(ctx, []*model.Message{m})

	s.events.ToUsers(fanTargets, wire.MustMarshal(wire.EventMessageNew, wireMessage(m)))
	return m, nil
}

func (s *MessageService) storeUploads(ctx context.Context, m *model.Message, uploads []Upload) ([]model.Attachment, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if len(uploads) > maxAttachments {
		return nil, ErrAttachmentLimit
	}
	if s.blobs == nil {
		return nil, ErrNoAttachmentStore
	}

	attachments := make([]model.Attachment, 0, len(uploads))
	for _, u := range uploads {
		key := fmt.Sprintf("%s/%s/%s", m.CompanyID, m.ID, uuid.NewString())
		if err := s.blobs.Put(ctx, key, u.Reader, u.Size, u.MimeType); err != nil {
			s.discardUploads(attachments)
			return nil, fmt.Errorf("store attachment %s: %w", u.FileName, err)
		}
		attachments = append(attachments, model.Attachment{
			FileName:  u.FileName,
			ObjectKey: key,
			SizeBytes: u.Size,
			MimeType:  u.MimeType,
		})
	}
	return attachments, nil
}

// discardUploads best-effort removes objects whose message row never
// made it. Failures only leak storage, never block the caller.
func (s *MessageService) discardUploads(attachments []model.Attachment) {
	if s.blobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, a := range attachments {
		if err := s.blobs.Remove(ctx, a.ObjectKey); err != nil {
			s.log.WithError(err).Warnf("discard orphaned attachment %s", a.ObjectKey)
		}
	}
}

// Thread returns the direct conversation between the requester and a
// peer, oldest first. Fetching doubles as the delivery fallback: rows
// addressed to the requester that were never acked flip to delivered,
// and the peer is told.
func (s *MessageService) Thread(ctx context.Context, companyID, requesterID, peerID string, limit int, before time.Time) ([]*model.Message, error) {
	peer, err := s.users.GetByID(ctx, peerID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if peer.CompanyID != companyID {
		return nil, ErrNotFound
	}

	msgs, err := s.messages.Thread(ctx, requesterID, peerID, limit, before)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	transitioned, err := s.messages.MarkManyDelivered(ctx, ids, requesterID)
	if err != nil {
		return nil, err
	}
	if len(transitioned) > 0 {
		at := s.now().UTC()
		flipped := make(map[string]struct{}, len(transitioned))
		for _, id := range transitioned {
			flipped[id] = struct{}{}
		}
		for _, m := range msgs {
			if _, ok := flipped[m.ID]; ok {
				m.DeliveredAt = &at
				m.DeriveStatus()
			}
		}
		for _, id := range transitioned {
			s.events.ToUser(peerID, wire.MustMarshal(wire.EventMessageDelivered, wire.Receipt{
				MessageID: id, UserID: requesterID, At: &at,
			}))
		}
	}

	for _, m := range msgs {
		m.Tombstone()
	}
	s.hydrateURLs(ctx, msgs)
	return msgs, nil
}

// GroupThread returns a group's history, oldest first. Membership is
// required; group messages carry no delivery ledger so nothing flips.
func (s *MessageService) GroupThread(ctx context.Context, companyID, requesterID, groupID string, limit int, before time.Time) ([]*model.Message, error) {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if g.CompanyID != companyID {
		return nil, ErrNotFound
	}
	_, member, err := s.groups.Membership(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}

	msgs, err := s.messages.GroupThread(ctx, groupID, limit, before)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.Tombstone()
	}
	s.hydrateURLs(ctx, msgs)
	return msgs, nil
}

// AckDelivered handles a client's message:delivered ack. Only the
// message's recipient can ack; repeat acks are no-ops.
func (s *MessageService) AckDelivered(ctx context.Context, requesterID, messageID string) error {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return mapNoRows(err)
	}
	if m.RecipientID == nil || *m.RecipientID != requesterID {
		return ErrNotFound
	}

	changed, err := s.messages.MarkDelivered(ctx, messageID, requesterID)
	if err != nil {
		return err
	}
	if changed {
		at := s.now().UTC()
		s.events.ToUser(m.SenderID, wire.MustMarshal(wire.EventMessageDelivered, wire.Receipt{
			MessageID: messageID, UserID: requesterID, At: &at,
		}))
	}
	return nil
}

// MarkRead advances the ledger to read. Re-marking an already-read
// message (and read-marking a group or tombstoned message) is a no-op
// success, never an error.
func (s *MessageService) MarkRead(ctx context.Context, companyID, requesterID, messageID string) (*model.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if m.CompanyID != companyID {
		return nil, ErrNotFound
	}
	if m.GroupID != nil {
		_, member, err := s.groups.Membership(ctx, *m.GroupID, requesterID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrNotFound
		}
		m.Tombstone()
		return m, nil
	}
	if *m.RecipientID != requesterID {
		if m.SenderID == requesterID {
			return nil, ErrForbidden
		}
		return nil, ErrNotFound
	}
	if m.Deleted {
		m.Tombstone()
		return m, nil
	}

	readAt, changed, err := s.messages.MarkRead(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	if changed {
		m.ReadAt = readAt
		if m.DeliveredAt == nil {
			m.DeliveredAt = readAt
		}
		m.DeriveStatus()
		s.events.ToUser(m.SenderID, wire.MustMarshal(wire.EventMessageRead, wire.Receipt{
			MessageID: messageID, UserID: requesterID, At: readAt,
		}))
	}
	return m, nil
}

// React toggles the requester's (emoji, message) reaction and pushes the
// resulting full reaction set to the other participants.
func (s *MessageService) React(ctx context.Context, companyID, requesterID, messageID, emoji string) ([]model.Reaction, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if m.CompanyID != companyID {
		return nil, ErrNotFound
	}
	visible, err := s.visibleTo(ctx, m, requesterID)
	if err != nil {
		return nil, err
	}
	if !visible || m.Deleted {
		return nil, ErrNotFound
	}

	if _, err := s.messages.ToggleReaction(ctx, messageID, requesterID, emoji); err != nil {
		return nil, err
	}
	reactions, err := s.messages.Reactions(ctx, messageID)
	if err != nil {
		return nil, err
	}

	state := wire.ReactionState{MessageID: messageID, Reactions: wireReactions(reactions)}
	if m.RecipientID != nil {
		state.RecipientID = *m.RecipientID
	}
	if m.GroupID != nil {
		state.GroupID = *m.GroupID
	}
	s.fanToParticipants(ctx, m, requesterID, wire.MustMarshal(wire.EventReactionUpdated, state))
	return reactions, nil
}

// Edit amends a message's content. Sender-only, inside the edit window,
// and never on a tombstone.
func (s *MessageService) Edit(ctx context.Context, companyID, requesterID, messageID, content string) (*model.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if m.CompanyID != companyID {
		return nil, ErrNotFound
	}
	if m.SenderID != requesterID {
		visible, err := s.visibleTo(ctx, m, requesterID)
		if err != nil {
			return nil, err
		}
		if !visible {
			return nil, ErrNotFound
		}
		return nil, ErrForbidden
	}
	if m.Deleted {
		return nil, ErrNotFound
	}
	if s.now().Sub(m.CreatedAt) > editWindow {
		return nil, ErrEditWindowExpired
	}

	updated, err := s.messages.Edit(ctx, messageID, content)
	if err != nil {
		return nil, err
	}
	if rows, err := s.messages.ByIDs(ctx, companyID, []string{messageID}); err == nil && len(rows) == 1 {
		updated = rows[0]
	}
	s.hydrateURLs(ctx, []*model.Message{updated})

	if s.search != nil {
		s.search.Index(searchDoc(updated))
	}
	s.fanToParticipants(ctx, updated, requesterID, wire.MustMarshal(wire.EventMessageEdited, wireMessage(updated)))
	return updated, nil
}

// Delete tombstones a message. The sender may always delete their own;
// privileged roles may delete any message in their company. Deleting an
// already-deleted message succeeds without a second event.
func (s *MessageService) Delete(ctx context.Context, companyID, requesterID string, role rbac.Role, messageID string) (*model.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if m.CompanyID != companyID {
		return nil, ErrNotFound
	}
	if m.SenderID != requesterID && !rbac.Can(role, rbac.ActionDeleteAnyMessage) {
		visible, err := s.visibleTo(ctx, m, requesterID)
		if err != nil {
			return nil, err
		}
		if !visible {
			return nil, ErrNotFound
		}
		return nil, ErrForbidden
	}
	if m.Deleted {
		m.Tombstone()
		return m, nil
	}

	deletedAt, changed, err := s.messages.SoftDelete(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if deletedAt != nil {
		m.DeletedAt = deletedAt
	}
	m.Tombstone()

	if changed {
		if s.search != nil {
			s.search.Remove(messageID)
		}
		s.fanToParticipants(ctx, m, requesterID, wire.MustMarshal(wire.EventMessageDeleted, wireMessage(m)))
	}
	return m, nil
}

// Search matches message content case-insensitively within the
// requester's visibility. The index accelerates when healthy; Postgres
// stays canonical and handles every miss or failure.
func (s *MessageService) Search(ctx context.Context, companyID, requesterID string, q model.SearchQuery) ([]*model.Message, error) {
	if q.Scope == "" {
		q.Scope = model.SearchAll
	}

	if s.search != nil && s.search.Enabled() {
		memberGroups, err := s.groups.ListForUser(ctx, requesterID)
		if err == nil {
			groupIDs := make([]string, len(memberGroups))
			for i, g := range memberGroups {
				groupIDs[i] = g.ID
			}
			ids, err := s.search.Search(search.Query{
				CompanyID:      companyID,
				RequesterID:    requesterID,
				MemberGroupIDs: groupIDs,
				Term:           q.Term,
				Scope:          string(q.Scope),
				UserID:         q.UserID,
				GroupID:        q.GroupID,
				Limit:          q.Limit,
				Offset:         q.Offset,
			})
			if err == nil {
				msgs, err := s.messages.ByIDs(ctx, companyID, ids)
				if err != nil {
					return nil, err
				}
				s.hydrateURLs(ctx, msgs)
				return msgs, nil
			}
			s.log.WithError(err).Warn("accelerated search failed, using postgres")
		}
	}

	msgs, err := s.messages.Search(ctx, companyID, requesterID, q)
	if err != nil {
		return nil, err
	}
	s.hydrateURLs(ctx, msgs)
	return msgs, nil
}

// visibleTo reports whether the user participates in the message's
// thread: a party of the direct exchange, or a current group member.
func (s *MessageService) visibleTo(ctx context.Context, m *model.Message, userID string) (bool, error) {
	if m.GroupID == nil {
		return m.SenderID == userID || (m.RecipientID != nil && *m.RecipientID == userID), nil
	}
	_, member, err := s.groups.Membership(ctx, *m.GroupID, userID)
	return member, err
}

func (s *MessageService) participants(ctx context.Context, m *model.Message) ([]string, error) {
	if m.GroupID == nil {
		return []string{m.SenderID, *m.RecipientID}, nil
	}
	return s.groups.MemberIDs(ctx, *m.GroupID)
}

// fanToParticipants pushes a frame to everyone in the message's thread
// except the actor. Fan-out failures never surface to the caller.
func (s *MessageService) fanToParticipants(ctx context.Context, m *model.Message, actorID string, frame []byte) {
	targets, err := s.participants(ctx, m)
	if err != nil {
		s.log.WithError(err).Warnf("resolve fan-out for message %s", m.ID)
		return
	}
	s.events.ToUsers(exclude(targets, actorID), frame)
}

// hydrateURLs fills presigned download URLs onto attachments. Without a
// blob store the metadata still serves, just without links.
func (s *MessageService) hydrateURLs(ctx context.Context, msgs []*model.Message) {
	if s.blobs == nil {
		return
	}
	for _, m := range msgs {
		for i := range m.Attachments {
			a := &m.Attachments[i]
			url, err := s.blobs.PresignedURL(ctx, a.ObjectKey, a.FileName)
			if err != nil {
				s.log.WithError(err).Warnf("presign attachment %s", a.ID)
				continue
			}
			a.URL = url
		}
	}
}

func searchDoc(m *model.Message) search.Doc {
	doc := search.Doc{
		ID:        m.ID,
		CompanyID: m.CompanyID,
		Kind:      "direct",
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Unix(),
	}
	if m.RecipientID != nil {
		doc.RecipientID = *m.RecipientID
	}
	if m.GroupID != nil {
		doc.Kind = "group"
		doc.GroupID = *m.GroupID
	}
	return doc
}

func wireMessage(m *model.Message) wire.Message {
	w := wire.Message{
		ID:        m.ID,
		CompanyID: m.CompanyID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Status:    string(m.Status),
		Deleted:   m.Deleted,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		ReadAt:    m.ReadAt,
	}
	if m.RecipientID != nil {
		w.RecipientID = *m.RecipientID
	}
	if m.GroupID != nil {
		w.GroupID = *m.GroupID
	}
	if m.ParentID != nil {
		w.ParentID = *m.ParentID
	}
	for _, a := range m.Attachments {
		w.Attachments = append(w.Attachments, wire.Attachment{
			ID: a.ID, FileName: a.FileName, URL: a.URL, Size: a.SizeBytes, MimeType: a.MimeType,
		})
	}
	w.Reactions = wireReactions(m.Reactions)
	return w
}

func wireReactions(reactions []model.Reaction) []wire.Reaction {
	if len(reactions) == 0 {
		return nil
	}
	out := make([]wire.Reaction, len(reactions))
	for i, r := range reactions {
		out[i] = wire.Reaction{UserID: r.UserID, Emoji: r.Emoji}
	}
	return out
}
