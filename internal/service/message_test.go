package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/search"
	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"
)

type msgFixture struct {
	store  *memMessages
	users  *memUsers
	groups *memGroups
	sink   *fakeSink
	svc    *MessageService
}

// newMsgFixture wires a message service over in-memory stores. alice,
// bob and dan share co-1 (carol is its admin); eve lives in co-2.
func newMsgFixture() *msgFixture {
	users := newMemUsers(
		poolUser("alice", "co-1"),
		poolUser("bob", "co-1"),
		poolUser("carol", "co-1", withRole("admin")),
		poolUser("dan", "co-1"),
		poolUser("eve", "co-2"),
	)
	f := &msgFixture{
		store:  newMemMessages(),
		users:  users,
		groups: newMemGroups(),
		sink:   newFakeSink(),
	}
	f.svc = NewMessageService(f.store, f.users, f.groups, f.sink, nil, nil)
	return f
}

func (f *msgFixture) direct(t *testing.T, sender, recipient, content string) *model.Message {
	t.Helper()
	m, err := f.svc.Send(context.Background(), "co-1", sender, &model.SendMessageRequest{
		RecipientID: recipient, Content: content,
	})
	require.NoError(t, err)
	return m
}

func wirePayload(t *testing.T, ev wire.Event, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Data, v))
}

func TestSendDirectFansToRecipient(t *testing.T) {
	f := newMsgFixture()

	m := f.direct(t, "alice", "bob", "hello bob")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, model.StateSent, m.Status)

	news := f.sink.ofType(wire.EventMessageNew)
	require.Len(t, news, 1)
	assert.Equal(t, []string{"bob"}, news[0].targets)

	var w wire.Message
	wirePayload(t, news[0].event, &w)
	assert.Equal(t, m.ID, w.ID)
	assert.Equal(t, "hello bob", w.Content)
	assert.Equal(t, "sent", w.Status)
}

func TestSendHidesOtherTenants(t *testing.T) {
	f := newMsgFixture()

	// eve exists, but in another company; indistinguishable from absent.
	_, err := f.svc.Send(context.Background(), "co-1", "alice", &model.SendMessageRequest{
		RecipientID: "eve", Content: "hi",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Send(context.Background(), "co-1", "alice", &model.SendMessageRequest{
		RecipientID: "nobody", Content: "hi",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, f.sink.ofType(wire.EventMessageNew))
}

func TestSendGroupFansToMembersExceptSender(t *testing.T) {
	f := newMsgFixture()
	f.groups.seed(&model.Group{ID: "g-1", CompanyID: "co-1", Name: "eng", CreatedBy: "alice"}, "bob", "carol")

	m, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		GroupID: "g-1", Content: "standup in 5",
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, m.GroupID)

	news := f.sink.ofType(wire.EventMessageNew)
	require.Len(t, news, 1)
	assert.Equal(t, []string{"bob", "carol"}, news[0].targets)
}

func TestSendGroupRequiresMembership(t *testing.T) {
	f := newMsgFixture()
	f.groups.seed(&model.Group{ID: "g-1", CompanyID: "co-1", Name: "eng", CreatedBy: "alice"}, "bob")

	_, err := f.svc.SendEnhanced(context.Background(), "co-1", "dan", &model.EnhancedSendRequest{
		GroupID: "g-1", Content: "let me in",
	}, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendGroupOtherTenantHidden(t *testing.T) {
	f := newMsgFixture()
	f.groups.seed(&model.Group{ID: "g-2", CompanyID: "co-2", Name: "other", CreatedBy: "eve"})

	_, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		GroupID: "g-2", Content: "hi",
	}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendRequiresExactlyOneTarget(t *testing.T) {
	f := newMsgFixture()

	_, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		Content: "to nowhere",
	}, nil)
	assert.ErrorIs(t, err, ErrBadTarget)

	f.groups.seed(&model.Group{ID: "g-1", CompanyID: "co-1", Name: "eng", CreatedBy: "alice"})
	_, err = f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		RecipientID: "bob", GroupID: "g-1", Content: "to both",
	}, nil)
	assert.ErrorIs(t, err, ErrBadTarget)
}

func TestSendReplyValidatesParent(t *testing.T) {
	f := newMsgFixture()
	parent := f.direct(t, "alice", "bob", "question")

	reply, err := f.svc.Send(context.Background(), "co-1", "bob", &model.SendMessageRequest{
		RecipientID: "alice", Content: "answer", ParentID: parent.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, parent.ID, *reply.ParentID)

	_, err = f.svc.Send(context.Background(), "co-1", "bob", &model.SendMessageRequest{
		RecipientID: "alice", Content: "answer", ParentID: "missing",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThreadFetchFlipsDelivered(t *testing.T) {
	f := newMsgFixture()
	m1 := f.direct(t, "alice", "bob", "first")
	m2 := f.direct(t, "alice", "bob", "second")
	f.direct(t, "bob", "alice", "reply")

	msgs, err := f.svc.Thread(context.Background(), "co-1", "bob", "alice", 50, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)

	// The two rows addressed to bob flipped; bob's own reply did not.
	for _, m := range msgs {
		if m.SenderID == "alice" {
			assert.Equal(t, model.StateDelivered, m.Status, m.Content)
			assert.NotNil(t, m.DeliveredAt)
		} else {
			assert.Equal(t, model.StateSent, m.Status)
		}
	}

	receipts := f.sink.ofType(wire.EventMessageDelivered)
	require.Len(t, receipts, 2)
	seen := map[string]bool{}
	for _, r := range receipts {
		assert.Equal(t, []string{"alice"}, r.targets)
		var rec wire.Receipt
		wirePayload(t, r.event, &rec)
		assert.Equal(t, "bob", rec.UserID)
		seen[rec.MessageID] = true
	}
	assert.True(t, seen[m1.ID])
	assert.True(t, seen[m2.ID])

	// A second fetch has nothing left to flip.
	_, err = f.svc.Thread(context.Background(), "co-1", "bob", "alice", 50, time.Time{})
	require.NoError(t, err)
	assert.Len(t, f.sink.ofType(wire.EventMessageDelivered), 2)
}

func TestThreadPeerMustBeVisible(t *testing.T) {
	f := newMsgFixture()

	_, err := f.svc.Thread(context.Background(), "co-1", "alice", "eve", 50, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Thread(context.Background(), "co-1", "alice", "nobody", 50, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupThreadRequiresMembership(t *testing.T) {
	f := newMsgFixture()
	f.groups.seed(&model.Group{ID: "g-1", CompanyID: "co-1", Name: "eng", CreatedBy: "alice"}, "bob")
	_, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		GroupID: "g-1", Content: "note",
	}, nil)
	require.NoError(t, err)

	msgs, err := f.svc.GroupThread(context.Background(), "co-1", "bob", "g-1", 50, time.Time{})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = f.svc.GroupThread(context.Background(), "co-1", "dan", "g-1", 50, time.Time{})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.GroupThread(context.Background(), "co-1", "bob", "missing", 50, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAckDeliveredRecipientOnly(t *testing.T) {
	f := newMsgFixture()
	m := f.direct(t, "alice", "bob", "ping")

	require.NoError(t, f.svc.AckDelivered(context.Background(), "bob", m.ID))
	receipts := f.sink.ofType(wire.EventMessageDelivered)
	require.Len(t, receipts, 1)
	assert.Equal(t, []string{"alice"}, receipts[0].targets)

	// Repeat ack is a no-op, the sender's ack is rejected.
	require.NoError(t, f.svc.AckDelivered(context.Background(), "bob", m.ID))
	assert.Len(t, f.sink.ofType(wire.EventMessageDelivered), 1)
	assert.ErrorIs(t, f.svc.AckDelivered(context.Background(), "alice", m.ID), ErrNotFound)
}

func TestMarkReadStampsOnce(t *testing.T) {
	f := newMsgFixture()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.store.clock = func() time.Time { return t0 }
	m := f.direct(t, "alice", "bob", "read me")

	t1 := t0.Add(time.Minute)
	f.store.clock = func() time.Time { return t1 }
	read, err := f.svc.MarkRead(context.Background(), "co-1", "bob", m.ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)
	assert.True(t, read.ReadAt.Equal(t1))
	assert.Equal(t, model.StateRead, read.Status)
	// Reading implies delivery.
	require.NotNil(t, read.DeliveredAt)
	assert.True(t, read.DeliveredAt.Equal(t1))

	reads := f.sink.ofType(wire.EventMessageRead)
	require.Len(t, reads, 1)
	assert.Equal(t, []string{"alice"}, reads[0].targets)

	// Marking again later must not move the stamp or emit again.
	f.store.clock = func() time.Time { return t1.Add(time.Hour) }
	again, err := f.svc.MarkRead(context.Background(), "co-1", "bob", m.ID)
	require.NoError(t, err)
	require.NotNil(t, again.ReadAt)
	assert.True(t, again.ReadAt.Equal(t1))
	assert.Len(t, f.sink.ofType(wire.EventMessageRead), 1)
}

func TestMarkReadAccessRules(t *testing.T) {
	f := newMsgFixture()
	m := f.direct(t, "alice", "bob", "secret")

	_, err := f.svc.MarkRead(context.Background(), "co-1", "alice", m.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.MarkRead(context.Background(), "co-1", "dan", m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.MarkRead(context.Background(), "co-2", "eve", m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkReadGroupMessageIsNoOp(t *testing.T) {
	f := newMsgFixture()
	f.groups.seed(&model.Group{ID: "g-1", CompanyID: "co-1", Name: "eng", CreatedBy: "alice"}, "bob")
	m, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		GroupID: "g-1", Content: "fyi",
	}, nil)
	require.NoError(t, err)

	// Group history carries no read ledger; members get a quiet success.
	got, err := f.svc.MarkRead(context.Background(), "co-1", "bob", m.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReadAt)
	assert.Empty(t, f.sink.ofType(wire.EventMessageRead))

	_, err = f.svc.MarkRead(context.Background(), "co-1", "dan", m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReactTogglesAndBroadcastsFullSet(t *testing.T) {
	f := newMsgFixture()
	m := f.direct(t, "alice", "bob", "🎉?")

	reactions, err := f.svc.React(context.Background(), "co-1", "bob", m.ID, "🎉")
	require.NoError(t, err)
	require.Len(t, reactions, 1)

	reactions, err = f.svc.React(context.Background(), "co-1", "alice", m.ID, "🎉")
	require.NoError(t, err)
	require.Len(t, reactions, 2)

	// Same user, same emoji: off again.
	reactions, err = f.svc.React(context.Background(), "co-1", "bob", m.ID, "🎉")
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "alice", reactions[0].UserID)

	updates := f.sink.ofType(wire.EventReactionUpdated)
	require.Len(t, updates, 3)
	assert.Equal(t, []string{"alice"}, updates[0].targets)
	assert.Equal(t, []string{"bob"}, updates[1].targets)

	var state wire.ReactionState
	wirePayload(t, updates[2].event, &state)
	assert.Equal(t, m.ID, state.MessageID)
	require.Len(t, state.Reactions, 1)
	assert.Equal(t, "alice", state.Reactions[0].UserID)
}

func TestReactRequiresVisibility(t *testing.T) {
	f := newMsgFixture()
	m := f.direct(t, "alice", "bob", "private")

	_, err := f.svc.React(context.Background(), "co-1", "dan", m.ID, "👀")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Delete(context.Background(), "co-1", "alice", rbac.RoleMember, m.ID)
	require.NoError(t, err)
	_, err = f.svc.React(context.Background(), "co-1", "bob", m.ID, "👀")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditInsideWindowOnly(t *testing.T) {
	f := newMsgFixture()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.store.clock = func() time.Time { return t0 }
	m := f.direct(t, "alice", "bob", "typo hre")

	f.svc.now = func() time.Time { return t0.Add(24*time.Hour - time.Second) }
	edited, err := f.svc.Edit(context.Background(), "co-1", "alice", m.ID, "typo here")
	require.NoError(t, err)
	assert.Equal(t, "typo here", edited.Content)
	require.NotNil(t, edited.EditedAt)

	edits := f.sink.ofType(wire.EventMessageEdited)
	require.Len(t, edits, 1)
	assert.Equal(t, []string{"bob"}, edits[0].targets)

	second := f.direct(t, "alice", "bob", "old news")
	f.svc.now = func() time.Time { return t0.Add(24*time.Hour + time.Second) }
	_, err = f.svc.Edit(context.Background(), "co-1", "alice", second.ID, "too late")
	assert.ErrorIs(t, err, ErrEditWindowExpired)
}

func TestEditSenderOnly(t *testing.T) {
	f := newMsgFixture()
	m := f.direct(t, "alice", "bob", "mine")

	_, err := f.svc.Edit(context.Background(), "co-1", "bob", m.ID, "hijack")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Edit(context.Background(), "co-1", "dan", m.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Delete(context.Background(), "co-1", "alice", rbac.RoleMember, m.ID)
	require.NoError(t, err)
	_, err = f.svc.Edit(context.Background(), "co-1", "alice", m.ID, "post mortem")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTombstonesAndFans(t *testing.T) {
	f := newMsgFixture()
	m := f.direct(t, "alice", "bob", "take this back")

	got, err := f.svc.Delete(context.Background(), "co-1", "alice", rbac.RoleMember, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Empty(t, got.Content)
	assert.Equal(t, model.StateDeleted, got.Status)

	dels := f.sink.ofType(wire.EventMessageDeleted)
	require.Len(t, dels, 1)
	assert.Equal(t, []string{"bob"}, dels[0].targets)
	var w wire.Message
	wirePayload(t, dels[0].event, &w)
	assert.True(t, w.Deleted)
	assert.Empty(t, w.Content)

	// Deleting again succeeds quietly.
	_, err = f.svc.Delete(context.Background(), "co-1", "alice", rbac.RoleMember, m.ID)
	require.NoError(t, err)
	assert.Len(t, f.sink.ofType(wire.EventMessageDeleted), 1)
}

func TestDeletePrivilegeRules(t *testing.T) {
	f := newMsgFixture()
	m := f.direct(t, "alice", "bob", "controversial")

	_, err := f.svc.Delete(context.Background(), "co-1", "bob", rbac.RoleMember, m.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Delete(context.Background(), "co-1", "dan", rbac.RoleMember, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Company admins moderate anything in their tenant.
	got, err := f.svc.Delete(context.Background(), "co-1", "carol", rbac.RoleAdmin, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestSearchFallsBackToStore(t *testing.T) {
	f := newMsgFixture()
	f.direct(t, "alice", "bob", "deploy on friday")
	f.direct(t, "bob", "alice", "ship on saturday")

	msgs, err := f.svc.Search(context.Background(), "co-1", "alice", model.SearchQuery{Term: "deploy"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "deploy on friday", msgs[0].Content)
}

func TestSearchPrefersIndexWhenHealthy(t *testing.T) {
	f := newMsgFixture()
	m1 := f.direct(t, "alice", "bob", "deploy on friday")
	f.direct(t, "alice", "bob", "unrelated")

	searcher := &fakeSearcher{
		enabled: true,
		searchFn: func(q search.Query) ([]string, error) {
			assert.Equal(t, "co-1", q.CompanyID)
			assert.Equal(t, "deploy", q.Term)
			return []string{m1.ID}, nil
		},
	}
	f.svc = NewMessageService(f.store, f.users, f.groups, f.sink, searcher, nil)

	msgs, err := f.svc.Search(context.Background(), "co-1", "alice", model.SearchQuery{Term: "deploy"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, m1.ID, msgs[0].ID)
}

func TestSearchIndexFailureFallsBack(t *testing.T) {
	f := newMsgFixture()
	f.direct(t, "alice", "bob", "deploy on friday")

	searcher := &fakeSearcher{
		enabled:  true,
		searchFn: func(search.Query) ([]string, error) { return nil, errors.New("index down") },
	}
	f.svc = NewMessageService(f.store, f.users, f.groups, f.sink, searcher, nil)

	msgs, err := f.svc.Search(context.Background(), "co-1", "alice", model.SearchQuery{Term: "deploy"})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendIndexesDocument(t *testing.T) {
	f := newMsgFixture()
	searcher := &fakeSearcher{enabled: true}
	f.svc = NewMessageService(f.store, f.users, f.groups, f.sink, searcher, nil)

	m := f.direct(t, "alice", "bob", "indexed content")
	require.Len(t, searcher.indexed, 1)
	assert.Equal(t, m.ID, searcher.indexed[0].ID)
	assert.Equal(t, "direct", searcher.indexed[0].Kind)

	_, err := f.svc.Delete(context.Background(), "co-1", "alice", rbac.RoleMember, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, searcher.removed)
}

func TestSendEnhancedStoresAttachments(t *testing.T) {
	f := newMsgFixture()
	blob := &fakeBlob{}
	f.svc = NewMessageService(f.store, f.users, f.groups, f.sink, nil, blob)

	m, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		RecipientID: "bob", Content: "specs attached",
	}, []Upload{
		{FileName: "spec.pdf", Size: 3, MimeType: "application/pdf", Reader: strings.NewReader("abc")},
		{FileName: "notes.txt", Size: 2, MimeType: "text/plain", Reader: strings.NewReader("ok")},
	})
	require.NoError(t, err)
	require.Len(t, m.Attachments, 2)
	assert.Len(t, blob.puts, 2)
	for _, a := range m.Attachments {
		assert.True(t, strings.HasPrefix(a.ObjectKey, "co-1/"+m.ID+"/"))
		assert.Equal(t, "https://blobs.local/"+a.ObjectKey, a.URL)
	}

	news := f.sink.ofType(wire.EventMessageNew)
	require.Len(t, news, 1)
	var w wire.Message
	wirePayload(t, news[0].event, &w)
	require.Len(t, w.Attachments, 2)
	assert.Equal(t, "spec.pdf", w.Attachments[0].FileName)
}

func TestSendEnhancedAttachmentLimits(t *testing.T) {
	f := newMsgFixture()
	blob := &fakeBlob{}
	f.svc = NewMessageService(f.store, f.users, f.groups, f.sink, nil, blob)

	six := make([]Upload, 6)
	for i := range six {
		six[i] = Upload{FileName: "f", Size: 1, MimeType: "text/plain", Reader: strings.NewReader("x")}
	}
	_, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		RecipientID: "bob", Content: "too many",
	}, six)
	assert.ErrorIs(t, err, ErrAttachmentLimit)

	// Without a configured blob store uploads are refused outright.
	bare := newMsgFixture()
	_, err = bare.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		RecipientID: "bob", Content: "one file",
	}, []Upload{{FileName: "f", Size: 1, MimeType: "text/plain", Reader: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrNoAttachmentStore)
}

func TestSendEnhancedUploadFailureCleansUp(t *testing.T) {
	f := newMsgFixture()
	blob := &fakeBlob{}
	blob.putErr = func(key string) error {
		if len(blob.puts) == 1 {
			return errors.New("disk full")
		}
		return nil
	}
	f.svc = NewMessageService(f.store, f.users, f.groups, f.sink, nil, blob)

	_, err := f.svc.SendEnhanced(context.Background(), "co-1", "alice", &model.EnhancedSendRequest{
		RecipientID: "bob", Content: "doomed",
	}, []Upload{
		{FileName: "a", Size: 1, MimeType: "text/plain", Reader: strings.NewReader("x")},
		{FileName: "b", Size: 1, MimeType: "text/plain", Reader: strings.NewReader("y")},
	})
	require.Error(t, err)

	// The first object was stored and must be cleaned up again.
	require.Len(t, blob.puts, 1)
	assert.Equal(t, blob.puts, blob.removed)
	assert.Empty(t, f.sink.ofType(wire.EventMessageNew))
	assert.Empty(t, f.store.order)
}
