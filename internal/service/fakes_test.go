package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/repository"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/search"
	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"
)

// In-memory fakes mirroring the repository semantics the services rely
// on: set-once ledger stamps, toggled reactions, stable pool order.

func strPtr(s string) *string { return &s }

func containsStr(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// memUsers satisfies UserDirectory, UserLister and EligiblePool.
type memUsers struct {
	mu    sync.Mutex
	order []string
	rows  map[string]*model.User
}

func newMemUsers(users ...*model.User) *memUsers {
	m := &memUsers{rows: make(map[string]*model.User)}
	for _, u := range users {
		m.add(u)
	}
	return m
}

func (m *memUsers) add(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[u.ID]; !ok {
		m.order = append(m.order, u.ID)
	}
	m.rows[u.ID] = u
}

func (m *memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) ListByCompany(_ context.Context, companyID string) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, id := range m.order {
		if u := m.rows[id]; u.CompanyID == companyID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memUsers) Eligible(_ context.Context, companyID string, params model.RuleParams) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.User
	for _, id := range m.order {
		u := m.rows[id]
		if u.CompanyID != companyID {
			continue
		}
		if params.DepartmentID != "" && (u.DepartmentID == nil || *u.DepartmentID != params.DepartmentID) {
			continue
		}
		if len(params.Roles) > 0 && !containsStr(params.Roles, u.Role) {
			continue
		}
		if containsStr(params.Exclude, u.ID) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

// memGroups satisfies GroupStore.
type memGroups struct {
	mu      sync.Mutex
	rows    map[string]*model.Group
	members map[string][]*model.GroupMember
}

func newMemGroups() *memGroups {
	return &memGroups{
		rows:    make(map[string]*model.Group),
		members: make(map[string][]*model.GroupMember),
	}
}

// seed installs a group with the creator as admin plus members, skipping
// the Create validation path.
func (m *memGroups) seed(g *model.Group, memberIDs ...string) {
	_ = m.Create(context.Background(), g, memberIDs)
}

func (m *memGroups) Create(_ context.Context, g *model.Group, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.UpdatedAt = g.CreatedAt
	cp := *g
	m.rows[g.ID] = &cp

	m.members[g.ID] = append(m.members[g.ID], &model.GroupMember{
		GroupID: g.ID, UserID: g.CreatedBy, Role: model.GroupRoleAdmin, JoinedAt: g.CreatedAt,
	})
	for _, uid := range memberIDs {
		if uid == g.CreatedBy {
			continue
		}
		m.members[g.ID] = append(m.members[g.ID], &model.GroupMember{
			GroupID: g.ID, UserID: uid, Role: model.GroupRoleMember, JoinedAt: g.CreatedAt,
		})
	}
	return nil
}

func (m *memGroups) GetByID(_ context.Context, id string) (*model.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *g
	return &cp, nil
}

func (m *memGroups) Update(_ context.Context, id string, req *model.UpdateGroupRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if req.Name != nil {
		g.Name = *req.Name
	}
	if req.Description != nil {
		g.Description = *req.Description
	}
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memGroups) ListForUser(_ context.Context, userID string) ([]*model.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Group
	for id, members := range m.members {
		for _, gm := range members {
			if gm.UserID == userID {
				cp := *m.rows[id]
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memGroups) Members(_ context.Context, groupID string) ([]*model.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.GroupMember, 0, len(m.members[groupID]))
	for _, gm := range m.members[groupID] {
		cp := *gm
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memGroups) MemberIDs(_ context.Context, groupID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.members[groupID]))
	for _, gm := range m.members[groupID] {
		ids = append(ids, gm.UserID)
	}
	return ids, nil
}

func (m *memGroups) Membership(_ context.Context, groupID, userID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gm := range m.members[groupID] {
		if gm.UserID == userID {
			return gm.Role, true, nil
		}
	}
	return "", false, nil
}

func (m *memGroups) AddMember(_ context.Context, groupID, userID, role string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gm := range m.members[groupID] {
		if gm.UserID == userID {
			return false, nil
		}
	}
	m.members[groupID] = append(m.members[groupID], &model.GroupMember{
		GroupID: groupID, UserID: userID, Role: role, JoinedAt: time.Now().UTC(),
	})
	return true, nil
}

func (m *memGroups) RemoveMember(_ context.Context, groupID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.members[groupID]
	for i, gm := range list {
		if gm.UserID == userID {
			m.members[groupID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// memMessages satisfies MessageStore.
type memMessages struct {
	mu        sync.Mutex
	order     []string
	rows      map[string]*model.Message
	reactions map[string][]model.Reaction
	attSeq    int
	clock     func() time.Time

	insertErr error
}

func newMemMessages() *memMessages {
	return &memMessages{
		rows:      make(map[string]*model.Message),
		reactions: make(map[string][]model.Reaction),
		clock:     time.Now,
	}
}

func (m *memMessages) Insert(_ context.Context, msg *model.Message, attachments []model.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.clock().UTC()
	}
	for i := range attachments {
		m.attSeq++
		attachments[i].ID = fmt.Sprintf("att-%d", m.attSeq)
		attachments[i].MessageID = msg.ID
		attachments[i].CreatedAt = msg.CreatedAt
	}
	msg.Attachments = attachments
	msg.DeriveStatus()

	cp := *msg
	cp.Attachments = append([]model.Attachment(nil), attachments...)
	m.rows[msg.ID] = &cp
	m.order = append(m.order, msg.ID)
	return nil
}

func (m *memMessages) get(id string) (*model.Message, bool) {
	msg, ok := m.rows[id]
	if !ok {
		return nil, false
	}
	cp := *msg
	cp.Attachments = append([]model.Attachment(nil), msg.Attachments...)
	cp.Reactions = append([]model.Reaction(nil), m.reactions[id]...)
	cp.DeriveStatus()
	return &cp, true
}

func (m *memMessages) GetByID(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.get(id)
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return msg, nil
}

func (m *memMessages) page(match func(*model.Message) bool, limit int, before time.Time) []*model.Message {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*model.Message
	for _, id := range m.order {
		msg, _ := m.get(id)
		if !match(msg) {
			continue
		}
		if !before.IsZero() && !msg.CreatedAt.Before(before) {
			continue
		}
		out = append(out, msg)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (m *memMessages) Thread(_ context.Context, userA, userB string, limit int, before time.Time) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page(func(msg *model.Message) bool {
		if msg.RecipientID == nil {
			return false
		}
		return (msg.SenderID == userA && *msg.RecipientID == userB) ||
			(msg.SenderID == userB && *msg.RecipientID == userA)
	}, limit, before), nil
}

func (m *memMessages) GroupThread(_ context.Context, groupID string, limit int, before time.Time) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page(func(msg *model.Message) bool {
		return msg.GroupID != nil && *msg.GroupID == groupID
	}, limit, before), nil
}

func (m *memMessages) MarkDelivered(_ context.Context, messageID, recipientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markDelivered(messageID, recipientID), nil
}

func (m *memMessages) markDelivered(messageID, recipientID string) bool {
	msg, ok := m.rows[messageID]
	if !ok || msg.RecipientID == nil || *msg.RecipientID != recipientID {
		return false
	}
	if msg.DeliveredAt != nil || msg.DeletedAt != nil {
		return false
	}
	at := m.clock().UTC()
	msg.DeliveredAt = &at
	return true
}

func (m *memMessages) MarkManyDelivered(_ context.Context, messageIDs []string, recipientID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var transitioned []string
	for _, id := range messageIDs {
		if m.markDelivered(id, recipientID) {
			transitioned = append(transitioned, id)
		}
	}
	return transitioned, nil
}

func (m *memMessages) MarkRead(_ context.Context, messageID, recipientID string) (*time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[messageID]
	if !ok || msg.RecipientID == nil || *msg.RecipientID != recipientID {
		return nil, false, nil
	}
	if msg.ReadAt != nil || msg.DeletedAt != nil {
		return nil, false, nil
	}
	at := m.clock().UTC()
	msg.ReadAt = &at
	if msg.DeliveredAt == nil {
		msg.DeliveredAt = &at
	}
	return &at, true, nil
}

func (m *memMessages) Edit(_ context.Context, messageID, content string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[messageID]
	if !ok || msg.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	at := m.clock().UTC()
	msg.Content = content
	msg.EditedAt = &at
	out, _ := m.get(messageID)
	return out, nil
}

func (m *memMessages) SoftDelete(_ context.Context, messageID string) (*time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[messageID]
	if !ok {
		return nil, false, pgx.ErrNoRows
	}
	if msg.DeletedAt != nil {
		return msg.DeletedAt, false, nil
	}
	at := m.clock().UTC()
	msg.DeletedAt = &at
	return &at, true, nil
}

func (m *memMessages) ToggleReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.reactions[messageID]
	for i, r := range list {
		if r.UserID == userID && r.Emoji == emoji {
			m.reactions[messageID] = append(list[:i], list[i+1:]...)
			return false, nil
		}
	}
	m.reactions[messageID] = append(list, model.Reaction{
		MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: m.clock().UTC(),
	})
	return true, nil
}

func (m *memMessages) Reactions(_ context.Context, messageID string) ([]model.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Reaction(nil), m.reactions[messageID]...), nil
}

func (m *memMessages) ByIDs(_ context.Context, companyID string, ids []string) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, id := range ids {
		msg, ok := m.get(id)
		if !ok || msg.CompanyID != companyID {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *memMessages) Search(_ context.Context, companyID, requesterID string, q model.SearchQuery) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	term := strings.ToLower(q.Term)
	var out []*model.Message
	for _, id := range m.order {
		msg, _ := m.get(id)
		if msg.CompanyID != companyID || msg.Deleted {
			continue
		}
		if msg.GroupID == nil && msg.SenderID != requesterID &&
			(msg.RecipientID == nil || *msg.RecipientID != requesterID) {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Content), term) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// memTasks satisfies TaskStore.
type memTasks struct {
	mu    sync.Mutex
	order []string
	rows  map[string]*model.Task

	insertErr   error
	assigneeErr error
}

func newMemTasks() *memTasks {
	return &memTasks{rows: make(map[string]*model.Task)}
}

func (m *memTasks) Insert(_ context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.rows[t.ID] = &cp
	m.order = append(m.order, t.ID)
	return nil
}

func (m *memTasks) GetByID(_ context.Context, id string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) List(_ context.Context, companyID string, f repository.TaskFilter) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Task
	for _, id := range m.order {
		t := m.rows[id]
		if t.CompanyID != companyID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.AssigneeID != "" && (t.AssigneeID == nil || *t.AssigneeID != f.AssigneeID) {
			continue
		}
		if f.DepartmentID != "" && (t.DepartmentID == nil || *t.DepartmentID != f.DepartmentID) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memTasks) SetAssignee(_ context.Context, taskID string, assigneeID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.assigneeErr != nil {
		return m.assigneeErr
	}
	t, ok := m.rows[taskID]
	if !ok {
		return pgx.ErrNoRows
	}
	t.AssigneeID = assigneeID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memTasks) UpdateStatus(_ context.Context, taskID, status string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[taskID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

// fakeRules satisfies RuleSource with the repository's cursor contract:
// slot = cursor mod pool size, then cursor advances to slot+1.
type fakeRules struct {
	mu      sync.Mutex
	rules   []*model.AssignmentRule
	cursors map[string]int
	listErr error
}

func newFakeRules(rules ...*model.AssignmentRule) *fakeRules {
	return &fakeRules{rules: rules, cursors: make(map[string]int)}
}

func (f *fakeRules) ListEnabled(_ context.Context, companyID string) ([]*model.AssignmentRule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.AssignmentRule
	for _, r := range f.rules {
		if r.CompanyID == companyID && r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (f *fakeRules) AdvanceCursor(_ context.Context, ruleID string, eligibleCount int) (int, error) {
	if eligibleCount <= 0 {
		return 0, fmt.Errorf("advance cursor: eligible count must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	slot := f.cursors[ruleID] % eligibleCount
	f.cursors[ruleID] = slot + 1
	return slot, nil
}

// fakeWorkload satisfies WorkloadSource.
type fakeWorkload struct {
	open      map[string]int
	completed map[string]int
	err       error
}

func (f *fakeWorkload) OpenCounts(_ context.Context, _ []string) (map[string]int, error) {
	return f.open, f.err
}

func (f *fakeWorkload) CompletedCounts(_ context.Context, _ []string) (map[string]int, error) {
	return f.completed, f.err
}

// fakePresence satisfies PresenceSource and LastSeenSource.
type fakePresence struct {
	seen map[string]time.Time
	err  error
}

func (f *fakePresence) LastSeen(_ context.Context, _ []string) (map[string]time.Time, error) {
	return f.seen, f.err
}

// fakeAssigner satisfies Assigner.
type fakeAssigner struct {
	fn func(ctx context.Context, task *model.Task) (string, string)
}

func (f *fakeAssigner) Assign(ctx context.Context, task *model.Task) (string, string) {
	return f.fn(ctx, task)
}

// fakeAlerts satisfies Alerter.
type fakeAlerts struct {
	mu         sync.Mutex
	unassigned []string
}

func (f *fakeAlerts) TaskUnassigned(_, taskID, _ string) {
	f.mu.Lock()
	f.unassigned = append(f.unassigned, taskID)
	f.mu.Unlock()
}

func (f *fakeAlerts) taskIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unassigned...)
}

// fakeSearcher satisfies Searcher.
type fakeSearcher struct {
	mu       sync.Mutex
	enabled  bool
	searchFn func(q search.Query) ([]string, error)
	indexed  []search.Doc
	removed  []string
}

func (f *fakeSearcher) Enabled() bool { return f.enabled }

func (f *fakeSearcher) Search(q search.Query) ([]string, error) {
	return f.searchFn(q)
}

func (f *fakeSearcher) Index(doc search.Doc) {
	f.mu.Lock()
	f.indexed = append(f.indexed, doc)
	f.mu.Unlock()
}

func (f *fakeSearcher) Remove(id string) {
	f.mu.Lock()
	f.removed = append(f.removed, id)
	f.mu.Unlock()
}

// fakeBlob satisfies AttachmentStore.
type fakeBlob struct {
	mu      sync.Mutex
	puts    []string
	removed []string
	putErr  func(key string) error
}

func (f *fakeBlob) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if r != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	if f.putErr != nil {
		if err := f.putErr(key); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.puts = append(f.puts, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeBlob) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	f.removed = append(f.removed, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeBlob) PresignedURL(_ context.Context, key, _ string) (string, error) {
	return "https://blobs.local/" + key, nil
}

// sinkEvent is one recorded fan-out: where it went and what it said.
type sinkEvent struct {
	kind    string // user, users, company
	targets []string
	event   wire.Event
}

// fakeSink satisfies EventSink and records every frame, decoded.
type fakeSink struct {
	mu     sync.Mutex
	events []sinkEvent
	online map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{online: make(map[string]bool)}
}

func (f *fakeSink) record(kind string, targets []string, frame []byte) {
	ev, err := wire.Decode(frame)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.events = append(f.events, sinkEvent{kind: kind, targets: append([]string(nil), targets...), event: ev})
	f.mu.Unlock()
}

func (f *fakeSink) ToUser(userID string, frame []byte) {
	f.record("user", []string{userID}, frame)
}

func (f *fakeSink) ToUsers(userIDs []string, frame []byte) {
	f.record("users", userIDs, frame)
}

func (f *fakeSink) ToCompany(companyID string, frame []byte) {
	f.record("company", []string{companyID}, frame)
}

func (f *fakeSink) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeSink) OnlineIDs(_ string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, on := range f.online {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ofType filters the recorded events by type.
func (f *fakeSink) ofType(t wire.EventType) []sinkEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sinkEvent
	for _, e := range f.events {
		if e.event.Type == t {
			out = append(out, e)
		}
	}
	return out
}
