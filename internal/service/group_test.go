package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"
)

type groupFixture struct {
	store *memGroups
	users *memUsers
	sink  *fakeSink
	svc   *GroupService
}

func newGroupFixture() *groupFixture {
	users := newMemUsers(
		poolUser("alice", "co-1"),
		poolUser("bob", "co-1"),
		poolUser("carol", "co-1", withRole("admin")),
		poolUser("dan", "co-1"),
		poolUser("eve", "co-2"),
	)
	store := newMemGroups()
	sink := newFakeSink()
	return &groupFixture{store: store, users: users, sink: sink, svc: NewGroupService(store, users, sink)}
}

// seed installs an existing group created by alice with the given extra
// members, bypassing Create's fan-out.
func (f *groupFixture) seed(id string, members ...string) {
	f.store.seed(&model.Group{ID: id, CompanyID: "co-1", Name: "Ops", CreatedBy: "alice"}, members...)
}

func TestCreateSeedsCreatorAsAdmin(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()

	g, err := f.svc.Create(ctx, "co-1", "alice", &model.CreateGroupRequest{
		Name:      "Launch",
		MemberIDs: []string{"alice", "bob", "dan"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, g.ID)
	assert.Equal(t, 3, g.MemberCount) // alice listed twice counts once

	role, member, err := f.store.Membership(ctx, g.ID, "alice")
	require.NoError(t, err)
	require.True(t, member)
	assert.Equal(t, model.GroupRoleAdmin, role)
	_, member, _ = f.store.Membership(ctx, g.ID, "bob")
	assert.True(t, member)

	created := f.sink.ofType(wire.EventGroupCreated)
	require.Len(t, created, 1)
	assert.Equal(t, []string{"bob", "dan"}, created[0].targets) // not echoed to the creator
	var payload wire.Group
	wirePayload(t, created[0].event, &payload)
	assert.Equal(t, "Launch", payload.Name)
	assert.Equal(t, "alice", payload.CreatedBy)
}

func TestCreateRejectsForeignMembers(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "co-1", "alice", &model.CreateGroupRequest{
		Name:      "Leak",
		MemberIDs: []string{"bob", "eve"},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Create(ctx, "co-1", "alice", &model.CreateGroupRequest{
		Name:      "Ghosts",
		MemberIDs: []string{"nobody"},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, f.store.rows)
	assert.Empty(t, f.sink.ofType(wire.EventGroupCreated))
}

func TestUpdateRequiresGroupAdmin(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()
	f.seed("g-1", "bob")

	name := "Ops v2"
	_, err := f.svc.Update(ctx, "co-1", "bob", rbac.RoleMember, "g-1", &model.UpdateGroupRequest{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := f.svc.Update(ctx, "co-1", "alice", rbac.RoleMember, "g-1", &model.UpdateGroupRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ops v2", updated.Name)

	fanned := f.sink.ofType(wire.EventGroupUpdated)
	require.Len(t, fanned, 1)
	assert.Equal(t, []string{"bob"}, fanned[0].targets)

	// A company admin manages any group without being a member.
	name = "Ops v3"
	_, err = f.svc.Update(ctx, "co-1", "carol", rbac.RoleAdmin, "g-1", &model.UpdateGroupRequest{Name: &name})
	assert.NoError(t, err)

	// Another tenant cannot even see the group.
	_, err = f.svc.Update(ctx, "co-2", "eve", rbac.RoleAdmin, "g-1", &model.UpdateGroupRequest{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddMemberRosterAndFanOut(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()
	f.seed("g-1", "bob")

	err := f.svc.AddMember(ctx, "co-1", "bob", rbac.RoleMember, "g-1", &model.AddGroupMemberRequest{UserID: "dan"})
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.svc.AddMember(ctx, "co-1", "alice", rbac.RoleMember, "g-1", &model.AddGroupMemberRequest{UserID: "dan"})
	require.NoError(t, err)

	role, member, _ := f.store.Membership(ctx, "g-1", "dan")
	require.True(t, member)
	assert.Equal(t, model.GroupRoleMember, role) // default when the request omits one

	added := f.sink.ofType(wire.EventGroupMemberAdded)
	require.Len(t, added, 1)
	assert.Equal(t, []string{"bob", "dan"}, added[0].targets)
	var ms wire.Membership
	wirePayload(t, added[0].event, &ms)
	assert.Equal(t, "g-1", ms.GroupID)
	assert.Equal(t, "Ops", ms.GroupName)
	assert.Equal(t, "dan", ms.UserID)
	assert.Equal(t, "alice", ms.ActorID)
}

func TestAddMemberConflictsAndTenancy(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()
	f.seed("g-1", "bob")

	err := f.svc.AddMember(ctx, "co-1", "alice", rbac.RoleMember, "g-1", &model.AddGroupMemberRequest{UserID: "bob"})
	assert.ErrorIs(t, err, ErrAlreadyMember)

	err = f.svc.AddMember(ctx, "co-1", "alice", rbac.RoleMember, "g-1", &model.AddGroupMemberRequest{UserID: "eve"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.AddMember(ctx, "co-1", "alice", rbac.RoleMember, "g-1", &model.AddGroupMemberRequest{UserID: "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, f.sink.ofType(wire.EventGroupMemberAdded))
}

func TestRemoveMemberSelfLeave(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()
	f.seed("g-1", "bob", "dan")

	err := f.svc.RemoveMember(ctx, "co-1", "bob", rbac.RoleMember, "g-1", "bob")
	require.NoError(t, err)

	_, member, _ := f.store.Membership(ctx, "g-1", "bob")
	assert.False(t, member)

	// The leaver gets a direct event; the rest see the roster change.
	gone := f.sink.ofType(wire.EventGroupRemovedFrom)
	require.Len(t, gone, 1)
	assert.Equal(t, "user", gone[0].kind)
	assert.Equal(t, []string{"bob"}, gone[0].targets)

	roster := f.sink.ofType(wire.EventGroupMemberRemoved)
	require.Len(t, roster, 1)
	assert.Equal(t, []string{"alice", "dan"}, roster[0].targets)
	var ms wire.Membership
	wirePayload(t, roster[0].event, &ms)
	assert.Equal(t, "bob", ms.UserID)
	assert.Equal(t, "bob", ms.ActorID)
}

func TestRemoveMemberNeedsAdmin(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()
	f.seed("g-1", "bob", "dan")

	err := f.svc.RemoveMember(ctx, "co-1", "dan", rbac.RoleMember, "g-1", "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.svc.RemoveMember(ctx, "co-1", "alice", rbac.RoleMember, "g-1", "bob")
	require.NoError(t, err)

	err = f.svc.RemoveMember(ctx, "co-1", "alice", rbac.RoleMember, "g-1", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMembersCarryOnlineFlags(t *testing.T) {
	f := newGroupFixture()
	ctx := context.Background()
	f.seed("g-1", "bob")
	f.sink.online["bob"] = true

	members, err := f.svc.Members(ctx, "co-1", "alice", "g-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	byID := map[string]*model.GroupMember{}
	for _, m := range members {
		byID[m.UserID] = m
	}
	assert.True(t, byID["bob"].Online)
	assert.False(t, byID["alice"].Online)

	_, err = f.svc.Members(ctx, "co-1", "dan", "g-1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Members(ctx, "co-2", "eve", "g-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
