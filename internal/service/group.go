package service

import (
	"context"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"
	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GroupStore extends the read-side GroupDirectory with mutations.
type GroupStore interface {
	GroupDirectory
	Create(ctx context.Context, g *model.Group, memberIDs []string) error
	Update(ctx context.Context, id string, req *model.UpdateGroupRequest) error
	Members(ctx context.Context, groupID string) ([]*model.GroupMember, error)
	AddMember(ctx context.Context, groupID, userID, role string) (bool, error)
	RemoveMember(ctx context.Context, groupID, userID string) (bool, error)
}

type GroupService struct {
	groups GroupStore
	users  UserDirectory
	events EventSink
	log    *logrus.Entry
}

func NewGroupService(groups GroupStore, users UserDirectory, events EventSink) *GroupService {
	return &GroupService{
		groups: groups,
		users:  users,
		events: events,
		log:    logger.With("groups"),
	}
}

// Create makes a group with the creator as its first admin plus the
// listed members. Every listed member must exist in the same company.
func (s *GroupService) Create(ctx context.Context, companyID, creatorID string, req *model.CreateGroupRequest) (*model.Group, error) {
	for _, memberID := range req.MemberIDs {
		u, err := s.users.GetByID(ctx, memberID)
		if err != nil {
			return nil, mapNoRows(err)
		}
		if u.CompanyID != companyID {
			return nil, ErrNotFound
		}
	}

	g := &model.Group{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   creatorID,
	}
	if err := s.groups.Create(ctx, g, req.MemberIDs); err != nil {
		return nil, err
	}

	memberIDs, err := s.groups.MemberIDs(ctx, g.ID)
	if err != nil {
		s.log.WithError(err).Warnf("resolve members of new group %s", g.ID)
		memberIDs = req.MemberIDs
	}
	g.MemberCount = len(memberIDs)

	s.events.ToUsers(exclude(memberIDs, creatorID), wire.MustMarshal(wire.EventGroupCreated, wireGroup(g)))
	return g, nil
}

func (s *GroupService) Get(ctx context.Context, companyID, groupID string) (*model.Group, error) {
	g, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if g.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return g, nil
}

// Update changes name/description. Group admins (and company admins)
// only.
func (s *GroupService) Update(ctx context.Context, companyID, requesterID string, role rbac.Role, groupID string, req *model.UpdateGroupRequest) (*model.Group, error) {
	g, err := s.Get(ctx, companyID, groupID)
	if err != nil {
		return nil, err
	}
	ok, err := s.canManage(ctx, g, requesterID, role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}

	if err := s.groups.Update(ctx, groupID, req); err != nil {
		return nil, err
	}
	updated, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, mapNoRows(err)
	}

	memberIDs, err := s.groups.MemberIDs(ctx, groupID)
	if err == nil {
		s.events.ToUsers(exclude(memberIDs, requesterID), wire.MustMarshal(wire.EventGroupUpdated, wireGroup(updated)))
	}
	return updated, nil
}

// ListMine returns the groups the user belongs to.
func (s *GroupService) ListMine(ctx context.Context, userID string) ([]*model.Group, error) {
	return s.groups.ListForUser(ctx, userID)
}

// Members lists a group's membership with live online flags. Members
// only.
func (s *GroupService) Members(ctx context.Context, companyID, requesterID, groupID string) ([]*model.GroupMember, error) {
	g, err := s.Get(ctx, companyID, groupID)
	if err != nil {
		return nil, err
	}
	_, member, err := s.groups.Membership(ctx, g.ID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrForbidden
	}

	members, err := s.groups.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		m.Online = s.events.IsOnline(m.UserID)
	}
	return members, nil
}

// AddMember admits a same-company user. Adding an existing member is a
// conflict, not a silent no-op, so clients learn their roster is stale.
func (s *GroupService) AddMember(ctx context.Context, companyID, requesterID string, role rbac.Role, groupID string, req *model.AddGroupMemberRequest) error {
	g, err := s.Get(ctx, companyID, groupID)
	if err != nil {
		return err
	}
	ok, err := s.canManage(ctx, g, requesterID, role)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}

	u, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return mapNoRows(err)
	}
	if u.CompanyID != companyID {
		return ErrNotFound
	}

	memberRole := req.Role
	if memberRole == "" {
		memberRole = model.GroupRoleMember
	}
	added, err := s.groups.AddMember(ctx, groupID, req.UserID, memberRole)
	if err != nil {
		return err
	}
	if !added {
		return ErrAlreadyMember
	}

	memberIDs, err := s.groups.MemberIDs(ctx, groupID)
	if err == nil {
		s.events.ToUsers(exclude(memberIDs, requesterID), wire.MustMarshal(wire.EventGroupMemberAdded, wire.Membership{
			GroupID: groupID, GroupName: g.Name, UserID: req.UserID, ActorID: requesterID,
		}))
	}
	return nil
}

// RemoveMember evicts a member (group admin) or lets a member leave
// (self-removal). The removed user gets their own event so their client
// drops the thread; the rest see a roster change.
func (s *GroupService) RemoveMember(ctx context.Context, companyID, requesterID string, role rbac.Role, groupID, userID string) error {
	g, err := s.Get(ctx, companyID, groupID)
	if err != nil {
		return err
	}
	if requesterID != userID {
		ok, err := s.canManage(ctx, g, requesterID, role)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}
	}

	removed, err := s.groups.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}

	membership := wire.Membership{GroupID: groupID, GroupName: g.Name, UserID: userID, ActorID: requesterID}
	s.events.ToUser(userID, wire.MustMarshal(wire.EventGroupRemovedFrom, membership))

	remaining, err := s.groups.MemberIDs(ctx, groupID)
	if err == nil {
		s.events.ToUsers(exclude(remaining, requesterID), wire.MustMarshal(wire.EventGroupMemberRemoved, membership))
	}
	return nil
}

func (s *GroupService) canManage(ctx context.Context, g *model.Group, userID string, role rbac.Role) (bool, error) {
	if rbac.Can(role, rbac.ActionManageAnyGroup) {
		return true, nil
	}
	memberRole, member, err := s.groups.Membership(ctx, g.ID, userID)
	if err != nil {
		return false, err
	}
	return member && memberRole == model.GroupRoleAdmin, nil
}

func wireGroup(g *model.Group) wire.Group {
	return wire.Group{
		ID:          g.ID,
		CompanyID:   g.CompanyID,
		Name:        g.Name,
		Description: g.Description,
		CreatedBy:   g.CreatedBy,
		CreatedAt:   g.CreatedAt,
	}
}
