package service

import (
	"context"
	"time"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"

	"github.com/sirupsen/logrus"
)

type UserLister interface {
	UserDirectory
	ListByCompany(ctx context.Context, companyID string) ([]*model.User, error)
}

// LastSeenSource is the presence tracker read side.
type LastSeenSource interface {
	LastSeen(ctx context.Context, userIDs []string) (map[string]time.Time, error)
}

// UserService serves the company directory, decorated with liveness:
// online straight from the session registry, last-seen from the
// presence tracker.
type UserService struct {
	users    UserLister
	presence LastSeenSource
	events   EventSink
	log      *logrus.Entry
}

func NewUserService(users UserLister, presence LastSeenSource, events EventSink) *UserService {
	return &UserService{
		users:    users,
		presence: presence,
		events:   events,
		log:      logger.With("users"),
	}
}

func (s *UserService) List(ctx context.Context, companyID string) ([]*model.User, error) {
	users, err := s.users.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	s.decorate(ctx, users)
	return users, nil
}

func (s *UserService) Get(ctx context.Context, companyID, userID string) (*model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if u.CompanyID != companyID {
		return nil, ErrNotFound
	}
	s.decorate(ctx, []*model.User{u})
	return u, nil
}

func (s *UserService) decorate(ctx context.Context, users []*model.User) {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	seen, err := s.presence.LastSeen(ctx, ids)
	if err != nil {
		s.log.WithError(err).Warn("read last-seen")
		seen = map[string]time.Time{}
	}
	for _, u := range users {
		if at, ok := seen[u.ID]; ok {
			t := at
			u.LastSeen = &t
		}
		u.Online = s.events.IsOnline(u.ID)
	}
}
