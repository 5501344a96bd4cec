// Package search accelerates message search with an optional
// Meilisearch index. Postgres ILIKE remains the canonical path; when the
// engine is absent or unhealthy the caller falls back to it and nothing
// is lost but speed.
package search

import (
	"github.com/sirupsen/logrus"
)

const (
	ScopeDirect = "direct"
	ScopeGroup  = "group"
	ScopeAll    = "all"
)

// Query carries everything the index needs to answer tenant- and
// visibility-scoped message search.
type Query struct {
	CompanyID      string
	RequesterID    string
	MemberGroupIDs []string
	Term           string
	Scope          string
	UserID         string
	GroupID        string
	Limit          int
	Offset         int
}

type Service struct {
	meili *Meili
	log   *logrus.Entry
}

// NewService wraps an optional engine. meili may be nil when search
// acceleration is not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili, log: logrus.WithField("component", "search")}
}

// Enabled reports whether the accelerated path is currently usable.
func (s *Service) Enabled() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search returns matching message ids from the index. Callers must
// treat any error as a cue to use the Postgres path.
func (s *Service) Search(q Query) ([]string, error) {
	return s.meili.Search(q)
}

// Index upserts a message document, fire-and-forget.
func (s *Service) Index(doc Doc) {
	if !s.Enabled() {
		return
	}
	go func() {
		if err := s.meili.Index(doc); err != nil {
			s.log.WithError(err).Warnf("index message %s", doc.ID)
		}
	}()
}

// Remove deletes a message from the index, fire-and-forget. Used when a
// message is tombstoned so its content stops matching.
func (s *Service) Remove(id string) {
	if !s.Enabled() {
		return
	}
	go func() {
		if err := s.meili.Delete(id); err != nil {
			s.log.WithError(err).Warnf("deindex message %s", id)
		}
	}()
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
