package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
)

const idxMessages = "collab_messages"

// Doc is the indexed shape of a message. Kind disambiguates direct from
// group rows so filters never need IS NULL semantics.
type Doc struct {
	ID          string `json:"id"`
	CompanyID   string `json:"companyId"`
	Kind        string `json:"kind"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"createdAt"`
}

// Meili wraps the Meilisearch client with a health flag so callers can
// fall back to Postgres the moment the engine goes away.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     *logrus.Entry
}

// NewMeili connects and configures the message index. An unreachable
// engine is not an error: the instance starts unhealthy and the health
// loop picks it up when it appears.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    logrus.WithField("component", "search"),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.WithError(err).Warnf("meilisearch unavailable at %s", url)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxMessages,
		PrimaryKey: "id",
	}); err != nil {
		m.log.WithError(err).Debug("create index (may already exist)")
	}

	index := m.client.Index(idxMessages)
	filterable := []interface{}{"companyId", "kind", "senderId", "recipientId", "groupId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.WithError(err).Warn("update filterable attributes")
	}
	searchable := []string{"content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.WithError(err).Warn("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Index(doc Doc) error {
	_, err := m.client.Index(idxMessages).AddDocuments([]Doc{doc}, nil)
	return err
}

func (m *Meili) Delete(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}

// Search returns matching message ids, newest relevance order as ranked
// by the engine. The caller reloads rows from Postgres; the index is
// never the source of truth.
func (m *Meili) Search(q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	filter, empty := buildFilter(q)
	if empty {
		return nil, nil
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 25
	}

	resp, err := m.client.Index(idxMessages).Search(q.Term, &meili.SearchRequest{
		Filter: filter,
		Limit:  limit,
		Offset: int64(q.Offset),
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	ids := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if id := decodeHitID(hit); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// buildFilter assembles the visibility filter: tenant scoping plus the
// requester's reachable messages (their direct threads and current
// groups). empty reports a filter that can match nothing, e.g. group
// scope for a user in no groups.
func buildFilter(q Query) (string, bool) {
	direct := fmt.Sprintf("(kind = %q AND (senderId = %q OR recipientId = %q))", "direct", q.RequesterID, q.RequesterID)

	group := ""
	if len(q.MemberGroupIDs) > 0 {
		quoted := make([]string, len(q.MemberGroupIDs))
		for i, g := range q.MemberGroupIDs {
			quoted[i] = fmt.Sprintf("%q", g)
		}
		group = fmt.Sprintf("(kind = %q AND groupId IN [%s])", "group", strings.Join(quoted, ", "))
	}

	var visibility string
	switch q.Scope {
	case ScopeDirect:
		visibility = direct
	case ScopeGroup:
		if group == "" {
			return "", true
		}
		visibility = group
	default:
		visibility = direct
		if group != "" {
			visibility = "(" + direct + " OR " + group + ")"
		}
	}

	parts := []string{fmt.Sprintf("companyId = %q", q.CompanyID), visibility}
	if q.UserID != "" {
		parts = append(parts, fmt.Sprintf("(senderId = %q OR recipientId = %q)", q.UserID, q.UserID))
	}
	if q.GroupID != "" {
		parts = append(parts, fmt.Sprintf("groupId = %q", q.GroupID))
	}
	return strings.Join(parts, " AND "), false
}

func decodeHitID(hit meili.Hit) string {
	raw, ok := hit["id"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}
