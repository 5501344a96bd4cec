package service

import (
	"sort"
	"sync"
	"time"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/metrics"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/notify"
	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"

	"github.com/sirupsen/logrus"
)

// Session is one authenticated socket connection. A user may hold
// several at once (multi-device); fan-out targets all of them.
type Session struct {
	UserID    string
	CompanyID string
	Name      string
	Send      chan []byte
}

func NewSession(userID, companyID, name string) *Session {
	return &Session{
		UserID:    userID,
		CompanyID: companyID,
		Name:      name,
		Send:      make(chan []byte, 256),
	}
}

type typingKey struct {
	userID string
	scope  string
}

// Hub is the realtime session registry. Sessions register after their
// auth frame is verified; every mutation goes through the run loop,
// reads take the shared lock. Presence is derived from the registry:
// a user's first session up broadcasts online to the company, the last
// one down broadcasts offline.
type Hub struct {
	alerts *notify.Webhook
	log    *logrus.Entry

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	byUser   map[string]map[*Session]struct{}

	register   chan *Session
	unregister chan *Session
	done       chan struct{}

	typingTTL time.Duration
	typingMu  sync.Mutex
	typing    map[typingKey]*time.Timer

	now func() time.Time
}

func NewHub(alerts *notify.Webhook) *Hub {
	return &Hub{
		alerts:     alerts,
		log:        logrus.WithField("component", "hub"),
		sessions:   make(map[*Session]struct{}),
		byUser:     make(map[string]map[*Session]struct{}),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		done:       make(chan struct{}),
		typingTTL:  5 * time.Second,
		typing:     make(map[typingKey]*time.Timer),
		now:        time.Now,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = struct{}{}
			if h.byUser[s.UserID] == nil {
				h.byUser[s.UserID] = make(map[*Session]struct{})
			}
			h.byUser[s.UserID][s] = struct{}{}
			first := len(h.byUser[s.UserID]) == 1
			total := len(h.sessions)
			h.mu.Unlock()

			metrics.ActiveSessions.Inc()
			h.log.Debugf("%s connected (sessions: %d)", s.Name, total)
			if first {
				h.ToCompany(s.CompanyID, wire.MustMarshal(wire.EventPresenceUpdate, wire.PresenceUpdate{
					UserID: s.UserID,
					Status: "online",
				}))
			}

		case s := <-h.unregister:
			h.mu.Lock()
			_, ok := h.sessions[s]
			var last bool
			if ok {
				delete(h.sessions, s)
				delete(h.byUser[s.UserID], s)
				if len(h.byUser[s.UserID]) == 0 {
					delete(h.byUser, s.UserID)
					last = true
				}
				close(s.Send)
			}
			total := len(h.sessions)
			h.mu.Unlock()

			if !ok {
				continue
			}
			metrics.ActiveSessions.Dec()
			h.log.Debugf("%s disconnected (sessions: %d)", s.Name, total)
			if last {
				seen := h.now().UTC()
				h.ToCompany(s.CompanyID, wire.MustMarshal(wire.EventPresenceUpdate, wire.PresenceUpdate{
					UserID:   s.UserID,
					Status:   "offline",
					LastSeen: &seen,
				}))
			}

		case <-h.done:
			return
		}
	}
}

func (h *Hub) Shutdown() {
	close(h.done)
	h.typingMu.Lock()
	for k, t := range h.typing {
		t.Stop()
		delete(h.typing, k)
	}
	h.typingMu.Unlock()
}

func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.done:
	}
}

func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// ToUser queues a frame on every session of one user.
func (h *Hub) ToUser(userID string, frame []byte) {
	h.mu.RLock()
	var overflowed []*Session
	for s := range h.byUser[userID] {
		if !h.deliver(s, frame) {
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(overflowed)
}

// ToUsers fans a frame out to each listed user. Callers exclude the
// acting user themselves when the event should not echo.
func (h *Hub) ToUsers(userIDs []string, frame []byte) {
	h.mu.RLock()
	var overflowed []*Session
	for _, id := range userIDs {
		for s := range h.byUser[id] {
			if !h.deliver(s, frame) {
				overflowed = append(overflowed, s)
			}
		}
	}
	h.mu.RUnlock()
	h.dropSlow(overflowed)
}

// ToCompany fans a frame out to every session in one tenant.
func (h *Hub) ToCompany(companyID string, frame []byte) {
	h.mu.RLock()
	var overflowed []*Session
	for s := range h.sessions {
		if s.CompanyID != companyID {
			continue
		}
		if !h.deliver(s, frame) {
			overflowed = append(overflowed, s)
		}
	}
	h.mu.RUnlock()
	h.dropSlow(overflowed)
}

func (h *Hub) deliver(s *Session, frame []byte) bool {
	select {
	case s.Send <- frame:
		metrics.EventsFanned.Inc()
		return true
	default:
		return false
	}
}

// dropSlow disconnects sessions whose send buffer overflowed. A client
// that cannot drain 256 frames is not keeping up; killing the socket
// makes it reconnect and re-sync over REST.
func (h *Hub) dropSlow(sessions []*Session) {
	for _, s := range sessions {
		metrics.FramesDropped.Inc()
		h.log.Warnf("dropping slow session for %s", s.UserID)
		if h.alerts != nil {
			h.alerts.SessionOverflow(s.UserID)
		}
		h.Unregister(s)
	}
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// OnlineIDs returns the users of one company with at least one live
// session, sorted for stable output.
func (h *Hub) OnlineIDs(companyID string) []string {
	h.mu.RLock()
	set := make(map[string]struct{})
	for s := range h.sessions {
		if s.CompanyID == companyID {
			set[s.UserID] = struct{}{}
		}
	}
	h.mu.RUnlock()

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// toUsersInCompany is ToUsers restricted to one tenant. Typing relays
// use it because their target lists arrive from the client unverified.
func (h *Hub) toUsersInCompany(userIDs []string, companyID string, frame []byte) {
	h.mu.RLock()
	var overflowed []*Session
	for _, id := range userIDs {
		for s := range h.byUser[id] {
			if s.CompanyID != companyID {
				continue
			}
			if !h.deliver(s, frame) {
				overflowed = append(overflowed, s)
			}
		}
	}
	h.mu.RUnlock()
	h.dropSlow(overflowed)
}

// RelayTypingStart stamps the typist onto the payload, relays it to the
// targets and arms the expiry timer. A client that goes silent without
// sending typing:stop gets one synthesized for it so peers never show a
// stuck indicator.
func (h *Hub) RelayTypingStart(from *Session, t wire.Typing, targets []string) {
	t.UserID = from.UserID
	relayTo := exclude(targets, from.UserID)
	h.toUsersInCompany(relayTo, from.CompanyID, wire.MustMarshal(wire.EventTypingStart, t))

	key := typingKey{userID: from.UserID, scope: t.RecipientID + "|" + t.GroupID}
	stop := wire.MustMarshal(wire.EventTypingStop, t)
	companyID := from.CompanyID

	h.typingMu.Lock()
	if old, ok := h.typing[key]; ok {
		old.Stop()
	}
	h.typing[key] = time.AfterFunc(h.typingTTL, func() {
		h.typingMu.Lock()
		delete(h.typing, key)
		h.typingMu.Unlock()
		h.toUsersInCompany(relayTo, companyID, stop)
	})
	h.typingMu.Unlock()
}

// RelayTypingStop relays a client-sent stop and disarms the timer.
func (h *Hub) RelayTypingStop(from *Session, t wire.Typing, targets []string) {
	key := typingKey{userID: from.UserID, scope: t.RecipientID + "|" + t.GroupID}
	h.typingMu.Lock()
	if timer, ok := h.typing[key]; ok {
		timer.Stop()
		delete(h.typing, key)
	}
	h.typingMu.Unlock()

	t.UserID = from.UserID
	h.toUsersInCompany(exclude(targets, from.UserID), from.CompanyID, wire.MustMarshal(wire.EventTypingStop, t))
}

func exclude(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
