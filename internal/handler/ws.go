package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/logger"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/middleware"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/presence"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/service"
	"github.com/Sylester-Oputa/CollabNotes-sub002/pkg/wire"
)

const (
	// authGrace is how long a fresh socket may sit unauthenticated.
	authGrace = 10 * time.Second
	readWait  = 60 * time.Second
	writeWait = 5 * time.Second
)

type WSHandler struct {
	hub       *service.Hub
	messages  *service.MessageService
	groups    service.GroupDirectory
	tracker   presence.Tracker
	jwtSecret string
	log       *logrus.Entry
}

func NewWSHandler(hub *service.Hub, messages *service.MessageService, groups service.GroupDirectory, tracker presence.Tracker, jwtSecret string) *WSHandler {
	return &WSHandler{
		hub:       hub,
		messages:  messages,
		groups:    groups,
		tracker:   tracker,
		jwtSecret: jwtSecret,
		log:       logger.With("ws"),
	}
}

// Upgrade accepts the socket. Identity is established by the first
// client frame, not the HTTP handshake, so tokens never land in access
// logs as query strings.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(h.handleConnection)(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *WSHandler) handleConnection(c *websocket.Conn) {
	sess, ok := h.authenticate(c)
	if !ok {
		c.Close()
		return
	}

	// The roster snapshot is the first frame the client sees; hub
	// broadcasts queue behind it once the session registers.
	initial := wire.MustMarshal(wire.EventPresenceInitial, wire.PresenceInitial{
		Online: h.hub.OnlineIDs(sess.CompanyID),
	})
	if err := c.WriteMessage(websocket.TextMessage, initial); err != nil {
		c.Close()
		return
	}

	h.hub.Register(sess)
	defer h.hub.Unregister(sess)

	if h.tracker != nil {
		_ = h.tracker.Touch(context.Background(), sess.UserID)
	}

	// Writer goroutine
	go func() {
		defer c.Close()
		for msg := range sess.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader loop
	c.SetReadDeadline(time.Now().Add(readWait))
	c.SetPingHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readWait))
		return c.WriteControl(websocket.PongMessage, nil, time.Now().Add(writeWait))
	})
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			break
		}

		// Reset deadline on any message
		c.SetReadDeadline(time.Now().Add(readWait))

		ev, err := wire.Decode(raw)
		if err != nil {
			continue
		}
		h.dispatch(sess, ev)
	}
}

// authenticate reads the auth frame and resolves it to a session. The
// deadline bounds how long an anonymous socket may hold a connection.
func (h *WSHandler) authenticate(c *websocket.Conn) (*service.Session, bool) {
	c.SetReadDeadline(time.Now().Add(authGrace))

	_, raw, err := c.ReadMessage()
	if err != nil {
		return nil, false
	}
	ev, err := wire.Decode(raw)
	if err != nil || ev.Type != wire.EventAuth {
		h.writeError(c, "AUTH_REQUIRED", "first event must be auth")
		return nil, false
	}

	var auth wire.Auth
	if err := json.Unmarshal(ev.Data, &auth); err != nil || auth.Token == "" {
		h.writeError(c, "AUTH_REQUIRED", "auth token missing")
		return nil, false
	}

	claims, err := middleware.ParseUserToken(auth.Token, h.jwtSecret)
	if err != nil {
		h.writeError(c, "AUTH_FAILED", "invalid or expired token")
		return nil, false
	}
	return service.NewSession(claims.UserID, claims.CompanyID, claims.Name), true
}

func (h *WSHandler) dispatch(sess *service.Session, ev wire.Event) {
	ctx := context.Background()

	switch ev.Type {
	case wire.EventAuth:
		// Already authenticated; repeat auth frames are ignored.

	case wire.EventTypingStart, wire.EventTypingStop:
		var t wire.Typing
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			return
		}
		targets, ok := h.typingTargets(ctx, sess, t)
		if !ok {
			return
		}
		if ev.Type == wire.EventTypingStart {
			h.hub.RelayTypingStart(sess, t, targets)
		} else {
			h.hub.RelayTypingStop(sess, t, targets)
		}

	case wire.EventMessageDelivered:
		var r wire.Receipt
		if err := json.Unmarshal(ev.Data, &r); err != nil || r.MessageID == "" {
			return
		}
		if err := h.messages.AckDelivered(ctx, sess.UserID, r.MessageID); err != nil {
			h.log.WithError(err).Debugf("delivered ack from %s", sess.UserID)
		}

	case wire.EventMessageRead:
		var r wire.Receipt
		if err := json.Unmarshal(ev.Data, &r); err != nil || r.MessageID == "" {
			return
		}
		if _, err := h.messages.MarkRead(ctx, sess.CompanyID, sess.UserID, r.MessageID); err != nil {
			h.log.WithError(err).Debugf("read ack from %s", sess.UserID)
		}

	default:
		h.log.Debugf("unknown event %s from %s", ev.Type, sess.UserID)
	}
}

// typingTargets resolves who sees a typing indicator. Exactly one scope
// must be set, and group typists must be members. Invalid frames drop
// silently: typing is fire-and-forget.
func (h *WSHandler) typingTargets(ctx context.Context, sess *service.Session, t wire.Typing) ([]string, bool) {
	switch {
	case t.RecipientID != "" && t.GroupID == "":
		return []string{t.RecipientID}, true
	case t.GroupID != "" && t.RecipientID == "":
		_, member, err := h.groups.Membership(ctx, t.GroupID, sess.UserID)
		if err != nil || !member {
			return nil, false
		}
		ids, err := h.groups.MemberIDs(ctx, t.GroupID)
		if err != nil {
			return nil, false
		}
		return ids, true
	default:
		return nil, false
	}
}

func (h *WSHandler) writeError(c *websocket.Conn, code, message string) {
	frame := wire.MustMarshal(wire.EventError, wire.Error{Code: code, Message: message})
	_ = c.WriteMessage(websocket.TextMessage, frame)
}
