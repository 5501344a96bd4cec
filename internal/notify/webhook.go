// Package notify posts operational alerts to a generic JSON webhook.
// Sends are fire-and-forget: a dead webhook must never slow down or
// fail the flow that triggered it.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Webhook struct {
	url    string
	client *http.Client
	log    *logrus.Entry

	mu           sync.Mutex
	lastOverflow time.Time
}

// NewWebhook builds a notifier for the given URL. An empty URL yields a
// notifier that silently drops everything, so call sites stay nil-free.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logrus.WithField("component", "notify"),
	}
}

type payload struct {
	Event  string            `json:"event"`
	Fields map[string]string `json:"fields,omitempty"`
	At     string            `json:"at"`
}

func (w *Webhook) send(event string, fields map[string]string) {
	if w.url == "" {
		return
	}
	go func() {
		body, err := json.Marshal(payload{
			Event:  event,
			Fields: fields,
			At:     time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			w.log.WithError(err).Error("marshal webhook payload")
			return
		}
		resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
		if err != nil {
			w.log.WithError(err).Warnf("send %s", event)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			w.log.Warnf("webhook %s returned HTTP %d", event, resp.StatusCode)
		}
	}()
}

// TaskUnassigned reports that the assignment engine ran a task through
// every rule and the default strategy and still found nobody.
func (w *Webhook) TaskUnassigned(companyID, taskID, title string) {
	w.send("task.unassigned", map[string]string{
		"companyId": companyID,
		"taskId":    taskID,
		"title":     title,
	})
}

// SessionOverflow reports dropped realtime frames. Overflows come in
// bursts, so alerts are suppressed to at most one per minute.
func (w *Webhook) SessionOverflow(userID string) {
	w.mu.Lock()
	if time.Since(w.lastOverflow) < time.Minute {
		w.mu.Unlock()
		return
	}
	w.lastOverflow = time.Now()
	w.mu.Unlock()

	w.send("ws.session_overflow", map[string]string{"userId": userID})
}
