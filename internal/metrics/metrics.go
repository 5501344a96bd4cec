// Package metrics exposes the process's Prometheus collectors. Counters
// are package-level and registered once at init so any layer can bump
// them without plumbing a registry around.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_messages_sent_total",
			Help: "Messages persisted, labeled by direct/group target.",
		},
		[]string{"target"},
	)

	EventsFanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_ws_events_fanned_total",
			Help: "Realtime frames handed to session send buffers.",
		},
	)

	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_ws_frames_dropped_total",
			Help: "Realtime frames dropped because a session buffer was full.",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_ws_active_sessions",
			Help: "Currently connected, authenticated socket sessions.",
		},
	)

	Assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_task_assignments_total",
			Help: "Assignment engine outcomes, labeled by strategy or 'none'.",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		EventsFanned,
		FramesDropped,
		ActiveSessions,
		Assignments,
	)
}
