package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime       time.Time
	requests        atomic.Int64
	serverErrors    atomic.Int64
	clientErrors    atomic.Int64
	eventsApplied   atomic.Int64
	eventsDuplicate atomic.Int64
	eventsFailed    atomic.Int64
	pullRequests    atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Requests        int64   `json:"requests"`
	ServerErrors    int64   `json:"server_errors"`
	ClientErrors    int64   `json:"client_errors"`
	EventsApplied   int64   `json:"events_applied"`
	EventsDuplicate int64   `json:"events_duplicate"`
	EventsFailed    int64   `json:"events_failed"`
	PullRequests    int64   `json:"pull_requests"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordPushOutcome tallies one per-event push outcome.
func (m *Metrics) RecordPushOutcome(applied, duplicate bool) {
	switch {
	case applied:
		m.eventsApplied.Add(1)
	case duplicate:
		m.eventsDuplicate.Add(1)
	default:
		m.eventsFailed.Add(1)
	}
}

// RecordPullRequest increments the pull request counter.
func (m *Metrics) RecordPullRequest() {
	m.pullRequests.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Requests:        m.requests.Load(),
		ServerErrors:    m.serverErrors.Load(),
		ClientErrors:    m.clientErrors.Load(),
		EventsApplied:   m.eventsApplied.Load(),
		EventsDuplicate: m.eventsDuplicate.Load(),
		EventsFailed:    m.eventsFailed.Load(),
		PullRequests:    m.pullRequests.Load(),
	}
}
