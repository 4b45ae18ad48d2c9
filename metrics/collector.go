// Package metrics provides agent-wide counters.
//
// The Collector accumulates counters for the lifetime of the process. It is a
// leaf package apart from the outcome status type; the Prometheus exporter in
// prometheus.go reads Snapshots and never touches the counters directly.
package metrics

import (
	"sync"

	"github.com/pithecene-io/frr-agent/types"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sessions
	SessionsOpened int64
	SessionsClosed int64
	FrameErrors    int64

	// Requests
	RequestsTotal   int64
	Keepalives      int64
	ForcedSuccesses int64

	// Reloads
	ReloadsStarted  int64
	ReloadsByStatus map[types.OutcomeStatus]int64

	// Reloader process
	ReloaderLaunchSuccess int64
	ReloaderLaunchFailure int64

	// Notifications
	NotificationsPublished int64
	NotificationsFailed    int64
	NotificationsDropped   int64

	// Dimensions (informational, set at construction)
	Transport string
	Reloader  string
}

// Collector accumulates agent counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsOpened int64
	sessionsClosed int64
	frameErrors    int64

	requestsTotal   int64
	keepalives      int64
	forcedSuccesses int64

	reloadsStarted  int64
	reloadsByStatus map[types.OutcomeStatus]int64

	reloaderLaunchSuccess int64
	reloaderLaunchFailure int64

	notificationsPublished int64
	notificationsFailed    int64
	notificationsDropped   int64

	transport string
	reloader  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(transport, reloader string) *Collector {
	return &Collector{
		reloadsByStatus: make(map[types.OutcomeStatus]int64),
		transport:       transport,
		reloader:        reloader,
	}
}

func (c *Collector) inc(counter *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

// --- Sessions ---

// IncSessionOpened records an accepted connection.
func (c *Collector) IncSessionOpened() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsOpened)
}

// IncSessionClosed records a session reaching its closed state.
func (c *Collector) IncSessionClosed() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsClosed)
}

// IncFrameErrors records a malformed or undeliverable frame.
func (c *Collector) IncFrameErrors() {
	if c == nil {
		return
	}
	c.inc(&c.frameErrors)
}

// --- Requests ---

// IncRequests records a decoded request.
func (c *Collector) IncRequests() {
	if c == nil {
		return
	}
	c.inc(&c.requestsTotal)
}

// IncKeepalives records a keepalive answered without orchestration.
func (c *Collector) IncKeepalives() {
	if c == nil {
		return
	}
	c.inc(&c.keepalives)
}

// IncForcedSuccesses records a request answered by always-ok mode.
func (c *Collector) IncForcedSuccesses() {
	if c == nil {
		return
	}
	c.inc(&c.forcedSuccesses)
}

// --- Reloads ---

// IncReloadStarted records the start of an orchestrated reload.
func (c *Collector) IncReloadStarted() {
	if c == nil {
		return
	}
	c.inc(&c.reloadsStarted)
}

// RecordOutcome records the final status of an orchestrated reload.
func (c *Collector) RecordOutcome(status types.OutcomeStatus) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reloadsByStatus[status]++
	c.mu.Unlock()
}

// IncReloaderLaunchSuccess records a reloader process that started.
func (c *Collector) IncReloaderLaunchSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.reloaderLaunchSuccess)
}

// IncReloaderLaunchFailure records a reloader process that failed to start.
func (c *Collector) IncReloaderLaunchFailure() {
	if c == nil {
		return
	}
	c.inc(&c.reloaderLaunchFailure)
}

// --- Notifications ---

// IncNotificationPublished records a delivered reload notification.
func (c *Collector) IncNotificationPublished() {
	if c == nil {
		return
	}
	c.inc(&c.notificationsPublished)
}

// IncNotificationFailed records a notification the adapter gave up on.
func (c *Collector) IncNotificationFailed() {
	if c == nil {
		return
	}
	c.inc(&c.notificationsFailed)
}

// IncNotificationDropped records a notification dropped on a full queue.
func (c *Collector) IncNotificationDropped() {
	if c == nil {
		return
	}
	c.inc(&c.notificationsDropped)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byStatus := make(map[types.OutcomeStatus]int64, len(c.reloadsByStatus))
	for k, v := range c.reloadsByStatus {
		byStatus[k] = v
	}

	return Snapshot{
		SessionsOpened: c.sessionsOpened,
		SessionsClosed: c.sessionsClosed,
		FrameErrors:    c.frameErrors,

		RequestsTotal:   c.requestsTotal,
		Keepalives:      c.keepalives,
		ForcedSuccesses: c.forcedSuccesses,

		ReloadsStarted:  c.reloadsStarted,
		ReloadsByStatus: byStatus,

		ReloaderLaunchSuccess: c.reloaderLaunchSuccess,
		ReloaderLaunchFailure: c.reloaderLaunchFailure,

		NotificationsPublished: c.notificationsPublished,
		NotificationsFailed:    c.notificationsFailed,
		NotificationsDropped:   c.notificationsDropped,

		Transport: c.transport,
		Reloader:  c.reloader,
	}
}
