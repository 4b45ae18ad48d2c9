package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/types"
)

// DefaultQueueSize is the default number of events buffered for publishing.
const DefaultQueueSize = 64

// DefaultPublishTimeout bounds one Publish call, retries included.
const DefaultPublishTimeout = 30 * time.Second

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds pending events (default 64). Events beyond it are dropped.
	QueueSize int
	// PublishTimeout bounds each Publish call (default 30s).
	PublishTimeout time.Duration
	// Logger is optional.
	Logger *log.Logger
	// Collector is optional.
	Collector *metrics.Collector
}

// Dispatcher publishes events from a bounded queue on one background worker,
// so the reload path never waits on a downstream system.
type Dispatcher struct {
	adapter Adapter
	config  DispatcherConfig
	logger  *log.Logger

	mu     sync.Mutex
	closed bool
	queue  chan *ReloadCompletedEvent
	done   chan struct{}
}

// NewDispatcher starts a dispatcher publishing to a.
func NewDispatcher(a Adapter, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	d := &Dispatcher{
		adapter: a,
		config:  cfg,
		logger:  logger,
		queue:   make(chan *ReloadCompletedEvent, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify queues a notification for the outcome. It never blocks: when the
// queue is full or the dispatcher is closed the event is dropped.
func (d *Dispatcher) Notify(genID types.GenID, outcome *types.ReloadOutcome, message string) {
	event := NewReloadCompletedEvent(genID, outcome, message, time.Now())

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.config.Collector.IncNotificationDropped()
		return
	}

	select {
	case d.queue <- event:
	default:
		d.config.Collector.IncNotificationDropped()
		d.logger.Warn("notification queue full, dropping event", map[string]any{
			"genid":    genID,
			"event_id": event.EventID,
		})
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.PublishTimeout)
		err := d.adapter.Publish(ctx, event)
		cancel()

		if err != nil {
			d.config.Collector.IncNotificationFailed()
			d.logger.Warn("failed to publish reload notification", map[string]any{
				"genid":    event.GenID,
				"event_id": event.EventID,
				"error":    err.Error(),
			})
			continue
		}

		d.config.Collector.IncNotificationPublished()
		d.logger.Debug("published reload notification", map[string]any{
			"genid":    event.GenID,
			"event_id": event.EventID,
		})
	}
}

// Close stops accepting events, waits for queued events to be published
// until ctx ends, and closes the adapter.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("abandoning queued notifications", map[string]any{
			"pending": len(d.queue),
		})
	}
	return d.adapter.Close()
}
