package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/types"
)

// recordingAdapter records published events. With block set, Publish waits
// for it to close.
type recordingAdapter struct {
	mu     sync.Mutex
	events []*ReloadCompletedEvent
	err    error
	block  chan struct{}
	closed bool
}

func (r *recordingAdapter) Publish(ctx context.Context, event *ReloadCompletedEvent) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingAdapter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestNewReloadCompletedEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.FixedZone("CET", 3600))
	outcome := &types.ReloadOutcome{
		Status:   types.OutcomeValidationFailed,
		Phase:    types.PhaseTest,
		ExitCode: 1,
		Duration: 2 * time.Second,
	}

	e := NewReloadCompletedEvent(9, outcome, "Reloading error: configuration rejected by --test", at)

	if e.EventID == "" {
		t.Error("EventID is empty")
	}
	if e.EventType != EventTypeReloadCompleted {
		t.Errorf("EventType = %q", e.EventType)
	}
	if e.GenID != 9 || e.Outcome != "validation_failed" || e.Phase != "test" || e.ExitCode != 1 {
		t.Errorf("event = %+v", e)
	}
	if e.Timestamp != "2026-03-01T07:30:00Z" {
		t.Errorf("Timestamp = %q, want UTC", e.Timestamp)
	}
	if e.DurationMs != 2000 {
		t.Errorf("DurationMs = %d", e.DurationMs)
	}
	if e.AgentVersion != types.Version {
		t.Errorf("AgentVersion = %q", e.AgentVersion)
	}
}

func TestDispatcher_PublishesInOrder(t *testing.T) {
	a := &recordingAdapter{}
	c := metrics.NewCollector("stream", "reloader")
	d := NewDispatcher(a, DispatcherConfig{Collector: c})

	for i := 1; i <= 3; i++ {
		d.Notify(types.GenID(i), &types.ReloadOutcome{Status: types.OutcomeSuccess}, "Ok")
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) != 3 {
		t.Fatalf("published %d events, want 3", len(a.events))
	}
	for i, e := range a.events {
		if e.GenID != int64(i+1) {
			t.Errorf("event %d genid = %d", i, e.GenID)
		}
	}
	if !a.closed {
		t.Error("adapter not closed")
	}
	if got := c.Snapshot().NotificationsPublished; got != 3 {
		t.Errorf("NotificationsPublished = %d, want 3", got)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	a := &recordingAdapter{block: make(chan struct{})}
	c := metrics.NewCollector("stream", "reloader")
	d := NewDispatcher(a, DispatcherConfig{QueueSize: 1, Collector: c})

	// One event may be in flight in the worker, one queued; the rest drop.
	for i := range 5 {
		d.Notify(types.GenID(i), &types.ReloadOutcome{Status: types.OutcomeSuccess}, "Ok")
	}

	dropped := c.Snapshot().NotificationsDropped
	if dropped < 3 {
		t.Errorf("NotificationsDropped = %d, want >= 3", dropped)
	}

	close(a.block)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s := c.Snapshot()
	if s.NotificationsPublished+s.NotificationsDropped != 5 {
		t.Errorf("published %d + dropped %d != 5", s.NotificationsPublished, s.NotificationsDropped)
	}
}

func TestDispatcher_PublishFailureCounted(t *testing.T) {
	a := &recordingAdapter{err: errors.New("downstream unavailable")}
	c := metrics.NewCollector("stream", "reloader")
	d := NewDispatcher(a, DispatcherConfig{Collector: c})

	d.Notify(1, &types.ReloadOutcome{Status: types.OutcomeApplyFailed}, "Reloading error: --reload failed")
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := c.Snapshot().NotificationsFailed; got != 1 {
		t.Errorf("NotificationsFailed = %d, want 1", got)
	}
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	a := &recordingAdapter{}
	c := metrics.NewCollector("stream", "reloader")
	d := NewDispatcher(a, DispatcherConfig{Collector: c})

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Must not panic.
	d.Notify(1, &types.ReloadOutcome{Status: types.OutcomeSuccess}, "Ok")
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if got := c.Snapshot().NotificationsDropped; got != 1 {
		t.Errorf("NotificationsDropped = %d, want 1", got)
	}
}
