// Package session serves the request/response loop of one client connection.
package session

import (
	"context"
	"time"

	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/reload"
	"github.com/pithecene-io/frr-agent/types"
)

// Reloader applies a configuration and reports the outcome.
// *reload.Orchestrator is the production implementation.
type Reloader interface {
	Reload(ctx context.Context, genID types.GenID, config string) *types.ReloadOutcome
}

// Notifier receives the outcome of every orchestrated reload.
// Implementations must not block the caller.
type Notifier interface {
	Notify(genID types.GenID, outcome *types.ReloadOutcome, message string)
}

// Describer collapses an outcome into a wire status string.
type Describer func(outcome *types.ReloadOutcome) string

// Dispatcher turns one request into one response.
// It is shared by all sessions and by the datagram read loop.
type Dispatcher struct {
	// AlwaysOK answers every non-keepalive request with "Ok" without
	// running the reloader. Test-only.
	AlwaysOK bool
	// ProcTime is an artificial delay applied before each orchestrated reload.
	ProcTime time.Duration
	// Reloader runs the orchestrated reload.
	Reloader Reloader
	// Describe builds the response payload from an outcome.
	// If nil, reload.Describe is used.
	Describe Describer
	// Notifier is optional.
	Notifier Notifier
	// Logger is optional.
	Logger *log.Logger
	// Collector is optional.
	Collector *metrics.Collector
}

// Handle dispatches req in priority order: keepalive, forced success,
// then orchestration. It always returns a response echoing req.GenID.
func (d *Dispatcher) Handle(ctx context.Context, req *types.Request) *types.Response {
	logger := d.logger()
	d.Collector.IncRequests()

	if req.IsKeepalive() {
		d.Collector.IncKeepalives()
		logger.Debug("keepalive", map[string]any{"genid": req.GenID})
		return types.NewResponse(req.GenID, types.StatusOk)
	}

	logger.Info("received config", map[string]any{
		"genid": req.GenID,
		"bytes": len(req.Payload),
	})

	if d.AlwaysOK {
		d.Collector.IncForcedSuccesses()
		logger.Warn("always-ok mode: reporting success without reloading", map[string]any{
			"genid": req.GenID,
		})
		return types.NewResponse(req.GenID, types.StatusOk)
	}

	if d.ProcTime > 0 {
		logger.Debug("simulating processing time", map[string]any{
			"proc_time": d.ProcTime.String(),
		})
		timer := time.NewTimer(d.ProcTime)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	outcome := d.Reloader.Reload(ctx, req.GenID, req.Payload)
	describe := d.Describe
	if describe == nil {
		describe = reload.Describe
	}
	status := describe(outcome)

	if d.Notifier != nil {
		d.Notifier.Notify(req.GenID, outcome, status)
	}

	return types.NewResponse(req.GenID, status)
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger == nil {
		return log.NewNop()
	}
	return d.Logger
}

var _ Reloader = (*reload.Orchestrator)(nil)
