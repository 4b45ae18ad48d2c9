// Package reload stages FRR configurations and applies them with the
// external reloader in two phases: --test, then --reload.
package reload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/types"
)

// Config configures an Orchestrator.
type Config struct {
	// ReloaderPath is the path to the reloader executable.
	ReloaderPath string
	// OutDir is the directory staged config files are written to.
	OutDir string
	// BinDir is passed to the reloader as --bindir.
	BinDir string
	// RunDir is passed to the reloader as --rundir.
	RunDir string
	// ConfDir is passed to the reloader as --confdir.
	ConfDir string
	// Timeout bounds each reloader phase. Zero means no timeout.
	Timeout time.Duration
	// Runner overrides subprocess execution (for testing).
	// If nil, ExecRunner is used.
	Runner Runner
	// Logger receives orchestration events. If nil, logging is discarded.
	Logger *log.Logger
	// Collector records reload metrics.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
}

// ExtraArgs returns the arguments passed to both reloader phases between
// the phase flag and the staged path.
func (c *Config) ExtraArgs() []string {
	return []string{
		"--stdout",
		"--debug",
		"--bindir", c.BinDir,
		"--rundir", c.RunDir,
		"--confdir", c.ConfDir,
	}
}

// Orchestrator runs reloads one at a time.
// The mutex covers staging and both phases, so at most one reload is in
// flight per process regardless of how many sessions submit work.
type Orchestrator struct {
	config *Config
	runner Runner
	logger *log.Logger

	mu sync.Mutex
}

// NewOrchestrator creates a new orchestrator.
// Returns error if the reloader path or output directory is empty.
func NewOrchestrator(config *Config) (*Orchestrator, error) {
	if config.ReloaderPath == "" {
		return nil, errors.New("reloader path is required")
	}
	if config.OutDir == "" {
		return nil, errors.New("output directory is required")
	}

	runner := config.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Orchestrator{
		config: config,
		runner: runner,
		logger: logger,
	}, nil
}

// Reload stages config for genID and runs the reloader against it.
// It blocks while another reload is in progress and never returns nil.
//
// Execution flow:
//  1. Stage the config file (failure: staging_failed)
//  2. reloader --test (failure: validation_failed, spawn/wait failure, timed_out)
//  3. reloader --reload (failure: apply_failed, spawn/wait failure, timed_out)
func (o *Orchestrator) Reload(ctx context.Context, genID types.GenID, config string) *types.ReloadOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	o.config.Collector.IncReloadStarted()

	outcome := o.reload(ctx, genID, config)
	outcome.Duration = time.Since(start)
	o.config.Collector.RecordOutcome(outcome.Status)

	fields := map[string]any{
		"genid":    genID,
		"outcome":  outcome.Status,
		"duration": outcome.Duration.String(),
	}
	if outcome.Succeeded() {
		o.logger.Info("config reloaded", fields)
	} else {
		fields["detail"] = outcome.Detail
		if outcome.Phase != "" {
			fields["phase"] = outcome.Phase
			fields["exit_code"] = outcome.ExitCode
		}
		o.logger.Error("config reload failed", fields)
	}

	return outcome
}

func (o *Orchestrator) reload(ctx context.Context, genID types.GenID, config string) *types.ReloadOutcome {
	path, err := Stage(genID, config, o.config.OutDir, o.logger)
	if err != nil {
		o.logger.Error("failed to write config file", map[string]any{
			"genid": genID,
			"error": err.Error(),
		})
		return &types.ReloadOutcome{
			Status:   types.OutcomeStagingFailed,
			Detail:   osErrorText(err),
			ExitCode: -1,
		}
	}

	for _, phase := range []types.Phase{types.PhaseTest, types.PhaseReload} {
		if outcome := o.runPhase(ctx, phase, path); outcome != nil {
			return outcome
		}
	}

	return &types.ReloadOutcome{
		Status:     types.OutcomeSuccess,
		StagedPath: path,
	}
}

// runPhase invokes the reloader once. It returns nil if the phase exited 0,
// otherwise the outcome that ends the reload.
func (o *Orchestrator) runPhase(ctx context.Context, phase types.Phase, path string) *types.ReloadOutcome {
	args := make([]string, 0, 8)
	args = append(args, phase.Flag())
	args = append(args, o.config.ExtraArgs()...)
	args = append(args, path)

	o.logger.Debug("executing reloader", map[string]any{
		"reloader": o.config.ReloaderPath,
		"args":     args,
	})

	phaseCtx := ctx
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	result, err := o.runner.Run(phaseCtx, o.config.ReloaderPath, args)

	outcome := &types.ReloadOutcome{
		Phase:      phase,
		StagedPath: path,
		ExitCode:   -1,
	}
	if result != nil {
		outcome.ExitCode = result.ExitCode
		outcome.Stdout = result.Stdout
		outcome.Stderr = result.Stderr
	}

	var spawnErr *SpawnError
	switch {
	case err == nil:
		o.config.Collector.IncReloaderLaunchSuccess()
	case errors.As(err, &spawnErr):
		o.config.Collector.IncReloaderLaunchFailure()
		outcome.Status = types.OutcomeSpawnFailed
		outcome.Detail = osErrorText(err)
		return outcome
	case errors.Is(err, context.DeadlineExceeded):
		o.config.Collector.IncReloaderLaunchSuccess()
		outcome.Status = types.OutcomeTimedOut
		outcome.Detail = fmt.Sprintf("%s exceeded %s", phase.Flag(), o.config.Timeout)
		o.logOutput(phase, outcome)
		return outcome
	default:
		o.config.Collector.IncReloaderLaunchSuccess()
		outcome.Status = types.OutcomeWaitFailed
		outcome.Detail = osErrorText(err)
		o.logOutput(phase, outcome)
		return outcome
	}

	if result == nil {
		outcome.Status = types.OutcomeWaitFailed
		outcome.Detail = "no exit status"
		return outcome
	}

	if result.ExitCode == 0 {
		o.logger.Debug("reloader phase succeeded", map[string]any{
			"phase":  phase,
			"stdout": string(result.Stdout),
		})
		return nil
	}

	if phase == types.PhaseTest {
		outcome.Status = types.OutcomeValidationFailed
	} else {
		outcome.Status = types.OutcomeApplyFailed
	}
	outcome.Detail = fmt.Sprintf("%s exited with status %d", phase.Flag(), result.ExitCode)
	o.logOutput(phase, outcome)
	return outcome
}

// logOutput records the captured reloader output of a failed phase.
// The output stays in the agent log; it is never sent to the client.
func (o *Orchestrator) logOutput(phase types.Phase, outcome *types.ReloadOutcome) {
	o.logger.Error("reloader phase failed", map[string]any{
		"phase":     phase,
		"exit_code": outcome.ExitCode,
		"stdout":    string(outcome.Stdout),
		"stderr":    string(outcome.Stderr),
	})
}
