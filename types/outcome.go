package types

import "time"

// OutcomeStatus classifies the result of one reload attempt.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates both --test and --reload exited 0.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeStagingFailed indicates the config could not be written to disk.
	OutcomeStagingFailed OutcomeStatus = "staging_failed"
	// OutcomeValidationFailed indicates the --test phase exited non-zero.
	OutcomeValidationFailed OutcomeStatus = "validation_failed"
	// OutcomeApplyFailed indicates the --reload phase exited non-zero.
	OutcomeApplyFailed OutcomeStatus = "apply_failed"
	// OutcomeSpawnFailed indicates the reloader process could not be started.
	OutcomeSpawnFailed OutcomeStatus = "spawn_failed"
	// OutcomeWaitFailed indicates waiting for the reloader process failed.
	OutcomeWaitFailed OutcomeStatus = "wait_failed"
	// OutcomeTimedOut indicates a phase exceeded the configured reload timeout.
	OutcomeTimedOut OutcomeStatus = "timed_out"
)

// Phase names one invocation of the reloader.
type Phase string

const (
	// PhaseTest validates the staged config without applying it.
	PhaseTest Phase = "test"
	// PhaseReload applies the staged config to the running daemons.
	PhaseReload Phase = "reload"
)

// Flag returns the reloader command-line flag selecting the phase.
func (p Phase) Flag() string {
	return "--" + string(p)
}

// ReloadOutcome is the result of one reload attempt.
// Only Status and Detail are used to build the wire response; the captured
// reloader output is kept for logging.
type ReloadOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus
	// Detail is a short description of the failure cause (empty on success).
	Detail string
	// Phase is the reloader phase that failed, if any.
	Phase Phase
	// StagedPath is the path of the staged config file, if staging succeeded.
	StagedPath string
	// ExitCode is the exit code of the last reloader invocation (-1 if none).
	ExitCode int
	// Stdout is the captured stdout of the failing invocation.
	Stdout []byte
	// Stderr is the captured stderr of the failing invocation.
	Stderr []byte
	// Duration is the wall time of the whole attempt, including staging.
	Duration time.Duration
}

// Succeeded reports whether the outcome is a success.
func (o *ReloadOutcome) Succeeded() bool {
	return o != nil && o.Status == OutcomeSuccess
}
