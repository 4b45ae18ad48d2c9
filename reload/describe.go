package reload

import (
	"errors"
	"io/fs"
	"os/exec"

	"github.com/pithecene-io/frr-agent/types"
)

// Describe collapses an outcome into the status string sent to the client.
// Failure strings name the failing stage only; reloader output and staged
// paths are never included.
func Describe(outcome *types.ReloadOutcome) string {
	if outcome == nil {
		return "Reloading error: no outcome"
	}

	switch outcome.Status {
	case types.OutcomeSuccess:
		return types.StatusOk
	case types.OutcomeStagingFailed:
		return "Failed to write config file: " + outcome.Detail
	case types.OutcomeValidationFailed:
		return "Reloading error: configuration rejected by --test"
	case types.OutcomeApplyFailed:
		return "Reloading error: --reload failed"
	case types.OutcomeSpawnFailed:
		return "Failed to spawn reloader: " + outcome.Detail
	case types.OutcomeWaitFailed:
		return "Failed to wait for reloader: " + outcome.Detail
	case types.OutcomeTimedOut:
		return "Reloading error: reloader timed out during " + outcome.Phase.Flag()
	default:
		return "Reloading error: " + string(outcome.Status)
	}
}

// osErrorText reduces err to the underlying OS error text, dropping the
// operation and path wrappers added by os and os/exec.
func osErrorText(err error) string {
	if err == nil {
		return ""
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err.Error()
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return execErr.Err.Error()
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Err.Error()
	}
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) {
		return spawnErr.Err.Error()
	}
	var waitErr *WaitError
	if errors.As(err, &waitErr) {
		return waitErr.Err.Error()
	}
	return err.Error()
}
