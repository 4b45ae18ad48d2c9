package reload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/types"
)

// Staged file permissions.
const (
	stageDirMode  = 0o755
	stageFileMode = 0o644
)

// ConfigFileName returns the staged file name for a generation.
func ConfigFileName(genID types.GenID) string {
	return fmt.Sprintf("frr-config-gen-%d.conf", genID)
}

// StagedPath returns the staged file path for a generation under outdir.
// The path depends only on (outdir, genID): re-staging a generation
// overwrites the previous file.
func StagedPath(outdir string, genID types.GenID) string {
	return filepath.Join(outdir, ConfigFileName(genID))
}

// StageError reports a failure to write the staged config file.
type StageError struct {
	// Op is the step that failed ("create dir", "create file", "write", "close").
	Op   string
	Path string
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Stage writes config to the deterministic path for genID under outdir,
// creating outdir and any missing parents. An existing file is truncated.
// Errors are always *StageError.
func Stage(genID types.GenID, config, outdir string, logger *log.Logger) (string, error) {
	path := StagedPath(outdir, genID)

	if err := os.MkdirAll(filepath.Dir(path), stageDirMode); err != nil {
		return "", &StageError{Op: "create dir", Path: filepath.Dir(path), Err: err}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, stageFileMode)
	if err != nil {
		return "", &StageError{Op: "create file", Path: path, Err: err}
	}

	if _, err := f.WriteString(config); err != nil {
		_ = f.Close()
		return "", &StageError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &StageError{Op: "close", Path: path, Err: err}
	}

	logger.Debug("staged config file", map[string]any{
		"path":  path,
		"genid": genID,
		"bytes": len(config),
	})

	// Diagnostic only: the reloader reads the file itself.
	if contents, err := os.ReadFile(path); err != nil {
		logger.Warn("could not read back staged config", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	} else {
		logger.Debug("requested config", map[string]any{
			"genid":  genID,
			"config": string(contents),
		})
	}

	return path, nil
}
