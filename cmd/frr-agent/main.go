// Package main provides the frr-agent entrypoint.
//
// Usage:
//
//	frr-agent serve --sock-path <path> [options]
//	frr-agent send --sock-path <path> [--keepalive | <config-file>]
//	frr-agent version
//
// Exit codes:
//   - 0: clean shutdown on SIGINT, SIGQUIT or SIGTERM; send got "Ok"
//   - 1: bad loglevel, invalid configuration, bind or transport failure
//   - 2: send got a status other than "Ok"
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/frr-agent/cli/cmd"
	"github.com/pithecene-io/frr-agent/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "frr-agent",
		Usage:          "FRR configuration reload agent",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.SendCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() is empty or "exit status N"; print neither.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
