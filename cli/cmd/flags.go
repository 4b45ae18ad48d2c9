// Package cmd provides CLI commands for the frr-agent binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes.
const (
	// exitFailure covers startup failures: bad loglevel, invalid
	// configuration, bind failure, transport errors in send.
	exitFailure = 1
	// exitRejected is returned by send when the agent answered with
	// anything other than "Ok".
	exitRejected = 2
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// OutputFlags returns the shared flags for commands that render output.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}
