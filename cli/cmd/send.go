package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/frr-agent/cli/render"
	"github.com/pithecene-io/frr-agent/client"
	"github.com/pithecene-io/frr-agent/iox"
	"github.com/pithecene-io/frr-agent/types"
)

// SendResponse is the rendered result of a send.
type SendResponse struct {
	GenID    int64  `json:"genid"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	OK       bool   `json:"ok"`
	Duration string `json:"duration"`
}

// SendCommand returns the send command.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a configuration file or keepalive to a running agent",
		ArgsUsage: "[config-file]",
		Description: `Sends one request and prints the agent's response. Exits 2 when the
agent answers with anything other than Ok.`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "sock-path",
				Usage:    "Path of the agent unix socket",
				Required: true,
			},
			&cli.Int64Flag{
				Name:  "genid",
				Usage: "Generation id (defaults to the current unix time)",
			},
			&cli.BoolFlag{
				Name:  "keepalive",
				Usage: "Send a keepalive instead of a configuration",
			},
			&cli.BoolFlag{
				Name:  "datagram",
				Usage: "Use a datagram socket",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Time to wait for the response",
				Value: 5 * time.Minute,
			},
		}, OutputFlags()...),
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	keepalive := c.Bool("keepalive")
	var payload string
	switch {
	case keepalive && c.NArg() > 0:
		return cli.Exit("--keepalive takes no config file", exitFailure)
	case keepalive:
	case c.NArg() != 1:
		return cli.Exit("expected exactly one config file (or --keepalive)", exitFailure)
	default:
		data, err := os.ReadFile(c.Args().First())
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to read config: %v", err), exitFailure)
		}
		payload = string(data)
	}

	genID := types.GenID(c.Int64("genid"))
	if !c.IsSet("genid") {
		genID = types.GenID(time.Now().Unix())
	}

	ctx := c.Context
	if timeout := c.Duration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var conn *client.Client
	if c.Bool("datagram") {
		conn, err = client.DialDatagram(c.String("sock-path"), "")
	} else {
		conn, err = client.Dial(ctx, c.String("sock-path"))
	}
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer iox.DiscardClose(conn)

	start := time.Now()
	var resp *types.Response
	kind := "config"
	if keepalive {
		kind = "keepalive"
		resp, err = conn.Keepalive(ctx, genID)
	} else {
		resp, err = conn.Send(ctx, genID, payload)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("request failed: %v", err), exitFailure)
	}

	out := SendResponse{
		GenID:    int64(resp.GenID),
		Kind:     kind,
		Status:   resp.Status(),
		OK:       resp.OK(),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err := r.Render(out); err != nil {
		return err
	}
	if !out.OK {
		return cli.Exit("", exitRejected)
	}
	return nil
}
