package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/frr-agent/agent"
	"github.com/pithecene-io/frr-agent/cli/config"
	"github.com/pithecene-io/frr-agent/iox"
	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/server"
)

// ServeCommand returns the serve command.
// Serve binds the agent socket and answers reload requests until SIGINT,
// SIGQUIT or SIGTERM, then removes the socket and exits 0.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the FRR reload agent",
		Description: `Binds a unix socket and applies each received configuration with the
FRR reloader: stage to <outdir>/frr-config-gen-<genid>.conf, validate with
--test, apply with --reload. Every request gets exactly one status response.

Values are resolved flag first, then config file, then built-in default.`,
		Flags:  serveFlags(),
		Action: serveAction,
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to YAML config file (flags override file values)",
		},
		&cli.StringFlag{
			Name:  "sock-path",
			Usage: "Path of the agent unix socket (required)",
		},
		&cli.StringFlag{
			Name:  "transport",
			Usage: "Socket type: stream or datagram",
			Value: string(server.TransportStream),
		},
		&cli.BoolFlag{
			Name:  "concurrent",
			Usage: "Serve stream connections concurrently instead of one at a time",
		},
		&cli.StringFlag{
			Name:  "loglevel",
			Usage: "Log level: error, warn, info, debug, trace",
			Value: agent.DefaultLogLevel,
		},
		&cli.StringFlag{
			Name:  "outdir",
			Usage: "Directory for staged configuration files",
			Value: agent.DefaultOutDir,
		},
		&cli.StringFlag{
			Name:  "reloader",
			Usage: "Path of the FRR reload program",
			Value: agent.DefaultReloader,
		},
		&cli.StringFlag{
			Name:  "bindir",
			Usage: "FRR binary directory passed to the reloader",
			Value: agent.DefaultBinDir,
		},
		&cli.StringFlag{
			Name:  "rundir",
			Usage: "FRR runtime directory passed to the reloader",
			Value: agent.DefaultRunDir,
		},
		&cli.StringFlag{
			Name:  "confdir",
			Usage: "FRR configuration directory passed to the reloader",
			Value: agent.DefaultConfDir,
		},
		&cli.StringFlag{
			Name:  "vtysock",
			Usage: "vtysh socket directory (accepted for compatibility, unused)",
		},
		&cli.BoolFlag{
			Name:  "always-ok",
			Usage: "Answer every config with Ok without reloading (testing only)",
		},
		&cli.IntFlag{
			Name:  "proc-time",
			Usage: "Artificial delay in seconds before each reload (testing only)",
		},
		&cli.DurationFlag{
			Name:  "reload-timeout",
			Usage: "Per-phase reloader timeout (0 waits indefinitely)",
		},
		&cli.StringFlag{
			Name:  "metrics-listen",
			Usage: "Address for the Prometheus metrics endpoint (e.g. :9105)",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Reload notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook URL or Redis URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringFlag{
			Name:  "adapter-encoding",
			Usage: "Redis event encoding: json or msgpack",
		},
	}
}

func serveAction(c *cli.Context) error {
	fileCfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitFailure)
		}
		fileCfg = loaded
	}

	levelName := resolveString(c, "loglevel", fileCfg.LogLevel)
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Bad loglevel: %s", levelName), exitFailure)
	}

	cfg, err := resolveAgentConfig(c, fileCfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	logger := log.NewLogger("frr-agent", level)
	defer iox.DiscardErr(logger.Sync)

	sugar := logger.Sugar()
	sugar.Debugf("bind path: %s", cfg.SocketPath)
	sugar.Debugf("outdir: %s", cfg.OutDir)
	sugar.Debugf("reloader: %s", cfg.ReloaderPath)
	sugar.Debugf("loglevel: %s", levelName)

	a, err := agent.New(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to start agent: %v", err), exitFailure)
	}
	if err := a.Listen(); err != nil {
		return cli.Exit(fmt.Sprintf("failed to bind socket: %v", err), exitFailure)
	}
	if err := a.Run(c.Context); err != nil {
		return cli.Exit(fmt.Sprintf("agent stopped: %v", err), exitFailure)
	}
	return nil
}

// resolveAgentConfig merges flags, the config file and built-in defaults.
func resolveAgentConfig(c *cli.Context, file *config.Config) (*agent.Config, error) {
	cfg := agent.DefaultConfig()

	cfg.SocketPath = resolveString(c, "sock-path", file.SockPath)
	if cfg.SocketPath == "" {
		return nil, errors.New("--sock-path is required (flag or sock_path in config file)")
	}

	transport, err := server.ParseTransport(resolveString(c, "transport", file.Transport))
	if err != nil {
		return nil, err
	}
	cfg.Transport = transport
	cfg.Concurrent = resolveBool(c, "concurrent", file.Concurrent)

	cfg.OutDir = resolveString(c, "outdir", file.OutDir)
	cfg.ReloaderPath = resolveString(c, "reloader", file.Reloader)
	cfg.BinDir = resolveString(c, "bindir", file.BinDir)
	cfg.RunDir = resolveString(c, "rundir", file.RunDir)
	cfg.ConfDir = resolveString(c, "confdir", file.ConfDir)
	cfg.VtySock = resolveString(c, "vtysock", file.VtySock)

	cfg.AlwaysOK = resolveBool(c, "always-ok", file.AlwaysOK)
	cfg.ProcTime = file.ProcTime.Duration
	if c.IsSet("proc-time") {
		secs := c.Int("proc-time")
		if secs < 0 {
			return nil, fmt.Errorf("--proc-time must be >= 0, got %d", secs)
		}
		cfg.ProcTime = time.Duration(secs) * time.Second
	}
	cfg.ReloadTimeout = file.ReloadTimeout.Duration
	if c.IsSet("reload-timeout") {
		cfg.ReloadTimeout = c.Duration("reload-timeout")
		if cfg.ReloadTimeout < 0 {
			return nil, fmt.Errorf("--reload-timeout must be >= 0, got %s", cfg.ReloadTimeout)
		}
	}
	cfg.MetricsListen = resolveString(c, "metrics-listen", file.MetricsListen)

	adapterCfg := file.Adapter
	adapterCfg.Type = resolveString(c, "adapter", adapterCfg.Type)
	adapterCfg.URL = resolveString(c, "adapter-url", adapterCfg.URL)
	adapterCfg.Channel = resolveString(c, "adapter-channel", adapterCfg.Channel)
	adapterCfg.Encoding = resolveString(c, "adapter-encoding", adapterCfg.Encoding)
	if err := adapterCfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Adapter.Type = adapterCfg.Type
	cfg.Adapter.URL = adapterCfg.URL
	cfg.Adapter.Channel = adapterCfg.Channel
	cfg.Adapter.Encoding = adapterCfg.Encoding
	cfg.Adapter.Headers = adapterCfg.Headers
	cfg.Adapter.Timeout = adapterCfg.Timeout.Duration
	if adapterCfg.Retries != nil {
		cfg.Adapter.Retries = *adapterCfg.Retries
	}

	return &cfg, nil
}

// resolveString returns the flag value when set on the command line, else
// the file value when non-empty, else the flag's default.
func resolveString(c *cli.Context, name, fileValue string) string {
	if c.IsSet(name) || fileValue == "" {
		return c.String(name)
	}
	return fileValue
}

// resolveBool lets an explicit flag override the file in either direction.
func resolveBool(c *cli.Context, name string, fileValue bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fileValue
}
