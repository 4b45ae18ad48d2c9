// Package agent assembles the reload agent from a resolved configuration.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/frr-agent/adapter"
	"github.com/pithecene-io/frr-agent/adapter/redis"
	"github.com/pithecene-io/frr-agent/adapter/webhook"
	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/reload"
	"github.com/pithecene-io/frr-agent/server"
	"github.com/pithecene-io/frr-agent/session"
)

// Defaults match the paths used by the fabric's FRR containers.
const (
	DefaultBinDir   = "/usr/local/bin"
	DefaultRunDir   = "/var/run/frr"
	DefaultConfDir  = "/etc/frr"
	DefaultReloader = "/hedgehog/frr-reload.py"
	DefaultOutDir   = "/tmp/configs/hedgehog"
	DefaultLogLevel = "debug"
)

// notifyDrainTimeout bounds publishing of queued notifications at shutdown.
const notifyDrainTimeout = 5 * time.Second

// Config is the fully resolved agent configuration.
type Config struct {
	SocketPath string
	Transport  server.Transport
	Concurrent bool

	OutDir       string
	ReloaderPath string
	BinDir       string
	RunDir       string
	ConfDir      string
	// VtySock is accepted for command-line compatibility and not used.
	VtySock string

	AlwaysOK      bool
	ProcTime      time.Duration
	ReloadTimeout time.Duration

	// MetricsListen is the Prometheus listen address; empty disables it.
	MetricsListen string

	Adapter AdapterConfig

	// Runner overrides reloader execution (for testing).
	Runner reload.Runner
}

// AdapterConfig selects and configures the notification adapter.
type AdapterConfig struct {
	// Type is "webhook", "redis" or empty for none.
	Type     string
	URL      string
	Channel  string
	Encoding string
	Headers  map[string]string
	Timeout  time.Duration
	Retries  int
}

// DefaultConfig returns a config with the built-in defaults applied.
// SocketPath has no default.
func DefaultConfig() Config {
	return Config{
		Transport:    server.TransportStream,
		OutDir:       DefaultOutDir,
		ReloaderPath: DefaultReloader,
		BinDir:       DefaultBinDir,
		RunDir:       DefaultRunDir,
		ConfDir:      DefaultConfDir,
		Adapter: AdapterConfig{
			Retries: webhook.DefaultRetries,
		},
	}
}

// NewAdapter builds the configured notification adapter.
// Returns nil and no error when no adapter is configured.
func NewAdapter(cfg AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout,
			Retries: cfg.Retries,
		})
	case "redis":
		encoding, err := redis.ParseEncoding(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		return redis.New(redis.Config{
			URL:      cfg.URL,
			Channel:  cfg.Channel,
			Encoding: encoding,
			Timeout:  cfg.Timeout,
			Retries:  cfg.Retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (want webhook or redis)", cfg.Type)
	}
}

// Agent is an assembled, not yet running, reload agent.
type Agent struct {
	config     *Config
	logger     *log.Logger
	collector  *metrics.Collector
	notifier   *adapter.Dispatcher
	supervisor *server.Supervisor
}

// New validates cfg and wires the agent's components. Nothing is bound and
// no goroutine is started except the notification worker, if configured.
func New(cfg *Config, logger *log.Logger) (*Agent, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = server.TransportStream
	}

	collector := metrics.NewCollector(string(cfg.Transport), cfg.ReloaderPath)

	orchestrator, err := reload.NewOrchestrator(&reload.Config{
		ReloaderPath: cfg.ReloaderPath,
		OutDir:       cfg.OutDir,
		BinDir:       cfg.BinDir,
		RunDir:       cfg.RunDir,
		ConfDir:      cfg.ConfDir,
		Timeout:      cfg.ReloadTimeout,
		Runner:       cfg.Runner,
		Logger:       logger,
		Collector:    collector,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid reload configuration: %w", err)
	}

	a, err := NewAdapter(cfg.Adapter)
	if err != nil {
		return nil, fmt.Errorf("invalid adapter configuration: %w", err)
	}

	dispatcher := &session.Dispatcher{
		AlwaysOK:  cfg.AlwaysOK,
		ProcTime:  cfg.ProcTime,
		Reloader:  orchestrator,
		Describe:  reload.Describe,
		Logger:    logger,
		Collector: collector,
	}

	var notifier *adapter.Dispatcher
	if a != nil {
		notifier = adapter.NewDispatcher(a, adapter.DispatcherConfig{
			Logger:    logger,
			Collector: collector,
		})
		dispatcher.Notifier = notifier
	}

	supervisor, err := server.New(&server.Config{
		SocketPath: cfg.SocketPath,
		Transport:  cfg.Transport,
		Concurrent: cfg.Concurrent,
		Dispatcher: dispatcher,
		Logger:     logger,
		Collector:  collector,
	})
	if err != nil {
		if notifier != nil {
			_ = notifier.Close(context.Background())
		}
		return nil, err
	}

	return &Agent{
		config:     cfg,
		logger:     logger,
		collector:  collector,
		notifier:   notifier,
		supervisor: supervisor,
	}, nil
}

// Collector returns the agent's metrics collector.
func (a *Agent) Collector() *metrics.Collector {
	return a.collector
}

// SocketPath returns the agent socket path.
func (a *Agent) SocketPath() string {
	return a.supervisor.SocketPath()
}

// Listen binds the agent socket. Run binds on its own if Listen was not
// called; calling it first lets the caller tell bind failures apart.
func (a *Agent) Listen() error {
	return a.supervisor.Listen()
}

// Run serves until a termination signal or ctx cancellation, then removes
// the socket and flushes queued notifications.
func (a *Agent) Run(ctx context.Context) error {
	if a.config.VtySock != "" {
		a.logger.Debug("vtysock is accepted but not used", map[string]any{
			"vtysock": a.config.VtySock,
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.config.MetricsListen != "" {
		go func() {
			a.logger.Info("serving metrics", map[string]any{"addr": a.config.MetricsListen})
			if err := metrics.ListenAndServe(runCtx, a.config.MetricsListen, a.collector); err != nil {
				a.logger.Error("metrics server failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	err := a.supervisor.Run(runCtx)

	if a.notifier != nil {
		drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), notifyDrainTimeout)
		if closeErr := a.notifier.Close(drainCtx); closeErr != nil {
			a.logger.Warn("failed to close notification adapter", map[string]any{"error": closeErr.Error()})
		}
		drainCancel()
	}

	return err
}
