// Package server binds the agent socket and owns the process lifecycle:
// accepting clients, handing them to sessions and tearing down on signals.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pithecene-io/frr-agent/iox"
	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/session"
)

// Transport selects the socket type.
type Transport string

const (
	// TransportStream is a connection-oriented unix socket (SOCK_STREAM).
	TransportStream Transport = "stream"
	// TransportDatagram is a datagram unix socket (SOCK_DGRAM).
	TransportDatagram Transport = "datagram"
)

// ParseTransport validates a transport name.
func ParseTransport(s string) (Transport, error) {
	switch Transport(s) {
	case TransportStream, TransportDatagram:
		return Transport(s), nil
	case "":
		return TransportStream, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want %q or %q)", s, TransportStream, TransportDatagram)
	}
}

// SocketMode is applied to the bound socket so any local user can connect.
// Access is not otherwise restricted.
const SocketMode os.FileMode = 0o777

// acceptRetryDelay throttles the accept loop after a transient error.
const acceptRetryDelay = 50 * time.Millisecond

// shutdownSignals end Run.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM}

// Config configures a Supervisor.
type Config struct {
	// SocketPath is the filesystem path of the agent socket.
	SocketPath string
	// Transport selects stream or datagram. Defaults to stream.
	Transport Transport
	// Concurrent serves each stream connection on its own goroutine.
	// When false, connections are served one after another.
	Concurrent bool
	// PeerIdleTimeout discards a datagram peer's partial frame after this
	// long without traffic from it. Defaults to DefaultPeerIdleTimeout.
	PeerIdleTimeout time.Duration
	// Dispatcher handles every decoded request.
	Dispatcher *session.Dispatcher
	// Logger is optional.
	Logger *log.Logger
	// Collector is optional.
	Collector *metrics.Collector
}

// Supervisor owns the agent socket.
type Supervisor struct {
	config *Config
	logger *log.Logger

	mu         sync.Mutex
	listener   *net.UnixListener
	packetConn *net.UnixConn
	signals    chan os.Signal
	closed     bool
}

// New creates a supervisor. The socket is not bound until Listen or Run.
func New(config *Config) (*Supervisor, error) {
	if config.SocketPath == "" {
		return nil, errors.New("socket path is required")
	}
	if config.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if config.Transport == "" {
		config.Transport = TransportStream
	}
	if _, err := ParseTransport(string(config.Transport)); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Supervisor{
		config: config,
		logger: logger,
	}, nil
}

// SocketPath returns the configured socket path.
func (s *Supervisor) SocketPath() string {
	return s.config.SocketPath
}

// Listen starts catching shutdown signals, removes any stale socket file,
// creates the parent directory, binds the socket and opens its permissions.
// A signal arriving between Listen and Run is handled by Run.
func (s *Supervisor) Listen() (err error) {
	path := s.config.SocketPath

	s.watchSignals()
	defer func() {
		if err != nil {
			s.mu.Lock()
			s.stopSignalsLocked()
			s.mu.Unlock()
		}
	}()

	if err := iox.RemoveIfExists(path); err != nil {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}

	s.logger.Debug("binding socket", map[string]any{
		"path":      path,
		"transport": s.config.Transport,
	})

	addr := &net.UnixAddr{Name: path}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.config.Transport {
	case TransportDatagram:
		addr.Net = "unixgram"
		conn, err := net.ListenUnixgram("unixgram", addr)
		if err != nil {
			return fmt.Errorf("binding %s: %w", path, err)
		}
		s.packetConn = conn
	default:
		addr.Net = "unix"
		l, err := net.ListenUnix("unix", addr)
		if err != nil {
			return fmt.Errorf("binding %s: %w", path, err)
		}
		s.listener = l
	}

	if err := os.Chmod(path, SocketMode); err != nil {
		s.closeLocked()
		return fmt.Errorf("setting socket permissions: %w", err)
	}

	s.logger.Info("listening", map[string]any{
		"path":      path,
		"transport": s.config.Transport,
	})
	return nil
}

// Serve runs the accept or read loop until the socket is closed.
// Listen must have been called. Returns nil after Close.
func (s *Supervisor) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener, packetConn := s.listener, s.packetConn
	s.mu.Unlock()

	switch {
	case listener != nil:
		return s.serveStream(ctx, listener)
	case packetConn != nil:
		return s.serveDatagram(ctx, packetConn)
	default:
		return errors.New("server: Serve called before Listen")
	}
}

func (s *Supervisor) serveStream(ctx context.Context, listener *net.UnixListener) error {
	for {
		s.logger.Debug("waiting for connection", nil)

		conn, err := listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Error("accept failed", map[string]any{"error": err.Error()})
			time.Sleep(acceptRetryDelay)
			continue
		}

		sess := session.New(conn, s.config.Dispatcher, s.logger, s.config.Collector)
		if s.config.Concurrent {
			go func() {
				_ = sess.Serve(ctx)
			}()
			continue
		}
		// Errors are logged by the session; the next client is served regardless.
		_ = sess.Serve(ctx)
	}
}

func (s *Supervisor) watchSignals() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signals != nil {
		return
	}
	s.signals = make(chan os.Signal, 1)
	signal.Notify(s.signals, shutdownSignals...)
}

func (s *Supervisor) stopSignalsLocked() {
	if s.signals != nil {
		signal.Stop(s.signals)
	}
}

// Close stops accepting, releases the socket and removes the socket file.
// It does not wait for in-flight sessions. Safe to call more than once.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Supervisor) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stopSignalsLocked()

	var errs []error
	if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	if s.packetConn != nil {
		errs = append(errs, s.packetConn.Close())
	}
	if err := iox.RemoveIfExists(s.config.SocketPath); err != nil {
		errs = append(errs, fmt.Errorf("removing socket: %w", err))
	}

	err := errors.Join(errs...)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Run binds the socket if needed and serves until a termination signal
// arrives or ctx is cancelled, then removes the socket and returns nil.
// In-flight requests are abandoned. An error is returned only if binding
// fails or the serve loop stops on its own with an error.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	bound := s.listener != nil || s.packetConn != nil
	s.mu.Unlock()
	if !bound {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	sigCh := s.signals
	s.mu.Unlock()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(serveCtx)
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received signal, shutting down", map[string]any{
			"signal": sig.String(),
		})
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down", nil)
	case err := <-serveErr:
		if closeErr := s.Close(); closeErr != nil {
			s.logger.Warn("failed to remove socket", map[string]any{"error": closeErr.Error()})
		}
		return err
	}

	if err := s.Close(); err != nil {
		s.logger.Warn("failed to remove socket", map[string]any{"error": err.Error()})
	}
	return nil
}
