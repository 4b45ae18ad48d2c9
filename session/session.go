package session

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/pithecene-io/frr-agent/ipc"
	"github.com/pithecene-io/frr-agent/log"
	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/types"
)

// Session states.
const (
	StateAwaitingFrame = "awaiting_frame"
	StateDispatching   = "dispatching"
	StateResponding    = "responding"
	StateClosed        = "closed"
)

// Session events.
const (
	EventFrameReceived = "frame_received"
	EventDispatched    = "dispatched"
	EventResponded     = "responded"
	EventClose         = "close"
)

// halfCloser is implemented by *net.UnixConn and *net.TCPConn.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Session owns one accepted connection.
// Requests are handled strictly one at a time: the response to a request is
// written before the next frame is read.
type Session struct {
	id         string
	conn       net.Conn
	dispatcher *Dispatcher
	logger     *log.Logger
	collector  *metrics.Collector

	machine *fsm.FSM
	decoder *ipc.FrameDecoder

	request  *types.Request
	response *types.Response
	closeErr error
}

// New creates a session for conn. Logger and collector may be nil.
func New(conn net.Conn, dispatcher *Dispatcher, logger *log.Logger, collector *metrics.Collector) *Session {
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		dispatcher: dispatcher,
		collector:  collector,
		decoder:    ipc.NewFrameDecoder(conn),
	}
	s.logger = logger.With(map[string]any{
		"session": s.id,
		"peer":    peerName(conn),
	})

	s.machine = fsm.NewFSM(
		StateAwaitingFrame,
		fsm.Events{
			{Name: EventFrameReceived, Src: []string{StateAwaitingFrame}, Dst: StateDispatching},
			{Name: EventDispatched, Src: []string{StateDispatching}, Dst: StateResponding},
			{Name: EventResponded, Src: []string{StateResponding}, Dst: StateAwaitingFrame},
			{Name: EventClose, Src: []string{StateAwaitingFrame, StateDispatching, StateResponding}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("session transition", map[string]any{
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				})
			},
			"enter_" + StateClosed: func(_ context.Context, _ *fsm.Event) {
				s.shutdown()
			},
		},
	)

	return s
}

// ID returns the session identifier used in log fields.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() string {
	return s.machine.Current()
}

// Serve runs the session until the peer disconnects, a frame cannot be
// decoded or a response cannot be sent. The connection is always closed on
// return. A clean disconnect returns nil; otherwise the error that ended the
// session is returned.
//
// Cancelling ctx closes the connection; in-flight work is not drained.
func (s *Session) Serve(ctx context.Context) error {
	s.collector.IncSessionOpened()
	s.logger.Info("client connected", nil)

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.Close()
	})
	defer stop()

	for {
		switch s.machine.Current() {
		case StateAwaitingFrame:
			s.logger.Debug("waiting for data", nil)
			req, err := s.decoder.ReadRequest()
			if err != nil {
				s.fail(ctx, "read", err)
				continue
			}
			s.request = req
			s.transition(ctx, EventFrameReceived)

		case StateDispatching:
			s.response = s.dispatcher.Handle(ctx, s.request)
			s.request = nil
			s.transition(ctx, EventDispatched)

		case StateResponding:
			if err := ipc.WriteResponse(s.conn, s.response); err != nil {
				s.fail(ctx, "write", err)
				continue
			}
			s.logger.Debug("sent response", map[string]any{
				"genid":  s.response.GenID,
				"status": s.response.Status(),
			})
			s.response = nil
			s.transition(ctx, EventResponded)

		case StateClosed:
			s.collector.IncSessionClosed()
			return s.closeErr
		}
	}
}

// fail records err and moves the session to closed.
// A clean EOF before a frame header is a normal disconnect.
func (s *Session) fail(ctx context.Context, op string, err error) {
	if errors.Is(err, io.EOF) {
		s.logger.Info("client disconnected", nil)
	} else {
		if ipc.IsFrameError(err) {
			s.collector.IncFrameErrors()
		}
		s.logger.Error("closing session", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
		s.closeErr = err
	}
	s.transition(ctx, EventClose)
}

func (s *Session) transition(ctx context.Context, event string) {
	if err := s.machine.Event(ctx, event); err != nil {
		// Only reachable through a programming error; the event table
		// covers every state Serve visits.
		s.logger.Error("invalid session transition", map[string]any{
			"event": event,
			"state": s.machine.Current(),
			"error": err.Error(),
		})
		s.machine.SetState(StateClosed)
		s.shutdown()
	}
}

// shutdown disables both directions and releases the connection.
func (s *Session) shutdown() {
	if hc, ok := s.conn.(halfCloser); ok {
		_ = hc.CloseRead()
		_ = hc.CloseWrite()
	}
	_ = s.conn.Close()
}

func peerName(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return "unnamed"
}
