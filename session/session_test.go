package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/frr-agent/ipc"
	"github.com/pithecene-io/frr-agent/metrics"
	"github.com/pithecene-io/frr-agent/types"
)

// fakeReloader records reload calls and returns a fixed outcome.
type fakeReloader struct {
	mu      sync.Mutex
	calls   []types.GenID
	configs []string
	outcome types.OutcomeStatus
}

func (f *fakeReloader) Reload(_ context.Context, genID types.GenID, config string) *types.ReloadOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, genID)
	f.configs = append(f.configs, config)

	status := f.outcome
	if status == "" {
		status = types.OutcomeSuccess
	}
	out := &types.ReloadOutcome{Status: status}
	if status == types.OutcomeValidationFailed {
		out.Phase = types.PhaseTest
	}
	return out
}

func (f *fakeReloader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeNotifier records notified generations.
type fakeNotifier struct {
	mu       sync.Mutex
	genIDs   []types.GenID
	messages []string
}

func (f *fakeNotifier) Notify(genID types.GenID, _ *types.ReloadOutcome, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genIDs = append(f.genIDs, genID)
	f.messages = append(f.messages, message)
}

// startSession serves one end of a pipe and returns the client end plus a
// channel carrying Serve's result.
func startSession(t *testing.T, d *Dispatcher, c *metrics.Collector) (net.Conn, <-chan error) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	s := New(server, d, nil, c)
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background())
	}()
	return client, done
}

func roundTrip(t *testing.T, conn net.Conn, genID types.GenID, payload string) *types.Response {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := ipc.WriteRequest(conn, &types.Request{GenID: genID, Payload: payload}); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}
	resp, err := ipc.NewFrameDecoder(conn).ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	return resp
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSession_Keepalive(t *testing.T) {
	reloader := &fakeReloader{}
	notifier := &fakeNotifier{}
	conn, done := startSession(t, &Dispatcher{Reloader: reloader, Notifier: notifier}, nil)

	resp := roundTrip(t, conn, 42, types.KeepalivePayload)

	if resp.GenID != 42 || resp.Status() != "Ok" {
		t.Errorf("response = (%d, %q), want (42, Ok)", resp.GenID, resp.Status())
	}
	if reloader.callCount() != 0 {
		t.Errorf("reloader called %d times for keepalive", reloader.callCount())
	}
	if len(notifier.genIDs) != 0 {
		t.Errorf("notifier called for keepalive")
	}

	_ = conn.Close()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Serve = %v, want nil on clean disconnect", err)
	}
}

func TestSession_KeepaliveIsExact(t *testing.T) {
	reloader := &fakeReloader{}
	conn, _ := startSession(t, &Dispatcher{Reloader: reloader}, nil)

	roundTrip(t, conn, 1, "keepalive")
	roundTrip(t, conn, 2, "KEEPALIVE\n")

	if reloader.callCount() != 2 {
		t.Errorf("reloader calls = %d, want 2 (near-miss keepalives are configs)", reloader.callCount())
	}
}

func TestSession_ReloadFailureKeepsSessionOpen(t *testing.T) {
	reloader := &fakeReloader{outcome: types.OutcomeValidationFailed}
	notifier := &fakeNotifier{}
	conn, _ := startSession(t, &Dispatcher{Reloader: reloader, Notifier: notifier}, nil)

	resp := roundTrip(t, conn, 3, "bad config")
	if resp.GenID != 3 {
		t.Errorf("GenID = %d, want 3", resp.GenID)
	}
	if resp.Status() != "Reloading error: configuration rejected by --test" {
		t.Errorf("Status = %q", resp.Status())
	}

	// Same connection still serves requests.
	resp = roundTrip(t, conn, 4, types.KeepalivePayload)
	if !resp.OK() {
		t.Errorf("keepalive after failure = %q", resp.Status())
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.genIDs) != 1 || notifier.genIDs[0] != 3 {
		t.Fatalf("notified = %v, want [3]", notifier.genIDs)
	}
	if notifier.messages[0] != "Reloading error: configuration rejected by --test" {
		t.Errorf("notified message = %q", notifier.messages[0])
	}
}

func TestSession_RequestsInOrder(t *testing.T) {
	reloader := &fakeReloader{}
	conn, _ := startSession(t, &Dispatcher{Reloader: reloader}, nil)

	for i := 1; i <= 5; i++ {
		resp := roundTrip(t, conn, types.GenID(i), "config")
		if resp.GenID != types.GenID(i) {
			t.Errorf("response %d GenID = %d", i, resp.GenID)
		}
	}

	reloader.mu.Lock()
	defer reloader.mu.Unlock()
	for i, g := range reloader.calls {
		if g != types.GenID(i+1) {
			t.Errorf("reload %d genid = %d, want %d", i, g, i+1)
		}
	}
}

func TestSession_AlwaysOK(t *testing.T) {
	reloader := &fakeReloader{outcome: types.OutcomeApplyFailed}
	c := metrics.NewCollector("stream", "reloader")
	conn, _ := startSession(t, &Dispatcher{AlwaysOK: true, Reloader: reloader, Collector: c}, c)

	resp := roundTrip(t, conn, 9, "anything")
	if !resp.OK() {
		t.Errorf("Status = %q, want Ok", resp.Status())
	}
	if reloader.callCount() != 0 {
		t.Errorf("reloader called in always-ok mode")
	}
	if got := c.Snapshot().ForcedSuccesses; got != 1 {
		t.Errorf("ForcedSuccesses = %d, want 1", got)
	}
}

func TestSession_MalformedFrameClosesSession(t *testing.T) {
	reloader := &fakeReloader{}
	c := metrics.NewCollector("stream", "reloader")
	conn, done := startSession(t, &Dispatcher{Reloader: reloader}, c)

	// Header announcing 2 bytes of invalid UTF-8.
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(ipc.EncodeFrame(1, []byte{0xff, 0xfe})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	err := waitDone(t, done)
	var frameErr *ipc.FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != ipc.FrameErrorEncoding {
		t.Fatalf("Serve = %v, want encoding FrameError", err)
	}

	// The peer sees the connection closed without a response.
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("client Read = %v, want EOF", err)
	}

	if reloader.callCount() != 0 {
		t.Errorf("reloader called for malformed frame")
	}
	s := c.Snapshot()
	if s.FrameErrors != 1 || s.SessionsOpened != 1 || s.SessionsClosed != 1 {
		t.Errorf("metrics frame=%d opened=%d closed=%d, want 1/1/1", s.FrameErrors, s.SessionsOpened, s.SessionsClosed)
	}
}

func TestSession_PartialHeader(t *testing.T) {
	conn, done := startSession(t, &Dispatcher{Reloader: &fakeReloader{}}, nil)

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = conn.Close()

	err := waitDone(t, done)
	var frameErr *ipc.FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != ipc.FrameErrorPartial {
		t.Fatalf("Serve = %v, want partial FrameError", err)
	}
}

func TestSession_StateClosedAfterServe(t *testing.T) {
	server, client := net.Pipe()
	s := New(server, &Dispatcher{Reloader: &fakeReloader{}}, nil, nil)

	if s.State() != StateAwaitingFrame {
		t.Errorf("initial state = %s, want %s", s.State(), StateAwaitingFrame)
	}
	if s.ID() == "" {
		t.Error("session id is empty")
	}

	_ = client.Close()
	if err := s.Serve(context.Background()); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
	if s.State() != StateClosed {
		t.Errorf("final state = %s, want %s", s.State(), StateClosed)
	}
}

func TestSession_ContextCancelClosesConnection(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(server, &Dispatcher{Reloader: &fakeReloader{}}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	cancel()
	waitDone(t, done)

	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
}
