package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pithecene-io/frr-agent/ipc"
	"github.com/pithecene-io/frr-agent/metrics"
)

// maxDatagramSize is the read buffer for one datagram. Larger frames must be
// split across datagrams by the sender.
const maxDatagramSize = 4 << 20

// DefaultPeerIdleTimeout is how long a datagram peer may leave a frame
// half-sent before its buffered bytes are discarded.
const DefaultPeerIdleTimeout = 30 * time.Second

// datagramPeer is the reassembly state of one sending address.
type datagramPeer struct {
	reassembler ipc.Reassembler
	lastSeen    time.Time
}

// peerTable tracks peers with a partially received frame.
// Only the datagram read loop touches it.
type peerTable struct {
	idle      time.Duration
	collector *metrics.Collector
	peers     map[string]*datagramPeer
}

func newPeerTable(idle time.Duration, collector *metrics.Collector) *peerTable {
	if idle <= 0 {
		idle = DefaultPeerIdleTimeout
	}
	return &peerTable{
		idle:      idle,
		collector: collector,
		peers:     make(map[string]*datagramPeer),
	}
}

// lookup returns the peer for name, creating it if needed, and marks it seen.
func (t *peerTable) lookup(name string, now time.Time) *datagramPeer {
	p, ok := t.peers[name]
	if !ok {
		p = &datagramPeer{}
		t.peers[name] = p
		t.collector.IncSessionOpened()
	}
	p.lastSeen = now
	return p
}

func (t *peerTable) forget(name string) {
	if _, ok := t.peers[name]; !ok {
		return
	}
	delete(t.peers, name)
	t.collector.IncSessionClosed()
}

// expire forgets peers not seen for longer than the idle timeout and
// returns their names.
func (t *peerTable) expire(now time.Time) []string {
	var expired []string
	for name, p := range t.peers {
		if now.Sub(p.lastSeen) > t.idle {
			expired = append(expired, name)
		}
	}
	for _, name := range expired {
		t.forget(name)
	}
	return expired
}

func (t *peerTable) size() int {
	return len(t.peers)
}

// serveDatagram reads datagrams and reassembles frames per sending address.
// Responses go back to the sender as one datagram per frame. Requests are
// handled in arrival order by this single loop.
func (s *Supervisor) serveDatagram(ctx context.Context, conn *net.UnixConn) error {
	buf := make([]byte, maxDatagramSize)
	peers := newPeerTable(s.config.PeerIdleTimeout, s.config.Collector)

	for {
		n, addr, err := conn.ReadFromUnix(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Error("datagram read failed", map[string]any{"error": err.Error()})
			continue
		}

		now := time.Now()
		for _, name := range peers.expire(now) {
			s.logger.Warn("discarding partial frame from idle peer", map[string]any{"peer": name})
		}

		if addr == nil || addr.Name == "" {
			s.logger.Warn("dropping datagram from unnamed peer", map[string]any{"bytes": n})
			continue
		}
		name := addr.Name
		peer := peers.lookup(name, now)

		frames, err := peer.reassembler.Feed(buf[:n])
		if err != nil {
			s.config.Collector.IncFrameErrors()
			s.logger.Error("dropping peer after frame error", map[string]any{
				"peer":  name,
				"error": err.Error(),
			})
			peers.forget(name)
			continue
		}

		for _, frame := range frames {
			req, err := ipc.DecodeRequest(frame)
			if err != nil {
				s.config.Collector.IncFrameErrors()
				s.logger.Error("invalid request", map[string]any{
					"peer":  name,
					"genid": frame.GenID,
					"error": err.Error(),
				})
				continue
			}

			resp := s.config.Dispatcher.Handle(ctx, req)
			if _, err := conn.WriteToUnix(ipc.EncodeResponse(resp), addr); err != nil {
				s.logger.Error("failed to send response", map[string]any{
					"peer":  name,
					"genid": resp.GenID,
					"error": err.Error(),
				})
			}
		}

		// Peers with nothing buffered need no state.
		if peer.reassembler.Pending() == 0 {
			peers.forget(name)
		}
	}
}
