// Package client implements the requesting side of the agent protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/frr-agent/iox"
	"github.com/pithecene-io/frr-agent/ipc"
	"github.com/pithecene-io/frr-agent/types"
)

// maxResponseDatagram bounds one response datagram. Responses are short
// status strings.
const maxResponseDatagram = 64 << 10

// Client is a connection to the agent socket.
// A Client is not safe for concurrent use: requests are strictly sequential.
type Client struct {
	conn     *net.UnixConn
	decoder  *ipc.FrameDecoder
	datagram bool
	// localPath is the bound client socket in datagram mode, removed on Close.
	localPath string
}

// Dial connects to a stream agent socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	uc := conn.(*net.UnixConn)
	return &Client{
		conn:    uc,
		decoder: ipc.NewFrameDecoder(uc),
	}, nil
}

// DialDatagram connects to a datagram agent socket. The agent replies to the
// sender's address, so the client binds its own socket at localPath, or at a
// unique path in the temp directory when localPath is empty.
func DialDatagram(socketPath, localPath string) (*Client, error) {
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), "frr-agent-client-"+uuid.NewString()[:8]+".sock")
	}

	laddr := &net.UnixAddr{Name: localPath, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: socketPath, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return &Client{
		conn:      conn,
		datagram:  true,
		localPath: localPath,
	}, nil
}

// Send submits a configuration and waits for the agent's response.
func (c *Client) Send(ctx context.Context, genID types.GenID, config string) (*types.Response, error) {
	return c.roundTrip(ctx, &types.Request{GenID: genID, Payload: config})
}

// Keepalive sends a liveness probe.
func (c *Client) Keepalive(ctx context.Context, genID types.GenID) (*types.Response, error) {
	return c.roundTrip(ctx, &types.Request{GenID: genID, Payload: types.KeepalivePayload})
}

// Close releases the connection and any bound client socket.
func (c *Client) Close() error {
	err := c.conn.Close()
	if c.localPath != "" {
		if rmErr := iox.RemoveIfExists(c.localPath); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, req *types.Request) (*types.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	var (
		resp *types.Response
		err  error
	)
	if c.datagram {
		resp, err = c.roundTripDatagram(req)
	} else {
		resp, err = c.roundTripStream(req)
	}
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil && resp.GenID != req.GenID {
		return nil, fmt.Errorf("response genid %d does not match request %d", resp.GenID, req.GenID)
	}
	return resp, err
}

func (c *Client) roundTripStream(req *types.Request) (*types.Response, error) {
	if err := ipc.WriteRequest(c.conn, req); err != nil {
		return nil, err
	}
	return c.decoder.ReadResponse()
}

// roundTripDatagram sends the length field, the genid field and the payload
// as separate datagrams.
func (c *Client) roundTripDatagram(req *types.Request) (*types.Response, error) {
	frame := ipc.EncodeRequest(req)
	parts := [][]byte{
		frame[:ipc.LengthFieldSize],
		frame[ipc.LengthFieldSize:ipc.HeaderSize],
	}
	if len(frame) > ipc.HeaderSize {
		parts = append(parts, frame[ipc.HeaderSize:])
	}
	for _, part := range parts {
		if _, err := c.conn.Write(part); err != nil {
			return nil, &ipc.FrameError{Kind: ipc.FrameErrorWrite, Msg: "failed to send datagram", Err: err}
		}
	}

	var r ipc.Reassembler
	buf := make([]byte, maxResponseDatagram)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		frames, err := r.Feed(buf[:n])
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 {
			return &types.Response{GenID: frames[0].GenID, Payload: frames[0].Payload}, nil
		}
	}
}
