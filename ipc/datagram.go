package ipc

import "bytes"

// Reassembler rebuilds frames from a datagram exchange with one peer.
//
// Peers may send each frame field as its own datagram (header length,
// generation id, payload), or several frames in one datagram. Reassembler
// only assumes the datagrams of one peer arrive in order.
type Reassembler struct {
	buf bytes.Buffer
}

// Feed appends a datagram and returns every frame it completes.
// A *FrameError is returned for an oversized length; the buffered bytes are
// discarded since the stream cannot be resynchronised.
func (r *Reassembler) Feed(datagram []byte) ([]*Frame, error) {
	r.buf.Write(datagram)

	var frames []*Frame
	for r.buf.Len() >= HeaderSize {
		size, genID := parseHeader(r.buf.Bytes()[:HeaderSize])
		if err := checkPayloadSize(size); err != nil {
			r.Reset()
			return frames, err
		}
		total := HeaderSize + int(size)
		if r.buf.Len() < total {
			break
		}
		raw := r.buf.Next(total)
		payload := make([]byte, size)
		copy(payload, raw[HeaderSize:])
		frames = append(frames, &Frame{GenID: genID, Payload: payload})
	}
	return frames, nil
}

// Pending returns the number of buffered bytes of an incomplete frame.
func (r *Reassembler) Pending() int {
	return r.buf.Len()
}

// Reset drops any partially received frame.
func (r *Reassembler) Reset() {
	r.buf.Reset()
}
