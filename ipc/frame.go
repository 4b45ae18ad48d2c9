// Package ipc implements the agent's request/response framing.
//
// Every message on the socket is one frame:
//
//	[ 8 bytes: payload length (u64) ][ 8 bytes: generation id (i64) ][ payload ]
//
// Header fields are little-endian. There is no version field and no checksum.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/pithecene-io/frr-agent/types"
)

// Frame size constants.
const (
	// LengthFieldSize is the size of the payload length field in bytes.
	LengthFieldSize = 8
	// GenIDFieldSize is the size of the generation id field in bytes.
	GenIDFieldSize = 8
	// HeaderSize is the size of the fixed frame header.
	HeaderSize = LengthFieldSize + GenIDFieldSize
	// MaxPayloadSize bounds a single payload (64 MiB). Full FRR configs are
	// orders of magnitude smaller.
	MaxPayloadSize = 64 * 1024 * 1024
)

// ByteOrder is the byte order of the header fields.
var ByteOrder = binary.LittleEndian

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates the peer closed mid-header or mid-payload.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a payload length that cannot be allocated.
	FrameErrorTooLarge
	// FrameErrorEncoding indicates a payload that is not valid UTF-8.
	FrameErrorEncoding
	// FrameErrorWrite indicates a frame could not be written.
	FrameErrorWrite
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorEncoding:
		return "encoding"
	case FrameErrorWrite:
		return "write"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// FrameError represents a malformed or undeliverable frame.
// Every FrameError ends the session it occurred on.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError reports whether err is (or wraps) a *FrameError.
func IsFrameError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// Frame is one decoded frame before payload interpretation.
type Frame struct {
	GenID   types.GenID
	Payload []byte
}

// FrameDecoder decodes frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
//
// Errors:
//   - io.EOF: stream ended cleanly before any header byte
//   - *FrameError with Kind=FrameErrorPartial: incomplete header or payload
//   - *FrameError with Kind=FrameErrorTooLarge: unrepresentable payload length
func (d *FrameDecoder) ReadFrame() (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(d.reader, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read frame header",
			Err:  err,
		}
	}

	size, genID := parseHeader(header[:])
	if err := checkPayloadSize(size); err != nil {
		return nil, err
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("failed to read payload (%d octets)", size),
			Err:  err,
		}
	}

	return &Frame{GenID: genID, Payload: payload}, nil
}

// ReadRequest reads one frame and interprets it as a request.
func (d *FrameDecoder) ReadRequest() (*types.Request, error) {
	frame, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeRequest(frame)
}

// ReadResponse reads one frame and interprets it as a response.
func (d *FrameDecoder) ReadResponse() (*types.Response, error) {
	frame, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return &types.Response{GenID: frame.GenID, Payload: frame.Payload}, nil
}

// DecodeRequest validates a frame's payload as UTF-8 text.
func DecodeRequest(frame *Frame) (*types.Request, error) {
	if !utf8.Valid(frame.Payload) {
		return nil, &FrameError{
			Kind: FrameErrorEncoding,
			Msg:  fmt.Sprintf("request body for generation %d is not valid UTF-8", frame.GenID),
		}
	}
	return &types.Request{GenID: frame.GenID, Payload: string(frame.Payload)}, nil
}

// EncodeFrame assembles |length|genid|payload| into a single buffer.
func EncodeFrame(genID types.GenID, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, uint64(len(payload)), genID)
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeResponse encodes a response frame.
func EncodeResponse(resp *types.Response) []byte {
	return EncodeFrame(resp.GenID, resp.Payload)
}

// EncodeRequest encodes a request frame.
func EncodeRequest(req *types.Request) []byte {
	return EncodeFrame(req.GenID, []byte(req.Payload))
}

// WriteResponse writes one response frame with a single Write call.
func WriteResponse(w io.Writer, resp *types.Response) error {
	return writeFrame(w, EncodeResponse(resp))
}

// WriteRequest writes one request frame with a single Write call.
func WriteRequest(w io.Writer, req *types.Request) error {
	return writeFrame(w, EncodeRequest(req))
}

func writeFrame(w io.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return &FrameError{
			Kind: FrameErrorWrite,
			Msg:  "failed to send frame",
			Err:  err,
		}
	}
	return nil
}

func putHeader(buf []byte, size uint64, genID types.GenID) {
	ByteOrder.PutUint64(buf[:LengthFieldSize], size)
	ByteOrder.PutUint64(buf[LengthFieldSize:HeaderSize], uint64(genID))
}

func parseHeader(buf []byte) (uint64, types.GenID) {
	size := ByteOrder.Uint64(buf[:LengthFieldSize])
	genID := types.GenID(int64(ByteOrder.Uint64(buf[LengthFieldSize:HeaderSize])))
	return size, genID
}

func checkPayloadSize(size uint64) error {
	if size > math.MaxInt {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("could not determine message length: %d does not fit a platform int", size),
		}
	}
	if size > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}
	return nil
}
