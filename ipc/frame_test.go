package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/pithecene-io/frr-agent/types"
)

// rawHeader builds a header with an arbitrary length field.
func rawHeader(size uint64, genID int64) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[:8], size)
	binary.LittleEndian.PutUint64(buf[8:], uint64(genID))
	return buf
}

func TestEncodeFrame_Layout(t *testing.T) {
	frame := EncodeFrame(7, []byte("Ok"))

	if len(frame) != HeaderSize+2 {
		t.Fatalf("len = %d, want %d", len(frame), HeaderSize+2)
	}
	if got := binary.LittleEndian.Uint64(frame[:8]); got != 2 {
		t.Errorf("length field = %d, want 2", got)
	}
	if got := int64(binary.LittleEndian.Uint64(frame[8:16])); got != 7 {
		t.Errorf("genid field = %d, want 7", got)
	}
	if string(frame[HeaderSize:]) != "Ok" {
		t.Errorf("payload = %q, want %q", frame[HeaderSize:], "Ok")
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		genID   types.GenID
		payload string
	}{
		{name: "keepalive", genID: 7, payload: types.KeepalivePayload},
		{name: "config", genID: 3, payload: "router bgp 65000\n!\n"},
		{name: "empty payload", genID: 0, payload: ""},
		{name: "negative genid", genID: -42, payload: "x"},
		{name: "max genid", genID: math.MaxInt64, payload: "frr defaults datacenter\n"},
		{name: "min genid", genID: math.MinInt64, payload: "hostname leaf-1\n"},
		{name: "multibyte utf8", genID: 9, payload: "description über-link ✓\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeRequest(&types.Request{GenID: tt.genID, Payload: tt.payload})

			req, err := NewFrameDecoder(bytes.NewReader(encoded)).ReadRequest()
			if err != nil {
				t.Fatalf("ReadRequest failed: %v", err)
			}
			if req.GenID != tt.genID {
				t.Errorf("GenID = %d, want %d", req.GenID, tt.genID)
			}
			if req.Payload != tt.payload {
				t.Errorf("Payload = %q, want %q", req.Payload, tt.payload)
			}
		})
	}
}

func TestFrameDecoder_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	for i, status := range []string{"Ok", "Reloading error: --reload failed", "Ok"} {
		if err := WriteResponse(&buf, types.NewResponse(types.GenID(i), status)); err != nil {
			t.Fatalf("WriteResponse failed: %v", err)
		}
	}

	decoder := NewFrameDecoder(&buf)
	var got []string
	for {
		resp, err := decoder.ReadResponse()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if int(resp.GenID) != len(got) {
			t.Errorf("GenID = %d, want %d", resp.GenID, len(got))
		}
		got = append(got, resp.Status())
	}

	if len(got) != 3 {
		t.Fatalf("decoded %d frames, want 3", len(got))
	}
	if got[1] != "Reloading error: --reload failed" {
		t.Errorf("frame[1] = %q", got[1])
	}
}

func TestFrameDecoder_OneByteReader(t *testing.T) {
	encoded := EncodeFrame(11, []byte("line vty\n!\n"))
	reader := iotest.OneByteReader(bytes.NewReader(encoded))

	frame, err := NewFrameDecoder(reader).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.GenID != 11 || string(frame.Payload) != "line vty\n!\n" {
		t.Errorf("frame = (%d, %q)", frame.GenID, frame.Payload)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
	if IsFrameError(err) {
		t.Error("clean EOF should not be a frame error")
	}
}

func TestFrameDecoder_Malformed(t *testing.T) {
	valid := EncodeFrame(5, []byte("router ospf\n"))

	tests := []struct {
		name string
		data []byte
		kind FrameErrorKind
	}{
		{
			name: "closed mid length field",
			data: valid[:4],
			kind: FrameErrorPartial,
		},
		{
			name: "closed mid genid field",
			data: valid[:12],
			kind: FrameErrorPartial,
		},
		{
			name: "closed mid payload",
			data: valid[:HeaderSize+3],
			kind: FrameErrorPartial,
		},
		{
			name: "header only with non-empty length",
			data: valid[:HeaderSize],
			kind: FrameErrorPartial,
		},
		{
			name: "length exceeds platform int",
			data: rawHeader(math.MaxUint64, 1),
			kind: FrameErrorTooLarge,
		},
		{
			name: "length exceeds max payload",
			data: rawHeader(MaxPayloadSize+1, 1),
			kind: FrameErrorTooLarge,
		},
		{
			name: "invalid utf8",
			data: EncodeFrame(1, []byte{0xff, 0xfe, 0xfd}),
			kind: FrameErrorEncoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameDecoder(bytes.NewReader(tt.data)).ReadRequest()
			if err == nil {
				t.Fatal("expected error")
			}

			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Fatalf("expected *FrameError, got %T: %v", err, err)
			}
			if frameErr.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", frameErr.Kind, tt.kind)
			}
		})
	}
}

func TestWriteResponse_WriteFailure(t *testing.T) {
	w := errWriter{err: io.ErrClosedPipe}

	err := WriteResponse(w, types.NewResponse(1, "Ok"))
	if err == nil {
		t.Fatal("expected error")
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorWrite {
		t.Errorf("Kind = %v, want FrameErrorWrite", frameErr.Kind)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("Unwrap should expose the underlying write error")
	}
}

func TestFrameError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *FrameError
		contains string
	}{
		{
			name:     "without underlying error",
			err:      &FrameError{Kind: FrameErrorTooLarge, Msg: "payload too big"},
			contains: "too big",
		},
		{
			name: "with underlying error",
			err: &FrameError{
				Kind: FrameErrorPartial,
				Msg:  "failed to read frame header",
				Err:  io.ErrUnexpectedEOF,
			},
			contains: "unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg := tt.err.Error(); !strings.Contains(msg, tt.contains) {
				t.Errorf("error message %q does not contain %q", msg, tt.contains)
			}
		})
	}
}

func TestIsFrameError(t *testing.T) {
	if IsFrameError(nil) {
		t.Error("nil should not be a frame error")
	}
	if IsFrameError(errors.New("regular error")) {
		t.Error("regular errors should not be frame errors")
	}
	wrapped := errors.Join(errors.New("context"), &FrameError{Kind: FrameErrorPartial, Msg: "x"})
	if !IsFrameError(wrapped) {
		t.Error("wrapped frame errors should be detected")
	}
}

type errWriter struct {
	err error
}

func (w errWriter) Write([]byte) (int, error) {
	return 0, w.err
}
