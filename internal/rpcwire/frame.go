// Package rpcwire defines the length-prefixed, msgpack-encoded frame format
// carried over the store's transport, and the Connector abstraction that
// lets tests substitute an in-memory pipe for a TCP socket.
package rpcwire

import (
	"encoding/binary"
	"fmt"
	"io"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
)

// FrameKind identifies the role a Frame plays on the wire.
type FrameKind uint8

const (
	// KindCall is a client request naming a Method and carrying its
	// msgpack-encoded argument tuple as Payload.
	KindCall FrameKind = iota + 1
	// KindReply is a successful response to the call with the same ID.
	KindReply
	// KindError is a failed response to the call with the same ID; Payload
	// is the msgpack encoding of a tandemerr.Error.
	KindError
	// KindNotify is an unsolicited server-to-client push on a watchHeads
	// subscription identified by ID.
	KindNotify
	// KindCancel is a client request to unsubscribe the watchHeads
	// subscription identified by ID.
	KindCancel
)

func (k FrameKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReply:
		return "reply"
	case KindError:
		return "error"
	case KindNotify:
		return "notify"
	case KindCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// maxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxFrameSize = 64 << 20

// Frame is one message on the wire: a four-byte big-endian length prefix
// covering everything after it, then the fields below msgpack-encoded as
// a map keyed by field name.
type Frame struct {
	ID      uint64
	Kind    FrameKind
	Method  string
	Payload []byte
}

var mpHandle = &msgpack.MsgpackHandle{}

// wireFrame is the on-the-wire tuple shape; kept distinct from Frame so
// that Frame's exported field order can change without touching the wire
// format.
type wireFrame struct {
	ID      uint64
	Kind    uint8
	Method  string
	Payload []byte
}

// WriteFrame encodes f and writes it to w as a length-prefixed msgpack
// message.
func WriteFrame(w io.Writer, f Frame) error {
	var body []byte
	enc := msgpack.NewEncoderBytes(&body, mpHandle)
	if err := enc.Encode(wireFrame{ID: f.ID, Kind: uint8(f.Kind), Method: f.Method, Payload: f.Payload}); err != nil {
		return fmt.Errorf("rpcwire: encode frame: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("rpcwire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("rpcwire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one length-prefixed msgpack frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameSize {
		return Frame{}, fmt.Errorf("rpcwire: frame of %d bytes exceeds maximum %d", n, maxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("rpcwire: read frame body: %w", err)
	}

	var wf wireFrame
	dec := msgpack.NewDecoderBytes(body, mpHandle)
	if err := dec.Decode(&wf); err != nil {
		return Frame{}, fmt.Errorf("rpcwire: decode frame: %w", err)
	}
	return Frame{ID: wf.ID, Kind: FrameKind(wf.Kind), Method: wf.Method, Payload: wf.Payload}, nil
}

// Encode msgpack-encodes v, for building a Frame's Payload.
func Encode(v any) ([]byte, error) {
	var out []byte
	enc := msgpack.NewEncoderBytes(&out, mpHandle)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("rpcwire: encode payload: %w", err)
	}
	return out, nil
}

// Decode msgpack-decodes data into v, the inverse of Encode.
func Decode(data []byte, v any) error {
	dec := msgpack.NewDecoderBytes(data, mpHandle)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("rpcwire: decode payload: %w", err)
	}
	return nil
}
