// Package frames implements the AMQP 1.0 frame header and the performative
// bodies that ride inside it: the open/begin/attach/flow/transfer/
// disposition/detach/end/close set plus the SASL security layer's frames.
package frames

import (
	"fmt"

	"github.com/rhs/amqp/internal/buffer"
	"github.com/rhs/amqp/internal/encoding"
)

// HeaderSize is the fixed 8 byte frame header: size(4) + data-offset(1) +
// type(1) + channel(2).
const HeaderSize = 8

// Header is the fixed leading portion of every frame. Size is the total
// frame length including the header itself; DataOffset is the header
// length in 4 byte words (always 2 here, since extended headers are
// unused by this implementation).
type Header struct {
	Size       uint32
	DataOffset uint8
	FrameType  uint8
	Channel    uint16
}

// FrameTypeAMQP and FrameTypeSASL are the only two frame types in use; the
// extension point for others in the spec is not exercised here.
const (
	FrameTypeAMQP uint8 = 0x0
	FrameTypeSASL uint8 = 0x1
)

func (h Header) Marshal(wr *buffer.Buffer) error {
	wr.AppendUint32(h.Size)
	wr.AppendByte(h.DataOffset)
	wr.AppendByte(h.FrameType)
	wr.AppendUint16(h.Channel)
	return nil
}

// ParseHeader reads a Header from the front of buf without consuming the
// frame body. It returns encoding.ErrTruncated if fewer than HeaderSize
// bytes are available.
func ParseHeader(buf *buffer.Buffer) (Header, error) {
	b, ok := buf.Next(HeaderSize)
	if !ok {
		return Header{}, encoding.ErrTruncated
	}
	size := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if size < HeaderSize {
		return Header{}, fmt.Errorf("amqp: invalid frame size %d", size)
	}
	return Header{
		Size:       size,
		DataOffset: b[4],
		FrameType:  b[5],
		Channel:    uint16(b[6])<<8 | uint16(b[7]),
	}, nil
}

// FrameBody is implemented by every performative and SASL frame body.
type FrameBody interface {
	encoding.Marshaler
	encoding.Unmarshaler
	frameBody()
}

// Frame is a fully parsed frame: its header plus a decoded body, or raw
// extra bytes for a Transfer's payload (which the codec never looks
// inside).
type Frame struct {
	Header  Header
	Body    FrameBody
	Payload []byte
}

// ParseBody decodes a performative (or SASL) frame body from buf, which
// must contain exactly the frame's body bytes (the header already
// stripped). For PerformTransfer the trailing, undecoded bytes become its
// Payload field.
func ParseBody(buf *buffer.Buffer) (FrameBody, error) {
	if buf.Len() == 0 {
		// empty body: a keep-alive frame carries no performative at all.
		return nil, nil
	}

	marker, ok := buf.PeekByte()
	if !ok || encoding.TypeCode(marker) != encoding.TypeCodeDescriptor {
		return nil, fmt.Errorf("amqp: frame body does not start with a composite descriptor")
	}

	// peek the descriptor code without consuming, so the concrete type's
	// own Unmarshal can still see it.
	save := *buf
	buf.Skip(1)
	code, err := peekULong(buf)
	*buf = save
	if err != nil {
		return nil, err
	}

	var body FrameBody
	switch code {
	case encoding.CodeOpen:
		body = new(PerformOpen)
	case encoding.CodeBegin:
		body = new(PerformBegin)
	case encoding.CodeAttach:
		body = new(PerformAttach)
	case encoding.CodeFlow:
		body = new(PerformFlow)
	case encoding.CodeTransfer:
		body = new(PerformTransfer)
	case encoding.CodeDisposition:
		body = new(PerformDisposition)
	case encoding.CodeDetach:
		body = new(PerformDetach)
	case encoding.CodeEnd:
		body = new(PerformEnd)
	case encoding.CodeClose:
		body = new(PerformClose)
	case encoding.CodeSASLMechs:
		body = new(SASLMechanisms)
	case encoding.CodeSASLInit:
		body = new(SASLInit)
	case encoding.CodeSASLChal:
		body = new(SASLChallenge)
	case encoding.CodeSASLResp:
		body = new(SASLResponse)
	case encoding.CodeSASLOutcome:
		body = new(SASLOutcome)
	default:
		return nil, fmt.Errorf("amqp: unknown performative descriptor %#02x", code)
	}

	if err := body.Unmarshal(buf); err != nil {
		return nil, err
	}

	if t, ok := body.(*PerformTransfer); ok {
		t.Payload = append([]byte(nil), buf.Bytes()...)
		buf.Skip(buf.Len())
	}
	return body, nil
}

// peekULong decodes a ulong at the buffer's current position without the
// caller having to special-case its three width encodings.
func peekULong(buf *buffer.Buffer) (uint64, error) {
	var n uint64
	if err := encoding.Unmarshal(buf, &n); err != nil {
		return 0, err
	}
	return n, nil
}
