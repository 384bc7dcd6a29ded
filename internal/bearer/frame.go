package bearer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind tags a frame.
type Kind byte

const (
	// KindATT carries conn id + ATT PDU, in both directions.
	KindATT Kind = 0x01
	// KindConnect carries conn id + peer address (host → device).
	KindConnect Kind = 0x02
	// KindDisconnect carries conn id + reason (host → device).
	KindDisconnect Kind = 0x03
	// KindAdvertising carries an advertising mode: a start request from the
	// device, a mode report from the host.
	KindAdvertising Kind = 0x04
	// KindPairing carries the conn id of a peer asking to pair (host → device).
	KindPairing Kind = 0x05
)

func (k Kind) String() string {
	switch k {
	case KindATT:
		return "att"
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindAdvertising:
		return "advertising"
	case KindPairing:
		return "pairing"
	default:
		return fmt.Sprintf("kind(0x%02x)", byte(k))
	}
}

// MaxPayload bounds a single frame.
const MaxPayload = 4096

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrShortPayload  = errors.New("frame payload too short")
)

// Frame is len(u16 LE) | kind | payload on the wire; len counts payload bytes.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// ConnID returns the leading connection id of ATT, connect and disconnect
// frames.
func (f Frame) ConnID() (uint16, error) {
	if len(f.Payload) < 2 {
		return 0, fmt.Errorf("%w: %s frame with %d bytes", ErrShortPayload, f.Kind, len(f.Payload))
	}
	return binary.LittleEndian.Uint16(f.Payload), nil
}

// Body returns the payload after the connection id.
func (f Frame) Body() []byte {
	if len(f.Payload) < 2 {
		return nil
	}
	return f.Payload[2:]
}

// NewConnFrame builds a frame whose payload starts with a connection id.
func NewConnFrame(kind Kind, connID uint16, body []byte) Frame {
	p := make([]byte, 2, 2+len(body))
	binary.LittleEndian.PutUint16(p, connID)
	return Frame{Kind: kind, Payload: append(p, body...)}
}

// Encode serialises the frame.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}
	b := make([]byte, 3, 3+len(f.Payload))
	binary.LittleEndian.PutUint16(b, uint16(len(f.Payload)))
	b[2] = byte(f.Kind)
	return append(b, f.Payload...), nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	if n > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Kind: Kind(hdr[2]), Payload: payload}, nil
}
