package att

import (
	"encoding/binary"

	"github.com/go-ble/ble"
)

// Request is a decoded client PDU: one of ReadRequest, ReadBlobRequest,
// ReadByTypeRequest, WriteRequest, WriteCommand, MTURequest or Unsupported.
type Request interface {
	Opcode() Opcode
	Marshal() []byte
}

type ReadRequest struct {
	Handle uint16
}

type ReadBlobRequest struct {
	Handle uint16
	Offset uint16
}

type ReadByTypeRequest struct {
	Start uint16
	End   uint16
	Type  ble.UUID
}

type WriteRequest struct {
	Handle uint16
	Value  []byte
}

type WriteCommand struct {
	Handle uint16
	Value  []byte
}

type MTURequest struct {
	ClientMTU uint16
}

// Unsupported carries any opcode this server does not implement.
type Unsupported struct {
	Op  Opcode
	Raw []byte
}

func (ReadRequest) Opcode() Opcode       { return OpReadReq }
func (ReadBlobRequest) Opcode() Opcode   { return OpReadBlobReq }
func (ReadByTypeRequest) Opcode() Opcode { return OpReadByTypeReq }
func (WriteRequest) Opcode() Opcode      { return OpWriteReq }
func (WriteCommand) Opcode() Opcode      { return OpWriteCmd }
func (MTURequest) Opcode() Opcode        { return OpExchangeMTUReq }
func (u Unsupported) Opcode() Opcode     { return u.Op }

func (r ReadRequest) Marshal() []byte {
	return le16(append(make([]byte, 0, 3), byte(OpReadReq)), r.Handle)
}

func (r ReadBlobRequest) Marshal() []byte {
	b := le16(append(make([]byte, 0, 5), byte(OpReadBlobReq)), r.Handle)
	return le16(b, r.Offset)
}

func (r ReadByTypeRequest) Marshal() []byte {
	b := le16(append(make([]byte, 0, 5+len(r.Type)), byte(OpReadByTypeReq)), r.Start)
	b = le16(b, r.End)
	return append(b, r.Type...)
}

func (r WriteRequest) Marshal() []byte {
	b := le16(append(make([]byte, 0, 3+len(r.Value)), byte(OpWriteReq)), r.Handle)
	return append(b, r.Value...)
}

func (r WriteCommand) Marshal() []byte {
	b := le16(append(make([]byte, 0, 3+len(r.Value)), byte(OpWriteCmd)), r.Handle)
	return append(b, r.Value...)
}

func (r MTURequest) Marshal() []byte {
	return le16([]byte{byte(OpExchangeMTUReq)}, r.ClientMTU)
}

func (u Unsupported) Marshal() []byte {
	if len(u.Raw) > 0 {
		return append([]byte(nil), u.Raw...)
	}
	return []byte{byte(u.Op)}
}

// Decode parses a client PDU. Malformed PDUs of a known opcode yield a
// StatusError carrying ble.ErrInvalidPDU.
func Decode(pdu []byte) (Request, error) {
	if len(pdu) == 0 {
		return nil, statusErr(0, 0, ble.ErrInvalidPDU)
	}
	op := Opcode(pdu[0])
	body := pdu[1:]

	switch op {
	case OpReadReq:
		if len(body) != 2 {
			return nil, statusErr(op, 0, ble.ErrInvalidPDU)
		}
		return ReadRequest{Handle: binary.LittleEndian.Uint16(body)}, nil

	case OpReadBlobReq:
		if len(body) != 4 {
			return nil, statusErr(op, 0, ble.ErrInvalidPDU)
		}
		return ReadBlobRequest{
			Handle: binary.LittleEndian.Uint16(body),
			Offset: binary.LittleEndian.Uint16(body[2:]),
		}, nil

	case OpReadByTypeReq:
		// 16-bit or 128-bit attribute type
		if len(body) != 6 && len(body) != 20 {
			return nil, statusErr(op, 0, ble.ErrInvalidPDU)
		}
		return ReadByTypeRequest{
			Start: binary.LittleEndian.Uint16(body),
			End:   binary.LittleEndian.Uint16(body[2:]),
			Type:  ble.UUID(append([]byte(nil), body[4:]...)),
		}, nil

	case OpWriteReq, OpWriteCmd:
		if len(body) < 2 {
			return nil, statusErr(op, 0, ble.ErrInvalidPDU)
		}
		h := binary.LittleEndian.Uint16(body)
		v := append([]byte{}, body[2:]...)
		if op == OpWriteReq {
			return WriteRequest{Handle: h, Value: v}, nil
		}
		return WriteCommand{Handle: h, Value: v}, nil

	case OpExchangeMTUReq:
		if len(body) != 2 {
			return nil, statusErr(op, 0, ble.ErrInvalidPDU)
		}
		return MTURequest{ClientMTU: binary.LittleEndian.Uint16(body)}, nil

	default:
		return Unsupported{Op: op, Raw: append([]byte(nil), pdu...)}, nil
	}
}

// ErrorResponse encodes an error response for a failed request.
func ErrorResponse(req Opcode, h uint16, status ble.ATTError) []byte {
	b := le16([]byte{byte(OpErrorRsp), byte(req)}, h)
	return append(b, byte(status))
}

// WriteResponse encodes the empty write acknowledgement.
func WriteResponse() []byte {
	return []byte{byte(OpWriteRsp)}
}

// MTUResponse encodes the server receive MTU.
func MTUResponse(serverMTU uint16) []byte {
	return le16([]byte{byte(OpExchangeMTURsp)}, serverMTU)
}

// Notification encodes a handle value notification, truncating the value to
// what fits in mtu.
func Notification(h uint16, value []byte, mtu int) []byte {
	if limit := mtu - 3; len(value) > limit {
		value = value[:limit]
	}
	b := le16(append(make([]byte, 0, 3+len(value)), byte(OpNotification)), h)
	return append(b, value...)
}

func le16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}
