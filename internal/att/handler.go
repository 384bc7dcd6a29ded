// Package att implements the server side of the attribute protocol for the
// CapSense database: request decoding, dispatch, response encoding and the
// response buffer budget.
package att

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/attr"
	"github.com/srg/blecap/internal/capsense"
	"github.com/srg/blecap/internal/gattdb"
	"github.com/srg/blecap/internal/link"
)

// Sender transmits a PDU. done, when non-nil, must be called once the
// transport has finished with pdu.
type Sender interface {
	Send(connID uint16, pdu []byte, done func()) error
}

// Refresher pulls live values into an attribute before it is read.
type Refresher interface {
	Refresh(h uint16)
}

// Trigger runs an immediate notification pass.
type Trigger interface {
	NotifyAll() int
}

// Config groups the Handler collaborators. Refresher, Trigger and State are
// optional.
type Config struct {
	Store     *attr.Store
	Registry  *link.Registry
	Pool      *Pool
	Sender    Sender
	Refresher Refresher
	Trigger   Trigger
	State     *capsense.State
	MaxMTU    int
	Logger    *logrus.Logger
}

// Handler answers client requests synchronously on the caller's goroutine.
type Handler struct {
	store     *attr.Store
	registry  *link.Registry
	pool      *Pool
	sender    Sender
	refresher Refresher
	trigger   Trigger
	state     *capsense.State
	maxMTU    int
	logger    *logrus.Logger

	requests atomic.Int64
	failures atomic.Int64
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.PanicLevel)
	}
	if cfg.Registry == nil {
		cfg.Registry = link.NewRegistry()
	}
	if cfg.MaxMTU < minimumMTU {
		cfg.MaxMTU = minimumMTU
	}
	return &Handler{
		store:     cfg.Store,
		registry:  cfg.Registry,
		pool:      cfg.Pool,
		sender:    cfg.Sender,
		refresher: cfg.Refresher,
		trigger:   cfg.Trigger,
		state:     cfg.State,
		maxMTU:    cfg.MaxMTU,
		logger:    cfg.Logger,
	}
}

// Handle decodes and answers one PDU. Protocol failures are answered with
// an error response and do not surface here; only transport errors do.
// Commands are never answered, even when malformed.
func (h *Handler) Handle(connID uint16, pdu []byte) error {
	req, err := Decode(pdu)
	if err != nil {
		if se := asStatus(err); se != nil && se.Op.IsCommand() {
			h.failures.Add(1)
			h.logger.WithError(err).WithField("conn_id", connID).Debug("Malformed command dropped")
			return nil
		}
		return h.respond(connID, nil, nil, err)
	}
	return h.Dispatch(connID, req)
}

// Dispatch answers an already decoded request.
func (h *Handler) Dispatch(connID uint16, req Request) error {
	h.requests.Add(1)
	h.logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"opcode":  req.Opcode().String(),
	}).Debug("ATT request")

	switch r := req.(type) {
	case ReadRequest:
		rsp, buf, err := h.read(connID, OpReadReq, OpReadRsp, r.Handle, 0)
		return h.respond(connID, rsp, buf, err)

	case ReadBlobRequest:
		rsp, buf, err := h.read(connID, OpReadBlobReq, OpReadBlobRsp, r.Handle, r.Offset)
		return h.respond(connID, rsp, buf, err)

	case ReadByTypeRequest:
		rsp, buf, err := h.readByType(connID, r)
		return h.respond(connID, rsp, buf, err)

	case WriteRequest:
		if err := h.write(OpWriteReq, r.Handle, r.Value); err != nil {
			return h.respond(connID, nil, nil, err)
		}
		return h.respond(connID, WriteResponse(), nil, nil)

	case WriteCommand:
		if err := h.write(OpWriteCmd, r.Handle, r.Value); err != nil {
			h.failures.Add(1)
			h.logger.WithError(err).WithField("conn_id", connID).Debug("Write command dropped")
		}
		return nil

	case MTURequest:
		return h.respond(connID, h.exchangeMTU(connID, r), nil, nil)

	case Unsupported:
		return h.unsupported(connID, r.Op)

	default:
		return h.unsupported(connID, req.Opcode())
	}
}

func (h *Handler) unsupported(connID uint16, op Opcode) error {
	if op.IsCommand() || op == OpConfirmation || op == OpNotification {
		h.logger.WithField("opcode", op.String()).Debug("Ignoring unsupported command")
		return nil
	}
	return h.respond(connID, nil, nil, statusErr(op, 0, ble.ErrReqNotSupp))
}

// respond sends rsp, or the error response for err. Pooled buffers are
// released by the transport's completion callback, or here if the send
// itself fails.
func (h *Handler) respond(connID uint16, rsp []byte, buf *Buffer, err error) error {
	if err != nil {
		h.failures.Add(1)
		var op Opcode
		var handle uint16
		if se := asStatus(err); se != nil {
			op, handle = se.Op, se.Handle
		}
		h.logger.WithFields(logrus.Fields{
			"conn_id": connID,
			"opcode":  op.String(),
			"handle":  fmt.Sprintf("0x%04x", handle),
		}).WithError(err).Warn("ATT request failed")
		rsp = ErrorResponse(op, handle, StatusOf(err))
	}

	var done func()
	if buf != nil {
		done = buf.Release
	}
	if sendErr := h.sender.Send(connID, rsp, done); sendErr != nil {
		if buf != nil {
			buf.Release()
		}
		return fmt.Errorf("send %d bytes to conn %d: %w", len(rsp), connID, sendErr)
	}
	return nil
}

func (h *Handler) mtu(connID uint16) int {
	return min(h.registry.MTU(connID), h.maxMTU)
}

func (h *Handler) refresh(handle uint16) {
	if h.refresher != nil {
		h.refresher.Refresh(handle)
	}
}

func (h *Handler) read(connID uint16, op, rspOp Opcode, handle, offset uint16) ([]byte, *Buffer, error) {
	rec, ok := h.store.Find(handle)
	if !ok {
		return nil, nil, statusErr(op, handle, ble.ErrInvalidHandle)
	}
	if !rec.Readable() {
		return nil, nil, statusErr(op, handle, ble.ErrReadNotPerm)
	}

	h.refresh(handle)
	value := rec.Value()
	if int(offset) >= len(value) {
		return nil, nil, statusErr(op, handle, ble.ErrInvalidOffset)
	}

	n := min(h.mtu(connID)-1, len(value)-int(offset))
	buf, err := h.pool.Get(1 + n)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", statusErr(op, handle, ble.ErrInsuffResources), err)
	}
	buf.B[0] = byte(rspOp)
	copy(buf.B[1:], value[offset:int(offset)+n])

	h.logger.WithFields(logrus.Fields{
		"handle": fmt.Sprintf("0x%04x", handle),
		"offset": offset,
		"len":    n,
	}).Debug("Read")
	return buf.B, buf, nil
}

// readByType packs (handle, value) pairs of equal length into one response.
func (h *Handler) readByType(connID uint16, r ReadByTypeRequest) ([]byte, *Buffer, error) {
	if r.Start == 0 || r.Start > r.End {
		return nil, nil, statusErr(OpReadByTypeReq, r.Start, ble.ErrInvalidHandle)
	}

	mtu := h.mtu(connID)
	buf, err := h.pool.Get(mtu)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", statusErr(OpReadByTypeReq, r.Start, ble.ErrInsuffResources), err)
	}

	b := buf.B[:2]
	b[0] = byte(OpReadByTypeRsp)
	maxValue := min(mtu-4, 253)
	pairLen := 0

	for start := r.Start; ; {
		rec, ok := h.store.FindFirstInRange(start, r.End, r.Type)
		if !ok {
			break
		}
		if rec.Readable() {
			h.refresh(rec.Handle)
			v := rec.Value()
			if len(v) > maxValue {
				v = v[:maxValue]
			}

			l := 2 + len(v)
			if pairLen == 0 {
				pairLen = l
			} else if l != pairLen {
				break
			}
			if len(b)+l > mtu {
				break
			}
			b = le16(b, rec.Handle)
			b = append(b, v...)
		}
		if rec.Handle >= r.End {
			break
		}
		start = rec.Handle + 1
	}

	if pairLen == 0 {
		buf.Release()
		return nil, nil, statusErr(OpReadByTypeReq, r.Start, ble.ErrInvalidHandle)
	}
	b[1] = byte(pairLen)
	return b, buf, nil
}

func (h *Handler) write(op Opcode, handle uint16, value []byte) error {
	rec, ok := h.store.Find(handle)
	if !ok || !rec.Writable() {
		return statusErr(op, handle, ble.ErrWriteNotPerm)
	}
	if gattdb.IsCCCD(handle) && len(value) != gattdb.CCCDLen {
		return statusErr(op, handle, ble.ErrInvalAttrValueLen)
	}
	if err := h.store.Write(handle, value); err != nil {
		if errors.Is(err, attr.ErrLengthExceeded) {
			return fmt.Errorf("%w: %w", statusErr(op, handle, ble.ErrInvalidHandle), err)
		}
		return fmt.Errorf("%w: %w", statusErr(op, handle, ble.ErrUnlikely), err)
	}

	h.logger.WithFields(logrus.Fields{
		"handle": fmt.Sprintf("0x%04x", handle),
		"len":    len(value),
	}).Debug("Write")

	c, isCCCD := gattdb.CharacteristicByCCCD(handle)
	if !isCCCD || value[0]&gattdb.CCCDNotify == 0 {
		return nil
	}
	if c == gattdb.Button && h.state != nil {
		h.state.SetButtonCount(capsense.NumButtons)
	}
	h.logger.WithField("characteristic", c.Name).Info("Notifications enabled")
	if h.trigger != nil {
		h.trigger.NotifyAll()
	}
	return nil
}

// exchangeMTU always offers the server ceiling and records the effective
// MTU for the connection.
func (h *Handler) exchangeMTU(connID uint16, r MTURequest) []byte {
	client := max(int(r.ClientMTU), minimumMTU)
	effective := min(client, h.maxMTU)
	if peer, ok := h.registry.Get(connID); ok {
		peer.SetMTU(effective)
	}
	h.logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"client":  r.ClientMTU,
		"mtu":     effective,
	}).Debug("MTU exchange")
	return MTUResponse(uint16(h.maxMTU))
}

// HandlerStats counts handled requests.
type HandlerStats struct {
	Requests int64
	Failures int64
}

func (h *Handler) Stats() HandlerStats {
	return HandlerStats{Requests: h.requests.Load(), Failures: h.failures.Load()}
}
