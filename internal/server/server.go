// Package server dispatches link-layer events to the connection state
// machine and the attribute request handler.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecap/internal/att"
	"github.com/srg/blecap/internal/link"
)

var (
	ErrUnsupportedEvent    = errors.New("unsupported event")
	ErrPairingNotSupported = errors.New("pairing not supported")
)

// Transport carries PDUs to a peer. done, when non-nil, is called after
// the transport no longer needs pdu.
type Transport interface {
	Send(connID uint16, pdu []byte, done func()) error
}

// Server routes events.
type Server struct {
	handler *att.Handler
	machine *link.Machine
	logger  *logrus.Logger
}

func New(handler *att.Handler, machine *link.Machine, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Server{handler: handler, machine: machine, logger: logger}
}

// Handle processes one event. Unknown events yield ErrUnsupportedEvent;
// callers may log and continue.
func (s *Server) Handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case ConnectionStatus:
		if e.Connected {
			return s.machine.OnConnected(e.ConnID, e.Addr)
		}
		return s.machine.OnDisconnected(ctx, e.ConnID, e.Reason)

	case AdvertisingStateChanged:
		s.machine.OnAdvertisingState(e.State)
		return nil

	case AttributeRequest:
		return s.handler.Handle(e.ConnID, e.PDU)

	case BufferTransmitted:
		if e.Release != nil {
			e.Release()
		}
		return nil

	case PairingRequested:
		s.logger.WithField("conn_id", e.ConnID).Warn("Rejecting pairing request")
		return ErrPairingNotSupported

	case Unhandled:
		s.logger.WithField("event", e.Name).Debug("Ignoring event")
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.Name)

	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev)
	}
}

// Pusher sends handle value notifications over a Transport, sized to each
// connection's MTU.
type Pusher struct {
	transport Transport
	registry  *link.Registry
}

func NewPusher(transport Transport, registry *link.Registry) *Pusher {
	return &Pusher{transport: transport, registry: registry}
}

func (p *Pusher) Notify(connID, handle uint16, value []byte) error {
	pdu := att.Notification(handle, value, p.registry.MTU(connID))
	if err := p.transport.Send(connID, pdu, nil); err != nil {
		return fmt.Errorf("notify handle 0x%04x: %w", handle, err)
	}
	return nil
}
