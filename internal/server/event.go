package server

import (
	"fmt"

	"github.com/srg/blecap/internal/link"
)

// Event is one of ConnectionStatus, AdvertisingStateChanged,
// AttributeRequest, BufferTransmitted, PairingRequested or Unhandled.
type Event interface {
	event()
	String() string
}

// ConnectionStatus reports a link coming up or going down.
type ConnectionStatus struct {
	ConnID    uint16
	Addr      string
	Connected bool
	Reason    string
}

// AdvertisingStateChanged reports a new advertising mode.
type AdvertisingStateChanged struct {
	State link.State
}

// AttributeRequest carries a raw client PDU.
type AttributeRequest struct {
	ConnID uint16
	PDU    []byte
}

// BufferTransmitted reports that a previously sent buffer has left.
type BufferTransmitted struct {
	Release func()
}

// PairingRequested is raised when a peer asks for a PIN or passkey.
type PairingRequested struct {
	ConnID uint16
}

// Unhandled stands for stack events this server does not act on.
type Unhandled struct {
	Name string
}

func (ConnectionStatus) event()        {}
func (AdvertisingStateChanged) event() {}
func (AttributeRequest) event()        {}
func (BufferTransmitted) event()       {}
func (PairingRequested) event()        {}
func (Unhandled) event()               {}

func (e ConnectionStatus) String() string {
	if e.Connected {
		return fmt.Sprintf("connected(%d, %s)", e.ConnID, e.Addr)
	}
	return fmt.Sprintf("disconnected(%d, %s)", e.ConnID, e.Reason)
}

func (e AdvertisingStateChanged) String() string { return "advertising(" + e.State.String() + ")" }
func (e AttributeRequest) String() string        { return fmt.Sprintf("request(%d, %x)", e.ConnID, e.PDU) }
func (BufferTransmitted) String() string         { return "buffer-transmitted" }
func (e PairingRequested) String() string        { return fmt.Sprintf("pairing(%d)", e.ConnID) }
func (e Unhandled) String() string               { return "unhandled(" + e.Name + ")" }
