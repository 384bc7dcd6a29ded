package att

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"
)

// StatusError is a request failure reported to the peer as an error response.
type StatusError struct {
	Op     Opcode
	Handle uint16
	Status ble.ATTError
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("att %s handle 0x%04x: %s", e.Op, e.Handle, e.Status.Error())
}

func statusErr(op Opcode, h uint16, status ble.ATTError) *StatusError {
	return &StatusError{Op: op, Handle: h, Status: status}
}

func asStatus(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// StatusOf extracts the protocol status carried by err, defaulting to
// "unlikely error" for anything that is not a StatusError.
func StatusOf(err error) ble.ATTError {
	if err == nil {
		return ble.ErrSuccess
	}
	if se := asStatus(err); se != nil {
		return se.Status
	}
	return ble.ErrUnlikely
}
