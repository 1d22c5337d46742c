package main

import (
	"errors"
	"os"

	"github.com/srg/ancsbridge/internal/manager"
	"github.com/srg/ancsbridge/internal/protocol"
	"github.com/srg/ancsbridge/internal/transport/goble"
)

// Command-level errors
var (
	// ErrIncompleteStream indicates decoded Data Source packets ended before every requested
	// attribute arrived.
	ErrIncompleteStream = errors.New("incomplete notification stream")
)

// FormatUserError turns errors from the lower layers into a message for the terminal.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is turned off, turn it on and try again"
	case errors.Is(err, manager.ErrWritePermission):
		return "the phone rejected a write, forget this device on the phone and pair again"
	case errors.Is(err, manager.ErrUnsupported):
		return "not supported on this platform: " + err.Error()
	case errors.Is(err, manager.ErrNotConnected):
		return "the phone is not connected"
	case errors.Is(err, os.ErrPermission):
		return "permission denied, Bluetooth access may require elevated privileges: " + err.Error()
	case errors.Is(err, protocol.ErrShortPacket), errors.Is(err, ErrIncompleteStream):
		return "cannot decode payload: " + err.Error()
	}
	return err.Error()
}
