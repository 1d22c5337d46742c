package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/ancsbridge/internal/manager"
)

// ErrBluetoothOff is returned when the host adapter is powered off or unavailable.
var ErrBluetoothOff = errors.New("bluetooth is turned off")

// NormalizeError maps known go-ble and platform error strings to the errors the manager
// reacts to. The original error is kept in the chain. Already normalized errors are returned
// as is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBluetoothOff) || errors.Is(err, manager.ErrWritePermission) || errors.Is(err, manager.ErrNotConnected) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "not permitted"),
		containsIgnoreCase(msg, "insufficient authentication"),
		containsIgnoreCase(msg, "authentication is insufficient"),
		containsIgnoreCase(msg, "insufficient encryption"),
		containsIgnoreCase(msg, "encryption is insufficient"):
		return fmt.Errorf("%w: %v", manager.ErrWritePermission, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", manager.ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", manager.ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
