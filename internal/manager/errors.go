package manager

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError is returned when a service or characteristic is missing from the peer's
// discovered profile.
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // e.g. [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in %s", e.Resource, e.UUIDs[len(e.UUIDs)-1], strings.Join(e.UUIDs[:len(e.UUIDs)-1], "/"))
}

var (
	// ErrWritePermission is reported for a write the peer rejected as not permitted. On a
	// descriptor write it means the bond is stale.
	ErrWritePermission = errors.New("write not permitted")
	ErrNotConnected    = errors.New("not connected")
	ErrUnsupported     = errors.New("unsupported")
)
