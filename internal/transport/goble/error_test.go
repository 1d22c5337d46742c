package goble

import (
	"errors"
	"testing"

	"github.com/srg/ancsbridge/internal/manager"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), ErrBluetoothOff},
		{"powered off", errors.New("Bluetooth is turned off"), ErrBluetoothOff},
		{"att write not permitted", errors.New("write not permitted"), manager.ErrWritePermission},
		{"darwin write not permitted", errors.New("Writing is not permitted."), manager.ErrWritePermission},
		{"insufficient authentication", errors.New("insufficient authentication"), manager.ErrWritePermission},
		{"darwin insufficient encryption", errors.New("Encryption is insufficient."), manager.ErrWritePermission},
		{"not connected", errors.New("device not connected"), manager.ErrNotConnected},
		{"disconnected", errors.New("peripheral disconnected"), manager.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.in.Error(), "original message MUST be kept")
		})
	}
}

func TestNormalizeErrorPassesUnknownThrough(t *testing.T) {
	orig := errors.New("something else")
	assert.Same(t, orig, NormalizeError(orig))
}

func TestNormalizeErrorIsIdempotent(t *testing.T) {
	for _, raw := range []string{"Bluetooth is turned off", "write not permitted", "device not connected"} {
		once := NormalizeError(errors.New(raw))
		assert.Same(t, once, NormalizeError(once), "normalizing %q twice MUST NOT wrap again", raw)
	}
	assert.Same(t, manager.ErrWritePermission, NormalizeError(manager.ErrWritePermission))
}
