package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the trailing part of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) in dash-less form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the form used for every lookup in this module:
// lowercase hex without dashes. Full 128-bit UUIDs built on the Bluetooth SIG base are
// reduced to their 16-bit short form ("0000180f-0000-1000-8000-00805f9b34fb" -> "180f").
// Braced, dashed and dash-less forms are accepted, as is a leading "0x" on short UUIDs.
func NormalizeUUID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if parsed, err := uuid.Parse(s); err == nil {
		hex := strings.ReplaceAll(parsed.String(), "-", "")
		if strings.HasPrefix(hex, "0000") && strings.HasSuffix(hex, sigBaseSuffix) {
			return hex[4:8]
		}
		return hex
	}

	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "0x")
	return strings.ReplaceAll(s, "-", "")
}

// ValidateUUID reports whether s is a well-formed 16-bit, 32-bit or 128-bit UUID.
func ValidateUUID(s string) bool {
	if _, err := uuid.Parse(strings.TrimSpace(s)); err == nil {
		return true
	}

	short := NormalizeUUID(s)
	if len(short) != 4 && len(short) != 8 {
		return false
	}
	for _, r := range short {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
