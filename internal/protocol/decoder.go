package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// EventRecordSize is the length of a Notification Source record.
	EventRecordSize = 8

	// streamHeaderSize is the command id plus UID that opens a Data Source stream.
	streamHeaderSize = 5

	// attributeHeaderSize is the attribute id plus little-endian length.
	attributeHeaderSize = 3
)

var (
	ErrShortPacket    = errors.New("short packet")
	ErrBufferOverflow = errors.New("reassembly buffer overflow")
)

// Event is a decoded Notification Source record:
// [eventId][flags][categoryId][categoryCount][uid0..3].
type Event struct {
	ID            EventID
	Flags         EventFlags
	Category      CategoryID
	CategoryCount byte
	UID           UID
}

// DecodeEvent parses a Notification Source record.
func DecodeEvent(packet []byte) (Event, error) {
	if len(packet) < EventRecordSize {
		return Event{}, fmt.Errorf("notification source record: %w (%d < %d bytes)", ErrShortPacket, len(packet), EventRecordSize)
	}

	ev := Event{
		ID:            EventID(packet[0]),
		Flags:         EventFlags(packet[1]),
		Category:      CategoryID(packet[2]),
		CategoryCount: packet[3],
	}
	copy(ev.UID[:], packet[4:8])
	return ev, nil
}

// IsCallEnded reports whether a Removed record signals the end of a call.
func (e Event) IsCallEnded() bool {
	return e.ID == EventNotificationRemoved && e.Category == CategoryIncomingCall
}

// Pending builds the PendingNotification an Added or Modified record announces.
func (e Event) Pending() *PendingNotification {
	return &PendingNotification{
		UID:           e.UID,
		EventID:       e.ID,
		Flags:         e.Flags,
		CategoryID:    e.Category,
		CategoryCount: e.CategoryCount,
	}
}

// GetNotificationAttributes builds the Control Point request for a pending notification:
// [commandId][uid0..3][appId][title, lo, hi][message, lo, hi] followed by the positive and
// negative action label attributes when the notification advertises them.
func GetNotificationAttributes(p *PendingNotification, titleMaxLen, messageMaxLen uint16) []byte {
	packet := make([]byte, 0, 16)
	packet = append(packet, byte(CommandGetNotificationAttributes))
	packet = append(packet, p.UID[:]...)

	packet = append(packet, byte(AttributeAppIdentifier))
	packet = append(packet, byte(AttributeTitle))
	packet = binary.LittleEndian.AppendUint16(packet, titleMaxLen)
	packet = append(packet, byte(AttributeMessage))
	packet = binary.LittleEndian.AppendUint16(packet, messageMaxLen)

	if p.HasPositiveAction() {
		packet = append(packet, byte(AttributePositiveActionLabel))
	}
	if p.HasNegativeAction() {
		packet = append(packet, byte(AttributeNegativeActionLabel))
	}
	return packet
}

// EntityUpdateRequest registers for updates of the given attributes: [entityId]{attributeId}+.
func EntityUpdateRequest(entity EntityID, attributes ...byte) []byte {
	packet := make([]byte, 0, 1+len(attributes))
	packet = append(packet, byte(entity))
	return append(packet, attributes...)
}

// EntityAttributeRequest selects the attribute the Entity Attribute characteristic reports.
func EntityAttributeRequest(entity EntityID, attribute byte) []byte {
	return []byte{byte(entity), attribute}
}

// StreamUID extracts the UID opening a Data Source stream. It returns false when the packet
// is too short to carry a stream header.
func StreamUID(packet []byte) (UID, bool) {
	var u UID
	if len(packet) < streamHeaderSize {
		return u, false
	}
	copy(u[:], packet[1:streamHeaderSize])
	return u, true
}

// MediaUpdate is an Entity Update or Entity Attribute payload surfaced to the host undecoded:
// [entityId][attributeId][flags][value...].
type MediaUpdate struct {
	Packet      []byte   `json:"packet"`
	EntityID    EntityID `json:"entity_id"`
	AttributeID byte     `json:"attribute_id"`
	Flags       byte     `json:"flags"`
	Value       string   `json:"value"`
}

// DecodeMediaUpdate splits the fixed header off a media payload. The raw packet is kept as is.
func DecodeMediaUpdate(packet []byte) (MediaUpdate, error) {
	if len(packet) < 2 {
		return MediaUpdate{}, fmt.Errorf("media update: %w (%d bytes)", ErrShortPacket, len(packet))
	}

	raw := make([]byte, len(packet))
	copy(raw, packet)

	update := MediaUpdate{
		Packet:      raw,
		EntityID:    EntityID(packet[0]),
		AttributeID: packet[1],
	}
	if len(packet) > 2 {
		update.Flags = packet[2]
	}
	if len(packet) > 3 {
		update.Value = string(packet[3:])
	}
	return update, nil
}

// DecodeBatteryLevel reads the single unsigned byte of a Battery Level value.
func DecodeBatteryLevel(value []byte) (int, error) {
	if len(value) < 1 {
		return 0, fmt.Errorf("battery level: %w", ErrShortPacket)
	}
	return int(value[0]), nil
}
