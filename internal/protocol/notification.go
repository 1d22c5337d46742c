package protocol

import (
	"encoding/hex"
	"fmt"
)

// UID correlates a Notification Source record with its Data Source attribute stream.
type UID [4]byte

// String renders the UID as lowercase hex ("01020304").
func (u UID) String() string {
	return hex.EncodeToString(u[:])
}

// ParseUID parses the hex form produced by UID.String.
func ParseUID(s string) (UID, error) {
	var u UID
	b, err := hex.DecodeString(s)
	if err != nil {
		return u, fmt.Errorf("invalid notification UID %q: %w", s, err)
	}
	if len(b) != len(u) {
		return u, fmt.Errorf("invalid notification UID %q: want %d bytes, got %d", s, len(u), len(b))
	}
	copy(u[:], b)
	return u, nil
}

// EventFlags is byte 1 of a Notification Source record.
type EventFlags byte

const (
	FlagPositiveAction EventFlags = 1 << 0
	FlagNegativeAction EventFlags = 1 << 1
)

func (f EventFlags) HasPositiveAction() bool { return f&FlagPositiveAction != 0 }
func (f EventFlags) HasNegativeAction() bool { return f&FlagNegativeAction != 0 }

// CallState describes the call-related meaning of a notification.
type CallState int

const (
	CallNone CallState = iota
	CallIncoming
	CallMissed
)

func (c CallState) String() string {
	switch c {
	case CallIncoming:
		return "incoming"
	case CallMissed:
		return "missed"
	default:
		return "none"
	}
}

func callStateFor(category CategoryID) CallState {
	switch category {
	case CategoryIncomingCall:
		return CallIncoming
	case CategoryMissedCall:
		return CallMissed
	default:
		return CallNone
	}
}

// PendingNotification is a notification announced on the Notification Source whose
// attributes have been requested but not yet received.
type PendingNotification struct {
	UID           UID
	EventID       EventID
	Flags         EventFlags
	CategoryID    CategoryID
	CategoryCount byte
}

// HasPositiveAction reports whether the peer advertised a positive action.
func (p *PendingNotification) HasPositiveAction() bool { return p.Flags.HasPositiveAction() }

// HasNegativeAction reports whether the peer advertised a negative action.
func (p *PendingNotification) HasNegativeAction() bool { return p.Flags.HasNegativeAction() }

// IsCall reports whether the notification represents an incoming call.
func (p *PendingNotification) IsCall() bool { return p.CategoryID == CategoryIncomingCall }

// RequestedAttributes lists the attributes requested for this notification in request order.
func (p *PendingNotification) RequestedAttributes() []AttributeID {
	attrs := []AttributeID{AttributeAppIdentifier, AttributeTitle, AttributeMessage}
	if p.HasPositiveAction() {
		attrs = append(attrs, AttributePositiveActionLabel)
	}
	if p.HasNegativeAction() {
		attrs = append(attrs, AttributeNegativeActionLabel)
	}
	return attrs
}

// NotificationData is a fully decoded notification.
type NotificationData struct {
	UID                 UID        `json:"-"`
	AppIdentifier       string     `json:"app_identifier"`
	Title               string     `json:"title"`
	Message             string     `json:"message"`
	HasPositiveAction   bool       `json:"has_positive_action"`
	HasNegativeAction   bool       `json:"has_negative_action"`
	PositiveActionLabel string     `json:"positive_action_label,omitempty"`
	NegativeActionLabel string     `json:"negative_action_label,omitempty"`
	IsIncomingCall      bool       `json:"is_incoming_call"`
	CallState           CallState  `json:"call_state"`
	CategoryID          CategoryID `json:"category_id"`
	Flags               EventFlags `json:"flags"`
}

// ID returns the identifier used for cancellation events and the notification store.
func (n NotificationData) ID() string {
	return n.UID.String()
}

func newNotificationData(p *PendingNotification) NotificationData {
	return NotificationData{
		UID:               p.UID,
		HasPositiveAction: p.HasPositiveAction(),
		HasNegativeAction: p.HasNegativeAction(),
		IsIncomingCall:    p.IsCall(),
		CallState:         callStateFor(p.CategoryID),
		CategoryID:        p.CategoryID,
		Flags:             p.Flags,
	}
}

func (n *NotificationData) setAttribute(id AttributeID, value []byte) {
	switch id {
	case AttributeAppIdentifier:
		n.AppIdentifier = string(value)
	case AttributeTitle:
		n.Title = string(value)
	case AttributeMessage:
		n.Message = string(value)
	case AttributePositiveActionLabel:
		n.PositiveActionLabel = string(value)
	case AttributeNegativeActionLabel:
		n.NegativeActionLabel = string(value)
	}
}
