// Package events turns manager callbacks into a stream of Event values a host can consume from
// any goroutine.
package events

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/manager"
	"github.com/srg/ancsbridge/internal/protocol"
)

// DefaultCapacity is the number of undelivered events kept before the oldest is dropped.
const DefaultCapacity = 128

// Kind names the callback an Event was produced by.
type Kind string

const (
	KindStateChanged         Kind = "state_changed"
	KindIncomingCall         Kind = "incoming_call"
	KindCallEnded            Kind = "call_ended"
	KindNotificationReceived Kind = "notification_received"
	KindNotificationCanceled Kind = "notification_canceled"
	KindBatteryLevel         Kind = "battery_level"
	KindMediaUpdated         Kind = "media_updated"
)

// Event is one host-facing occurrence. Only the fields relevant to Kind are set.
type Event struct {
	Kind         Kind                       `json:"kind"`
	Time         time.Time                  `json:"time"`
	State        string                     `json:"state,omitempty"`
	Notification *protocol.NotificationData `json:"notification,omitempty"`
	ID           string                     `json:"id,omitempty"`
	BatteryLevel *int                       `json:"battery_level,omitempty"`
	Media        *protocol.MediaUpdate      `json:"media,omitempty"`
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used to report dropped events.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBatteryReads makes the manager read the battery level after every successful write.
func WithBatteryReads(enabled bool) Option {
	return func(c *Channel) {
		c.batteryReads.Store(enabled)
	}
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// Channel implements manager.Callback by buffering every callback as an Event in a
// RingChannel. Callbacks never block the manager; a slow consumer loses the oldest events.
type Channel struct {
	ring         *RingChannel[Event]
	logger       *logrus.Logger
	now          func() time.Time
	batteryReads atomic.Bool
}

var _ manager.Callback = (*Channel)(nil)

// NewChannel creates a Channel buffering up to capacity events.
func NewChannel(capacity int, opts ...Option) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Channel{
		ring:   NewRingChannel[Event](capacity),
		logger: logrus.New(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the stream consumers range over. It is closed by Close.
func (c *Channel) Events() <-chan Event {
	return c.ring.C()
}

// Metrics returns delivery counters.
func (c *Channel) Metrics() Metrics {
	return c.ring.GetMetrics()
}

// SetBatteryReads toggles the opportunistic battery read.
func (c *Channel) SetBatteryReads(enabled bool) {
	c.batteryReads.Store(enabled)
}

// Close ends the stream. It must only be called once the manager producing into the channel
// has been closed.
func (c *Channel) Close() {
	c.ring.Close()
}

func (c *Channel) emit(ev Event) {
	ev.Time = c.now()
	if c.ring.Send(ev) {
		c.logger.WithFields(logrus.Fields{
			"kind":        ev.Kind,
			"overwritten": c.ring.GetMetrics().Overwritten,
		}).Warn("Event buffer full, dropped oldest event")
	}
}

func (c *Channel) OnConnectionStateChange(state manager.State) {
	c.emit(Event{Kind: KindStateChanged, State: state.String()})
}

func (c *Channel) OnIncomingCall(data protocol.NotificationData) {
	c.emit(Event{Kind: KindIncomingCall, ID: data.ID(), Notification: &data})
}

func (c *Channel) OnCallEnded() {
	c.emit(Event{Kind: KindCallEnded})
}

func (c *Channel) OnNotificationReceived(data protocol.NotificationData) {
	c.emit(Event{Kind: KindNotificationReceived, ID: data.ID(), Notification: &data})
}

func (c *Channel) OnNotificationCanceled(id string) {
	c.emit(Event{Kind: KindNotificationCanceled, ID: id})
}

func (c *Channel) ShouldUpdateBatteryLevel() bool {
	return c.batteryReads.Load()
}

func (c *Channel) OnBatteryLevelChanged(level int) {
	c.emit(Event{Kind: KindBatteryLevel, BatteryLevel: &level})
}

func (c *Channel) OnMediaDataUpdated(update protocol.MediaUpdate) {
	c.emit(Event{Kind: KindMediaUpdated, Media: &update})
}
