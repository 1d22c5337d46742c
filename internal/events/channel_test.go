package events

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/manager"
	"github.com/srg/ancsbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestChannel(capacity int, opts ...Option) *Channel {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	opts = append([]Option{WithLogger(logger), WithNow(func() time.Time { return fixedTime })}, opts...)
	return NewChannel(capacity, opts...)
}

func next(t *testing.T, c *Channel) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	default:
		require.FailNow(t, "no event buffered")
		return Event{}
	}
}

func TestChannelCallbacks(t *testing.T) {
	notification := protocol.NotificationData{
		UID:           protocol.UID{0x01, 0x02, 0x03, 0x04},
		AppIdentifier: "com.apple.MobileSMS",
		Title:         "Bob",
		Message:       "Running late",
	}
	call := protocol.NotificationData{
		UID:            protocol.UID{0x0a, 0x0b, 0x0c, 0x0d},
		Title:          "Mom",
		IsIncomingCall: true,
	}
	media := protocol.MediaUpdate{EntityID: protocol.EntityTrack, AttributeID: protocol.TrackAttributeTitle, Value: "Hello"}

	tests := []struct {
		name   string
		invoke func(c *Channel)
		want   Event
	}{
		{
			name:   "state change",
			invoke: func(c *Channel) { c.OnConnectionStateChange(manager.Connected) },
			want:   Event{Kind: KindStateChanged, State: "Connected"},
		},
		{
			name:   "notification received",
			invoke: func(c *Channel) { c.OnNotificationReceived(notification) },
			want:   Event{Kind: KindNotificationReceived, ID: "01020304", Notification: &notification},
		},
		{
			name:   "incoming call",
			invoke: func(c *Channel) { c.OnIncomingCall(call) },
			want:   Event{Kind: KindIncomingCall, ID: "0a0b0c0d", Notification: &call},
		},
		{
			name:   "call ended",
			invoke: func(c *Channel) { c.OnCallEnded() },
			want:   Event{Kind: KindCallEnded},
		},
		{
			name:   "notification canceled",
			invoke: func(c *Channel) { c.OnNotificationCanceled("01020304") },
			want:   Event{Kind: KindNotificationCanceled, ID: "01020304"},
		},
		{
			name:   "media update",
			invoke: func(c *Channel) { c.OnMediaDataUpdated(media) },
			want:   Event{Kind: KindMediaUpdated, Media: &media},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChannel(4)

			tt.invoke(c)

			tt.want.Time = fixedTime
			assert.Equal(t, tt.want, next(t, c))
		})
	}
}

func TestChannelBatteryLevelZeroIsReported(t *testing.T) {
	c := newTestChannel(4)

	c.OnBatteryLevelChanged(0)

	ev := next(t, c)
	require.NotNil(t, ev.BatteryLevel)
	assert.Equal(t, 0, *ev.BatteryLevel)

	encoded, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"battery_level":0`)
}

func TestChannelBatteryReads(t *testing.T) {
	c := newTestChannel(1)
	assert.False(t, c.ShouldUpdateBatteryLevel())

	c.SetBatteryReads(true)
	assert.True(t, c.ShouldUpdateBatteryLevel())

	assert.True(t, newTestChannel(1, WithBatteryReads(true)).ShouldUpdateBatteryLevel())
}

func TestChannelDropsOldestWhenFull(t *testing.T) {
	c := newTestChannel(2)

	c.OnNotificationCanceled("1")
	c.OnNotificationCanceled("2")
	c.OnNotificationCanceled("3")

	assert.Equal(t, "2", next(t, c).ID)
	assert.Equal(t, "3", next(t, c).ID)
	assert.Equal(t, int64(1), c.Metrics().Overwritten)
}

func TestChannelClose(t *testing.T) {
	c := newTestChannel(2)
	c.OnCallEnded()
	c.Close()

	var kinds []Kind
	for ev := range c.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []Kind{KindCallEnded}, kinds)
}

func TestNewChannelDefaultCapacity(t *testing.T) {
	c := NewChannel(0)
	assert.Equal(t, DefaultCapacity, c.ring.Cap())
}
