package manager

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/protocol"
)

type subscription struct {
	service        string
	characteristic string
}

// subscriptionOrder is the fixed pipeline run after discovery. Each step starts only once the
// previous descriptor write is confirmed.
var subscriptionOrder = []subscription{
	{protocol.ServiceNotificationCenter, protocol.CharDataSource},
	{protocol.ServiceNotificationCenter, protocol.CharNotificationSource},
	{protocol.ServiceMedia, protocol.CharRemoteCommand},
	{protocol.ServiceMedia, protocol.CharEntityUpdate},
	{protocol.ServiceBattery, protocol.CharBatteryLevel},
}

// nextSubscription returns the step following characteristic and whether characteristic is
// the last step.
func nextSubscription(characteristic string) (next subscription, ok bool, last bool) {
	for i, s := range subscriptionOrder {
		if s.characteristic != characteristic {
			continue
		}
		if i == len(subscriptionOrder)-1 {
			return subscription{}, false, true
		}
		return subscriptionOrder[i+1], true, false
	}
	return subscription{}, false, false
}

// subscribe enables notifications on a characteristic. Already subscribed characteristics
// are left alone.
func (m *Manager) subscribe(s subscription) {
	if m.link == nil {
		return
	}
	if _, ok := m.subscribed.Get(s.characteristic); ok {
		return
	}

	log := m.logger.WithFields(logrus.Fields{
		"service_uuid": s.service,
		"char_uuid":    s.characteristic,
	})

	if !m.link.HasCharacteristic(s.service, s.characteristic) {
		log.Warn("Characteristic not found, cannot subscribe")
		return
	}
	if err := m.link.SetNotify(s.service, s.characteristic, true); err != nil {
		log.WithField("error", err).Warn("Failed to enable notifications")
		return
	}
	if err := m.link.WriteDescriptor(s.service, s.characteristic, protocol.DescriptorClientConfig, protocol.EnableNotificationValue); err != nil {
		log.WithField("error", err).Warn("Failed to write client configuration descriptor")
		return
	}
	log.Debug("Subscribing")
}

func (m *Manager) onServicesDiscovered(err error) {
	if err != nil {
		m.logger.WithField("error", err).Warn("Service discovery failed")
		return
	}
	m.logger.Debug("Services discovered")

	m.watchdog.Stop()
	m.subscribe(subscriptionOrder[0])
	m.watchdog.Reset(m.cfg.ConnectingTimeout)
}

func (m *Manager) onDescriptorWrite(service, characteristic string, err error) {
	log := m.logger.WithField("char_uuid", characteristic)

	if err != nil {
		if errors.Is(err, ErrWritePermission) {
			log.Warn("Descriptor write not permitted, removing bond")
			m.removeBond()
			if m.link != nil {
				if err := m.link.Disconnect(); err != nil {
					log.WithField("error", err).Warn("Failed to disconnect")
				}
			}
			return
		}
		log.WithField("error", err).Warn("Descriptor write failed")
		return
	}

	log.Debug("Descriptor write successful")
	m.watchdog.Stop()
	m.subscribed.Set(characteristic, struct{}{})

	next, ok, last := nextSubscription(characteristic)
	switch {
	case ok:
		m.subscribe(next)
		m.watchdog.Reset(m.cfg.ConnectingTimeout)
	case last:
		m.requestMediaUpdates()
		m.setState(Connected)
		m.connectionFailures = 0
	}
}

// requestMediaUpdates registers for the track title and artist and the player state.
func (m *Manager) requestMediaUpdates() {
	m.enqueue(protocol.ServiceMedia, protocol.CharEntityUpdate,
		protocol.EntityUpdateRequest(protocol.EntityTrack, protocol.TrackAttributeTitle, protocol.TrackAttributeArtist))
	m.enqueue(protocol.ServiceMedia, protocol.CharEntityUpdate,
		protocol.EntityUpdateRequest(protocol.EntityPlayer, protocol.PlayerAttributePlaybackInfo))
}
