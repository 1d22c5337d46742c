package manager

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/protocol"
)

// startKeepAlive arms the keep-alive timer when a configured policy matches this host and
// peer. Each fire issues a query the peer must answer.
func (m *Manager) startKeepAlive() {
	interval, ok := m.cfg.KeepAliveInterval(m.peer.Name)
	if !ok {
		return
	}
	m.keepAliveInterval = interval
	m.logger.WithFields(logrus.Fields{
		"interval": interval,
		"model":    m.cfg.LocalModel,
	}).Info("Keep-alive enabled")
	m.keepAlive.Reset(interval)
}

func (m *Manager) onKeepAlive() {
	if m.state == Disconnected || m.link == nil || m.keepAliveInterval <= 0 {
		return
	}
	m.logger.Debug("Trying to keep connection alive")

	if err := m.link.RequestHighPriority(); err != nil {
		m.logger.WithField("error", err).Debug("Failed to request high connection priority")
	}
	if err := m.link.ReadRSSI(); err != nil {
		m.logger.WithField("error", err).Debug("Failed to read RSSI")
	}

	m.enqueue(protocol.ServiceMedia, protocol.CharEntityAttribute,
		protocol.EntityAttributeRequest(protocol.EntityTrack, protocol.TrackAttributeTitle))

	m.keepAlive.Reset(m.keepAliveInterval)
}
