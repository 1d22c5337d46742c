package manager

import (
	"github.com/sirupsen/logrus"
)

// onWatchdog bounds every step of the connect pipeline. Escalation: wait for a bond in
// progress, then rebond, then force a disconnect, and with no link at all start over.
func (m *Manager) onWatchdog() {
	if m.state != Connecting {
		return
	}
	m.logger.Warn("Connecting is taking too long")

	if m.link == nil {
		m.teardown()
		m.reconnect = true
		if err := m.startScan(); err != nil {
			m.logger.WithField("error", err).Error("Failed to restart scanning")
		}
		return
	}

	bond := m.link.BondState()
	if bond == BondBonding {
		m.logger.Warn("Waiting for bond...")
		m.watchdog.Reset(m.cfg.ConnectingTimeout)
		return
	}

	m.connectionFailures++
	m.logger.WithFields(logrus.Fields{
		"bond_state": bond.String(),
		"failures":   m.connectionFailures,
	}).Debug("Connection attempt stalled")

	if bond == BondNone || m.connectionFailures > 1 {
		m.connectionFailures = 0
		m.removeBond()
		m.createBond()
		m.watchdog.Reset(m.cfg.ConnectingTimeout)
		return
	}

	if err := m.link.Disconnect(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to disconnect stalled link")
	}
}

func (m *Manager) removeBond() {
	if m.link == nil {
		return
	}
	m.logger.Debug("Unpairing...")
	if err := m.link.RemoveBond(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to remove bond")
	}
}

func (m *Manager) createBond() {
	if m.link == nil {
		return
	}
	m.logger.Debug("Pairing...")
	if err := m.link.CreateBond(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to create bond")
	}
}
