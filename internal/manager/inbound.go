package manager

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/protocol"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func (m *Manager) onCharacteristicChanged(characteristic string, value []byte) {
	switch characteristic {
	case protocol.CharCurrentTime:
		m.logger.WithField("value", string(value)).Debug("Current time notification")
	case protocol.CharBatteryLevel:
		m.onBatteryLevel(value)
	case protocol.CharEntityUpdate, protocol.CharEntityAttribute:
		m.onMediaData(characteristic, value)
	case protocol.CharDataSource:
		m.onDataSource(value)
	case protocol.CharNotificationSource:
		m.onNotificationSource(value)
	default:
		m.logger.WithField("char_uuid", characteristic).Trace("Ignoring notification from unknown characteristic")
	}
}

func (m *Manager) onCharacteristicRead(characteristic string, value []byte, err error) {
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"char_uuid": characteristic,
			"error":     err,
		}).Debug("Characteristic read failed")
		return
	}

	switch characteristic {
	case protocol.CharBatteryLevel:
		m.onBatteryLevel(value)
	case protocol.CharEntityAttribute:
		m.logger.WithField("value", string(value)).Debug("Entity attribute read")
	}
}

func (m *Manager) onBatteryLevel(value []byte) {
	level, err := protocol.DecodeBatteryLevel(value)
	if err != nil {
		m.logger.WithField("error", err).Debug("Ignoring battery level")
		return
	}
	m.logger.WithField("level", level).Debug("Battery level")
	m.callback.OnBatteryLevelChanged(level)
}

func (m *Manager) onMediaData(characteristic string, value []byte) {
	update, err := protocol.DecodeMediaUpdate(value)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"char_uuid": characteristic,
			"error":     err,
		}).Debug("Ignoring media update")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"entity":    update.EntityID,
		"attribute": update.AttributeID,
	}).Debug("Media data updated")
	m.callback.OnMediaDataUpdated(update)
}

func (m *Manager) onNotificationSource(packet []byte) {
	ev, err := protocol.DecodeEvent(packet)
	if err != nil {
		m.logger.WithField("error", err).Debug("Ignoring notification source record")
		return
	}

	log := m.logger.WithFields(logrus.Fields{
		"uid":      ev.UID.String(),
		"event":    ev.ID.String(),
		"category": ev.Category,
	})

	switch ev.ID {
	case protocol.EventNotificationAdded, protocol.EventNotificationModified:
		p := ev.Pending()
		m.pendingSeq++
		m.pending.Set(m.pendingSeq, p)
		log.WithField("pending", m.pending.Len()).Debug("Requesting notification attributes")

		m.enqueue(protocol.ServiceNotificationCenter, protocol.CharControlPoint,
			protocol.GetNotificationAttributes(p, m.cfg.TitleMaxLength, m.cfg.MessageMaxLength))
		m.staleClear.Reset(m.cfg.StaleClearWindow)

	case protocol.EventNotificationRemoved:
		if ev.IsCallEnded() {
			log.Debug("Call ended")
			m.callback.OnCallEnded()
			return
		}
		log.Debug("Notification canceled")
		m.callback.OnNotificationCanceled(ev.UID.String())

	default:
		log.Debug("Ignoring unknown notification event")
	}
}

func (m *Manager) onDataSource(packet []byte) {
	if m.reassembler == nil {
		m.reassembler = m.claimPending(packet)
	}

	if m.reassembler != nil {
		m.staleClear.Stop()
		m.feedReassembler(packet)
	}

	if m.pending.Len() > 0 || m.reassembler != nil {
		m.staleClear.Reset(m.cfg.StaleClearWindow)
	}
}

// claimPending starts a reassembler for the earliest pending notification whose UID opens the
// stream, removing it from the pending set. Unmatched packets are dropped.
func (m *Manager) claimPending(packet []byte) *protocol.Reassembler {
	uid, ok := protocol.StreamUID(packet)
	if !ok {
		m.logger.WithField("length", len(packet)).Debug("Dropping data source packet too short to open a stream")
		return nil
	}

	for pair := m.pending.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.UID != uid {
			continue
		}
		m.pending.Delete(pair.Key)
		m.logger.WithField("uid", uid.String()).Debug("Started reassembling notification")
		return protocol.NewReassembler(pair.Value, m.cfg.ReassemblyBufferSize)
	}

	m.logger.WithField("uid", uid.String()).Debug("Dropping data source packet with no pending notification")
	return nil
}

func (m *Manager) feedReassembler(packet []byte) {
	r := m.reassembler
	if err := r.Process(packet); err != nil {
		m.logger.WithFields(logrus.Fields{
			"uid":   r.UID().String(),
			"error": err,
		}).Warn("Discarding notification stream")
		m.reassembler = nil
		return
	}
	if !r.Finished() {
		return
	}

	m.reassembler = nil
	data := r.Result()
	if data == nil {
		return
	}
	m.store.Update(*data)

	log := m.logger.WithFields(logrus.Fields{
		"uid": data.ID(),
		"app": data.AppIdentifier,
	})
	if data.IsIncomingCall {
		log.Info("Incoming call")
		m.callback.OnIncomingCall(*data)
		return
	}
	log.Info("Notification received")
	m.callback.OnNotificationReceived(*data)
}

// onStaleClear drops notifications whose attributes never arrived, and any partial stream.
func (m *Manager) onStaleClear() {
	m.logger.WithFields(logrus.Fields{
		"pending":   m.pending.Len(),
		"streaming": m.reassembler != nil,
	}).Debug("Clearing stale notifications")

	m.reassembler = nil
	m.pending = orderedmap.New[uint64, *protocol.PendingNotification]()
}
