// Package manager drives a single BLE central connection to a peer exposing the
// notification-center and media services: scanning, connecting, discovery, ordered
// subscription, the outbound write queue and inbound decoding into host events.
//
// All mutable state is owned by one event loop. Transport events, timer fires and public
// calls are posted onto it, so handlers never run concurrently.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/command"
	"github.com/srg/ancsbridge/internal/loop"
	"github.com/srg/ancsbridge/internal/protocol"
	"github.com/srg/ancsbridge/pkg/config"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger; the default is logrus.New().
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStore sets the collaborator finalized notifications are handed to before routing.
func WithStore(s Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// WithClock replaces the clock the watchdog and other timers run on.
func WithClock(c loop.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// Manager is the connection state machine.
type Manager struct {
	cfg       *config.Config
	transport Transport
	callback  Callback
	store     Store
	logger    *logrus.Logger
	clock     loop.Clock
	loop      *loop.Loop

	// Loop-owned state.
	state              State
	link               Link
	peer               Peer
	session            uint64
	scanning           bool
	reconnect          bool
	skipCount          int
	connectionFailures int
	keepAliveInterval  time.Duration

	subscribed  *hashmap.Map[string, struct{}]
	pending     *orderedmap.OrderedMap[uint64, *protocol.PendingNotification]
	pendingSeq  uint64
	reassembler *protocol.Reassembler
	queue       *command.Queue

	watchdog   *loop.Timer
	staleClear *loop.Timer
	retry      *loop.Timer
	keepAlive  *loop.Timer

	published atomic.Int32
	closed    atomic.Bool
}

// New creates a manager. Nothing happens until Start.
func New(transport Transport, callback Callback, cfg *config.Config, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	m := &Manager{
		cfg:        cfg,
		transport:  transport,
		callback:   callback,
		store:      nopStore{},
		logger:     logrus.New(),
		subscribed: hashmap.New[string, struct{}](),
		pending:    orderedmap.New[uint64, *protocol.PendingNotification](),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.loop = loop.New("ancs-manager", m.logger, loop.WithClock(m.clock))
	m.queue = command.NewQueue(m.logger, cfg.RetryDelay)

	m.watchdog = m.loop.NewTimer("connecting-watchdog", m.onWatchdog)
	m.staleClear = m.loop.NewTimer("stale-clear", m.onStaleClear)
	m.retry = m.loop.NewTimer("command-retry", m.queue.Dispatch)
	m.keepAlive = m.loop.NewTimer("keep-alive", m.onKeepAlive)
	m.queue.SetTimer(m.retry)

	return m
}

// Start runs the event loop and begins scanning for the peer. The manager stops when ctx is
// canceled; Close releases the transport.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return loop.ErrStopped
	}
	m.loop.Start(ctx)

	var err error
	if callErr := m.loop.Call(func() { err = m.startScan() }); callErr != nil {
		return callErr
	}
	return err
}

// Close tears the connection down and stops the event loop. It is idempotent and must not be
// called from a Callback method.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Debug("Closing manager")

	err := m.loop.Call(m.teardown)
	m.loop.Stop()
	if errors.Is(err, loop.ErrStopped) {
		// The loop is gone, nothing else touches the state.
		m.teardown()
		return nil
	}
	return err
}

// State returns the last state reported to the host. Safe for concurrent use.
func (m *Manager) State() State {
	return State(m.published.Load())
}

// setState is a no-op when the state does not change.
func (m *Manager) setState(s State) {
	if s == m.state {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"from": m.state.String(),
		"to":   s.String(),
	}).Info("Connection state changed")

	m.state = s
	m.published.Store(int32(s))
	m.callback.OnConnectionStateChange(s)
}

func (m *Manager) startScan() error {
	if m.scanning {
		return nil
	}
	filter := ScanFilter{ServiceUUIDs: []string{protocol.NormalizeUUID(m.cfg.DiscoveryService)}}
	if err := m.transport.StartScan(filter, m.postScanResult); err != nil {
		m.logger.WithField("error", err).Error("Failed to start scanning")
		return fmt.Errorf("failed to start scan: %w", err)
	}
	m.scanning = true
	m.logger.WithField("service_uuid", filter.ServiceUUIDs[0]).Info("Scanning started")
	return nil
}

func (m *Manager) stopScan() {
	if !m.scanning {
		return
	}
	m.scanning = false
	if err := m.transport.StopScan(); err != nil {
		m.logger.WithField("error", err).Warn("Failed to stop scanning")
		return
	}
	m.logger.Debug("Scanning stopped")
}

// postScanResult runs on the transport's scan goroutine. StopScan waits for that goroutine
// from the loop, so a result that does not fit the queue is dropped instead of blocking.
func (m *Manager) postScanResult(peer Peer) {
	if !m.loop.TryPost(func() { m.onScanResult(peer) }) {
		m.logger.WithField("address", peer.Address).Trace("Dropping scan result, event loop busy")
	}
}

func (m *Manager) onScanResult(peer Peer) {
	if !m.scanning || m.state != Disconnected {
		return
	}

	log := m.logger.WithFields(logrus.Fields{
		"name":    peer.Name,
		"address": peer.Address,
		"rssi":    peer.RSSI,
	})

	if peer.Name == "" || (m.reconnect && m.skipCount <= m.cfg.SkipThreshold) {
		m.skipCount++
		log.WithField("skip_count", m.skipCount).Debug("Skipping scan result")
		return
	}

	m.stopScan()
	log.Info("Connecting...")

	m.skipCount = 0
	m.peer = peer
	m.setState(Connecting)

	m.session++
	link, err := m.transport.Connect(peer, &linkEvents{m: m, session: m.session})
	if err != nil {
		// Without a link the watchdog restarts the cycle.
		log.WithField("error", err).Error("Failed to open connection")
	} else {
		m.link = link
		m.queue.SetWriter(link)
	}

	m.watchdog.Reset(m.cfg.ConnectingTimeout)
}

func (m *Manager) onConnectionStateChange(connected bool, err error) {
	if connected {
		if m.link == nil {
			return
		}
		m.logger.WithField("address", m.peer.Address).Info("Connected")

		if err := m.link.DiscoverServices(); err != nil {
			m.logger.WithField("error", err).Warn("Failed to start service discovery")
		}
		m.startKeepAlive()
		return
	}

	m.logger.WithFields(logrus.Fields{
		"address": m.peer.Address,
		"error":   err,
	}).Warn("Disconnected")

	m.teardown()
	m.reconnect = true
	if err := m.startScan(); err != nil {
		m.logger.WithField("error", err).Error("Failed to restart scanning after disconnect")
	}
}

// teardown cancels every timer, releases the link and clears all per-connection state.
// It is safe to call in any state, any number of times.
func (m *Manager) teardown() {
	m.setState(Disconnected)

	m.watchdog.Stop()
	m.staleClear.Stop()
	m.retry.Stop()
	m.keepAlive.Stop()

	m.stopScan()

	if m.link != nil {
		if err := m.link.Disconnect(); err != nil {
			m.logger.WithField("error", err).Debug("Disconnect during teardown failed")
		}
		if err := m.link.Close(); err != nil {
			m.logger.WithField("error", err).Debug("Close during teardown failed")
		}
		m.link = nil
	}
	// Events still in flight from the released link are discarded.
	m.session++

	m.reconnect = false
	m.skipCount = 0
	m.keepAliveInterval = 0

	m.reassembler = nil
	m.queue.Clear()
	m.queue.SetWriter(nil)
	m.pending = orderedmap.New[uint64, *protocol.PendingNotification]()
	m.subscribed = hashmap.New[string, struct{}]()
}

// enqueue queues a write with the configured retry policy.
func (m *Manager) enqueue(service, characteristic string, payload []byte) {
	cmd := command.New(service, characteristic, payload).
		WithPolicy(command.RetryPolicy{MaxRetries: m.cfg.MaxRetries})
	m.queue.Enqueue(cmd)
}

func (m *Manager) onCharacteristicWrite(service, characteristic string, err error) {
	if err == nil && m.link != nil {
		if m.callback.ShouldUpdateBatteryLevel() {
			if err := m.link.ReadCharacteristic(protocol.ServiceBattery, protocol.CharBatteryLevel); err != nil {
				m.logger.WithField("error", err).Debug("Failed to read battery level")
			}
		}
		if m.keepAliveInterval > 0 && characteristic == protocol.CharEntityAttribute {
			if err := m.link.ReadCharacteristic(protocol.ServiceMedia, protocol.CharEntityAttribute); err != nil {
				m.logger.WithField("error", err).Debug("Failed to read entity attribute")
			}
		}
	}
	m.queue.OnWriteComplete(err)
}

func (m *Manager) onReadRSSI(rssi int, err error) {
	if err != nil {
		m.logger.WithField("error", err).Debug("Failed to read RSSI")
		return
	}
	m.logger.WithField("rssi", rssi).Debug("Read RSSI")
}

// linkEvents funnels one link's events onto the loop, dropping those that arrive after the
// link was released.
type linkEvents struct {
	m       *Manager
	session uint64
}

func (e *linkEvents) post(fn func()) {
	e.m.loop.Post(func() {
		if e.session != e.m.session {
			return
		}
		fn()
	})
}

func (e *linkEvents) OnConnectionStateChange(connected bool, err error) {
	e.post(func() { e.m.onConnectionStateChange(connected, err) })
}

func (e *linkEvents) OnServicesDiscovered(err error) {
	e.post(func() { e.m.onServicesDiscovered(err) })
}

func (e *linkEvents) OnDescriptorWrite(service, characteristic string, err error) {
	e.post(func() {
		e.m.onDescriptorWrite(protocol.NormalizeUUID(service), protocol.NormalizeUUID(characteristic), err)
	})
}

func (e *linkEvents) OnCharacteristicWrite(service, characteristic string, err error) {
	e.post(func() {
		e.m.onCharacteristicWrite(protocol.NormalizeUUID(service), protocol.NormalizeUUID(characteristic), err)
	})
}

func (e *linkEvents) OnCharacteristicRead(service, characteristic string, value []byte, err error) {
	e.post(func() {
		e.m.onCharacteristicRead(protocol.NormalizeUUID(characteristic), value, err)
	})
}

func (e *linkEvents) OnCharacteristicChanged(service, characteristic string, value []byte) {
	e.post(func() {
		e.m.onCharacteristicChanged(protocol.NormalizeUUID(characteristic), value)
	})
}

func (e *linkEvents) OnReadRSSI(rssi int, err error) {
	e.post(func() { e.m.onReadRSSI(rssi, err) })
}
