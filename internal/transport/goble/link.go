package goble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/groutine"
	"github.com/srg/ancsbridge/internal/manager"
	"github.com/srg/ancsbridge/internal/protocol"
)

// DefaultOperationBuffer is the number of GATT operations a link accepts before callers block.
const DefaultOperationBuffer = 64

type charKey struct {
	service        string
	characteristic string
}

// link is one connection attempt. GATT operations are run one at a time by a worker goroutine
// and their completions reported through events; notifications arrive on go-ble's goroutines.
type link struct {
	address string
	events  manager.TransportEvents
	bonder  Bonder
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	client  gattClient
	chars   map[charKey]*ble.Characteristic
	notify  map[charKey]bool
	stopped bool

	ops          chan func(gattClient)
	disconnected atomic.Bool
	closeOnce    sync.Once
}

var _ manager.Link = (*link)(nil)

func newLink(address string, events manager.TransportEvents, bonder Bonder, logger *logrus.Logger) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		address: address,
		events:  events,
		bonder:  bonder,
		logger:  logger.WithField("address", address),
		ctx:     ctx,
		cancel:  cancel,
		chars:   make(map[charKey]*ble.Characteristic),
		notify:  make(map[charKey]bool),
		ops:     make(chan func(gattClient), DefaultOperationBuffer),
	}
}

func (l *link) dial(ctx context.Context, dev device) {
	l.logger.Debug("Dialing BLE device...")
	client, err := dev.dial(ctx, l.address)
	if err != nil {
		l.logger.WithField("error", err).Warn("Failed to dial BLE device")
		l.reportDisconnected(NormalizeError(err))
		return
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		_ = client.CancelConnection()
		return
	}
	l.client = client
	l.mu.Unlock()

	groutine.Go(l.ctx, "gatt-worker", l.runWorker)

	// Monitor go-ble client Disconnected() channel where the platform provides one
	if monitored, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(l.ctx, "ble-connection-monitor", func(ctx context.Context) {
			select {
			case <-monitored.Disconnected():
				l.logger.Warn("Host stack reported disconnection")
				l.reportDisconnected(manager.ErrNotConnected)
			case <-ctx.Done():
			}
		})
	}

	l.logger.Info("BLE device connected")
	l.events.OnConnectionStateChange(true, nil)
}

// reportDisconnected emits the disconnected event at most once per link.
func (l *link) reportDisconnected(err error) {
	if l.disconnected.CompareAndSwap(false, true) {
		l.events.OnConnectionStateChange(false, err)
	}
}

func (l *link) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-l.ops:
			l.mu.RLock()
			client := l.client
			l.mu.RUnlock()
			if client != nil {
				op(client)
			}
		}
	}
}

func (l *link) submit(op func(gattClient)) error {
	l.mu.RLock()
	connected := l.client != nil
	l.mu.RUnlock()
	if !connected {
		return manager.ErrNotConnected
	}

	select {
	case l.ops <- op:
		return nil
	case <-l.ctx.Done():
		return manager.ErrNotConnected
	}
}

func (l *link) characteristic(service, characteristic string) (*ble.Characteristic, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chars[charKey{protocol.NormalizeUUID(service), protocol.NormalizeUUID(characteristic)}]
	if !ok {
		return nil, &manager.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	return c, nil
}

func (l *link) DiscoverServices() error {
	return l.submit(func(c gattClient) {
		profile, err := c.DiscoverProfile(true)
		if err == nil {
			l.index(profile)
		}
		l.events.OnServicesDiscovered(NormalizeError(err))
	})
}

func (l *link) index(profile *ble.Profile) {
	chars := make(map[charKey]*ble.Characteristic)
	for _, svc := range profile.Services {
		svcUUID := protocol.NormalizeUUID(svc.UUID.String())
		for _, ch := range svc.Characteristics {
			chars[charKey{svcUUID, protocol.NormalizeUUID(ch.UUID.String())}] = ch
		}
	}

	l.mu.Lock()
	l.chars = chars
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Debug("Profile discovered")
}

func (l *link) HasCharacteristic(service, characteristic string) bool {
	_, err := l.characteristic(service, characteristic)
	return err == nil
}

// SetNotify controls local delivery of a characteristic's notifications. The remote side is
// switched by writing the client configuration descriptor.
func (l *link) SetNotify(service, characteristic string, enabled bool) error {
	if _, err := l.characteristic(service, characteristic); err != nil {
		return err
	}
	l.mu.Lock()
	l.notify[charKey{protocol.NormalizeUUID(service), protocol.NormalizeUUID(characteristic)}] = enabled
	l.mu.Unlock()
	return nil
}

func (l *link) notifyEnabled(key charKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.notify[key]
}

func (l *link) WriteDescriptor(service, characteristic, descriptor string, value []byte) error {
	ch, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	value = append([]byte(nil), value...)

	if protocol.NormalizeUUID(descriptor) == protocol.DescriptorClientConfig {
		return l.submit(func(c gattClient) {
			l.events.OnDescriptorWrite(service, characteristic, NormalizeError(l.writeClientConfig(c, ch, service, characteristic, value)))
		})
	}

	var desc *ble.Descriptor
	for _, d := range ch.Descriptors {
		if protocol.NormalizeUUID(d.UUID.String()) == protocol.NormalizeUUID(descriptor) {
			desc = d
			break
		}
	}
	if desc == nil {
		return &manager.NotFoundError{Resource: "descriptor", UUIDs: []string{service, characteristic, descriptor}}
	}
	return l.submit(func(c gattClient) {
		l.events.OnDescriptorWrite(service, characteristic, NormalizeError(c.WriteDescriptor(desc, value)))
	})
}

// writeClientConfig goes through go-ble's subscription API, which owns the CCCD.
func (l *link) writeClientConfig(c gattClient, ch *ble.Characteristic, service, characteristic string, value []byte) error {
	var flags byte
	if len(value) > 0 {
		flags = value[0]
	}
	indicate := flags&0x02 != 0
	if flags&0x03 == 0 {
		return c.Unsubscribe(ch, false)
	}

	key := charKey{protocol.NormalizeUUID(service), protocol.NormalizeUUID(characteristic)}
	return c.Subscribe(ch, indicate, func(data []byte) {
		if !l.notifyEnabled(key) {
			return
		}
		l.events.OnCharacteristicChanged(service, characteristic, append([]byte(nil), data...))
	})
}

func (l *link) WriteCharacteristic(service, characteristic string, value []byte) error {
	ch, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	value = append([]byte(nil), value...)
	return l.submit(func(c gattClient) {
		err := c.WriteCharacteristic(ch, value, false)
		l.events.OnCharacteristicWrite(service, characteristic, NormalizeError(err))
	})
}

func (l *link) ReadCharacteristic(service, characteristic string) error {
	ch, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	return l.submit(func(c gattClient) {
		value, err := c.ReadCharacteristic(ch)
		l.events.OnCharacteristicRead(service, characteristic, value, NormalizeError(err))
	})
}

func (l *link) ReadRSSI() error {
	return l.submit(func(c gattClient) {
		l.events.OnReadRSSI(c.ReadRSSI(), nil)
	})
}

// RequestHighPriority is not exposed by go-ble.
func (l *link) RequestHighPriority() error {
	return manager.ErrUnsupported
}

func (l *link) BondState() manager.BondState {
	if l.bonder == nil {
		return manager.BondBonded
	}
	state, err := l.bonder.BondState(l.address)
	if err != nil {
		l.logger.WithField("error", err).Debug("Failed to query bond state")
		return manager.BondNone
	}
	return state
}

func (l *link) CreateBond() error {
	if l.bonder == nil {
		return manager.ErrUnsupported
	}
	return l.bonder.CreateBond(l.address)
}

func (l *link) RemoveBond() error {
	if l.bonder == nil {
		return manager.ErrUnsupported
	}
	return l.bonder.RemoveBond(l.address)
}

// Disconnect drops the connection, or aborts the dial when it is still running.
func (l *link) Disconnect() error {
	l.mu.RLock()
	client := l.client
	l.mu.RUnlock()

	if client == nil {
		l.cancel()
		return nil
	}

	err := NormalizeError(client.CancelConnection())
	l.reportDisconnected(err)
	return err
}

// Close releases the link. Operations submitted afterwards fail with manager.ErrNotConnected.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.client = nil
		l.mu.Unlock()
		l.cancel()
	})
	return nil
}
