// Package goble implements the manager transport on top of go-ble: scanning, dialing and the
// GATT operations of one link, with completions reported as manager.TransportEvents.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/groutine"
	"github.com/srg/ancsbridge/internal/manager"
	"github.com/srg/ancsbridge/internal/protocol"
)

// Bonder manages link-layer pairing, which go-ble does not expose.
type Bonder interface {
	BondState(address string) (manager.BondState, error)
	CreateBond(address string) error
	RemoveBond(address string) error
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithBonder sets the pairing backend. Without one, links report BondBonded and bond
// operations fail with manager.ErrUnsupported.
func WithBonder(b Bonder) Option {
	return func(t *Transport) {
		t.bonder = b
	}
}

// Transport implements manager.Transport.
type Transport struct {
	logger *logrus.Logger
	bonder Bonder

	mu         sync.Mutex
	dev        device
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

var _ manager.Transport = (*Transport)(nil)

// New creates a transport. The host device is opened on first use.
func New(opts ...Option) *Transport {
	t := &Transport{logger: logrus.New()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) device() (device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = &bleDevice{dev: dev}
	return t.dev, nil
}

// StartScan reports every advertisement carrying one of the filter's services. Duplicates are
// reported so the manager can count repeated sightings.
func (t *Transport) StartScan(filter manager.ScanFilter, onResult func(manager.Peer)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.scanCancel = cancel
	t.scanDone = done

	services := make(map[string]struct{}, len(filter.ServiceUUIDs))
	for _, s := range filter.ServiceUUIDs {
		services[protocol.NormalizeUUID(s)] = struct{}{}
	}

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		defer close(done)
		err := dev.scan(ctx, true, func(adv ble.Advertisement) {
			if peer, ok := matchAdvertisement(adv, services); ok {
				onResult(peer)
			}
		})
		if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			t.logger.WithField("error", err).Error("Scan stopped unexpectedly")
		}
	})

	t.logger.WithField("services", filter.ServiceUUIDs).Debug("BLE scan started")
	return nil
}

// StopScan cancels the running scan and waits for it to end.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	cancel, done := t.scanCancel, t.scanDone
	t.scanCancel, t.scanDone = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	t.logger.Debug("BLE scan stopped")
	return nil
}

// Connect starts dialing peer and returns the link at once. The outcome is reported through
// events.OnConnectionStateChange.
func (t *Transport) Connect(peer manager.Peer, events manager.TransportEvents) (manager.Link, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}
	l := newLink(peer.Address, events, t.bonder, t.logger)
	groutine.Go(l.ctx, "ble-dial", func(ctx context.Context) {
		l.dial(ctx, dev)
	})
	return l, nil
}

// Close stops scanning and releases the host device.
func (t *Transport) Close() error {
	_ = t.StopScan()

	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()

	if dev == nil {
		return nil
	}
	return dev.stop()
}

// matchAdvertisement converts adv to a Peer when it advertises one of services. An empty set
// matches everything.
func matchAdvertisement(adv ble.Advertisement, services map[string]struct{}) (manager.Peer, bool) {
	if len(services) > 0 && !advertisesAny(adv, services) {
		return manager.Peer{}, false
	}

	peer := manager.Peer{
		Name: adv.LocalName(),
		RSSI: adv.RSSI(),
	}
	if addr := adv.Addr(); addr != nil {
		peer.Address = addr.String()
	}
	return peer, true
}

func advertisesAny(adv ble.Advertisement, services map[string]struct{}) bool {
	for _, list := range [][]ble.UUID{adv.Services(), adv.OverflowService()} {
		for _, u := range list {
			if _, ok := services[protocol.NormalizeUUID(u.String())]; ok {
				return true
			}
		}
	}
	return false
}
