// Package bluez manages pairing through the BlueZ D-Bus API, which go-ble's HCI transport does
// not cover.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/groutine"
	"github.com/srg/ancsbridge/internal/manager"
)

const (
	busName          = "org.bluez"
	adapterInterface = "org.bluez.Adapter1"
	deviceInterface  = "org.bluez.Device1"
	objectRoot       = "/org/bluez"

	// DefaultAdapter is the controller used when none is configured.
	DefaultAdapter = "hci0"

	errUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	errDoesNotExist  = "org.bluez.Error.DoesNotExist"
	errAlreadyExists = "org.bluez.Error.AlreadyExists"
	errInProgress    = "org.bluez.Error.InProgress"

	// DefaultRediscoverTimeout bounds the discovery run that brings back a removed device.
	DefaultRediscoverTimeout = 10 * time.Second
	rediscoverPoll           = 250 * time.Millisecond
)

// caller issues one D-Bus method call on a BlueZ object.
type caller func(path dbus.ObjectPath, method string, args ...any) *dbus.Call

// Bonder reads and changes the pairing state of peers on one adapter.
type Bonder struct {
	adapter string
	call    caller
	closer  func() error
	logger  *logrus.Logger

	rediscoverTimeout time.Duration
	rediscoverPoll    time.Duration

	mu      sync.Mutex
	bonding map[string]bool
}

// Connect opens the system bus and returns a Bonder for adapter ("" selects DefaultAdapter).
func Connect(adapter string, logger *logrus.Logger) (*Bonder, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	call := func(path dbus.ObjectPath, method string, args ...any) *dbus.Call {
		return conn.Object(busName, path).Call(method, 0, args...)
	}
	return newBonder(adapter, call, conn.Close, logger), nil
}

func newBonder(adapter string, call caller, closer func() error, logger *logrus.Logger) *Bonder {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bonder{
		adapter: adapter,
		call:    call,
		closer:  closer,
		logger:  logger,
		bonding: make(map[string]bool),

		rediscoverTimeout: DefaultRediscoverTimeout,
		rediscoverPoll:    rediscoverPoll,
	}
}

func (b *Bonder) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath(objectRoot + "/" + b.adapter)
}

func (b *Bonder) devicePath(address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", b.adapterPath(), strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

// BondState reports BondBonding while a CreateBond is running, otherwise the Paired property.
// A device BlueZ does not know is reported as not bonded.
func (b *Bonder) BondState(address string) (manager.BondState, error) {
	if b.isBonding(address) {
		return manager.BondBonding, nil
	}

	var paired dbus.Variant
	err := b.call(b.devicePath(address), "org.freedesktop.DBus.Properties.Get", deviceInterface, "Paired").Store(&paired)
	if err != nil {
		if hasErrorName(err, errUnknownObject, errDoesNotExist) {
			return manager.BondNone, nil
		}
		return manager.BondNone, fmt.Errorf("failed to read paired state of %s: %w", address, err)
	}

	if ok, _ := paired.Value().(bool); ok {
		return manager.BondBonded, nil
	}
	return manager.BondNone, nil
}

// CreateBond starts pairing in the background. BondState reports BondBonding until it ends.
// RemoveBond deletes the device object, so a Pair on an unknown device first runs adapter
// discovery until BlueZ sees the peer again.
func (b *Bonder) CreateBond(address string) error {
	b.mu.Lock()
	if b.bonding[address] {
		b.mu.Unlock()
		return nil
	}
	b.bonding[address] = true
	b.mu.Unlock()

	path := b.devicePath(address)
	groutine.Go(context.Background(), "bluez-pair", func(ctx context.Context) {
		defer b.clearBonding(address)

		log := b.logger.WithField("address", address)
		log.Debug("Pairing...")
		err := b.call(path, deviceInterface+".Pair").Err
		if hasErrorName(err, errUnknownObject, errDoesNotExist) {
			log.Debug("Device unknown to BlueZ, rediscovering")
			if err = b.rediscover(ctx, path); err == nil {
				err = b.call(path, deviceInterface+".Pair").Err
			}
		}

		switch {
		case err == nil:
			log.Info("Paired")
		case hasErrorName(err, errAlreadyExists):
			log.Debug("Already paired")
		default:
			log.WithField("error", err).Warn("Pairing failed")
		}
	})
	return nil
}

// rediscover runs adapter discovery until the device object at path exists again.
func (b *Bonder) rediscover(ctx context.Context, path dbus.ObjectPath) error {
	err := b.call(b.adapterPath(), adapterInterface+".StartDiscovery").Err
	if err != nil && !hasErrorName(err, errInProgress) {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	defer func() {
		if err := b.call(b.adapterPath(), adapterInterface+".StopDiscovery").Err; err != nil {
			b.logger.WithField("error", err).Debug("Failed to stop discovery")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, b.rediscoverTimeout)
	defer cancel()
	ticker := time.NewTicker(b.rediscoverPoll)
	defer ticker.Stop()

	for {
		var address dbus.Variant
		err := b.call(path, "org.freedesktop.DBus.Properties.Get", deviceInterface, "Address").Store(&address)
		if err == nil {
			return nil
		}
		if !hasErrorName(err, errUnknownObject, errDoesNotExist) {
			return fmt.Errorf("failed to look up %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("device %s not rediscovered: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// RemoveBond removes the device, and with it the stored keys, from the adapter. The device
// object is gone afterwards; CreateBond rediscovers it.
func (b *Bonder) RemoveBond(address string) error {
	err := b.call(b.adapterPath(), adapterInterface+".RemoveDevice", b.devicePath(address)).Err
	if err != nil && !hasErrorName(err, errUnknownObject, errDoesNotExist) {
		return fmt.Errorf("failed to remove device %s: %w", address, err)
	}
	b.logger.WithField("address", address).Debug("Bond removed")
	return nil
}

// Close releases the bus connection.
func (b *Bonder) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

func (b *Bonder) isBonding(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bonding[address]
}

func (b *Bonder) clearBonding(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bonding, address)
}

func hasErrorName(err error, names ...string) bool {
	var name string
	var value dbus.Error
	var ptr *dbus.Error
	switch {
	case errors.As(err, &value):
		name = value.Name
	case errors.As(err, &ptr):
		name = ptr.Name
	default:
		return false
	}
	for _, n := range names {
		if name == n {
			return true
		}
	}
	return false
}
