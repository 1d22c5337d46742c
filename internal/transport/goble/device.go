package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// DeviceFactory creates the host ble.Device (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// device is the slice of ble.Device the transport drives.
type device interface {
	scan(ctx context.Context, allowDup bool, h func(ble.Advertisement)) error
	dial(ctx context.Context, address string) (gattClient, error)
	stop() error
}

// gattClient is the slice of ble.Client a link drives.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	ReadRSSI() int
	CancelConnection() error
}

// bleDevice adapts a ble.Device to device.
type bleDevice struct {
	dev ble.Device
}

func (d *bleDevice) scan(ctx context.Context, allowDup bool, h func(ble.Advertisement)) error {
	return NormalizeError(d.dev.Scan(ctx, allowDup, h))
}

func (d *bleDevice) dial(ctx context.Context, address string) (gattClient, error) {
	client, err := d.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

func (d *bleDevice) stop() error {
	return NormalizeError(d.dev.Stop())
}
