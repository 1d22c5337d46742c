package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// fakeDevice implements device. Scan delivers queued advertisements and blocks until ctx ends.
type fakeDevice struct {
	mu      sync.Mutex
	adverts []ble.Advertisement
	scanErr error
	scans   int
	stopped bool

	client  gattClient
	dialErr error
	dialed  []string
	// holdDial makes dial block until ctx is canceled.
	holdDial bool
}

func (d *fakeDevice) scan(ctx context.Context, _ bool, h func(ble.Advertisement)) error {
	d.mu.Lock()
	d.scans++
	adverts, err := d.adverts, d.scanErr
	d.mu.Unlock()

	if err != nil {
		return err
	}
	for _, a := range adverts {
		h(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) dial(ctx context.Context, address string) (gattClient, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	client, err, hold := d.client, d.dialErr, d.holdDial
	d.mu.Unlock()

	if hold {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (d *fakeDevice) stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

// mockClient implements gattClient
type mockClient struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[string]ble.NotificationHandler
	gone     chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{handlers: make(map[string]ble.NotificationHandler), gone: make(chan struct{})}
}

func (c *mockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := c.Called(force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ble.Profile), args.Error(1)
}

func (c *mockClient) Subscribe(ch *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	c.handlers[ch.UUID.String()] = h
	c.mu.Unlock()
	return c.Called(ch.UUID.String(), ind).Error(0)
}

func (c *mockClient) Unsubscribe(ch *ble.Characteristic, ind bool) error {
	return c.Called(ch.UUID.String(), ind).Error(0)
}

func (c *mockClient) WriteCharacteristic(ch *ble.Characteristic, value []byte, noRsp bool) error {
	return c.Called(ch.UUID.String(), value, noRsp).Error(0)
}

func (c *mockClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	args := c.Called(ch.UUID.String())
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (c *mockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	return c.Called(d.UUID.String(), v).Error(0)
}

func (c *mockClient) ReadRSSI() int {
	return c.Called().Int(0)
}

func (c *mockClient) CancelConnection() error {
	return c.Called().Error(0)
}

func (c *mockClient) Disconnected() <-chan struct{} {
	return c.gone
}

func (c *mockClient) handler(uuid string) ble.NotificationHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[uuid]
}

// event is one recorded TransportEvents call.
type event struct {
	kind           string
	connected      bool
	service        string
	characteristic string
	value          []byte
	rssi           int
	err            error
}

// recordingEvents implements manager.TransportEvents on a channel.
type recordingEvents struct {
	ch chan event
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{ch: make(chan event, 32)}
}

func (r *recordingEvents) next(timeout time.Duration) (event, bool) {
	select {
	case ev := <-r.ch:
		return ev, true
	case <-time.After(timeout):
		return event{}, false
	}
}

func (r *recordingEvents) OnConnectionStateChange(connected bool, err error) {
	r.ch <- event{kind: "state", connected: connected, err: err}
}

func (r *recordingEvents) OnServicesDiscovered(err error) {
	r.ch <- event{kind: "discovered", err: err}
}

func (r *recordingEvents) OnDescriptorWrite(service, characteristic string, err error) {
	r.ch <- event{kind: "descriptor", service: service, characteristic: characteristic, err: err}
}

func (r *recordingEvents) OnCharacteristicWrite(service, characteristic string, err error) {
	r.ch <- event{kind: "write", service: service, characteristic: characteristic, err: err}
}

func (r *recordingEvents) OnCharacteristicRead(service, characteristic string, value []byte, err error) {
	r.ch <- event{kind: "read", service: service, characteristic: characteristic, value: value, err: err}
}

func (r *recordingEvents) OnCharacteristicChanged(service, characteristic string, value []byte) {
	r.ch <- event{kind: "changed", service: service, characteristic: characteristic, value: value}
}

func (r *recordingEvents) OnReadRSSI(rssi int, err error) {
	r.ch <- event{kind: "rssi", rssi: rssi, err: err}
}
