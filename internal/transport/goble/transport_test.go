package goble

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/ancsbridge/internal/manager"
	"github.com/srg/ancsbridge/internal/protocol"
	"github.com/srg/ancsbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	ancsService  = "7905F431-B5CE-4E99-A40F-4B1E122D00D0"
	dataSource   = "22EAC6E9-24D6-4BB5-BE44-B36ACE7C7BFB"
	controlPoint = "69D1D8F3-45E1-49A8-9821-9BBDFDAAD9D9"
	waitTimeout  = time.Second
)

func bleKey(uuid string) string {
	return ble.MustParse(uuid).String()
}

func testProfile() *ble.Profile {
	return &ble.Profile{Services: []*ble.Service{
		{
			UUID: ble.MustParse(ancsService),
			Characteristics: []*ble.Characteristic{
				{
					UUID:        ble.MustParse(dataSource),
					Descriptors: []*ble.Descriptor{{UUID: ble.MustParse("2902")}},
				},
				{UUID: ble.MustParse(controlPoint)},
			},
		},
		{
			UUID: ble.MustParse("180F"),
			Characteristics: []*ble.Characteristic{
				{
					UUID:        ble.MustParse("2A19"),
					Descriptors: []*ble.Descriptor{{UUID: ble.MustParse("2901")}},
				},
			},
		},
	}}
}

func newTestTransport(t *testing.T, dev *fakeDevice, opts ...Option) *Transport {
	t.Helper()
	h := testutils.NewTestHelper(t)
	tr := New(append([]Option{WithLogger(h.Logger)}, opts...)...)
	tr.dev = dev
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func requireEvent(t *testing.T, events *recordingEvents, kind string) event {
	t.Helper()
	ev, ok := events.next(waitTimeout)
	require.True(t, ok, "timed out waiting for %q event", kind)
	require.Equal(t, kind, ev.kind)
	return ev
}

// connected returns a link whose dial succeeded and whose profile has been discovered.
func connected(t *testing.T, client *mockClient, opts ...Option) (*link, *recordingEvents) {
	t.Helper()
	client.On("DiscoverProfile", true).Return(testProfile(), nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()

	tr := newTestTransport(t, &fakeDevice{client: client}, opts...)
	events := newRecordingEvents()

	l, err := tr.Connect(manager.Peer{Name: "iPhone", Address: "AA:BB"}, events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ev := requireEvent(t, events, "state")
	require.True(t, ev.connected)

	require.NoError(t, l.DiscoverServices())
	require.NoError(t, requireEvent(t, events, "discovered").err)
	return l.(*link), events
}

func TestStartScanFiltersByService(t *testing.T) {
	dev := &fakeDevice{adverts: []ble.Advertisement{
		testutils.CreateMockAdvertisement("Alice's iPhone", "11:11", -40).WithServices("1111").Build(),
		testutils.CreateMockAdvertisement("Headphones", "22:22", -50).WithServices("180F").Build(),
		testutils.CreateMockAdvertisement("Bob's iPhone", "33:33", -60).
			WithOverflowServices("00001111-0000-1000-8000-00805f9b34fb").Build(),
	}}
	tr := newTestTransport(t, dev)

	var mu sync.Mutex
	var peers []manager.Peer
	err := tr.StartScan(manager.ScanFilter{ServiceUUIDs: []string{"1111"}}, func(p manager.Peer) {
		mu.Lock()
		defer mu.Unlock()
		peers = append(peers, p)
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(peers) == 2
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, tr.StopScan())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []manager.Peer{
		{Name: "Alice's iPhone", Address: "11:11", RSSI: -40},
		{Name: "Bob's iPhone", Address: "33:33", RSSI: -60},
	}, peers)
}

func TestStartScanIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	tr := newTestTransport(t, dev)

	require.NoError(t, tr.StartScan(manager.ScanFilter{}, func(manager.Peer) {}))
	require.NoError(t, tr.StartScan(manager.ScanFilter{}, func(manager.Peer) {}))
	require.NoError(t, tr.StopScan())
	require.NoError(t, tr.StopScan())

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, 1, dev.scans)
}

func TestDeviceFactoryFailure(t *testing.T) {
	orig := DeviceFactory
	t.Cleanup(func() { DeviceFactory = orig })
	DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	tr := New(WithLogger(testutils.NewTestHelper(t).Logger))

	err := tr.StartScan(manager.ScanFilter{}, func(manager.Peer) {})
	assert.ErrorIs(t, err, ErrBluetoothOff)

	_, err = tr.Connect(manager.Peer{Address: "AA:BB"}, newRecordingEvents())
	assert.ErrorIs(t, err, ErrBluetoothOff)
}

func TestTransportCloseStopsDevice(t *testing.T) {
	dev := &fakeDevice{}
	tr := newTestTransport(t, dev)
	require.NoError(t, tr.StartScan(manager.ScanFilter{}, func(manager.Peer) {}))

	require.NoError(t, tr.Close())

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.True(t, dev.stopped)
}

func TestConnectReportsDialFailure(t *testing.T) {
	tr := newTestTransport(t, &fakeDevice{dialErr: errors.New("device not connected")})
	events := newRecordingEvents()

	l, err := tr.Connect(manager.Peer{Address: "AA:BB"}, events)
	require.NoError(t, err)

	ev := requireEvent(t, events, "state")
	assert.False(t, ev.connected)
	assert.ErrorIs(t, ev.err, manager.ErrNotConnected)
	var notFound *manager.NotFoundError
	assert.ErrorAs(t, l.WriteCharacteristic(ancsService, controlPoint, []byte{1}), &notFound, "no profile yet")
}

func TestDisconnectAbortsDial(t *testing.T) {
	dev := &fakeDevice{holdDial: true}
	tr := newTestTransport(t, dev)
	events := newRecordingEvents()

	l, err := tr.Connect(manager.Peer{Address: "AA:BB"}, events)
	require.NoError(t, err)

	require.NoError(t, l.Disconnect())

	ev := requireEvent(t, events, "state")
	assert.False(t, ev.connected)
	assert.Error(t, ev.err)
}

func TestLinkDiscovery(t *testing.T) {
	l, _ := connected(t, newMockClient())

	assert.True(t, l.HasCharacteristic(ancsService, dataSource))
	assert.True(t, l.HasCharacteristic(protocol.ServiceNotificationCenter, protocol.CharControlPoint))
	assert.True(t, l.HasCharacteristic("180f", "2a19"))
	assert.False(t, l.HasCharacteristic(ancsService, "9FBF120D-6301-42D9-8C58-25E699A21DBD"))
}

func TestLinkDiscoveryFailure(t *testing.T) {
	client := newMockClient()
	client.On("DiscoverProfile", true).Return(nil, errors.New("bluetooth is turned off"))

	tr := newTestTransport(t, &fakeDevice{client: client})
	events := newRecordingEvents()
	l, err := tr.Connect(manager.Peer{Address: "AA:BB"}, events)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	requireEvent(t, events, "state")

	require.NoError(t, l.DiscoverServices())

	assert.ErrorIs(t, requireEvent(t, events, "discovered").err, ErrBluetoothOff)
}

func TestLinkSubscribeThroughClientConfig(t *testing.T) {
	client := newMockClient()
	client.On("Subscribe", bleKey(dataSource), false).Return(nil)
	l, events := connected(t, client)

	require.NoError(t, l.SetNotify(ancsService, dataSource, true))
	require.NoError(t, l.WriteDescriptor(ancsService, dataSource, "2902", []byte{0x01, 0x00}))

	ev := requireEvent(t, events, "descriptor")
	assert.NoError(t, ev.err)
	assert.Equal(t, dataSource, ev.characteristic)

	h := client.handler(bleKey(dataSource))
	require.NotNil(t, h)
	payload := []byte{0x00, 0x01, 0x02}
	h(payload)
	payload[0] = 0xff

	changed := requireEvent(t, events, "changed")
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, changed.value, "value MUST be copied")

	// Local delivery off.
	require.NoError(t, l.SetNotify(ancsService, dataSource, false))
	h([]byte{0x09})
	_, ok := events.next(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestLinkClientConfigPermissionDenied(t *testing.T) {
	client := newMockClient()
	client.On("Subscribe", bleKey(dataSource), false).Return(errors.New("Writing is not permitted."))
	l, events := connected(t, client)

	require.NoError(t, l.WriteDescriptor(ancsService, dataSource, "2902", []byte{0x01, 0x00}))

	assert.ErrorIs(t, requireEvent(t, events, "descriptor").err, manager.ErrWritePermission)
}

func TestLinkClientConfigDisable(t *testing.T) {
	client := newMockClient()
	client.On("Unsubscribe", bleKey(dataSource), false).Return(nil)
	l, events := connected(t, client)

	require.NoError(t, l.WriteDescriptor(ancsService, dataSource, "2902", []byte{0x00, 0x00}))

	assert.NoError(t, requireEvent(t, events, "descriptor").err)
	client.AssertCalled(t, "Unsubscribe", bleKey(dataSource), false)
}

func TestLinkWriteOtherDescriptor(t *testing.T) {
	client := newMockClient()
	client.On("WriteDescriptor", bleKey("2901"), []byte("x")).Return(nil)
	l, events := connected(t, client)

	require.NoError(t, l.WriteDescriptor("180F", "2A19", "2901", []byte("x")))
	assert.NoError(t, requireEvent(t, events, "descriptor").err)

	var notFound *manager.NotFoundError
	assert.ErrorAs(t, l.WriteDescriptor("180F", "2A19", "2904", nil), &notFound)
	assert.Equal(t, "descriptor", notFound.Resource)
}

func TestLinkWriteCharacteristic(t *testing.T) {
	client := newMockClient()
	client.On("WriteCharacteristic", bleKey(controlPoint), []byte{0x00, 0x01}, false).Return(nil).Once()
	client.On("WriteCharacteristic", bleKey(controlPoint), []byte{0x00, 0x02}, false).Return(errors.New("gatt: unlikely error")).Once()
	l, events := connected(t, client)

	require.NoError(t, l.WriteCharacteristic(ancsService, controlPoint, []byte{0x00, 0x01}))
	require.NoError(t, l.WriteCharacteristic(ancsService, controlPoint, []byte{0x00, 0x02}))

	first := requireEvent(t, events, "write")
	assert.NoError(t, first.err)
	assert.Equal(t, ancsService, first.service)
	second := requireEvent(t, events, "write")
	assert.EqualError(t, second.err, "gatt: unlikely error")
}

func TestLinkReadCharacteristicAndRSSI(t *testing.T) {
	client := newMockClient()
	client.On("ReadCharacteristic", bleKey("2A19")).Return([]byte{87}, nil)
	client.On("ReadRSSI").Return(-58)
	l, events := connected(t, client)

	require.NoError(t, l.ReadCharacteristic("180F", "2A19"))
	read := requireEvent(t, events, "read")
	assert.Equal(t, []byte{87}, read.value)

	require.NoError(t, l.ReadRSSI())
	assert.Equal(t, -58, requireEvent(t, events, "rssi").rssi)

	assert.ErrorIs(t, l.RequestHighPriority(), manager.ErrUnsupported)
}

func TestLinkHostReportedDisconnect(t *testing.T) {
	client := newMockClient()
	l, events := connected(t, client)

	close(client.gone)

	ev := requireEvent(t, events, "state")
	assert.False(t, ev.connected)
	assert.ErrorIs(t, ev.err, manager.ErrNotConnected)

	require.NoError(t, l.Disconnect())
	_, ok := events.next(50 * time.Millisecond)
	assert.False(t, ok, "disconnect MUST be reported once")
}

func TestLinkOperationsAfterClose(t *testing.T) {
	client := newMockClient()
	l, _ := connected(t, client)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.WriteCharacteristic(ancsService, controlPoint, []byte{1}), manager.ErrNotConnected)
	assert.ErrorIs(t, l.DiscoverServices(), manager.ErrNotConnected)
	client.AssertNotCalled(t, "WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything)
}

type mockBonder struct {
	mock.Mock
}

func (b *mockBonder) BondState(address string) (manager.BondState, error) {
	args := b.Called(address)
	return args.Get(0).(manager.BondState), args.Error(1)
}

func (b *mockBonder) CreateBond(address string) error {
	return b.Called(address).Error(0)
}

func (b *mockBonder) RemoveBond(address string) error {
	return b.Called(address).Error(0)
}

func TestLinkBonding(t *testing.T) {
	t.Run("without bonder", func(t *testing.T) {
		l, _ := connected(t, newMockClient())

		assert.Equal(t, manager.BondBonded, l.BondState())
		assert.ErrorIs(t, l.CreateBond(), manager.ErrUnsupported)
		assert.ErrorIs(t, l.RemoveBond(), manager.ErrUnsupported)
	})

	t.Run("delegates to bonder", func(t *testing.T) {
		bonder := &mockBonder{}
		bonder.On("BondState", "AA:BB").Return(manager.BondBonding, nil).Once()
		bonder.On("BondState", "AA:BB").Return(manager.BondBonded, errors.New("dbus failure")).Once()
		bonder.On("CreateBond", "AA:BB").Return(nil)
		bonder.On("RemoveBond", "AA:BB").Return(nil)
		l, _ := connected(t, newMockClient(), WithBonder(bonder))

		assert.Equal(t, manager.BondBonding, l.BondState())
		assert.Equal(t, manager.BondNone, l.BondState(), "query failure reads as not bonded")
		assert.NoError(t, l.CreateBond())
		assert.NoError(t, l.RemoveBond())
		bonder.AssertExpectations(t)
	})
}
