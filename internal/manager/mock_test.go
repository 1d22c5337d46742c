package manager

import (
	"github.com/srg/ancsbridge/internal/protocol"
	"github.com/stretchr/testify/mock"
)

// mockTransport implements Transport for testing
type mockTransport struct {
	mock.Mock

	onResult func(Peer)
	events   TransportEvents
}

func (m *mockTransport) StartScan(filter ScanFilter, onResult func(Peer)) error {
	m.onResult = onResult
	args := m.Called(filter)
	return args.Error(0)
}

func (m *mockTransport) StopScan() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockTransport) Connect(peer Peer, events TransportEvents) (Link, error) {
	m.events = events
	args := m.Called(peer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Link), args.Error(1)
}

// mockLink implements Link for testing. Every method has a permissive default; override
// replaces the default of one method.
type mockLink struct {
	mock.Mock

	defaults map[string]*mock.Call
}

func newMockLink() *mockLink {
	l := &mockLink{defaults: make(map[string]*mock.Call)}
	l.setDefault("DiscoverServices").Return(nil)
	l.setDefault("HasCharacteristic", mock.Anything, mock.Anything).Return(true)
	l.setDefault("SetNotify", mock.Anything, mock.Anything, true).Return(nil)
	l.setDefault("WriteDescriptor", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	l.setDefault("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	l.setDefault("ReadCharacteristic", mock.Anything, mock.Anything).Return(nil)
	l.setDefault("ReadRSSI").Return(nil)
	l.setDefault("RequestHighPriority").Return(nil)
	l.setDefault("BondState").Return(BondBonded)
	l.setDefault("CreateBond").Return(nil)
	l.setDefault("RemoveBond").Return(nil)
	l.setDefault("Disconnect").Return(nil)
	l.setDefault("Close").Return(nil)
	return l
}

func (l *mockLink) setDefault(method string, args ...interface{}) *mock.Call {
	call := l.On(method, args...).Maybe()
	l.defaults[method] = call
	return call
}

// override drops the default expectation of method so a test-specific one takes effect.
func (l *mockLink) override(method string, args ...interface{}) *mock.Call {
	if call, ok := l.defaults[method]; ok {
		call.Unset()
		delete(l.defaults, method)
	}
	return l.On(method, args...)
}

func (l *mockLink) DiscoverServices() error {
	return l.Called().Error(0)
}

func (l *mockLink) HasCharacteristic(service, characteristic string) bool {
	return l.Called(service, characteristic).Bool(0)
}

func (l *mockLink) SetNotify(service, characteristic string, enabled bool) error {
	return l.Called(service, characteristic, enabled).Error(0)
}

func (l *mockLink) WriteDescriptor(service, characteristic, descriptor string, value []byte) error {
	return l.Called(service, characteristic, descriptor, value).Error(0)
}

func (l *mockLink) WriteCharacteristic(service, characteristic string, value []byte) error {
	return l.Called(service, characteristic, value).Error(0)
}

func (l *mockLink) ReadCharacteristic(service, characteristic string) error {
	return l.Called(service, characteristic).Error(0)
}

func (l *mockLink) ReadRSSI() error {
	return l.Called().Error(0)
}

func (l *mockLink) RequestHighPriority() error {
	return l.Called().Error(0)
}

func (l *mockLink) BondState() BondState {
	return l.Called().Get(0).(BondState)
}

func (l *mockLink) CreateBond() error {
	return l.Called().Error(0)
}

func (l *mockLink) RemoveBond() error {
	return l.Called().Error(0)
}

func (l *mockLink) Disconnect() error {
	return l.Called().Error(0)
}

func (l *mockLink) Close() error {
	return l.Called().Error(0)
}

// recordingCallback collects host events. It is only touched from the manager loop and read
// by tests after a loop barrier.
type recordingCallback struct {
	states        []State
	incoming      []protocol.NotificationData
	received      []protocol.NotificationData
	canceled      []string
	callsEnded    int
	battery       []int
	media         []protocol.MediaUpdate
	updateBattery bool
}

func (c *recordingCallback) OnConnectionStateChange(state State) {
	c.states = append(c.states, state)
}

func (c *recordingCallback) OnIncomingCall(data protocol.NotificationData) {
	c.incoming = append(c.incoming, data)
}

func (c *recordingCallback) OnCallEnded() {
	c.callsEnded++
}

func (c *recordingCallback) OnNotificationReceived(data protocol.NotificationData) {
	c.received = append(c.received, data)
}

func (c *recordingCallback) OnNotificationCanceled(id string) {
	c.canceled = append(c.canceled, id)
}

func (c *recordingCallback) ShouldUpdateBatteryLevel() bool {
	return c.updateBattery
}

func (c *recordingCallback) OnBatteryLevelChanged(level int) {
	c.battery = append(c.battery, level)
}

func (c *recordingCallback) OnMediaDataUpdated(update protocol.MediaUpdate) {
	c.media = append(c.media, update)
}

type recordingStore struct {
	updates []protocol.NotificationData
}

func (s *recordingStore) Update(data protocol.NotificationData) {
	s.updates = append(s.updates, data)
}
