package testutils

import (
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement implements ble.Advertisement for testing
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	return args.Get(0).([]ble.ServiceData)
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) TxPowerLevel() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	args := m.Called()
	return args.Get(0).([]ble.UUID)
}

func (m *MockAdvertisement) RSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(ble.Addr)
}

// MockAddr implements ble.Addr for testing
type MockAddr struct {
	Address string
}

func (m *MockAddr) String() string {
	return m.Address
}
