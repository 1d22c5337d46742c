package testutils

import (
	"github.com/go-ble/ble"
)

// AdvertisementBuilder builds mocked BLE advertisements for testing.
// Services and overflow services always have expectations (empty by default) since scan
// filtering inspects both; other fields only when set.
type AdvertisementBuilder struct {
	name     string
	address  string
	rssi     int
	services []string
	overflow []string

	nameSet    bool
	addressSet bool
	rssiSet    bool
}

// NewAdvertisementBuilder creates an empty AdvertisementBuilder.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	b.nameSet = true
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	b.addressSet = true
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	b.rssiSet = true
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "1111") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithOverflowServices adds service UUIDs carried in the overflow area (iOS background
// advertising).
func (b *AdvertisementBuilder) WithOverflowServices(uuids ...string) *AdvertisementBuilder {
	b.overflow = append(b.overflow, uuids...)
	return b
}

// Build creates a MockAdvertisement that implements ble.Advertisement interface.
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}

	adv.On("Services").Return(parseUUIDs(b.services)).Maybe()
	adv.On("OverflowService").Return(parseUUIDs(b.overflow)).Maybe()

	if b.addressSet {
		adv.On("Addr").Return(&MockAddr{Address: b.address}).Maybe()
	}
	if b.nameSet {
		adv.On("LocalName").Return(b.name).Maybe()
	}
	if b.rssiSet {
		adv.On("RSSI").Return(b.rssi).Maybe()
	}
	return adv
}

func parseUUIDs(uuids []string) []ble.UUID {
	out := make([]ble.UUID, 0, len(uuids))
	for _, s := range uuids {
		out = append(out, ble.MustParse(s))
	}
	return out
}
