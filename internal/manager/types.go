package manager

import (
	"github.com/srg/ancsbridge/internal/protocol"
)

// State is the connection state reported to the host.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	// Reconnecting is part of the host-facing vocabulary but never entered: reconnect
	// behaviour is driven by an internal flag while the state stays Disconnected.
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// BondState mirrors the link-layer pairing state of the peer.
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (b BondState) String() string {
	switch b {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return "unknown"
	}
}

// Peer is a scan result.
type Peer struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// ScanFilter restricts scan results to peers advertising one of the service UUIDs.
type ScanFilter struct {
	ServiceUUIDs []string
}

// Transport is the platform BLE central. StartScan must return promptly and deliver results
// asynchronously; Connect returns a link handle whose connection outcome is reported later
// through TransportEvents.
type Transport interface {
	StartScan(filter ScanFilter, onResult func(Peer)) error
	StopScan() error
	Connect(peer Peer, events TransportEvents) (Link, error)
}

// Link is one GATT connection. Operations that complete asynchronously report through the
// TransportEvents passed to Transport.Connect; a returned error means the operation was not
// started. Service and characteristic identifiers are in protocol.NormalizeUUID form.
type Link interface {
	DiscoverServices() error
	HasCharacteristic(service, characteristic string) bool
	SetNotify(service, characteristic string, enabled bool) error
	WriteDescriptor(service, characteristic, descriptor string, value []byte) error
	WriteCharacteristic(service, characteristic string, value []byte) error
	ReadCharacteristic(service, characteristic string) error
	ReadRSSI() error
	RequestHighPriority() error

	BondState() BondState
	CreateBond() error
	RemoveBond() error

	Disconnect() error
	Close() error
}

// TransportEvents receives the asynchronous outcomes of a Link. Implementations may call it
// from any goroutine.
type TransportEvents interface {
	OnConnectionStateChange(connected bool, err error)
	OnServicesDiscovered(err error)
	OnDescriptorWrite(service, characteristic string, err error)
	OnCharacteristicWrite(service, characteristic string, err error)
	OnCharacteristicRead(service, characteristic string, value []byte, err error)
	OnCharacteristicChanged(service, characteristic string, value []byte)
	OnReadRSSI(rssi int, err error)
}

// Callback receives host-facing events. All methods are invoked from the manager's event
// loop, one at a time; they must not block for long and must not call Manager.Close.
type Callback interface {
	OnConnectionStateChange(state State)
	OnIncomingCall(data protocol.NotificationData)
	OnCallEnded()
	OnNotificationReceived(data protocol.NotificationData)
	OnNotificationCanceled(id string)
	ShouldUpdateBatteryLevel() bool
	OnBatteryLevelChanged(level int)
	OnMediaDataUpdated(update protocol.MediaUpdate)
}

// Store persists finalized notifications before they are routed to the host.
type Store interface {
	Update(data protocol.NotificationData)
}

type nopStore struct{}

func (nopStore) Update(protocol.NotificationData) {}
