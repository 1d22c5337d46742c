package protocol

// GATT services and characteristics of the notification-center, media and battery profiles.
// All identifiers are stored in NormalizeUUID form.
var (
	ServiceNotificationCenter = NormalizeUUID("7905F431-B5CE-4E99-A40F-4B1E122D00D0")
	CharNotificationSource    = NormalizeUUID("9FBF120D-6301-42D9-8C58-25E699A21DBD")
	CharControlPoint          = NormalizeUUID("69D1D8F3-45E1-49A8-9821-9BBDFDAAD9D9")
	CharDataSource            = NormalizeUUID("22EAC6E9-24D6-4BB5-BE44-B36ACE7C7BFB")

	ServiceMedia        = NormalizeUUID("89D3502B-0F36-433A-8EF4-C502AD55F8DC")
	CharRemoteCommand   = NormalizeUUID("9B3C81D8-57B1-4A8A-B8DF-0E56F7CA51C2")
	CharEntityUpdate    = NormalizeUUID("2F7CABCE-808D-411F-9A0C-BB92BA96C102")
	CharEntityAttribute = NormalizeUUID("C6B2F38C-23AB-46D8-A6AB-A3A870BBD5D7")

	ServiceBattery   = NormalizeUUID("180F")
	CharBatteryLevel = NormalizeUUID("2A19")

	ServiceCurrentTime = NormalizeUUID("1805")
	CharCurrentTime    = NormalizeUUID("2A2B")

	// DescriptorClientConfig is the Client Characteristic Configuration Descriptor.
	DescriptorClientConfig = NormalizeUUID("2902")

	// ServiceDiscoveryFilter is the service UUID advertised by the peer and used as scan filter.
	ServiceDiscoveryFilter = NormalizeUUID("00001111-0000-1000-8000-00805f9b34fb")
)

// EnableNotificationValue is written to the CCCD to turn on server-initiated notifications.
var EnableNotificationValue = []byte{0x01, 0x00}

// EventID identifies a Notification Source record.
type EventID byte

const (
	EventNotificationAdded    EventID = 0
	EventNotificationModified EventID = 1
	EventNotificationRemoved  EventID = 2
)

func (e EventID) String() string {
	switch e {
	case EventNotificationAdded:
		return "added"
	case EventNotificationModified:
		return "modified"
	case EventNotificationRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// CategoryID classifies a notification.
type CategoryID byte

const (
	CategoryOther              CategoryID = 0
	CategoryIncomingCall       CategoryID = 1
	CategoryMissedCall         CategoryID = 2
	CategoryVoicemail          CategoryID = 3
	CategorySocial             CategoryID = 4
	CategorySchedule           CategoryID = 5
	CategoryEmail              CategoryID = 6
	CategoryNews               CategoryID = 7
	CategoryHealthAndFitness   CategoryID = 8
	CategoryBusinessAndFinance CategoryID = 9
	CategoryLocation           CategoryID = 10
	CategoryEntertainment      CategoryID = 11
)

// CommandID is the first byte of a Control Point request.
type CommandID byte

const (
	CommandGetNotificationAttributes CommandID = 0
	CommandGetAppAttributes          CommandID = 1
	CommandPerformNotificationAction CommandID = 2
)

// AttributeID identifies a notification attribute in requests and Data Source streams.
type AttributeID byte

const (
	AttributeAppIdentifier       AttributeID = 0
	AttributeTitle               AttributeID = 1
	AttributeSubtitle            AttributeID = 2
	AttributeMessage             AttributeID = 3
	AttributeMessageSize         AttributeID = 4
	AttributeDate                AttributeID = 5
	AttributePositiveActionLabel AttributeID = 6
	AttributeNegativeActionLabel AttributeID = 7
)

// EntityID selects the media entity for Entity Update and Entity Attribute requests.
type EntityID byte

const (
	EntityPlayer EntityID = 0
	EntityQueue  EntityID = 1
	EntityTrack  EntityID = 2
)

// Player entity attributes.
const (
	PlayerAttributeName         byte = 0
	PlayerAttributePlaybackInfo byte = 1
	PlayerAttributeVolume       byte = 2
)

// Track entity attributes.
const (
	TrackAttributeArtist   byte = 0
	TrackAttributeAlbum    byte = 1
	TrackAttributeTitle    byte = 2
	TrackAttributeDuration byte = 3
)

// RemoteCommandID values accepted by the Remote Command characteristic.
type RemoteCommandID byte

const (
	RemoteCommandPlay            RemoteCommandID = 0
	RemoteCommandPause           RemoteCommandID = 1
	RemoteCommandTogglePlayPause RemoteCommandID = 2
	RemoteCommandNextTrack       RemoteCommandID = 3
	RemoteCommandPreviousTrack   RemoteCommandID = 4
	RemoteCommandVolumeUp        RemoteCommandID = 5
	RemoteCommandVolumeDown      RemoteCommandID = 6
)
