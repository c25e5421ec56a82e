package models

import "time"

// Delivery status lifecycle: received -> processed | ignored | failed.
// A delivery is mutated exactly once to a terminal status and never deleted.
const (
	DeliveryReceived  = "received"
	DeliveryProcessed = "processed"
	DeliveryIgnored   = "ignored"
	DeliveryFailed    = "failed"
)

// Channel instance connection states.
const (
	InstancePairing      = "pairing"
	InstanceConnected    = "connected"
	InstanceDisconnected = "disconnected"
	InstanceError        = "error"
)

// Contact source types.
const (
	SourceDirect = "dm"
	SourceGroup  = "group"
)

// Delivery records one received webhook call. The fingerprint unique index is
// what makes at-least-once redelivery safe: a second insert with the same
// fingerprint fails before any side effect runs.
type Delivery struct {
	ID           uint      `gorm:"primaryKey"`
	WorkspaceID  string    `gorm:"uniqueIndex:ux_delivery_fingerprint,priority:1"`
	Provider     string    `gorm:"uniqueIndex:ux_delivery_fingerprint,priority:2"`
	Fingerprint  string    `gorm:"uniqueIndex:ux_delivery_fingerprint,priority:3"`
	EventType    string    `gorm:"index"`
	InstanceName string    ``
	RawPayload   string    `gorm:"type:text"`
	Status       string    `gorm:"index"`
	ErrorDetail  string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// ChannelInstance is one connected gateway session ("WhatsApp number").
// Instances are provisioned by the CRM, never auto-created by webhook traffic.
type ChannelInstance struct {
	ID              uint       `gorm:"primaryKey"`
	WorkspaceID     string     `gorm:"uniqueIndex:ux_instance_name,priority:1"`
	Name            string     `gorm:"uniqueIndex:ux_instance_name,priority:2"`
	Status          string     ``
	PhoneNumber     string     ``
	LastQRCode      string     `gorm:"type:text"`
	QRImageDataURL  string     `gorm:"type:text"`
	LastConnectedAt *time.Time ``
	Active          bool       `gorm:"default:true"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

// Contact is a person (or group participant) known to a workspace. Real
// contacts are keyed by phone digits; placeholders created from an opaque
// local id are keyed by PlaceholderKey and stay invisible until a phone
// number is observed for the same identity. Both key columns are nullable so
// the unique indexes only bite when the key form exists.
type Contact struct {
	ID             uint      `gorm:"primaryKey"`
	WorkspaceID    string    `gorm:"uniqueIndex:ux_contact_phone,priority:1;uniqueIndex:ux_contact_placeholder,priority:1"`
	PhoneDigits    *string   `gorm:"uniqueIndex:ux_contact_phone,priority:2"`
	PlaceholderKey *string   `gorm:"uniqueIndex:ux_contact_placeholder,priority:2"`
	Name           string    ``
	AvatarURL      string    ``
	IsReal         bool      `gorm:"index"`
	SourceType     string    ``
	RawIdentity    string    ``
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// Conversation is a durable thread tied to one contact and one channel
// instance. RemoteID is nullable for rows that predate identifier tracking;
// the resolver backfills it on first match.
type Conversation struct {
	ID                uint       `gorm:"primaryKey"`
	WorkspaceID       string     `gorm:"uniqueIndex:ux_conversation_remote,priority:1"`
	ChannelInstanceID uint       `gorm:"uniqueIndex:ux_conversation_remote,priority:2;index"`
	RemoteID          *string    `gorm:"uniqueIndex:ux_conversation_remote,priority:3"`
	ContactID         uint       `gorm:"index"`
	IsGroup           bool       ``
	LastMessageAt     *time.Time ``
	UnreadCount       int        ``
	IsTyping          bool       ``
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime"`
}

// ConversationAlias routes an alternate remote identifier to an existing
// conversation. Every conversation has exactly one primary alias equal to its
// own RemoteID. Aliases are permanent routing history and are never deleted.
type ConversationAlias struct {
	ID                uint      `gorm:"primaryKey"`
	WorkspaceID       string    `gorm:"uniqueIndex:ux_alias,priority:1"`
	ChannelInstanceID uint      `gorm:"uniqueIndex:ux_alias,priority:2"`
	Alias             string    `gorm:"uniqueIndex:ux_alias,priority:3"`
	ConversationID    uint      `gorm:"index"`
	IsPrimary         bool      ``
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// Message is one inbound or outgoing chat message. ExternalID carries the
// provider message id; the unique index turns redelivered inserts into
// benign duplicates. SenderID keeps raw group attribution.
type Message struct {
	ID                uint      `gorm:"primaryKey"`
	WorkspaceID       string    `gorm:"uniqueIndex:ux_message_external,priority:1"`
	ChannelInstanceID uint      `gorm:"uniqueIndex:ux_message_external,priority:2"`
	ExternalID        *string   `gorm:"uniqueIndex:ux_message_external,priority:3"`
	ConversationID    uint      `gorm:"index"`
	FromMe            bool      ``
	Body              string    `gorm:"type:text"`
	Type              string    ``
	Status            string    ``
	MediaURL          *string   ``
	SenderID          string    ``
	QuotedExternalID  *string   ``
	Timestamp         time.Time `gorm:"index"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// Card is a kanban pipeline card owned by a contact. Board mechanics live in
// the CRM layer; the ingestion pipeline only re-points ownership during
// contact merges.
type Card struct {
	ID          uint      `gorm:"primaryKey"`
	WorkspaceID string    `gorm:"index"`
	ContactID   uint      `gorm:"index"`
	PipelineID  uint      ``
	StageID     uint      ``
	Title       string    ``
	Position    int       ``
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// All returns every entity for migration.
func All() []interface{} {
	return []interface{}{
		&Delivery{},
		&ChannelInstance{},
		&Contact{},
		&Conversation{},
		&ConversationAlias{},
		&Message{},
		&Card{},
	}
}
