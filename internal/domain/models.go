// Package domain defines the persistence models for user profiles, friend
// connections, encryption key records, conversations, and messages. These
// types are mapped with GORM and form the core data layer of the messaging
// backend.
package domain

import (
	"time"
)

// UserProfile represents an account visible to other users. Profiles are
// created at registration time; WelcomeMessageSent tracks whether the
// encrypted system welcome message has been delivered to this account.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Username: unique handle, matched exactly in search.
//   - DisplayName: free-form presentation name.
//   - WelcomeMessageSent: set once the welcome bootstrap delivered a message.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type UserProfile struct {
	ID                 string    `json:"id"                   gorm:"type:char(36);primaryKey"`
	Username           string    `json:"username"             gorm:"type:varchar(64);not null;uniqueIndex:ux_profile_username"`
	DisplayName        string    `json:"display_name"         gorm:"type:varchar(255);not null"`
	WelcomeMessageSent bool      `json:"welcome_message_sent" gorm:"not null;default:false"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }

// UserConnection is one friend-request row between two accounts. At most one
// row exists for any unordered pair, enforced by an existence check before
// insert plus the unique index on PairKey.
//
// Lifecycle: created by the requester as pending; mutated only by the
// addressee (accept/decline/block) or deleted by either participant.
// Declined and blocked rows persist as history.
type UserConnection struct {
	ID          string           `json:"id"           gorm:"type:char(36);primaryKey"`
	RequesterID string           `json:"requester_id" gorm:"type:char(36);not null;index:idx_conn_requester"`
	AddresseeID string           `json:"addressee_id" gorm:"type:char(36);not null;index:idx_conn_addressee"`
	Status      ConnectionStatus `json:"status"       gorm:"type:varchar(16);not null;check:status IN ('pending','accepted','declined','blocked')"`
	// PairKey is the canonical "min:max" form of the participant pair; the
	// unique index makes duplicate requests lose the race at the store.
	PairKey   string    `json:"-"          gorm:"type:varchar(80);not null;uniqueIndex:ux_conn_pair"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Requester UserProfile `json:"requester,omitempty" gorm:"foreignKey:RequesterID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Addressee UserProfile `json:"addressee,omitempty" gorm:"foreignKey:AddresseeID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for UserConnection.
func (UserConnection) TableName() string { return "user_connections" }

// UserEncryptionKey is one key epoch for a user. Multiple rows may exist per
// user over time; at most one is active (revoked = false) at query time,
// selected by most-recent CreatedAt. Only the salt and public key are ever
// persisted; the private key and password never cross this boundary.
type UserEncryptionKey struct {
	ID     string `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID string `json:"user_id" gorm:"type:char(36);not null;index:idx_key_user"`
	// PublicKey is the exported OKP JWK as JSON text.
	PublicKey string `json:"public_key" gorm:"type:text;not null"`
	// EncryptionSalt is the base64-encoded derivation salt for this epoch.
	EncryptionSalt string     `json:"encryption_salt" gorm:"type:varchar(64);not null"`
	DeviceID       string     `json:"device_id"       gorm:"type:varchar(128)"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Revoked        bool       `json:"revoked"         gorm:"not null;default:false"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName returns the database table name for UserEncryptionKey.
func (UserEncryptionKey) TableName() string { return "user_encryption_keys" }

// Conversation is the canonical two-party thread. Participants are stored in
// canonical order (the smaller identifier is always Participant1ID) so a pair
// of accounts maps to exactly one row regardless of who initiates. Created
// lazily on first message; LastMessageAt is touched on every insert.
type Conversation struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	Participant1ID string    `json:"participant_1_id" gorm:"column:participant_1_id;type:char(36);not null;uniqueIndex:ux_conv_pair,priority:1"`
	Participant2ID string    `json:"participant_2_id" gorm:"column:participant_2_id;type:char(36);not null;uniqueIndex:ux_conv_pair,priority:2"`
	LastMessageAt  time.Time `json:"last_message_at"  gorm:"index"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is one encrypted utterance within a conversation. Only ciphertext
// and IV are stored. SequenceNumber is monotonically increasing per
// conversation (not globally); edit and delete mutate the row rather than
// removing it, and ReadAt is set when the recipient acknowledges.
type Message struct {
	ID             string `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string `json:"conversation_id" gorm:"type:char(36);not null;uniqueIndex:ux_msg_seq,priority:1"`
	SenderID       string `json:"sender_id"       gorm:"type:char(36);not null;index:idx_msg_sender"`
	// EncryptedContent and InitializationVector are base64 text; plaintext
	// never crosses the persistence boundary.
	EncryptedContent     string     `json:"encrypted_content"     gorm:"type:text;not null"`
	InitializationVector string     `json:"initialization_vector" gorm:"type:varchar(64);not null"`
	SequenceNumber       int64      `json:"sequence_number"       gorm:"not null;uniqueIndex:ux_msg_seq,priority:2"`
	Deleted              bool       `json:"deleted"               gorm:"not null;default:false"`
	Edited               bool       `json:"edited"                gorm:"not null;default:false"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	ReadAt               *time.Time `json:"read_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`

	// Conversation is the parent thread; messages are cascade-deleted if the
	// conversation row is removed.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// OrderPair returns the two account ids in canonical order (smaller first).
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey returns the canonical unordered-pair key for two account ids.
// Used for the user_connections unique index; the same ordering rule fixes
// conversation participant columns.
func PairKey(a, b string) string {
	lo, hi := OrderPair(a, b)
	return lo + ":" + hi
}
