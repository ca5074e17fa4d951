package instance

import (
	"time"

	"github.com/google/uuid"
)

// Connection states as reported by the WhatsApp engine. DISCONNECTED is the
// initial and final state; STARTING is set right before the engine client is
// constructed; the rest mirror the engine's own socket states.
const (
	StateDisconnected = "DISCONNECTED"
	StateStarting     = "STARTING"
	StateQRCode       = "QR_CODE"
	StateConnected    = "CONNECTED"
	StateConflict     = "CONFLICT"
	StateUnpaired     = "UNPAIRED"
)

// Instance is one tenant's logical WhatsApp connection and its persisted
// metadata. Invariant: Connected implies State == CONNECTED, and a blocked
// instance is never admitted to the live registry.
type Instance struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	InstanceName         string    `json:"instanceName" db:"instanceName"`
	Token                string    `json:"token" db:"token"`
	IsActive             bool      `json:"isActive" db:"isActive"`
	Blocked              bool      `json:"blocked" db:"blocked"`
	State                string    `json:"state" db:"state"`
	Connected            bool      `json:"connected" db:"connected"`
	DisconnectedBySystem bool      `json:"disconnectedBySystem" db:"disconnectedBySystem"`
	MessagesSent         int64     `json:"messagesSent" db:"messagesSent"`
	MessagesReceived     int64     `json:"messagesReceived" db:"messagesReceived"`
	Platform             *string   `json:"platform,omitempty" db:"platform"`
	ConnectedPhone       *string   `json:"connectedPhone,omitempty" db:"connectedPhone"`
	Name                 *string   `json:"name,omitempty" db:"name"`
	ProfileStatus        *string   `json:"profileStatus,omitempty" db:"profileStatus"`
	Picture              *string   `json:"picture,omitempty" db:"picture"`
	Chats                int       `json:"chats" db:"chats"`
	Contacts             int       `json:"contacts" db:"contacts"`
	AutomaticReading     bool      `json:"automaticReading" db:"automaticReading"`
	SyncContacts         bool      `json:"syncContacts" db:"syncContacts"`
	RejectCalls          bool      `json:"rejectCalls" db:"rejectCalls"`
	RejectCallsMessage   *string   `json:"rejectCallsMessage,omitempty" db:"rejectCallsMessage"`
	UserID               uuid.UUID `json:"userId" db:"userId"`
	CreatedAt            time.Time `json:"createdAt" db:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt" db:"updatedAt"`
}

func New(name string, userID uuid.UUID) *Instance {
	now := time.Now()
	return &Instance{
		ID:           uuid.New(),
		InstanceName: name,
		Token:        uuid.NewString(),
		IsActive:     true,
		State:        StateDisconnected,
		UserID:       userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CanStart reports whether the instance may be admitted to the registry.
func (i *Instance) CanStart() bool {
	return i.IsActive && !i.Blocked
}

// StateUpdate is a partial write against the persisted connection state.
// Nil fields are left untouched.
type StateUpdate struct {
	State                *string
	Connected            *bool
	DisconnectedBySystem *bool
}

// ProfileUpdate is a partial write against the opportunistically refreshed
// profile metadata.
type ProfileUpdate struct {
	Platform       *string
	ConnectedPhone *string
	Name           *string
	ProfileStatus  *string
	Picture        *string
	Chats          *int
	Contacts       *int
}

// Settings are the user-editable behavior flags.
type Settings struct {
	InstanceName       *string `json:"instanceName,omitempty"`
	AutomaticReading   *bool   `json:"automaticReading,omitempty"`
	SyncContacts       *bool   `json:"syncContacts,omitempty"`
	RejectCalls        *bool   `json:"rejectCalls,omitempty"`
	RejectCallsMessage *string `json:"rejectCallsMessage,omitempty"`
}

func (i *Instance) ApplySettings(s *Settings) {
	if s.InstanceName != nil {
		i.InstanceName = *s.InstanceName
	}
	if s.AutomaticReading != nil {
		i.AutomaticReading = *s.AutomaticReading
	}
	if s.SyncContacts != nil {
		i.SyncContacts = *s.SyncContacts
	}
	if s.RejectCalls != nil {
		i.RejectCalls = *s.RejectCalls
	}
	if s.RejectCallsMessage != nil {
		i.RejectCallsMessage = s.RejectCallsMessage
	}
	i.UpdatedAt = time.Now()
}
