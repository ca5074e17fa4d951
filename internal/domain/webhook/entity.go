package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Event tags delivered to subscribers.
const (
	EventInstanceConnected    = "INSTANCE_CONNECTED"
	EventInstanceDisconnected = "INSTANCE_DISCONNECTED"
	EventMessageReceived      = "MESSAGE_RECEIVED"
	EventMessageSent          = "MESSAGE_SENT"
	EventMessageAck           = "MESSAGE_ACK"
	EventIncomingCall         = "INCOMING_CALL"
	EventQRCode               = "QR_CODE"
)

var SupportedEvents = []string{
	EventInstanceConnected,
	EventInstanceDisconnected,
	EventMessageReceived,
	EventMessageSent,
	EventMessageAck,
	EventIncomingCall,
	EventQRCode,
}

var eventSet map[string]bool

func init() {
	eventSet = make(map[string]bool, len(SupportedEvents))
	for _, e := range SupportedEvents {
		eventSet[e] = true
	}
}

func IsValidEvent(event string) bool {
	return eventSet[event]
}

// ValidateEvents returns the subset of events that are not supported.
func ValidateEvents(events []string) []string {
	var invalid []string
	for _, e := range events {
		if !IsValidEvent(e) {
			invalid = append(invalid, e)
		}
	}
	return invalid
}

// Webhook is one subscriber endpoint plus its event filter for one instance.
type Webhook struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	URL        string    `json:"url" db:"url"`
	Events     []string  `json:"events" db:"events"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	InstanceID uuid.UUID `json:"instanceId" db:"instanceId"`
	CreatedAt  time.Time `json:"createdAt" db:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updatedAt"`
}

func New(instanceID uuid.UUID, name, url string, events []string) *Webhook {
	now := time.Now()
	return &Webhook{
		ID:         uuid.New(),
		Name:       name,
		URL:        url,
		Events:     events,
		Enabled:    true,
		InstanceID: instanceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HasEvent reports whether the subscriber listens to the given tag.
func (w *Webhook) HasEvent(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

type UpdateRequest struct {
	URL    *string  `json:"url,omitempty" validate:"omitempty,url"`
	Name   *string  `json:"name,omitempty"`
	Events []string `json:"events,omitempty" validate:"omitempty,min=1"`
}

func (w *Webhook) Update(req *UpdateRequest) {
	if req.URL != nil {
		w.URL = *req.URL
	}
	if req.Name != nil {
		w.Name = *req.Name
	}
	if req.Events != nil {
		w.Events = req.Events
	}
	w.UpdatedAt = time.Now()
}
