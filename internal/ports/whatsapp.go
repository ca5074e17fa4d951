package ports

import (
	"context"
	"time"
)

// QRCode is the pairing payload offered to a not-yet-authenticated client.
type QRCode struct {
	Image   string `json:"image"`
	ASCIIQR string `json:"asciiQR"`
	Attempt int    `json:"attempt"`
	URLCode string `json:"urlCode"`
}

// Message is one inbound or self-originated message event.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Sender    string    `json:"sender"`
	FromMe    bool      `json:"fromMe"`
	IsGroup   bool      `json:"isGroup"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Ack is a delivery acknowledgement for a previously sent message.
type Ack struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Level     int       `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// Call is an incoming voice/video call offer.
type Call struct {
	ID        string    `json:"id"`
	Peer      string    `json:"peer"`
	IsVideo   bool      `json:"isVideo"`
	Timestamp time.Time `json:"timestamp"`
}

type Chat struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HostDevice is the profile of the paired phone.
type HostDevice struct {
	Platform string `json:"platform"`
	PushName string `json:"pushname"`
	WID      string `json:"wid"`
}

// Callbacks are the notification hooks the controller wires before the engine
// client finishes construction, so no early event is lost. All callbacks are
// invoked asynchronously in engine-determined order.
type Callbacks struct {
	OnStateChange  func(state string)
	OnQRCode       func(qr QRCode)
	OnMessage      func(msg Message)
	OnAck          func(ack Ack)
	OnIncomingCall func(call Call)
}

// WhatsAppClient is the handle over one tenant's live connection to the
// external WhatsApp engine. Every call may fail; background callers treat
// failures as non-fatal, request-serving callers surface them.
type WhatsAppClient interface {
	GetQRCode(ctx context.Context) (*QRCode, error)
	IsAuthenticated(ctx context.Context) (bool, error)
	Logout(ctx context.Context) error
	Close(ctx context.Context) error
	UseHere(ctx context.Context) error

	SendText(ctx context.Context, phone, text string) (string, error)
	SendFile(ctx context.Context, phone, data, filename, caption string) (string, error)
	SendImage(ctx context.Context, phone, data, caption string) (string, error)
	CheckNumber(ctx context.Context, phone string) (bool, error)
	SendSeen(ctx context.Context, chatID, messageID string) error
	RejectCall(ctx context.Context, peer, callID string) error

	GetWID(ctx context.Context) (string, error)
	GetHostDevice(ctx context.Context) (*HostDevice, error)
	GetStatus(ctx context.Context, wid string) (string, error)
	GetProfilePicture(ctx context.Context, wid string) (string, error)
	ListChats(ctx context.Context) ([]Chat, error)
	GetAllContacts(ctx context.Context) ([]Contact, error)
}

// WhatsAppClientFactory constructs a client for one instance with
// tenant-scoped credentials. Create may reject; in that case no handle
// exists and the caller must treat the failure as transient.
type WhatsAppClientFactory interface {
	Create(ctx context.Context, instanceID string, callbacks Callbacks) (WhatsAppClient, error)
}

// EventDispatcher fans a domain event out to an instance's subscribers.
type EventDispatcher interface {
	Dispatch(ctx context.Context, instanceID string, event string, data map[string]interface{})
}
