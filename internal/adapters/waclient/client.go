package waclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"zapgate/internal/domain/instance"
	"zapgate/internal/ports"
	"zapgate/platform/logger"
)

// Client adapts one whatsmeow connection to the engine-neutral interface
// the connection controller drives. Engine events are translated into the
// registered callbacks; socket states map onto the instance state machine.
type Client struct {
	instanceID string
	wa         *whatsmeow.Client
	callbacks  ports.Callbacks
	logger     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	qrMu      sync.Mutex
	currentQR *ports.QRCode
	qrAttempt int

	// chats accumulates every conversation seen through history sync and
	// live traffic; whatsmeow has no chat enumeration API of its own.
	chatsMu sync.Mutex
	chats   map[string]string

	handlerID uint32
}

func newClient(instanceID string, wa *whatsmeow.Client, callbacks ports.Callbacks, log *logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		instanceID: instanceID,
		wa:         wa,
		callbacks:  callbacks,
		logger:     log.WithInstance(instanceID),
		ctx:        ctx,
		cancel:     cancel,
		chats:      make(map[string]string),
	}
	c.handlerID = wa.AddEventHandler(c.handleEvent)
	return c
}

// connect brings the socket up. Unregistered devices go through the QR
// pairing flow; registered ones reconnect directly.
func (c *Client) connect() error {
	if c.wa.Store.ID == nil {
		qrChan, err := c.wa.GetQRChannel(c.ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := c.wa.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go c.qrLoop(qrChan)
		return nil
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (c *Client) qrLoop(qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}
			switch evt.Event {
			case "code":
				c.qrMu.Lock()
				c.qrAttempt++
				qr := &ports.QRCode{
					Image:   renderQRImage(evt.Code, c.logger),
					ASCIIQR: renderQRASCII(evt.Code),
					Attempt: c.qrAttempt,
					URLCode: evt.Code,
				}
				c.currentQR = qr
				c.qrMu.Unlock()

				c.callbacks.OnQRCode(*qr)

			case "success":
				c.clearQR()

			case "timeout":
				// Pairing window closed without a scan; the session never
				// became usable.
				c.clearQR()
				c.callbacks.OnStateChange(instance.StateUnpaired)
				return

			default:
				c.logger.DebugWithFields("QR channel event", map[string]interface{}{
					"event": evt.Event,
				})
			}
		}
	}
}

func (c *Client) clearQR() {
	c.qrMu.Lock()
	defer c.qrMu.Unlock()
	c.currentQR = nil
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.clearQR()
		c.callbacks.OnStateChange(instance.StateConnected)

	case *events.StreamReplaced:
		c.callbacks.OnStateChange(instance.StateConflict)

	case *events.LoggedOut:
		c.callbacks.OnStateChange(instance.StateUnpaired)

	case *events.Disconnected:
		c.callbacks.OnStateChange(instance.StateDisconnected)

	case *events.Message:
		msg := translateMessage(v)
		c.rememberChat(msg.ChatID, "")
		c.callbacks.OnMessage(msg)

	case *events.Receipt:
		level := receiptLevel(v.Type)
		if level == 0 {
			return
		}
		for _, id := range v.MessageIDs {
			c.callbacks.OnAck(ports.Ack{
				MessageID: string(id),
				ChatID:    v.Chat.String(),
				Level:     level,
				Timestamp: v.Timestamp,
			})
		}

	case *events.CallOffer:
		c.callbacks.OnIncomingCall(ports.Call{
			ID:        v.CallID,
			Peer:      v.From.String(),
			Timestamp: v.Timestamp,
		})

	case *events.HistorySync:
		for _, conv := range v.Data.GetConversations() {
			c.rememberChat(conv.GetID(), conv.GetName())
		}
	}
}

func (c *Client) rememberChat(chatID, name string) {
	if chatID == "" {
		return
	}
	c.chatsMu.Lock()
	defer c.chatsMu.Unlock()
	if name != "" || c.chats[chatID] == "" {
		c.chats[chatID] = name
	}
}

func translateMessage(evt *events.Message) ports.Message {
	return ports.Message{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.String(),
		Sender:    evt.Info.Sender.String(),
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
		Body:      messageBody(evt.Message),
		Type:      messageType(evt.Message),
		Timestamp: evt.Info.Timestamp,
	}
}

func messageBody(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		return msg.ExtendedTextMessage.GetText()
	case msg.ImageMessage != nil:
		return msg.ImageMessage.GetCaption()
	case msg.VideoMessage != nil:
		return msg.VideoMessage.GetCaption()
	case msg.DocumentMessage != nil:
		return msg.DocumentMessage.GetFileName()
	default:
		return ""
	}
}

func messageType(msg *waE2E.Message) string {
	switch {
	case msg.ImageMessage != nil:
		return "image"
	case msg.AudioMessage != nil:
		return "audio"
	case msg.VideoMessage != nil:
		return "video"
	case msg.DocumentMessage != nil:
		return "document"
	case msg.StickerMessage != nil:
		return "sticker"
	case msg.LocationMessage != nil:
		return "location"
	case msg.ContactMessage != nil:
		return "contact"
	default:
		return "text"
	}
}

// receiptLevel maps engine receipt types to the numeric ack levels exposed
// to subscribers: 2 delivered, 3 read, 4 played.
func receiptLevel(t waTypes.ReceiptType) int {
	switch t {
	case waTypes.ReceiptTypeDelivered:
		return 2
	case waTypes.ReceiptTypeRead:
		return 3
	case waTypes.ReceiptTypePlayed:
		return 4
	default:
		return 0
	}
}

func (c *Client) GetQRCode(ctx context.Context) (*ports.QRCode, error) {
	c.qrMu.Lock()
	defer c.qrMu.Unlock()
	if c.currentQR == nil {
		return nil, fmt.Errorf("no QR code available")
	}
	qr := *c.currentQR
	return &qr, nil
}

func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	return c.wa.IsLoggedIn(), nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.wa.Logout(ctx); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	c.cancel()
	c.wa.RemoveEventHandler(c.handlerID)
	if c.wa.IsConnected() {
		c.wa.Disconnect()
	}
	return nil
}

// UseHere reclaims the session after another client replaced the stream.
func (c *Client) UseHere(ctx context.Context) error {
	c.wa.Disconnect()
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to reclaim session: %w", err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, phone, text string) (string, error) {
	jid, err := parseJID(phone)
	if err != nil {
		return "", err
	}

	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send text message: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) SendFile(ctx context.Context, phone, data, filename, caption string) (string, error) {
	jid, err := parseJID(phone)
	if err != nil {
		return "", err
	}
	raw, err := decodeFileData(data)
	if err != nil {
		return "", err
	}

	uploaded, err := c.wa.Upload(ctx, raw, whatsmeow.MediaDocument)
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			FileName:      proto.String(filename),
			Caption:       proto.String(caption),
			Mimetype:      proto.String("application/octet-stream"),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send document: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) SendImage(ctx context.Context, phone, data, caption string) (string, error) {
	jid, err := parseJID(phone)
	if err != nil {
		return "", err
	}
	raw, err := decodeFileData(data)
	if err != nil {
		return "", err
	}

	uploaded, err := c.wa.Upload(ctx, raw, whatsmeow.MediaImage)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String("image/jpeg"),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send image: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) CheckNumber(ctx context.Context, phone string) (bool, error) {
	number := strings.TrimSpace(phone)
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}

	results, err := c.wa.IsOnWhatsApp([]string{number})
	if err != nil {
		return false, fmt.Errorf("failed to check number: %w", err)
	}
	if len(results) == 0 {
		return false, nil
	}
	return results[0].IsIn, nil
}

func (c *Client) SendSeen(ctx context.Context, chatID, messageID string) error {
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	if messageID == "" {
		return fmt.Errorf("message ID is required")
	}

	if err := c.wa.MarkRead([]waTypes.MessageID{waTypes.MessageID(messageID)}, time.Now(), jid, jid, ""); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

func (c *Client) RejectCall(ctx context.Context, peer, callID string) error {
	jid, err := parseJID(peer)
	if err != nil {
		return err
	}
	if err := c.wa.RejectCall(jid, callID); err != nil {
		return fmt.Errorf("failed to reject call: %w", err)
	}
	return nil
}

func (c *Client) GetWID(ctx context.Context) (string, error) {
	if c.wa.Store.ID == nil {
		return "", fmt.Errorf("device not paired")
	}
	return c.wa.Store.ID.String(), nil
}

func (c *Client) GetHostDevice(ctx context.Context) (*ports.HostDevice, error) {
	if c.wa.Store.ID == nil {
		return nil, fmt.Errorf("device not paired")
	}
	return &ports.HostDevice{
		Platform: c.wa.Store.Platform,
		PushName: c.wa.Store.PushName,
		WID:      c.wa.Store.ID.String(),
	}, nil
}

func (c *Client) GetStatus(ctx context.Context, wid string) (string, error) {
	jid, err := parseJID(wid)
	if err != nil {
		return "", err
	}

	infos, err := c.wa.GetUserInfo([]waTypes.JID{jid})
	if err != nil {
		return "", fmt.Errorf("failed to get user info: %w", err)
	}
	info, ok := infos[jid]
	if !ok {
		return "", fmt.Errorf("no user info for %s", wid)
	}
	return info.Status, nil
}

func (c *Client) GetProfilePicture(ctx context.Context, wid string) (string, error) {
	jid, err := parseJID(wid)
	if err != nil {
		return "", err
	}

	info, err := c.wa.GetProfilePictureInfo(jid, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get profile picture: %w", err)
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

func (c *Client) ListChats(ctx context.Context) ([]ports.Chat, error) {
	c.chatsMu.Lock()
	defer c.chatsMu.Unlock()

	chats := make([]ports.Chat, 0, len(c.chats))
	for id, name := range c.chats {
		chats = append(chats, ports.Chat{ID: id, Name: name})
	}
	return chats, nil
}

func (c *Client) GetAllContacts(ctx context.Context) ([]ports.Contact, error) {
	stored, err := c.wa.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}

	contacts := make([]ports.Contact, 0, len(stored))
	for jid, info := range stored {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		contacts = append(contacts, ports.Contact{
			ID:   jid.String(),
			Name: name,
		})
	}
	return contacts, nil
}

// decodeFileData accepts raw base64 or a data URI.
func decodeFileData(data string) ([]byte, error) {
	if idx := strings.Index(data, "base64,"); idx >= 0 {
		data = data[idx+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return raw, nil
}
