package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/webhook"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

const (
	defaultStartTimeout    = 120 * time.Second
	defaultRefreshInterval = 60 * time.Second
)

// Controller owns the per-instance connection state machine. It is the only
// writer of the registry: starts go through a per-instance in-flight guard so
// two concurrent starts for the same tenant construct exactly one engine
// client, and disconnect bookkeeping (persistence, webhook) always completes
// before the registry entry disappears.
type Controller struct {
	registry   *Registry
	factory    ports.WhatsAppClientFactory
	instances  ports.InstanceRepository
	dispatcher ports.EventDispatcher
	logger     *logger.Logger

	startMu      sync.Mutex
	inflight     map[uuid.UUID]chan struct{}
	shuttingDown bool

	startTimeout    time.Duration
	refreshInterval time.Duration
}

type ControllerOption func(*Controller)

func WithStartTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.startTimeout = d }
}

func WithProfileRefreshInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.refreshInterval = d }
}

func NewController(
	registry *Registry,
	factory ports.WhatsAppClientFactory,
	instances ports.InstanceRepository,
	dispatcher ports.EventDispatcher,
	log *logger.Logger,
	opts ...ControllerOption,
) *Controller {
	c := &Controller{
		registry:        registry,
		factory:         factory,
		instances:       instances,
		dispatcher:      dispatcher,
		logger:          log.WithModule("whatsapp"),
		inflight:        make(map[uuid.UUID]chan struct{}),
		startTimeout:    defaultStartTimeout,
		refreshInterval: defaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Registry() *Registry {
	return c.registry
}

// IsLive reports whether the instance currently holds a registry entry.
func (c *Controller) IsLive(instanceID uuid.UUID) bool {
	return c.registry.Get(instanceID) != nil
}

// Start brings up the instance's connection and blocks until it reaches its
// first terminal bootstrap state (CONNECTED or UNPAIRED). Idempotent: a
// second start while a handle exists returns that handle without touching
// the engine. Concurrent starts for the same instance serialize on an
// in-flight marker so the constructor runs at most once.
func (c *Controller) Start(ctx context.Context, instanceID uuid.UUID) (*Session, error) {
	inst, err := c.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Blocked {
		return nil, apperrors.ErrInstanceBlocked
	}
	if !inst.IsActive {
		return nil, apperrors.ErrInstanceInactive
	}

	for {
		c.startMu.Lock()
		if c.shuttingDown {
			c.startMu.Unlock()
			return nil, fmt.Errorf("%w: shutting down", apperrors.ErrConnectionStart)
		}
		if sess := c.registry.Get(instanceID); sess != nil {
			c.startMu.Unlock()
			return sess, nil
		}
		wait, inflight := c.inflight[instanceID]
		if !inflight {
			wait = make(chan struct{})
			c.inflight[instanceID] = wait
			c.startMu.Unlock()
			break
		}
		c.startMu.Unlock()

		select {
		case <-wait:
			// The other start finished; loop to reuse its handle.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sess, err := c.startSession(ctx, inst)

	c.startMu.Lock()
	if wait, ok := c.inflight[instanceID]; ok {
		close(wait)
		delete(c.inflight, instanceID)
	}
	c.startMu.Unlock()

	return sess, err
}

func (c *Controller) startSession(ctx context.Context, inst *instance.Instance) (*Session, error) {
	starting := instance.StateStarting
	disconnected := false
	if err := c.instances.UpdateState(ctx, inst.ID, instance.StateUpdate{
		State:     &starting,
		Connected: &disconnected,
	}); err != nil {
		return nil, fmt.Errorf("failed to mark instance starting: %w", err)
	}

	sess := newSession(inst.ID)

	// The pump must be running before the constructor so early notifications
	// queue instead of blocking the engine.
	go c.pump(sess)

	callbacks := ports.Callbacks{
		OnStateChange: func(state string) {
			sess.enqueue(stateEvent{state: state})
		},
		OnQRCode: func(qr ports.QRCode) {
			sess.enqueue(stateEvent{qr: &qr})
		},
		OnMessage: func(msg ports.Message) {
			go c.handleMessage(sess, msg)
		},
		OnAck: func(ack ports.Ack) {
			go c.handleAck(sess, ack)
		},
		OnIncomingCall: func(call ports.Call) {
			go c.handleIncomingCall(sess, call)
		},
	}

	client, err := c.factory.Create(ctx, inst.ID.String(), callbacks)
	if err != nil {
		sess.stop()
		c.logger.ErrorWithFields("Engine client construction failed", map[string]interface{}{
			"instance_id": inst.ID.String(),
			"error":       err.Error(),
		})
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConnectionStart, err.Error())
	}

	sess.Client = client
	c.registry.Set(inst.ID, sess)
	close(sess.ready)

	select {
	case state := <-sess.bootstrap:
		c.logger.InfoWithFields("Instance bootstrapped", map[string]interface{}{
			"instance_id": inst.ID.String(),
			"state":       state,
		})
		return sess, nil
	case <-time.After(c.startTimeout):
		return nil, fmt.Errorf("%w: timed out waiting for bootstrap state", apperrors.ErrConnectionStart)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pump serializes state-change events for one instance. Message, ack and
// call notifications run on their own goroutines and may interleave with it.
func (c *Controller) pump(sess *Session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case evt := <-sess.events:
			// A stopped session may still have queued events; drop them.
			if sess.ctx.Err() != nil {
				return
			}
			if !sess.awaitReady() {
				return
			}
			if evt.qr != nil {
				c.handleQRCode(sess, *evt.qr)
			} else {
				c.handleStateChange(sess, evt.state)
			}
		}
	}
}

func (c *Controller) handleStateChange(sess *Session, state string) {
	ctx := sess.ctx
	id := sess.InstanceID

	c.logger.InfoWithFields("Connection state changed", map[string]interface{}{
		"instance_id": id.String(),
		"state":       state,
	})

	switch state {
	case instance.StateConnected:
		connected := instance.StateConnected
		on, off := true, false
		if err := c.instances.UpdateState(ctx, id, instance.StateUpdate{
			State:                &connected,
			Connected:            &on,
			DisconnectedBySystem: &off,
		}); err != nil {
			c.logError(id, "Failed to persist connected state", err)
		}
		c.dispatchInstanceEvent(ctx, id, webhook.EventInstanceConnected)
		sess.resolveBootstrap(state)
		c.refreshProfile(ctx, sess)
		c.startProfileRefresh(sess)

	case instance.StateConflict:
		// Another client took the session over; reclaim it. Persisted state
		// is left untouched.
		if err := sess.Client.UseHere(ctx); err != nil {
			c.logError(id, "Failed to reclaim session", err)
		}

	case instance.StateUnpaired:
		sess.stopProfileRefresh()
		c.registry.Delete(id)

		unpaired := instance.StateUnpaired
		off := false
		if err := c.instances.UpdateState(ctx, id, instance.StateUpdate{
			State:     &unpaired,
			Connected: &off,
		}); err != nil {
			c.logError(id, "Failed to persist unpaired state", err)
		}

		// A fresh QR means the engine is about to re-offer pairing rather
		// than terminate, so the disconnect event would double-fire.
		if qr, err := sess.Client.GetQRCode(ctx); err != nil || qr == nil {
			c.dispatchInstanceEvent(ctx, id, webhook.EventInstanceDisconnected)
		}
		sess.resolveBootstrap(state)

		// The session is terminal and already out of the registry; close the
		// handle and stop the pump so stale engine events cannot land on the
		// persisted record afterwards.
		if err := sess.Client.Close(ctx); err != nil {
			c.logError(id, "Error closing client after unpair", err)
		}
		sess.stop()

	default:
		sess.stopProfileRefresh()
		off := false
		if err := c.instances.UpdateState(ctx, id, instance.StateUpdate{
			State:     &state,
			Connected: &off,
		}); err != nil {
			c.logError(id, "Failed to persist state", err)
		}
	}
}

func (c *Controller) handleQRCode(sess *Session, qr ports.QRCode) {
	ctx := sess.ctx
	id := sess.InstanceID

	qrState := instance.StateQRCode
	off := false
	if err := c.instances.UpdateState(ctx, id, instance.StateUpdate{
		State:     &qrState,
		Connected: &off,
	}); err != nil {
		c.logError(id, "Failed to persist QR state", err)
	}

	c.dispatcher.Dispatch(ctx, id.String(), webhook.EventQRCode, map[string]interface{}{
		"qrcode": qr,
	})
}

// isServiceChat matches the broadcast/status and newsletter pseudo-contacts
// whose traffic never counts as real messages.
func isServiceChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@broadcast") || strings.HasSuffix(chatID, "@newsletter")
}

func (c *Controller) handleMessage(sess *Session, msg ports.Message) {
	if !sess.awaitReady() {
		return
	}
	if isServiceChat(msg.ChatID) || isServiceChat(msg.Sender) {
		return
	}

	ctx := sess.ctx
	id := sess.InstanceID

	// The record may have disappeared since this handler was scheduled;
	// administrative operations run concurrently with message traffic.
	inst, err := c.instances.GetByID(ctx, id)
	if err != nil {
		c.logger.DebugWithFields("Skipping message for missing instance", map[string]interface{}{
			"instance_id": id.String(),
		})
		return
	}

	event := webhook.EventMessageReceived
	if msg.FromMe {
		event = webhook.EventMessageSent
		if err := c.instances.IncrementMessagesSent(ctx, id); err != nil {
			c.logError(id, "Failed to increment sent counter", err)
		}
	} else {
		if err := c.instances.IncrementMessagesReceived(ctx, id); err != nil {
			c.logError(id, "Failed to increment received counter", err)
		}
		if inst.AutomaticReading {
			if err := sess.Client.SendSeen(ctx, msg.ChatID, msg.ID); err != nil {
				c.logError(id, "Failed to mark chat seen", err)
			}
		}
	}

	c.dispatcher.Dispatch(ctx, id.String(), event, map[string]interface{}{
		"message": msg,
	})
}

func (c *Controller) handleAck(sess *Session, ack ports.Ack) {
	if !sess.awaitReady() {
		return
	}
	c.dispatcher.Dispatch(sess.ctx, sess.InstanceID.String(), webhook.EventMessageAck, map[string]interface{}{
		"ack": ack,
	})
}

func (c *Controller) handleIncomingCall(sess *Session, call ports.Call) {
	if !sess.awaitReady() {
		return
	}

	ctx := sess.ctx
	id := sess.InstanceID

	inst, err := c.instances.GetByID(ctx, id)
	if err != nil {
		return
	}

	c.dispatcher.Dispatch(ctx, id.String(), webhook.EventIncomingCall, map[string]interface{}{
		"call": call,
	})

	if !inst.RejectCalls {
		return
	}
	if err := sess.Client.RejectCall(ctx, call.Peer, call.ID); err != nil {
		c.logError(id, "Failed to reject call", err)
	}
	if inst.RejectCallsMessage != nil && *inst.RejectCallsMessage != "" {
		if _, err := sess.Client.SendText(ctx, call.Peer, *inst.RejectCallsMessage); err != nil {
			c.logError(id, "Failed to send call rejection message", err)
		}
	}
}

// Disconnect closes the instance's connection without invalidating its
// credentials. Fails with ErrNotConnected when no handle is live.
func (c *Controller) Disconnect(ctx context.Context, instanceID uuid.UUID) error {
	return c.teardown(ctx, instanceID, false)
}

// Logout invalidates the session at the remote end, then closes it.
func (c *Controller) Logout(ctx context.Context, instanceID uuid.UUID) error {
	return c.teardown(ctx, instanceID, true)
}

func (c *Controller) teardown(ctx context.Context, instanceID uuid.UUID, logout bool) error {
	sess := c.registry.Get(instanceID)
	if sess == nil {
		return apperrors.ErrNotConnected
	}

	if logout {
		if err := sess.Client.Logout(ctx); err != nil {
			c.logError(instanceID, "Error during logout", err)
		}
	}
	if err := sess.Client.Close(ctx); err != nil {
		c.logError(instanceID, "Error closing client", err)
	}

	// A persistence failure must not strand the closed handle in the
	// registry, otherwise every later start finds a dead session. Cleanup
	// proceeds either way, same policy as Shutdown.
	disconnected := instance.StateDisconnected
	off := false
	persistErr := c.instances.UpdateState(ctx, instanceID, instance.StateUpdate{
		State:                &disconnected,
		Connected:            &off,
		DisconnectedBySystem: &off,
	})
	if persistErr != nil {
		c.logError(instanceID, "Failed to persist disconnect", persistErr)
		persistErr = fmt.Errorf("failed to persist disconnect: %w", persistErr)
	}
	c.dispatchInstanceEvent(ctx, instanceID, webhook.EventInstanceDisconnected)

	// Bookkeeping above must land before the registry entry goes away so a
	// concurrent start cannot race ahead of it.
	sess.stop()
	c.registry.Delete(instanceID)

	return persistErr
}

// ForceClose logs out and closes a live handle without persistence or
// webhook side effects; callers own that bookkeeping. Reports whether a
// handle existed.
func (c *Controller) ForceClose(ctx context.Context, instanceID uuid.UUID) bool {
	sess := c.registry.Get(instanceID)
	if sess == nil {
		return false
	}

	if err := sess.Client.Logout(ctx); err != nil {
		c.logError(instanceID, "Error during forced logout", err)
	}
	if err := sess.Client.Close(ctx); err != nil {
		c.logError(instanceID, "Error during forced close", err)
	}

	sess.stop()
	c.registry.Delete(instanceID)
	return true
}

// Shutdown stops accepting starts, persists a system-caused disconnect and
// dispatches INSTANCE_DISCONNECTED for every live session, then closes every
// handle and clears the registry. Failures are logged and the remaining
// handles still close.
func (c *Controller) Shutdown(ctx context.Context) {
	c.startMu.Lock()
	c.shuttingDown = true
	c.startMu.Unlock()

	sessions := c.registry.Values()
	c.logger.InfoWithFields("Shutting down live sessions", map[string]interface{}{
		"count": len(sessions),
	})

	disconnected := instance.StateDisconnected
	off, bySystem := false, true
	for _, sess := range sessions {
		if err := c.instances.UpdateState(ctx, sess.InstanceID, instance.StateUpdate{
			State:                &disconnected,
			Connected:            &off,
			DisconnectedBySystem: &bySystem,
		}); err != nil {
			c.logError(sess.InstanceID, "Failed to persist shutdown disconnect", err)
		}
		c.dispatchInstanceEvent(ctx, sess.InstanceID, webhook.EventInstanceDisconnected)

		if err := sess.Client.Close(ctx); err != nil {
			c.logError(sess.InstanceID, "Error closing client during shutdown", err)
		}
		sess.stop()
	}

	c.registry.Clear()
}

// ResumeSystemDisconnected restarts every instance whose last disconnect was
// system-caused. Called once at boot; individual failures are logged and the
// pass continues.
func (c *Controller) ResumeSystemDisconnected(ctx context.Context) {
	insts, err := c.instances.ListSystemDisconnected(ctx)
	if err != nil {
		c.logger.ErrorWithFields("Failed to list system-disconnected instances", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	for _, inst := range insts {
		if !inst.CanStart() {
			continue
		}
		if _, err := c.Start(ctx, inst.ID); err != nil {
			c.logError(inst.ID, "Failed to resume instance", err)
		}
	}
}

// refreshProfile opportunistically updates the persisted profile metadata.
// Best effort: partial failures are logged and whatever was fetched is
// still written.
func (c *Controller) refreshProfile(ctx context.Context, sess *Session) {
	client := sess.Client
	id := sess.InstanceID
	upd := instance.ProfileUpdate{}

	if host, err := client.GetHostDevice(ctx); err == nil {
		upd.Platform = &host.Platform
		upd.Name = &host.PushName
	} else {
		c.logError(id, "Failed to fetch host device", err)
	}

	if wid, err := client.GetWID(ctx); err == nil {
		phone := strings.SplitN(wid, "@", 2)[0]
		upd.ConnectedPhone = &phone

		if status, err := client.GetStatus(ctx, wid); err == nil {
			upd.ProfileStatus = &status
		}
		if pic, err := client.GetProfilePicture(ctx, wid); err == nil && pic != "" {
			upd.Picture = &pic
		}
	} else {
		c.logError(id, "Failed to fetch wid", err)
	}

	if chats, err := client.ListChats(ctx); err == nil {
		n := len(chats)
		upd.Chats = &n
	}

	if inst, err := c.instances.GetByID(ctx, id); err == nil && inst.SyncContacts {
		if contacts, err := client.GetAllContacts(ctx); err == nil {
			n := len(contacts)
			upd.Contacts = &n
		}
	}

	if err := c.instances.UpdateProfile(ctx, id, upd); err != nil {
		c.logError(id, "Failed to persist profile refresh", err)
	}
}

func (c *Controller) startProfileRefresh(sess *Session) {
	refreshCtx, cancel := context.WithCancel(sess.ctx)
	sess.setProfileRefresh(cancel)

	go func() {
		ticker := time.NewTicker(c.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				c.refreshProfile(refreshCtx, sess)
			}
		}
	}()
}

func (c *Controller) dispatchInstanceEvent(ctx context.Context, instanceID uuid.UUID, event string) {
	inst, err := c.instances.GetByID(ctx, instanceID)
	if err != nil {
		c.logError(instanceID, "Failed to load instance for event dispatch", err)
		return
	}
	c.dispatcher.Dispatch(ctx, instanceID.String(), event, map[string]interface{}{
		"instance": inst,
	})
}

func (c *Controller) logError(instanceID uuid.UUID, msg string, err error) {
	c.logger.ErrorWithFields(msg, map[string]interface{}{
		"instance_id": instanceID.String(),
		"error":       err.Error(),
	})
}
