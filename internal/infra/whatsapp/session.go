package whatsapp

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"zapgate/internal/ports"
)

// stateEvent is one entry on a session's serialized event stream: either a
// socket state change or a fresh QR offer.
type stateEvent struct {
	state string
	qr    *ports.QRCode
}

// Session is the exclusively-owned handle to one instance's live connection.
// It couples the engine client with the goroutine that serializes its
// state-change events, plus the one-shot bootstrap signal the start path
// blocks on.
type Session struct {
	InstanceID uuid.UUID
	Client     ports.WhatsAppClient

	events    chan stateEvent
	bootstrap chan string
	bootOnce  sync.Once

	// ready is closed once Client is assigned and the session is in the
	// registry; event handlers wait on it so callbacks fired during
	// construction never observe a nil client.
	ready chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
}

func newSession(instanceID uuid.UUID) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		InstanceID: instanceID,
		events:     make(chan stateEvent, 64),
		bootstrap:  make(chan string, 1),
		ready:      make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// enqueue pushes an event onto the serialized stream. Blocks until the pump
// drains or the session is torn down; per-tenant ordering is preserved.
func (s *Session) enqueue(evt stateEvent) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// resolveBootstrap signals the first terminal bootstrap state exactly once.
func (s *Session) resolveBootstrap(state string) {
	s.bootOnce.Do(func() {
		s.bootstrap <- state
	})
}

// awaitReady blocks until the client handle is usable or the session dies.
func (s *Session) awaitReady() bool {
	select {
	case <-s.ready:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// stop tears down the event pump and any running profile refresh loop. It
// does not touch the engine client; callers close that themselves.
func (s *Session) stop() {
	s.stopProfileRefresh()
	s.cancel()
}

func (s *Session) stopProfileRefresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshCancel != nil {
		s.refreshCancel()
		s.refreshCancel = nil
	}
}

func (s *Session) setProfileRefresh(cancel context.CancelFunc) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	s.refreshCancel = cancel
}
