package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/webhook"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
	"zapgate/platform/logger"
)

type fakeClient struct {
	mu        sync.Mutex
	closed    bool
	loggedOut bool
	useHere   int
	qr        *ports.QRCode
	qrErr     error
	seen      []string
	texts     []string
	rejected  []string
}

func (f *fakeClient) GetQRCode(ctx context.Context) (*ports.QRCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.qr, f.qrErr
}

func (f *fakeClient) IsAuthenticated(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeClient) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) UseHere(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.useHere++
	return nil
}

func (f *fakeClient) SendText(ctx context.Context, phone, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, phone+":"+text)
	return uuid.NewString(), nil
}

func (f *fakeClient) SendFile(ctx context.Context, phone, data, filename, caption string) (string, error) {
	return uuid.NewString(), nil
}

func (f *fakeClient) SendImage(ctx context.Context, phone, data, caption string) (string, error) {
	return uuid.NewString(), nil
}

func (f *fakeClient) CheckNumber(ctx context.Context, phone string) (bool, error) { return true, nil }

func (f *fakeClient) SendSeen(ctx context.Context, chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, chatID)
	return nil
}

func (f *fakeClient) RejectCall(ctx context.Context, peer, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, callID)
	return nil
}

func (f *fakeClient) GetWID(ctx context.Context) (string, error) {
	return "5511999999999@s.whatsapp.net", nil
}

func (f *fakeClient) GetHostDevice(ctx context.Context) (*ports.HostDevice, error) {
	return &ports.HostDevice{Platform: "android", PushName: "Tester"}, nil
}

func (f *fakeClient) GetStatus(ctx context.Context, wid string) (string, error) {
	return "available", nil
}

func (f *fakeClient) GetProfilePicture(ctx context.Context, wid string) (string, error) {
	return "https://example.com/pic.jpg", nil
}

func (f *fakeClient) ListChats(ctx context.Context) ([]ports.Chat, error) {
	return []ports.Chat{{ID: "a"}, {ID: "b"}}, nil
}

func (f *fakeClient) GetAllContacts(ctx context.Context) ([]ports.Contact, error) {
	return []ports.Contact{{ID: "c"}}, nil
}

func (f *fakeClient) closedNow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeClient) setQR(qr *ports.QRCode, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qr, f.qrErr = qr, err
}

type fakeFactory struct {
	mu        sync.Mutex
	calls     int
	createErr error
	// autoState, when set, is pushed as a state change right after Create
	// returns, the way the engine announces its first socket state.
	autoState string
	clients   map[string]*fakeClient
	callbacks map[string]ports.Callbacks
}

func newFakeFactory(autoState string) *fakeFactory {
	return &fakeFactory{
		autoState: autoState,
		clients:   make(map[string]*fakeClient),
		callbacks: make(map[string]ports.Callbacks),
	}
}

func (f *fakeFactory) Create(ctx context.Context, instanceID string, callbacks ports.Callbacks) (ports.WhatsAppClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	client := &fakeClient{}
	f.clients[instanceID] = client
	f.callbacks[instanceID] = callbacks
	if f.autoState != "" {
		state := f.autoState
		go callbacks.OnStateChange(state)
	}
	return client, nil
}

func (f *fakeFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFactory) client(instanceID string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[instanceID]
}

func (f *fakeFactory) fire(instanceID string) ports.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[instanceID]
}

type recordedStateUpdate struct {
	id  uuid.UUID
	upd instance.StateUpdate
}

type fakeInstanceRepo struct {
	mu             sync.Mutex
	instances      map[uuid.UUID]*instance.Instance
	stateUpdates   []recordedStateUpdate
	updateStateErr error
	profileUpdates int
	sent           map[uuid.UUID]int64
	received       map[uuid.UUID]int64
	systemDisc     []*instance.Instance
	blockedUsers   [][]uuid.UUID
}

func newFakeInstanceRepo(insts ...*instance.Instance) *fakeInstanceRepo {
	r := &fakeInstanceRepo{
		instances: make(map[uuid.UUID]*instance.Instance),
		sent:      make(map[uuid.UUID]int64),
		received:  make(map[uuid.UUID]int64),
	}
	for _, inst := range insts {
		r.instances[inst.ID] = inst
	}
	return r
}

func (r *fakeInstanceRepo) Create(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return nil
}

func (r *fakeInstanceRepo) GetByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, apperrors.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

func (r *fakeInstanceRepo) GetByToken(ctx context.Context, token string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.instances {
		if inst.Token == token {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, apperrors.ErrInstanceNotFound
}

func (r *fakeInstanceRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*instance.Instance, error) {
	return nil, nil
}

func (r *fakeInstanceRepo) ListByUsers(ctx context.Context, userIDs []uuid.UUID) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range r.instances {
		for _, id := range userIDs {
			if inst.UserID == id {
				cp := *inst
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (r *fakeInstanceRepo) ListSystemDisconnected(ctx context.Context) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.systemDisc, nil
}

func (r *fakeInstanceRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, nil
}

func (r *fakeInstanceRepo) Update(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return nil
}

func (r *fakeInstanceRepo) UpdateState(ctx context.Context, id uuid.UUID, upd instance.StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateUpdates = append(r.stateUpdates, recordedStateUpdate{id: id, upd: upd})
	if r.updateStateErr != nil {
		return r.updateStateErr
	}
	inst, ok := r.instances[id]
	if !ok {
		return apperrors.ErrInstanceNotFound
	}
	if upd.State != nil {
		inst.State = *upd.State
	}
	if upd.Connected != nil {
		inst.Connected = *upd.Connected
	}
	if upd.DisconnectedBySystem != nil {
		inst.DisconnectedBySystem = *upd.DisconnectedBySystem
	}
	return nil
}

func (r *fakeInstanceRepo) UpdateProfile(ctx context.Context, id uuid.UUID, upd instance.ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profileUpdates++
	return nil
}

func (r *fakeInstanceRepo) IncrementMessagesSent(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[id]++
	return nil
}

func (r *fakeInstanceRepo) IncrementMessagesReceived(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[id]++
	return nil
}

func (r *fakeInstanceRepo) BlockByUsers(ctx context.Context, userIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedUsers = append(r.blockedUsers, userIDs)
	for _, inst := range r.instances {
		for _, id := range userIDs {
			if inst.UserID == id {
				inst.Blocked = true
				inst.IsActive = false
				inst.Connected = false
				inst.State = instance.StateDisconnected
			}
		}
	}
	return nil
}

func (r *fakeInstanceRepo) MarkAllDisconnected(ctx context.Context, bySystem bool) error {
	return nil
}

func (r *fakeInstanceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
	return nil
}

func (r *fakeInstanceRepo) setUpdateStateErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateStateErr = err
}

func (r *fakeInstanceRepo) lastStateUpdate() (recordedStateUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stateUpdates) == 0 {
		return recordedStateUpdate{}, false
	}
	return r.stateUpdates[len(r.stateUpdates)-1], true
}

func (r *fakeInstanceRepo) stateUpdateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stateUpdates)
}

func (r *fakeInstanceRepo) sentCount(id uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[id]
}

func (r *fakeInstanceRepo) receivedCount(id uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received[id]
}

type dispatchedEvent struct {
	instanceID string
	event      string
	data       map[string]interface{}
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []dispatchedEvent
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, instanceID, event string, data map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatchedEvent{instanceID: instanceID, event: event, data: data})
}

func (d *fakeDispatcher) count(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func testController(t *testing.T, factory *fakeFactory, repo *fakeInstanceRepo) (*Controller, *fakeDispatcher) {
	t.Helper()
	dispatcher := &fakeDispatcher{}
	log := logger.New(logger.TestConfig())
	ctrl := NewController(NewRegistry(), factory, repo, dispatcher, log,
		WithStartTimeout(2*time.Second),
		WithProfileRefreshInterval(time.Hour),
	)
	return ctrl, dispatcher
}

func TestStartConcurrentSingleConstruction(t *testing.T) {
	inst := instance.New("concurrent", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, _ := testController(t, factory, repo)

	const n = 8
	sessions := make([]*Session, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = ctrl.Start(context.Background(), inst.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("start %d failed: %v", i, errs[i])
		}
		if sessions[i] != sessions[0] {
			t.Fatalf("start %d returned a different session handle", i)
		}
	}
	if got := factory.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 client construction, got %d", got)
	}
	if got := ctrl.Registry().Len(); got != 1 {
		t.Fatalf("expected 1 registry entry, got %d", got)
	}
}

func TestStartIdempotent(t *testing.T) {
	inst := instance.New("idempotent", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, _ := testController(t, factory, repo)

	first, err := ctrl.Start(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	second, err := ctrl.Start(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if first != second {
		t.Fatal("second start did not reuse the live handle")
	}
	if got := factory.callCount(); got != 1 {
		t.Fatalf("expected 1 client construction, got %d", got)
	}
}

func TestStartRejectsBlockedAndInactive(t *testing.T) {
	blocked := instance.New("blocked", uuid.New())
	blocked.Blocked = true
	inactive := instance.New("inactive", uuid.New())
	inactive.IsActive = false

	repo := newFakeInstanceRepo(blocked, inactive)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, _ := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), blocked.ID); !errors.Is(err, apperrors.ErrInstanceBlocked) {
		t.Fatalf("expected ErrInstanceBlocked, got %v", err)
	}
	if _, err := ctrl.Start(context.Background(), inactive.ID); !errors.Is(err, apperrors.ErrInstanceInactive) {
		t.Fatalf("expected ErrInstanceInactive, got %v", err)
	}
	if got := factory.callCount(); got != 0 {
		t.Fatalf("expected no client construction, got %d", got)
	}
}

func TestStartFactoryFailureReleasesGuard(t *testing.T) {
	inst := instance.New("failing", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory("")
	factory.createErr = errors.New("engine unavailable")
	ctrl, _ := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); !errors.Is(err, apperrors.ErrConnectionStart) {
		t.Fatalf("expected ErrConnectionStart, got %v", err)
	}
	if got := ctrl.Registry().Len(); got != 0 {
		t.Fatalf("expected empty registry after failed start, got %d entries", got)
	}

	// The in-flight marker must be released so a retry reaches the factory.
	if _, err := ctrl.Start(context.Background(), inst.ID); !errors.Is(err, apperrors.ErrConnectionStart) {
		t.Fatalf("expected ErrConnectionStart on retry, got %v", err)
	}
	if got := factory.callCount(); got != 2 {
		t.Fatalf("expected 2 construction attempts, got %d", got)
	}
}

func TestConnectedPersistsAndDispatches(t *testing.T) {
	inst := instance.New("connected", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stored, err := repo.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("instance vanished: %v", err)
	}
	if stored.State != instance.StateConnected || !stored.Connected {
		t.Fatalf("expected connected state persisted, got state=%s connected=%v", stored.State, stored.Connected)
	}
	if stored.DisconnectedBySystem {
		t.Fatal("disconnectedBySystem should be cleared on connect")
	}
	if got := dispatcher.count(webhook.EventInstanceConnected); got != 1 {
		t.Fatalf("expected 1 INSTANCE_CONNECTED event, got %d", got)
	}
	waitFor(t, "initial profile refresh", func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.profileUpdates >= 1
	})
}

func TestQRCodePersistsAndDispatches(t *testing.T) {
	inst := instance.New("qr", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	factory.fire(inst.ID.String()).OnQRCode(ports.QRCode{Image: "data:image/png;base64,x", Attempt: 1})

	waitFor(t, "QR event dispatch", func() bool {
		return dispatcher.count(webhook.EventQRCode) == 1
	})
	stored, _ := repo.GetByID(context.Background(), inst.ID)
	if stored.State != instance.StateQRCode {
		t.Fatalf("expected QR_CODE state persisted, got %s", stored.State)
	}
}

func TestConflictReclaimsSession(t *testing.T) {
	inst := instance.New("conflict", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, _ := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	before := repo.stateUpdateCount()

	factory.fire(inst.ID.String()).OnStateChange(instance.StateConflict)

	client := factory.client(inst.ID.String())
	waitFor(t, "UseHere call", func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.useHere == 1
	})
	if got := repo.stateUpdateCount(); got != before {
		t.Fatalf("conflict must not persist state, got %d extra updates", got-before)
	}
}

func TestUnpairedDispatchGatedOnFreshQR(t *testing.T) {
	t.Run("no fresh QR dispatches disconnect", func(t *testing.T) {
		inst := instance.New("unpaired", uuid.New())
		repo := newFakeInstanceRepo(inst)
		factory := newFakeFactory(instance.StateConnected)
		ctrl, dispatcher := testController(t, factory, repo)

		if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		factory.client(inst.ID.String()).setQR(nil, errors.New("no qr available"))
		factory.fire(inst.ID.String()).OnStateChange(instance.StateUnpaired)

		waitFor(t, "registry removal", func() bool { return ctrl.Registry().Len() == 0 })
		waitFor(t, "disconnect event", func() bool {
			return dispatcher.count(webhook.EventInstanceDisconnected) == 1
		})
		stored, _ := repo.GetByID(context.Background(), inst.ID)
		if stored.State != instance.StateUnpaired || stored.Connected {
			t.Fatalf("expected unpaired state persisted, got state=%s connected=%v", stored.State, stored.Connected)
		}
	})

	t.Run("fresh QR suppresses disconnect event", func(t *testing.T) {
		inst := instance.New("unpaired-qr", uuid.New())
		repo := newFakeInstanceRepo(inst)
		factory := newFakeFactory(instance.StateConnected)
		ctrl, dispatcher := testController(t, factory, repo)

		if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		factory.client(inst.ID.String()).setQR(&ports.QRCode{Image: "fresh"}, nil)
		factory.fire(inst.ID.String()).OnStateChange(instance.StateUnpaired)

		waitFor(t, "registry removal", func() bool { return ctrl.Registry().Len() == 0 })
		if got := dispatcher.count(webhook.EventInstanceDisconnected); got != 0 {
			t.Fatalf("expected no disconnect event when a fresh QR exists, got %d", got)
		}
	})
}

func TestUnpairedTearsDownSession(t *testing.T) {
	inst := instance.New("unpaired-stale", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	connectedEvents := dispatcher.count(webhook.EventInstanceConnected)

	client := factory.client(inst.ID.String())
	client.setQR(nil, errors.New("no qr available"))
	factory.fire(inst.ID.String()).OnStateChange(instance.StateUnpaired)

	waitFor(t, "registry removal", func() bool { return ctrl.Registry().Len() == 0 })
	waitFor(t, "client close", client.closedNow)
	before := repo.stateUpdateCount()

	// A late engine event on the dead handle must not touch anything.
	factory.fire(inst.ID.String()).OnStateChange(instance.StateConnected)

	time.Sleep(50 * time.Millisecond)
	if got := repo.stateUpdateCount(); got != before {
		t.Fatalf("stale event persisted state, got %d extra updates", got-before)
	}
	stored, _ := repo.GetByID(context.Background(), inst.ID)
	if stored.State != instance.StateUnpaired || stored.Connected {
		t.Fatalf("expected unpaired state to stick, got state=%s connected=%v", stored.State, stored.Connected)
	}
	if got := dispatcher.count(webhook.EventInstanceConnected); got != connectedEvents {
		t.Fatalf("stale event dispatched INSTANCE_CONNECTED, got %d events", got)
	}
}

func TestDisconnectWithoutHandle(t *testing.T) {
	inst := instance.New("nothing", uuid.New())
	repo := newFakeInstanceRepo(inst)
	ctrl, dispatcher := testController(t, newFakeFactory(""), repo)

	if err := ctrl.Disconnect(context.Background(), inst.ID); !errors.Is(err, apperrors.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if got := repo.stateUpdateCount(); got != 0 {
		t.Fatalf("expected no state writes, got %d", got)
	}
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(dispatcher.events))
	}
}

func TestDisconnectClosesAndCleansUp(t *testing.T) {
	inst := instance.New("teardown", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := ctrl.Disconnect(context.Background(), inst.ID); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	client := factory.client(inst.ID.String())
	if !client.closedNow() {
		t.Fatal("client not closed")
	}
	client.mu.Lock()
	loggedOut := client.loggedOut
	client.mu.Unlock()
	if loggedOut {
		t.Fatal("disconnect must not invalidate credentials")
	}
	stored, _ := repo.GetByID(context.Background(), inst.ID)
	if stored.State != instance.StateDisconnected || stored.Connected {
		t.Fatalf("expected disconnected state persisted, got state=%s connected=%v", stored.State, stored.Connected)
	}
	if got := dispatcher.count(webhook.EventInstanceDisconnected); got != 1 {
		t.Fatalf("expected 1 disconnect event, got %d", got)
	}
	if got := ctrl.Registry().Len(); got != 0 {
		t.Fatalf("expected empty registry, got %d", got)
	}
}

func TestDisconnectCleansUpWhenPersistFails(t *testing.T) {
	inst := instance.New("persist-fail", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	repo.setUpdateStateErr(errors.New("database gone"))

	if err := ctrl.Disconnect(context.Background(), inst.ID); err == nil {
		t.Fatal("expected the persistence failure to surface")
	}

	// The closed handle must not stay registered behind the failed write.
	if got := ctrl.Registry().Len(); got != 0 {
		t.Fatalf("expected empty registry, got %d entries", got)
	}
	if !factory.client(inst.ID.String()).closedNow() {
		t.Fatal("client not closed")
	}
	if got := dispatcher.count(webhook.EventInstanceDisconnected); got != 1 {
		t.Fatalf("expected 1 disconnect event, got %d", got)
	}

	repo.setUpdateStateErr(nil)
	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("restart after cleanup failed: %v", err)
	}
	if got := factory.callCount(); got != 2 {
		t.Fatalf("expected a fresh construction after cleanup, got %d", got)
	}
}

func TestLogoutInvalidatesCredentials(t *testing.T) {
	inst := instance.New("logout", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, _ := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := ctrl.Logout(context.Background(), inst.ID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	client := factory.client(inst.ID.String())
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.loggedOut || !client.closed {
		t.Fatalf("expected logout and close, got loggedOut=%v closed=%v", client.loggedOut, client.closed)
	}
}

func TestShutdownDisconnectsAllBySystem(t *testing.T) {
	userID := uuid.New()
	one := instance.New("one", userID)
	two := instance.New("two", userID)
	repo := newFakeInstanceRepo(one, two)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	for _, inst := range []*instance.Instance{one, two} {
		if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
			t.Fatalf("start %s failed: %v", inst.InstanceName, err)
		}
	}
	connectedEvents := dispatcher.count(webhook.EventInstanceConnected)

	ctrl.Shutdown(context.Background())

	if got := ctrl.Registry().Len(); got != 0 {
		t.Fatalf("expected empty registry after shutdown, got %d", got)
	}
	if got := dispatcher.count(webhook.EventInstanceDisconnected); got != 2 {
		t.Fatalf("expected 2 disconnect events, got %d", got)
	}
	if got := dispatcher.count(webhook.EventInstanceConnected); got != connectedEvents {
		t.Fatalf("shutdown must not emit connect events")
	}
	for _, inst := range []*instance.Instance{one, two} {
		stored, _ := repo.GetByID(context.Background(), inst.ID)
		if !stored.DisconnectedBySystem {
			t.Fatalf("instance %s not marked system-disconnected", inst.InstanceName)
		}
		if stored.Connected || stored.State != instance.StateDisconnected {
			t.Fatalf("instance %s left connected", inst.InstanceName)
		}
	}

	if _, err := ctrl.Start(context.Background(), one.ID); !errors.Is(err, apperrors.ErrConnectionStart) {
		t.Fatalf("expected starts rejected after shutdown, got %v", err)
	}
}

func TestMessageCountersAreExactUnderConcurrency(t *testing.T) {
	inst := instance.New("counters", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	callbacks := factory.fire(inst.ID.String())

	const n = 40
	for i := 0; i < n; i++ {
		callbacks.OnMessage(ports.Message{
			ID:     uuid.NewString(),
			ChatID: "5511888888888@s.whatsapp.net",
			FromMe: i%2 == 0,
		})
	}

	waitFor(t, "exact message counters", func() bool {
		return repo.sentCount(inst.ID) == n/2 && repo.receivedCount(inst.ID) == n/2
	})
	waitFor(t, "message events", func() bool {
		return dispatcher.count(webhook.EventMessageSent) == n/2 &&
			dispatcher.count(webhook.EventMessageReceived) == n/2
	})
}

func TestServiceChatsIgnored(t *testing.T) {
	inst := instance.New("service", uuid.New())
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	callbacks := factory.fire(inst.ID.String())

	callbacks.OnMessage(ports.Message{ID: "a", ChatID: "status@broadcast"})
	callbacks.OnMessage(ports.Message{ID: "b", ChatID: "123@newsletter"})
	callbacks.OnMessage(ports.Message{ID: "c", ChatID: "x@s.whatsapp.net", Sender: "y@broadcast"})

	time.Sleep(50 * time.Millisecond)
	if got := repo.receivedCount(inst.ID); got != 0 {
		t.Fatalf("service chat traffic must not count, got %d", got)
	}
	if got := dispatcher.count(webhook.EventMessageReceived); got != 0 {
		t.Fatalf("service chat traffic must not dispatch, got %d events", got)
	}
}

func TestAutomaticReadingMarksSeen(t *testing.T) {
	inst := instance.New("autoread", uuid.New())
	inst.AutomaticReading = true
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, _ := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	factory.fire(inst.ID.String()).OnMessage(ports.Message{
		ID:     "m1",
		ChatID: "5511777777777@s.whatsapp.net",
		FromMe: false,
	})

	client := factory.client(inst.ID.String())
	waitFor(t, "seen marker", func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.seen) == 1
	})
}

func TestIncomingCallRejection(t *testing.T) {
	msg := "We do not take calls here"
	inst := instance.New("calls", uuid.New())
	inst.RejectCalls = true
	inst.RejectCallsMessage = &msg
	repo := newFakeInstanceRepo(inst)
	factory := newFakeFactory(instance.StateConnected)
	ctrl, dispatcher := testController(t, factory, repo)

	if _, err := ctrl.Start(context.Background(), inst.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	factory.fire(inst.ID.String()).OnIncomingCall(ports.Call{
		ID:   "call-1",
		Peer: "5511666666666@s.whatsapp.net",
	})

	client := factory.client(inst.ID.String())
	waitFor(t, "call rejection", func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.rejected) == 1 && len(client.texts) == 1
	})
	waitFor(t, "call event", func() bool {
		return dispatcher.count(webhook.EventIncomingCall) == 1
	})
}

func TestResumeSystemDisconnectedSkipsBlocked(t *testing.T) {
	resumable := instance.New("resumable", uuid.New())
	resumable.DisconnectedBySystem = true
	barred := instance.New("barred", uuid.New())
	barred.DisconnectedBySystem = true
	barred.Blocked = true

	repo := newFakeInstanceRepo(resumable, barred)
	repo.systemDisc = []*instance.Instance{resumable, barred}
	factory := newFakeFactory(instance.StateConnected)
	ctrl, _ := testController(t, factory, repo)

	ctrl.ResumeSystemDisconnected(context.Background())

	if got := factory.callCount(); got != 1 {
		t.Fatalf("expected only the startable instance resumed, got %d constructions", got)
	}
	if got := ctrl.Registry().Len(); got != 1 {
		t.Fatalf("expected 1 registry entry, got %d", got)
	}
}
