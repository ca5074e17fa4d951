package handler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/user"
	"zapgate/internal/domain/webhook"
	apperrors "zapgate/pkg/errors"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*user.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.ErrUserNotFound
}

func (r *fakeUserRepo) ExistsByEmailOrDocument(ctx context.Context, email, document string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email || u.Document == document {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) ListExpiredTrials(ctx context.Context, now time.Time) ([]*user.User, error) {
	return nil, nil
}

func (r *fakeUserRepo) Update(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

type fakeInstanceRepo struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*instance.Instance
}

func newFakeInstanceRepo() *fakeInstanceRepo {
	return &fakeInstanceRepo{instances: make(map[uuid.UUID]*instance.Instance)}
}

func (r *fakeInstanceRepo) Create(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inst
	r.instances[inst.ID] = &cp
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
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range r.instances {
		if inst.UserID == userID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeInstanceRepo) ListByUsers(ctx context.Context, userIDs []uuid.UUID) ([]*instance.Instance, error) {
	var out []*instance.Instance
	for _, id := range userIDs {
		list, _ := r.ListByUser(ctx, id)
		out = append(out, list...)
	}
	return out, nil
}

func (r *fakeInstanceRepo) ListSystemDisconnected(ctx context.Context) ([]*instance.Instance, error) {
	return nil, nil
}

func (r *fakeInstanceRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	list, _ := r.ListByUser(ctx, userID)
	return len(list), nil
}

func (r *fakeInstanceRepo) Update(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.ID]; !ok {
		return apperrors.ErrInstanceNotFound
	}
	cp := *inst
	r.instances[inst.ID] = &cp
	return nil
}

func (r *fakeInstanceRepo) UpdateState(ctx context.Context, id uuid.UUID, upd instance.StateUpdate) error {
	return nil
}

func (r *fakeInstanceRepo) UpdateProfile(ctx context.Context, id uuid.UUID, upd instance.ProfileUpdate) error {
	return nil
}

func (r *fakeInstanceRepo) IncrementMessagesSent(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (r *fakeInstanceRepo) IncrementMessagesReceived(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (r *fakeInstanceRepo) BlockByUsers(ctx context.Context, userIDs []uuid.UUID) error {
	return nil
}

func (r *fakeInstanceRepo) MarkAllDisconnected(ctx context.Context, bySystem bool) error {
	return nil
}

func (r *fakeInstanceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return apperrors.ErrInstanceNotFound
	}
	delete(r.instances, id)
	return nil
}

type fakeWebhookRepo struct {
	mu       sync.Mutex
	webhooks map[uuid.UUID]*webhook.Webhook
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{webhooks: make(map[uuid.UUID]*webhook.Webhook)}
}

func (r *fakeWebhookRepo) Create(ctx context.Context, wh *webhook.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *wh
	r.webhooks[wh.ID] = &cp
	return nil
}

func (r *fakeWebhookRepo) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wh, ok := r.webhooks[id]
	if !ok {
		return nil, apperrors.ErrWebhookNotFound
	}
	cp := *wh
	return &cp, nil
}

func (r *fakeWebhookRepo) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*webhook.Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*webhook.Webhook
	for _, wh := range r.webhooks {
		if wh.InstanceID == instanceID {
			cp := *wh
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeWebhookRepo) Update(ctx context.Context, wh *webhook.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[wh.ID]; !ok {
		return apperrors.ErrWebhookNotFound
	}
	cp := *wh
	r.webhooks[wh.ID] = &cp
	return nil
}

func (r *fakeWebhookRepo) SetEnabledByInstance(ctx context.Context, instanceID uuid.UUID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wh := range r.webhooks {
		if wh.InstanceID == instanceID {
			wh.Enabled = enabled
		}
	}
	return nil
}

func (r *fakeWebhookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.webhooks[id]; !ok {
		return apperrors.ErrWebhookNotFound
	}
	delete(r.webhooks, id)
	return nil
}
