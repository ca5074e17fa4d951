package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/user"
	"zapgate/internal/domain/webhook"
)

type InstanceRepository interface {
	Create(ctx context.Context, inst *instance.Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error)
	GetByToken(ctx context.Context, token string) (*instance.Instance, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*instance.Instance, error)
	ListByUsers(ctx context.Context, userIDs []uuid.UUID) ([]*instance.Instance, error)
	// ListSystemDisconnected returns instances whose last disconnect was
	// system-caused, used by the boot-time resume pass.
	ListSystemDisconnected(ctx context.Context) ([]*instance.Instance, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
	Update(ctx context.Context, inst *instance.Instance) error
	UpdateState(ctx context.Context, id uuid.UUID, upd instance.StateUpdate) error
	UpdateProfile(ctx context.Context, id uuid.UUID, upd instance.ProfileUpdate) error
	// IncrementMessagesSent and IncrementMessagesReceived are atomic at the
	// store, never read-modify-write, so concurrent message bursts cannot
	// lose updates.
	IncrementMessagesSent(ctx context.Context, id uuid.UUID) error
	IncrementMessagesReceived(ctx context.Context, id uuid.UUID) error
	// BlockByUsers applies the trial-expiry batch update to every instance
	// owned by the given users.
	BlockByUsers(ctx context.Context, userIDs []uuid.UUID) error
	// MarkAllDisconnected resets connection state across the board at
	// process shutdown.
	MarkAllDisconnected(ctx context.Context, bySystem bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type WebhookRepository interface {
	Create(ctx context.Context, wh *webhook.Webhook) error
	GetByID(ctx context.Context, id uuid.UUID) (*webhook.Webhook, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*webhook.Webhook, error)
	Update(ctx context.Context, wh *webhook.Webhook) error
	SetEnabledByInstance(ctx context.Context, instanceID uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	ExistsByEmailOrDocument(ctx context.Context, email, document string) (bool, error)
	// ListExpiredTrials returns non-admin trial users whose trialEnd has
	// passed.
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*user.User, error)
	Update(ctx context.Context, u *user.User) error
}
