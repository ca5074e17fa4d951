package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"zapgate/internal/domain/webhook"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
)

type WebhookRepository struct {
	db *sqlx.DB
}

func NewWebhookRepository(db *sqlx.DB) ports.WebhookRepository {
	return &WebhookRepository{db: db}
}

// webhookModel maps the events text[] column, which needs pq.StringArray to
// scan.
type webhookModel struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	URL        string         `db:"url"`
	Events     pq.StringArray `db:"events"`
	Enabled    bool           `db:"enabled"`
	InstanceID string         `db:"instanceId"`
	CreatedAt  time.Time      `db:"createdAt"`
	UpdatedAt  time.Time      `db:"updatedAt"`
}

func (r *WebhookRepository) Create(ctx context.Context, wh *webhook.Webhook) error {
	query := `
		INSERT INTO "zgWebhooks" (id, name, url, events, enabled, "instanceId", "createdAt", "updatedAt")
		VALUES (:id, :name, :url, :events, :enabled, :instanceId, :createdAt, :updatedAt)
	`

	if _, err := r.db.NamedExecContext(ctx, query, toWebhookModel(wh)); err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	var model webhookModel
	query := `SELECT * FROM "zgWebhooks" WHERE id = $1`

	if err := r.db.GetContext(ctx, &model, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook by ID: %w", err)
	}
	return fromWebhookModel(&model)
}

func (r *WebhookRepository) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*webhook.Webhook, error) {
	var models []webhookModel
	query := `SELECT * FROM "zgWebhooks" WHERE "instanceId" = $1 ORDER BY "createdAt" DESC`

	if err := r.db.SelectContext(ctx, &models, query, instanceID.String()); err != nil {
		return nil, fmt.Errorf("failed to list webhooks by instance: %w", err)
	}

	webhooks := make([]*webhook.Webhook, len(models))
	for i := range models {
		wh, err := fromWebhookModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert webhook model: %w", err)
		}
		webhooks[i] = wh
	}
	return webhooks, nil
}

func (r *WebhookRepository) Update(ctx context.Context, wh *webhook.Webhook) error {
	query := `
		UPDATE "zgWebhooks" SET
			name = :name,
			url = :url,
			events = :events,
			enabled = :enabled,
			"updatedAt" = :updatedAt
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, toWebhookModel(wh))
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return requireRow(result, apperrors.ErrWebhookNotFound)
}

func (r *WebhookRepository) SetEnabledByInstance(ctx context.Context, instanceID uuid.UUID, enabled bool) error {
	query := `UPDATE "zgWebhooks" SET enabled = $2, "updatedAt" = NOW() WHERE "instanceId" = $1`

	if _, err := r.db.ExecContext(ctx, query, instanceID.String(), enabled); err != nil {
		return fmt.Errorf("failed to toggle webhooks: %w", err)
	}
	return nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM "zgWebhooks" WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return requireRow(result, apperrors.ErrWebhookNotFound)
}

func toWebhookModel(wh *webhook.Webhook) *webhookModel {
	return &webhookModel{
		ID:         wh.ID.String(),
		Name:       wh.Name,
		URL:        wh.URL,
		Events:     pq.StringArray(wh.Events),
		Enabled:    wh.Enabled,
		InstanceID: wh.InstanceID.String(),
		CreatedAt:  wh.CreatedAt,
		UpdatedAt:  wh.UpdatedAt,
	}
}

func fromWebhookModel(model *webhookModel) (*webhook.Webhook, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse webhook ID: %w", err)
	}
	instanceID, err := uuid.Parse(model.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse instance ID: %w", err)
	}

	return &webhook.Webhook{
		ID:         id,
		Name:       model.Name,
		URL:        model.URL,
		Events:     []string(model.Events),
		Enabled:    model.Enabled,
		InstanceID: instanceID,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}, nil
}
