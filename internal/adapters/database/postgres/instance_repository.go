package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"zapgate/internal/domain/instance"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
)

type InstanceRepository struct {
	db *sqlx.DB
}

func NewInstanceRepository(db *sqlx.DB) ports.InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) Create(ctx context.Context, inst *instance.Instance) error {
	query := `
		INSERT INTO "zgInstances" (
			id, "instanceName", token, "isActive", blocked, state, connected,
			"disconnectedBySystem", "messagesSent", "messagesReceived",
			platform, "connectedPhone", name, "profileStatus", picture,
			chats, contacts, "automaticReading", "syncContacts",
			"rejectCalls", "rejectCallsMessage", "userId", "createdAt", "updatedAt"
		) VALUES (
			:id, :instanceName, :token, :isActive, :blocked, :state, :connected,
			:disconnectedBySystem, :messagesSent, :messagesReceived,
			:platform, :connectedPhone, :name, :profileStatus, :picture,
			:chats, :contacts, :automaticReading, :syncContacts,
			:rejectCalls, :rejectCallsMessage, :userId, :createdAt, :updatedAt
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id uuid.UUID) (*instance.Instance, error) {
	var inst instance.Instance
	query := `SELECT * FROM "zgInstances" WHERE id = $1`

	if err := r.db.GetContext(ctx, &inst, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get instance by ID: %w", err)
	}
	return &inst, nil
}

func (r *InstanceRepository) GetByToken(ctx context.Context, token string) (*instance.Instance, error) {
	var inst instance.Instance
	query := `SELECT * FROM "zgInstances" WHERE token = $1`

	if err := r.db.GetContext(ctx, &inst, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get instance by token: %w", err)
	}
	return &inst, nil
}

func (r *InstanceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*instance.Instance, error) {
	var insts []*instance.Instance
	query := `SELECT * FROM "zgInstances" WHERE "userId" = $1 ORDER BY "createdAt" DESC`

	if err := r.db.SelectContext(ctx, &insts, query, userID.String()); err != nil {
		return nil, fmt.Errorf("failed to list instances by user: %w", err)
	}
	return insts, nil
}

func (r *InstanceRepository) ListByUsers(ctx context.Context, userIDs []uuid.UUID) ([]*instance.Instance, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	var insts []*instance.Instance
	query := `SELECT * FROM "zgInstances" WHERE "userId" = ANY($1) ORDER BY "createdAt" DESC`

	if err := r.db.SelectContext(ctx, &insts, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to list instances by users: %w", err)
	}
	return insts, nil
}

func (r *InstanceRepository) ListSystemDisconnected(ctx context.Context) ([]*instance.Instance, error) {
	var insts []*instance.Instance
	query := `
		SELECT * FROM "zgInstances"
		WHERE "disconnectedBySystem" = true AND "isActive" = true AND blocked = false
		ORDER BY "createdAt"
	`

	if err := r.db.SelectContext(ctx, &insts, query); err != nil {
		return nil, fmt.Errorf("failed to list system-disconnected instances: %w", err)
	}
	return insts, nil
}

func (r *InstanceRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM "zgInstances" WHERE "userId" = $1`

	if err := r.db.GetContext(ctx, &count, query, userID.String()); err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

func (r *InstanceRepository) Update(ctx context.Context, inst *instance.Instance) error {
	query := `
		UPDATE "zgInstances" SET
			"instanceName" = :instanceName,
			"isActive" = :isActive,
			blocked = :blocked,
			"automaticReading" = :automaticReading,
			"syncContacts" = :syncContacts,
			"rejectCalls" = :rejectCalls,
			"rejectCallsMessage" = :rejectCallsMessage,
			"updatedAt" = NOW()
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, inst)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return requireRow(result, apperrors.ErrInstanceNotFound)
}

func (r *InstanceRepository) UpdateState(ctx context.Context, id uuid.UUID, upd instance.StateUpdate) error {
	query := `
		UPDATE "zgInstances" SET
			state = COALESCE($2, state),
			connected = COALESCE($3, connected),
			"disconnectedBySystem" = COALESCE($4, "disconnectedBySystem"),
			"updatedAt" = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id.String(), upd.State, upd.Connected, upd.DisconnectedBySystem)
	if err != nil {
		return fmt.Errorf("failed to update instance state: %w", err)
	}
	return requireRow(result, apperrors.ErrInstanceNotFound)
}

func (r *InstanceRepository) UpdateProfile(ctx context.Context, id uuid.UUID, upd instance.ProfileUpdate) error {
	query := `
		UPDATE "zgInstances" SET
			platform = COALESCE($2, platform),
			"connectedPhone" = COALESCE($3, "connectedPhone"),
			name = COALESCE($4, name),
			"profileStatus" = COALESCE($5, "profileStatus"),
			picture = COALESCE($6, picture),
			chats = COALESCE($7, chats),
			contacts = COALESCE($8, contacts),
			"updatedAt" = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id.String(),
		upd.Platform, upd.ConnectedPhone, upd.Name, upd.ProfileStatus,
		upd.Picture, upd.Chats, upd.Contacts)
	if err != nil {
		return fmt.Errorf("failed to update instance profile: %w", err)
	}
	return requireRow(result, apperrors.ErrInstanceNotFound)
}

// IncrementMessagesSent is a single-statement increment so concurrent
// message handlers never lose counts to read-modify-write races.
func (r *InstanceRepository) IncrementMessagesSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE "zgInstances" SET "messagesSent" = "messagesSent" + 1, "updatedAt" = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to increment sent counter: %w", err)
	}
	return requireRow(result, apperrors.ErrInstanceNotFound)
}

func (r *InstanceRepository) IncrementMessagesReceived(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE "zgInstances" SET "messagesReceived" = "messagesReceived" + 1, "updatedAt" = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to increment received counter: %w", err)
	}
	return requireRow(result, apperrors.ErrInstanceNotFound)
}

func (r *InstanceRepository) BlockByUsers(ctx context.Context, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	query := `
		UPDATE "zgInstances" SET
			state = $2,
			connected = false,
			blocked = true,
			"isActive" = false,
			"updatedAt" = NOW()
		WHERE "userId" = ANY($1)
	`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), instance.StateDisconnected); err != nil {
		return fmt.Errorf("failed to block instances by users: %w", err)
	}
	return nil
}

func (r *InstanceRepository) MarkAllDisconnected(ctx context.Context, bySystem bool) error {
	query := `
		UPDATE "zgInstances" SET
			state = $1,
			connected = false,
			"disconnectedBySystem" = $2,
			"updatedAt" = NOW()
		WHERE connected = true
	`

	if _, err := r.db.ExecContext(ctx, query, instance.StateDisconnected, bySystem); err != nil {
		return fmt.Errorf("failed to mark instances disconnected: %w", err)
	}
	return nil
}

func (r *InstanceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM "zgInstances" WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return requireRow(result, apperrors.ErrInstanceNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
