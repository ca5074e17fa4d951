package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"zapgate/internal/domain/user"
	"zapgate/internal/ports"
	apperrors "zapgate/pkg/errors"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) ports.UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO "zgUsers" (
			id, name, email, document, password, "isTrial", "isAdmin",
			"trialStart", "trialEnd", "createdAt", "updatedAt"
		) VALUES (
			:id, :name, :email, :document, :password, :isTrial, :isAdmin,
			:trialStart, :trialEnd, :createdAt, :updatedAt
		)
	`

	if _, err := r.db.NamedExecContext(ctx, query, u); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	var u user.User
	query := `SELECT * FROM "zgUsers" WHERE id = $1`

	if err := r.db.GetContext(ctx, &u, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	var u user.User
	query := `SELECT * FROM "zgUsers" WHERE email = $1`

	if err := r.db.GetContext(ctx, &u, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &u, nil
}

func (r *UserRepository) ExistsByEmailOrDocument(ctx context.Context, email, document string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM "zgUsers" WHERE email = $1 OR document = $2`

	if err := r.db.GetContext(ctx, &count, query, email, document); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return count > 0, nil
}

func (r *UserRepository) ListExpiredTrials(ctx context.Context, now time.Time) ([]*user.User, error) {
	var users []*user.User
	query := `
		SELECT * FROM "zgUsers"
		WHERE "isTrial" = true AND "isAdmin" = false AND "trialEnd" <= $1
		ORDER BY "trialEnd"
	`

	if err := r.db.SelectContext(ctx, &users, query, now); err != nil {
		return nil, fmt.Errorf("failed to list expired trials: %w", err)
	}
	return users, nil
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	query := `
		UPDATE "zgUsers" SET
			name = :name,
			email = :email,
			document = :document,
			password = :password,
			"isTrial" = :isTrial,
			"isAdmin" = :isAdmin,
			"trialStart" = :trialStart,
			"trialEnd" = :trialEnd,
			"updatedAt" = NOW()
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, u)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(result, apperrors.ErrUserNotFound)
}
