package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"zapgate/platform/config"
	"zapgate/platform/logger"
)

// Database wraps sqlx.DB with pool configuration and query logging.
type Database struct {
	*sqlx.DB
	config config.DatabaseConfig
	logger *logger.Logger
}

func New(cfg config.DatabaseConfig, log *logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		DB:     db,
		config: cfg,
		logger: log,
	}, nil
}

func NewFromAppConfig(appConfig *config.Config, log *logger.Logger) (*Database, error) {
	return New(appConfig.Database, log)
}

func (d *Database) Close() error {
	d.logger.Info("Closing database connection")
	return d.DB.Close()
}

func (d *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return d.PingContext(ctx)
}

// Transaction runs fn inside a transaction, rolling back on error or panic.
func (d *Database) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				d.logger.ErrorWithFields("Failed to rollback transaction", map[string]interface{}{
					"error":          rollbackErr.Error(),
					"original_error": err.Error(),
				})
			}
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}
