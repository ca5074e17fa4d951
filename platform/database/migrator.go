package database

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"zapgate/platform/logger"
)

//go:embed migrations
var migrationsFS embed.FS

type migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies the embedded schema migrations in version order.
type Migrator struct {
	db     *Database
	logger *logger.Logger
}

func NewMigrator(db *Database, logger *logger.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

func (m *Migrator) RunMigrations() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending := 0
	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.execute(mig); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
		}
		pending++
	}

	if pending > 0 {
		m.logger.InfoWithFields("Database migrations completed", map[string]interface{}{
			"migrations_applied": pending,
			"total_migrations":   len(migrations),
		})
	} else {
		m.logger.Info("Database is up to date, no migrations needed")
	}

	return nil
}

func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS "zgMigrations" (
			"version" INTEGER PRIMARY KEY,
			"name" VARCHAR(255) NOT NULL,
			"appliedAt" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
	`

	_, err := m.db.Exec(query)
	return err
}

func (m *Migrator) loadMigrations() ([]*migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		// File names look like 000001_init.sql.
		parts := strings.SplitN(strings.TrimSuffix(name, ".sql"), "_", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid migration file name: %s", name)
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid migration version in %s: %w", name, err)
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		migrations = append(migrations, &migration{
			Version: version,
			Name:    parts[1],
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func (m *Migrator) appliedVersions() (map[int]bool, error) {
	var versions []int
	if err := m.db.Select(&versions, `SELECT version FROM "zgMigrations" ORDER BY version`); err != nil {
		return nil, err
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (m *Migrator) execute(mig *migration) error {
	m.logger.InfoWithFields("Applying migration", map[string]interface{}{
		"version": mig.Version,
		"name":    mig.Name,
	})

	tx, err := m.db.Beginx()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(mig.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.Exec(`INSERT INTO "zgMigrations" (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
