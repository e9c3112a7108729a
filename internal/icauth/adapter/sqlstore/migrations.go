package sqlstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations holds the schema of the user store.
var Migrations = migrate.NewMigrations()

// Migrate applies pending migrations under the migrator lock and returns
// the ID of the applied group, 0 when nothing was pending.
func Migrate(ctx context.Context, db *bun.DB, logger *slog.Logger) (int64, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	if err := migrator.Init(ctx); err != nil {
		return 0, fmt.Errorf("initializing migrations: %w", err)
	}
	if err := migrator.Lock(ctx); err != nil {
		return 0, fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			logger.Warn("releasing migration lock", "error", err)
		}
	}()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrating: %w", err)
	}
	if group.IsZero() {
		logger.Info("no new migrations to apply")
		return 0, nil
	}
	logger.Info("applied migrations", "group", group.ID, "migrations", group.Migrations.String())
	return group.ID, nil
}

// Rollback reverts the last applied migration group.
func Rollback(ctx context.Context, db *bun.DB, logger *slog.Logger) (int64, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	if err := migrator.Lock(ctx); err != nil {
		return 0, fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			logger.Warn("releasing migration lock", "error", err)
		}
	}()

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return 0, fmt.Errorf("rolling back: %w", err)
	}
	if group.IsZero() {
		logger.Info("no migrations to roll back")
		return 0, nil
	}
	logger.Info("rolled back migrations", "group", group.ID)
	return group.ID, nil
}

// MigrationStatus is one registered migration and the group that applied it.
type MigrationStatus struct {
	Name    string
	GroupID int64 // 0 while pending
}

// Status lists every registered migration in order.
func Status(ctx context.Context, db *bun.DB) ([]MigrationStatus, error) {
	migrator := migrate.NewMigrator(db, Migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing migrations: %w", err)
	}
	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading migration status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(ms))
	for _, m := range ms {
		out = append(out, MigrationStatus{Name: m.Name, GroupID: m.GroupID})
	}
	return out, nil
}
