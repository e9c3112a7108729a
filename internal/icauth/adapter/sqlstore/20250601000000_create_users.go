package sqlstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(upCreateUsers, downCreateUsers)
}

func upCreateUsers(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*userRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}
	return nil
}

func downCreateUsers(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewDropTable().Model((*userRow)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("dropping users table: %w", err)
	}
	return nil
}
