package migrations

import (
	"context"
	"fmt"

	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000000, down_20261001000000)
}

// up_20261001000000 creates users, sessions and user_entitlements
func up_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating users table...")
	if _, err := db.NewCreateTable().
		Model((*models.User)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating sessions table...")
	if _, err := db.NewCreateTable().
		Model((*models.Session)(nil)).
		IfNotExists().
		ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`); err != nil {
		return fmt.Errorf("failed to create sessions user index: %w", err)
	}
	fmt.Println(" OK")

	// dataset_id has no foreign key: datasets may live in another service's database.
	fmt.Print(" [up] creating user_entitlements table...")
	if _, err := db.NewCreateTable().
		Model((*models.Entitlement)(nil)).
		IfNotExists().
		ForeignKey(`(user_id) REFERENCES users(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create user_entitlements table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_user_entitlements_dataset ON user_entitlements(dataset_id)`); err != nil {
		return fmt.Errorf("failed to create user_entitlements dataset index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000000 drops the identity tables
func down_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping identity tables...")
	for _, model := range []any{
		(*models.Entitlement)(nil),
		(*models.Session)(nil),
		(*models.User)(nil),
	} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	fmt.Println(" OK")
	return nil
}
