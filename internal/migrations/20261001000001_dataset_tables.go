package migrations

import (
	"context"
	"fmt"

	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

// up_20261001000001 creates datasets with their image and model sub-tables
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating datasets table...")
	if _, err := db.NewCreateTable().
		Model((*models.Dataset)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create datasets table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating dataset_images table...")
	if _, err := db.NewCreateTable().
		Model((*models.Image)(nil)).
		IfNotExists().
		ForeignKey(`(dataset_id) REFERENCES datasets(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create dataset_images table: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] creating dataset_models table...")
	if _, err := db.NewCreateTable().
		Model((*models.Model)(nil)).
		IfNotExists().
		ForeignKey(`(dataset_id) REFERENCES datasets(id) ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create dataset_models table: %w", err)
	}
	fmt.Println(" OK")

	if IsPostgreSQL(db) {
		fmt.Print(" [up] creating bounding box GIN index...")
		if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_dataset_images_boxes_gin ON dataset_images USING gin (bounding_boxes jsonb_path_ops)`); err != nil {
			return fmt.Errorf("failed to create GIN index on bounding_boxes: %w", err)
		}
		fmt.Println(" OK")
	}

	return nil
}

// down_20261001000001 drops the dataset tables
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping dataset tables...")
	for _, model := range []any{
		(*models.Model)(nil),
		(*models.Image)(nil),
		(*models.Dataset)(nil),
	} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	fmt.Println(" OK")
	return nil
}
