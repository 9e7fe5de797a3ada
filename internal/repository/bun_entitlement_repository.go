package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/boxhub/boxhub/internal/db/models"
	"github.com/uptrace/bun"
)

// BunEntitlementRepository implements EntitlementRepository using Bun ORM
type BunEntitlementRepository struct {
	db bun.IDB
}

// NewBunEntitlementRepository creates a new Bun-based entitlement repository
func NewBunEntitlementRepository(db bun.IDB) *BunEntitlementRepository {
	return &BunEntitlementRepository{db: db}
}

// Grant adds datasetID to the user's entitlements. Existing grants are kept.
func (r *BunEntitlementRepository) Grant(ctx context.Context, userID, datasetID string) error {
	_, err := r.db.NewInsert().
		Model(&models.Entitlement{
			UserID:    userID,
			DatasetID: datasetID,
			GrantedAt: time.Now().UTC(),
		}).
		On("CONFLICT (user_id, dataset_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("grant entitlement: %w", err)
	}
	return nil
}

// Claim grants datasetID to userID only if no other user holds it yet. It
// reports whether userID holds the dataset afterwards, so claiming twice
// succeeds.
func (r *BunEntitlementRepository) Claim(ctx context.Context, userID, datasetID string) (bool, error) {
	var claimed bool
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		holders := make([]string, 0)
		err := tx.NewSelect().
			Model((*models.Entitlement)(nil)).
			Column("user_id").
			Where("dataset_id = ?", datasetID).
			Scan(ctx, &holders)
		if err != nil {
			return fmt.Errorf("list dataset holders: %w", err)
		}

		if len(holders) > 0 {
			claimed = slices.Contains(holders, userID)
			return nil
		}
		claimed = true
		return (&BunEntitlementRepository{db: tx}).Grant(ctx, userID, datasetID)
	})
	if err != nil {
		return false, fmt.Errorf("claim entitlement: %w", err)
	}
	return claimed, nil
}

// RevokeDataset removes datasetID from every user's entitlements
func (r *BunEntitlementRepository) RevokeDataset(ctx context.Context, datasetID string) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*models.Entitlement)(nil)).
		Where("dataset_id = ?", datasetID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("revoke dataset entitlements: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// ListDatasetIDs returns the user's entitled dataset ids in grant order
func (r *BunEntitlementRepository) ListDatasetIDs(ctx context.Context, userID string) ([]string, error) {
	ids := make([]string, 0)
	err := r.db.NewSelect().
		Model((*models.Entitlement)(nil)).
		Column("dataset_id").
		Where("user_id = ?", userID).
		Order("granted_at ASC", "dataset_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	return ids, nil
}
