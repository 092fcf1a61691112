package postgres

import (
	"context"
	"fmt"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

type activityRepository struct {
	db *DB
}

func NewActivityRepository(db *DB) repository.ActivityRepository {
	return &activityRepository{db: db}
}

// EnsureWarning opens a warning follow-up unless an identical open one
// exists. Returns true when a new activity was created.
func (r *activityRepository) EnsureWarning(ctx context.Context, resModel string, resID, userID int64, summary, note string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM activity
			WHERE res_model = $1 AND res_id = $2 AND note = $3 AND NOT done
		)
	`, resModel, resID, note)
	if err != nil {
		return false, fmt.Errorf("failed to check existing activity: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO activity (res_model, res_id, user_id, kind, summary, note)
		VALUES ($1, $2, $3, 'warning', $4, $5)
	`, resModel, resID, userID, summary, note); err != nil {
		return false, fmt.Errorf("failed to create activity: %w", err)
	}
	return true, nil
}

type supplyOrderRepository struct {
	db *DB
}

func NewSupplyOrderRepository(db *DB) repository.SupplyOrderWriter {
	return &supplyOrderRepository{db: db}
}

func (r *supplyOrderRepository) Create(ctx context.Context, order *domain.SupplyOrder) error {
	query := `
		INSERT INTO supply_order (
			kind, reference, product_id, quantity, source_location_id,
			dest_location_id, company_id, group_id, planned_date, origin,
			orderpoint_id, state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	state := order.State
	if state == "" {
		state = domain.SupplyOrderDraft
	}
	if err := r.db.QueryRowContext(ctx, query,
		order.Kind, order.Reference, order.ProductID, order.Quantity, order.SourceID,
		order.DestID, order.CompanyID, order.GroupID, order.PlannedDate, order.Origin,
		order.OrderpointID, state,
	).Scan(&order.ID, &order.CreatedAt); err != nil {
		return fmt.Errorf("failed to create supply order: %w", err)
	}
	order.State = state
	return nil
}
