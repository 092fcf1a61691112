package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

const pqLockNotAvailable = "55P03"

type orderpointRepository struct {
	db *DB
}

func NewOrderpointRepository(db *DB) repository.OrderpointRepository {
	return &orderpointRepository{db: db}
}

func (r *orderpointRepository) Get(ctx context.Context, id int64) (*domain.Orderpoint, error) {
	var op domain.Orderpoint
	err := r.db.GetContext(ctx, &op, `SELECT * FROM orderpoint WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get orderpoint %d: %w", id, err)
	}
	return &op, nil
}

func (r *orderpointRepository) ByIDs(ctx context.Context, ids []int64) ([]*domain.Orderpoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM orderpoint WHERE id IN (?) ORDER BY location_id, company_id, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build orderpoint query: %w", err)
	}
	query = r.db.Rebind(query)

	var ops []*domain.Orderpoint
	if err := r.db.SelectContext(ctx, &ops, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select orderpoints: %w", err)
	}
	return ops, nil
}

func (r *orderpointRepository) Companies(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT company_id FROM orderpoint WHERE active ORDER BY company_id`); err != nil {
		return nil, fmt.Errorf("failed to list orderpoint companies: %w", err)
	}
	return ids, nil
}

// SelectBatch reads without locking; per-orderpoint failures are
// isolated by the orchestrator, not by row locks.
func (r *orderpointRepository) SelectBatch(ctx context.Context, companyID int64, afterID int64, limit int) ([]*domain.Orderpoint, error) {
	query := `
		SELECT * FROM orderpoint
		WHERE active AND "trigger" = 'auto' AND company_id = $1 AND id > $2
		ORDER BY location_id, company_id, id
		LIMIT $3
	`

	var ops []*domain.Orderpoint
	if err := r.db.SelectContext(ctx, &ops, query, companyID, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to select orderpoint batch: %w", err)
	}
	return ops, nil
}

func (r *orderpointRepository) Create(ctx context.Context, op *domain.Orderpoint) error {
	if err := op.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO orderpoint (
			product_id, location_id, warehouse_id, company_id, "trigger", origin,
			active, snoozed_until, product_min_qty, product_max_qty, qty_multiple,
			visibility_days, days_to_order, route_id,
			qty_to_order_manual, qty_to_order_computed, group_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		op.ProductID, op.LocationID, op.WarehouseID, op.CompanyID, op.Trigger, op.Origin,
		op.Active, op.SnoozedUntil, op.ProductMinQty, op.ProductMaxQty, op.QtyMultiple,
		op.VisibilityDays, op.DaysToOrder, op.RouteID,
		op.QtyToOrderManual, op.QtyToOrderComputed, op.GroupID,
	).Scan(&op.ID, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.NewValidationError("an active orderpoint already exists for this product and location")
		}
		return fmt.Errorf("failed to create orderpoint: %w", err)
	}
	return nil
}

// Update takes the advisory NOWAIT lock first; contention with a
// running replenishment cycle surfaces as domain.ErrOrderpointBusy.
func (r *orderpointRepository) Update(ctx context.Context, op *domain.Orderpoint) error {
	if err := op.Validate(); err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockOrderpoint(ctx, tx, op.ID); err != nil {
			return err
		}
		query := `
			UPDATE orderpoint SET
				product_id = :product_id,
				location_id = :location_id,
				warehouse_id = :warehouse_id,
				"trigger" = :trigger,
				origin = :origin,
				active = :active,
				snoozed_until = :snoozed_until,
				product_min_qty = :product_min_qty,
				product_max_qty = :product_max_qty,
				qty_multiple = :qty_multiple,
				visibility_days = :visibility_days,
				days_to_order = :days_to_order,
				route_id = :route_id,
				qty_to_order_manual = :qty_to_order_manual,
				qty_to_order_computed = :qty_to_order_computed,
				group_id = :group_id,
				updated_at = NOW()
			WHERE id = :id
		`
		if _, err := tx.NamedExecContext(ctx, query, op); err != nil {
			return fmt.Errorf("failed to update orderpoint %d: %w", op.ID, err)
		}
		return nil
	})
}

func (r *orderpointRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockOrderpoint(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM orderpoint WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete orderpoint %d: %w", id, err)
		}
		return nil
	})
}

func (r *orderpointRepository) SetComputedQty(ctx context.Context, id int64, qty decimal.Decimal) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE orderpoint SET qty_to_order_computed = $2, updated_at = NOW() WHERE id = $1`,
		id, qty); err != nil {
		return fmt.Errorf("failed to write computed quantity for orderpoint %d: %w", id, err)
	}
	return nil
}

func (r *orderpointRepository) SetSnooze(ctx context.Context, id int64, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orderpoint SET snoozed_until = $2, updated_at = NOW()
		WHERE id = $1 AND "trigger" = 'manual'
	`, id, until)
	if err != nil {
		return fmt.Errorf("failed to snooze orderpoint %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.NewValidationError("only manually triggered orderpoints can be snoozed")
	}
	return nil
}

func (r *orderpointRepository) DeleteAutoGenerated(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM orderpoint
		WHERE origin = 'auto'
		  AND (CASE WHEN qty_to_order_manual <> 0 THEN qty_to_order_manual ELSE qty_to_order_computed END) <= 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to garbage collect orderpoints: %w", err)
	}
	return res.RowsAffected()
}

func lockOrderpoint(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var locked int64
	err := tx.GetContext(ctx, &locked,
		`SELECT id FROM orderpoint WHERE id = $1 FOR NO KEY UPDATE NOWAIT`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable {
			return domain.ErrOrderpointBusy
		}
		return fmt.Errorf("failed to lock orderpoint %d: %w", id, err)
	}
	return nil
}
