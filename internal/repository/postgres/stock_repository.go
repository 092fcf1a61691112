package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/repository"
)

type stockRepository struct {
	db *DB
}

func NewStockRepository(db *DB) repository.StockQuerier {
	return &stockRepository{db: db}
}

// VirtualAvailable folds on-hand quants with the confirmed moves
// planned up to toDate: incoming adds, outgoing subtracts.
func (r *stockRepository) VirtualAvailable(ctx context.Context, productID, locationID int64, toDate time.Time) (decimal.Decimal, error) {
	query := `
		SELECT
			COALESCE((SELECT SUM(quantity) FROM stock_quant
				WHERE product_id = $1 AND location_id = $2), 0)
			+ COALESCE((SELECT SUM(quantity) FROM stock_move
				WHERE product_id = $1 AND dest_location_id = $2
				  AND state IN ('confirmed', 'assigned') AND date_planned <= $3), 0)
			- COALESCE((SELECT SUM(quantity) FROM stock_move
				WHERE product_id = $1 AND source_location_id = $2
				  AND state IN ('confirmed', 'assigned') AND date_planned <= $3), 0)
	`

	var qty decimal.Decimal
	if err := r.db.GetContext(ctx, &qty, query, productID, locationID, toDate); err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute virtual availability: %w", err)
	}
	return qty, nil
}

func (r *stockRepository) QtyAvailable(ctx context.Context, productID, locationID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	query := `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_quant
		WHERE product_id = $1 AND location_id = $2
	`
	if err := r.db.GetContext(ctx, &qty, query, productID, locationID); err != nil {
		return decimal.Zero, fmt.Errorf("failed to read on-hand quantity: %w", err)
	}
	return qty, nil
}

// QuantityInProgress sums the supply still open for each orderpoint:
// draft supply orders linked to it plus draft moves tagged with it.
// Moves in 'confirmed' and later states are already part of the
// incoming forecast, so counting them here would double them.
func (r *stockRepository) QuantityInProgress(ctx context.Context, orderpointIDs []int64) (map[int64]decimal.Decimal, error) {
	result := make(map[int64]decimal.Decimal, len(orderpointIDs))
	if len(orderpointIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
		SELECT orderpoint_id, SUM(qty) AS qty FROM (
			SELECT o.orderpoint_id, COALESCE(SUM(o.quantity), 0) AS qty
			FROM supply_order o
			WHERE o.orderpoint_id IN (?) AND o.state = 'draft'
			GROUP BY o.orderpoint_id
			UNION ALL
			SELECT m.orderpoint_id, COALESCE(SUM(m.quantity), 0) AS qty
			FROM stock_move m
			WHERE m.orderpoint_id IN (?) AND m.state = 'draft'
			GROUP BY m.orderpoint_id
		) open_supply
		GROUP BY orderpoint_id
	`, orderpointIDs, orderpointIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build in-progress query: %w", err)
	}
	query = r.db.Rebind(query)

	rows := []struct {
		OrderpointID int64           `db:"orderpoint_id"`
		Qty          decimal.Decimal `db:"qty"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read in-progress quantities: %w", err)
	}

	for _, row := range rows {
		result[row.OrderpointID] = row.Qty
	}
	return result, nil
}

// NegativeForecasts surfaces (product, replenishable location) pairs
// whose forecast at toDate is below zero. Feeds auto-discovery.
func (r *stockRepository) NegativeForecasts(ctx context.Context, companyID int64, toDate time.Time) ([]repository.ShortageLine, error) {
	query := `
		WITH pairs AS (
			SELECT q.product_id, q.location_id FROM stock_quant q
			UNION
			SELECT m.product_id, m.dest_location_id FROM stock_move m WHERE m.dest_location_id IS NOT NULL
			UNION
			SELECT m.product_id, m.source_location_id FROM stock_move m WHERE m.source_location_id IS NOT NULL
		)
		SELECT p.product_id, p.location_id, $1::BIGINT AS company_id,
			COALESCE((SELECT SUM(quantity) FROM stock_quant
				WHERE product_id = p.product_id AND location_id = p.location_id), 0)
			+ COALESCE((SELECT SUM(quantity) FROM stock_move
				WHERE product_id = p.product_id AND dest_location_id = p.location_id
				  AND state IN ('confirmed', 'assigned') AND date_planned <= $2), 0)
			- COALESCE((SELECT SUM(quantity) FROM stock_move
				WHERE product_id = p.product_id AND source_location_id = p.location_id
				  AND state IN ('confirmed', 'assigned') AND date_planned <= $2), 0)
			AS shortage
		FROM pairs p
		JOIN location l ON l.id = p.location_id
		WHERE l.replenish
	`

	var lines []repository.ShortageLine
	if err := r.db.SelectContext(ctx, &lines, query, companyID, toDate); err != nil {
		return nil, fmt.Errorf("failed to scan for shortages: %w", err)
	}

	negative := lines[:0]
	for _, line := range lines {
		if line.Shortage.IsNegative() {
			negative = append(negative, line)
		}
	}
	return negative, nil
}
