package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

type ruleRepository struct {
	db *DB
}

func NewRuleRepository(db *DB) repository.RuleReader {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) RulesForLocations(ctx context.Context, locationIDs []int64) ([]*domain.Rule, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT * FROM route_rule
		WHERE dest_location_id IN (?)
		ORDER BY route_sequence, id
	`, locationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule query: %w", err)
	}
	query = r.db.Rebind(query)

	var rules []*domain.Rule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select rules: %w", err)
	}
	return rules, nil
}

func (r *ruleRepository) WarehouseRouteIDs(ctx context.Context, warehouseID int64) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT route_id FROM warehouse_route WHERE warehouse_id = $1`, warehouseID); err != nil {
		return nil, fmt.Errorf("failed to read warehouse routes: %w", err)
	}
	return ids, nil
}

func (r *ruleRepository) SupplierDelay(ctx context.Context, productID int64) (int, error) {
	var delay int
	err := r.db.GetContext(ctx, &delay, `
		SELECT delay_days FROM supplier_info
		WHERE product_id = $1
		ORDER BY delay_days ASC
		LIMIT 1
	`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read supplier delay: %w", err)
	}
	return delay, nil
}

func (r *ruleRepository) MaxLeadDays(ctx context.Context, companyID int64) (int, error) {
	var days int
	err := r.db.GetContext(ctx, &days, `
		SELECT COALESCE((SELECT MAX(lead_days) FROM route_rule WHERE company_id = $1), 0)
		     + COALESCE((SELECT MAX(delay_days) FROM supplier_info), 0)
	`, companyID)
	if err != nil {
		return 0, fmt.Errorf("failed to read max lead days: %w", err)
	}
	return days, nil
}

type productRepository struct {
	db *DB
}

func NewProductRepository(db *DB) repository.ProductReader {
	return &productRepository{db: db}
}

func (r *productRepository) Get(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.db.GetContext(ctx, &p, `SELECT * FROM product WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	if err := r.db.SelectContext(ctx, &p.RouteIDs,
		`SELECT route_id FROM product_route WHERE product_id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to get product routes: %w", err)
	}
	return &p, nil
}

type locationRepository struct {
	db *DB
}

func NewLocationRepository(db *DB) repository.LocationReader {
	return &locationRepository{db: db}
}

func (r *locationRepository) Get(ctx context.Context, id int64) (*domain.Location, error) {
	var loc domain.Location
	err := r.db.GetContext(ctx, &loc, `SELECT * FROM location WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location %d: %w", id, err)
	}
	return &loc, nil
}

func (r *locationRepository) Ancestors(ctx context.Context, id int64) ([]int64, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 0 AS depth FROM location WHERE id = $1
			UNION ALL
			SELECT l.id, l.parent_id, c.depth + 1
			FROM location l
			JOIN chain c ON l.id = c.parent_id
		)
		SELECT id FROM chain ORDER BY depth
	`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, id); err != nil {
		return nil, fmt.Errorf("failed to resolve location ancestors: %w", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}
	return ids, nil
}
