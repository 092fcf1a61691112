package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/domain"
)

// OrderpointRepository persists reorder rules. Writes take a NOWAIT row
// lock so operator edits colliding with a running cycle surface as
// domain.ErrOrderpointBusy instead of blocking.
type OrderpointRepository interface {
	Get(ctx context.Context, id int64) (*domain.Orderpoint, error)
	ByIDs(ctx context.Context, ids []int64) ([]*domain.Orderpoint, error)

	// Companies lists the distinct companies owning active orderpoints.
	Companies(ctx context.Context) ([]int64, error)

	// SelectBatch pages through active auto-triggered orderpoints of a
	// company in (location, company, id) order. afterID is the last id
	// of the previous batch, zero for the first.
	SelectBatch(ctx context.Context, companyID int64, afterID int64, limit int) ([]*domain.Orderpoint, error)

	Create(ctx context.Context, op *domain.Orderpoint) error
	Update(ctx context.Context, op *domain.Orderpoint) error
	Delete(ctx context.Context, id int64) error

	// SetComputedQty writes the engine output without touching the
	// operator override.
	SetComputedQty(ctx context.Context, id int64, qty decimal.Decimal) error

	// SetSnooze records the snooze date of a manual orderpoint.
	SetSnooze(ctx context.Context, id int64, until time.Time) error

	// DeleteAutoGenerated removes auto-origin orderpoints whose
	// suggested quantity dropped to zero or below.
	DeleteAutoGenerated(ctx context.Context) (int64, error)
}

// ShortageLine is a (product, location) pair whose forecasted
// availability over the lead-time horizon is negative.
type ShortageLine struct {
	ProductID  int64           `db:"product_id"`
	LocationID int64           `db:"location_id"`
	CompanyID  int64           `db:"company_id"`
	Shortage   decimal.Decimal `db:"shortage"`
}

// StockQuerier is the read-only window over quants, in-transit moves
// and confirmed supply commitments.
type StockQuerier interface {
	// VirtualAvailable is the forecasted on-hand at toDate: on hand
	// plus incoming minus outgoing moves planned up to that date.
	VirtualAvailable(ctx context.Context, productID, locationID int64, toDate time.Time) (decimal.Decimal, error)

	// QtyAvailable is the current on-hand quantity.
	QtyAvailable(ctx context.Context, productID, locationID int64) (decimal.Decimal, error)

	// QuantityInProgress is the supply already requested by these
	// orderpoints but not yet visible to VirtualAvailable.
	QuantityInProgress(ctx context.Context, orderpointIDs []int64) (map[int64]decimal.Decimal, error)

	// NegativeForecasts lists the shortages feeding orderpoint
	// auto-discovery.
	NegativeForecasts(ctx context.Context, companyID int64, toDate time.Time) ([]ShortageLine, error)
}

// ProductReader exposes the catalog slice the engine needs.
type ProductReader interface {
	Get(ctx context.Context, id int64) (*domain.Product, error)
}

// LocationReader resolves the location tree.
type LocationReader interface {
	Get(ctx context.Context, id int64) (*domain.Location, error)

	// Ancestors returns the location id followed by its ancestors,
	// nearest first.
	Ancestors(ctx context.Context, id int64) ([]int64, error)
}

// RuleReader serves the routing graph and supplier lead times.
type RuleReader interface {
	// RulesForLocations returns every rule whose destination is one of
	// the given locations.
	RulesForLocations(ctx context.Context, locationIDs []int64) ([]*domain.Rule, error)

	// WarehouseRouteIDs returns the default route ids of a warehouse.
	WarehouseRouteIDs(ctx context.Context, warehouseID int64) ([]int64, error)

	// SupplierDelay returns the extra supplier lead days of a product,
	// zero when the product has no supplier entry.
	SupplierDelay(ctx context.Context, productID int64) (int, error)

	// MaxLeadDays returns the worst-case lead time of a company: its
	// longest rule lead plus the longest supplier delay. Bounds the
	// horizon over which shortages are scanned.
	MaxLeadDays(ctx context.Context, companyID int64) (int, error)
}

// SupplyOrderWriter receives the documents the default rule runner
// materializes.
type SupplyOrderWriter interface {
	Create(ctx context.Context, order *domain.SupplyOrder) error
}

// ActivityRepository stores follow-ups. EnsureWarning is idempotent on
// (res_model, res_id, note): it reports false when an identical open
// follow-up already exists.
type ActivityRepository interface {
	EnsureWarning(ctx context.Context, resModel string, resID, userID int64, summary, note string) (bool, error)
}
