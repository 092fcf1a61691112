package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderpointTrigger selects how an orderpoint enters a replenishment cycle.
type OrderpointTrigger string

const (
	TriggerAuto   OrderpointTrigger = "auto"
	TriggerManual OrderpointTrigger = "manual"
)

// OrderpointOrigin records who created the orderpoint. Auto-created ones
// are garbage-collected once their suggested quantity drops to zero.
type OrderpointOrigin string

const (
	OriginManual   OrderpointOrigin = "manual"
	OriginOperator OrderpointOrigin = "operator"
	OriginAuto     OrderpointOrigin = "auto"
)

// Orderpoint is a reorder rule for one (product, location, company).
type Orderpoint struct {
	ID            int64             `json:"id" db:"id"`
	ProductID     int64             `json:"product_id" db:"product_id"`
	LocationID    int64             `json:"location_id" db:"location_id"`
	WarehouseID   int64             `json:"warehouse_id" db:"warehouse_id"`
	CompanyID     int64             `json:"company_id" db:"company_id"`
	Trigger       OrderpointTrigger `json:"trigger" db:"trigger"`
	Origin        OrderpointOrigin  `json:"origin" db:"origin"`
	Active        bool              `json:"active" db:"active"`
	SnoozedUntil  *time.Time        `json:"snoozed_until" db:"snoozed_until"`
	ProductMinQty decimal.Decimal   `json:"product_min_qty" db:"product_min_qty"`
	ProductMaxQty decimal.Decimal   `json:"product_max_qty" db:"product_max_qty"`
	QtyMultiple   decimal.Decimal   `json:"qty_multiple" db:"qty_multiple"`
	VisibilityDays int              `json:"visibility_days" db:"visibility_days"`
	DaysToOrder    int              `json:"days_to_order" db:"days_to_order"`
	RouteID        *int64           `json:"route_id" db:"route_id"`
	QtyToOrderManual   decimal.Decimal `json:"qty_to_order_manual" db:"qty_to_order_manual"`
	QtyToOrderComputed decimal.Decimal `json:"qty_to_order_computed" db:"qty_to_order_computed"`
	GroupID        *int64            `json:"group_id" db:"group_id"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// QtyToOrder returns the operator override when set, the computed
// quantity otherwise.
func (o *Orderpoint) QtyToOrder() decimal.Decimal {
	if !o.QtyToOrderManual.IsZero() {
		return o.QtyToOrderManual
	}
	return o.QtyToOrderComputed
}

// Validate enforces the orderpoint write-time invariants. Invalid
// records never reach the forecast engine.
func (o *Orderpoint) Validate() error {
	if o.ProductID == 0 || o.LocationID == 0 || o.CompanyID == 0 {
		return NewValidationError("orderpoint requires a product, a location and a company")
	}
	if o.WarehouseID == 0 {
		return NewValidationError("orderpoint location does not belong to a warehouse")
	}
	if o.ProductMinQty.IsNegative() {
		return NewValidationError("minimum quantity cannot be negative")
	}
	if o.ProductMaxQty.LessThan(o.ProductMinQty) {
		return NewValidationError("maximum quantity cannot be lower than minimum quantity")
	}
	if o.QtyMultiple.IsNegative() {
		return NewValidationError("quantity multiple cannot be negative")
	}
	if o.VisibilityDays < 0 || o.DaysToOrder < 0 {
		return NewValidationError("visibility days and days to order cannot be negative")
	}
	switch o.Trigger {
	case TriggerAuto:
		if o.SnoozedUntil != nil {
			return NewValidationError("only manually triggered orderpoints can be snoozed")
		}
	case TriggerManual:
	default:
		return NewValidationError("unknown orderpoint trigger")
	}
	switch o.Origin {
	case OriginManual, OriginOperator, OriginAuto:
	default:
		return NewValidationError("unknown orderpoint origin")
	}
	return nil
}

// Snoozed reports whether the orderpoint is snoozed at the given date.
func (o *Orderpoint) Snoozed(now time.Time) bool {
	return o.SnoozedUntil != nil && now.Before(*o.SnoozedUntil)
}

// Product carries the slice of catalog data the engine reads. The
// catalog itself is an external collaborator.
type Product struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	UomRounding   decimal.Decimal `json:"uom_rounding" db:"uom_rounding"`
	ResponsibleID int64           `json:"responsible_id" db:"responsible_id"`
	RouteIDs      []int64         `json:"route_ids" db:"-"`
}

// Location is a node in the stock location tree.
type Location struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	ParentID    *int64 `json:"parent_id" db:"parent_id"`
	WarehouseID int64  `json:"warehouse_id" db:"warehouse_id"`
	Replenish   bool   `json:"replenish" db:"replenish"`
}
