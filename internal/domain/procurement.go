package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RuleAction is the concrete supply action a rule translates a
// procurement request into.
type RuleAction string

const (
	ActionBuy         RuleAction = "buy"
	ActionManufacture RuleAction = "manufacture"
	ActionPull        RuleAction = "pull"
	ActionPush        RuleAction = "push"
	ActionPullPush    RuleAction = "pull_push"
)

// GroupPropagation decides whether a rule forwards the procurement
// group to the documents it creates.
type GroupPropagation string

const (
	PropagateGroup GroupPropagation = "propagate"
	FixedGroup     GroupPropagation = "fixed"
	NoGroup        GroupPropagation = "none"
)

// Rule is a node in the supply routing graph. Read-only to the engine.
type Rule struct {
	ID                int64            `json:"id" db:"id"`
	Action            RuleAction       `json:"action" db:"action"`
	SourceLocationID  *int64           `json:"source_location_id" db:"source_location_id"`
	DestLocationID    int64            `json:"dest_location_id" db:"dest_location_id"`
	RouteID           int64            `json:"route_id" db:"route_id"`
	RouteSequence     int              `json:"route_sequence" db:"route_sequence"`
	LeadDays          int              `json:"lead_days" db:"lead_days"`
	GroupPropagation  GroupPropagation `json:"group_propagation" db:"group_propagation"`
	WarehouseID       *int64           `json:"warehouse_id" db:"warehouse_id"`
	CompanyID         int64            `json:"company_id" db:"company_id"`
}

// ProcurementRequest is the ephemeral "obtain X of Y at Z by date D"
// value handed to the rule engine once per cycle.
type ProcurementRequest struct {
	Reference    string
	ProductID    int64
	Quantity     decimal.Decimal
	UomRounding  decimal.Decimal
	LocationID   int64
	Origin       string
	CompanyID    int64
	PlannedDate  time.Time
	Deadline     time.Time
	RouteID      *int64
	OrderpointID *int64
	GroupID      *int64
}

// NewProcurementRequest builds a request with a fresh reference.
func NewProcurementRequest(productID int64, qty decimal.Decimal, locationID, companyID int64) ProcurementRequest {
	return ProcurementRequest{
		Reference:  uuid.NewString(),
		ProductID:  productID,
		Quantity:   qty,
		LocationID: locationID,
		CompanyID:  companyID,
	}
}

// ProcurementFailure pairs a rejected request with the reason.
type ProcurementFailure struct {
	Request ProcurementRequest
	Message string
}

// SupplyOrder is a downstream document materialized by the default rule
// runner: a draft purchase, manufacturing or transfer order.
type SupplyOrder struct {
	ID          int64           `json:"id" db:"id"`
	Kind        RuleAction      `json:"kind" db:"kind"`
	Reference   string          `json:"reference" db:"reference"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	SourceID    *int64          `json:"source_location_id" db:"source_location_id"`
	DestID      int64           `json:"dest_location_id" db:"dest_location_id"`
	CompanyID   int64           `json:"company_id" db:"company_id"`
	GroupID     *int64          `json:"group_id" db:"group_id"`
	PlannedDate time.Time       `json:"planned_date" db:"planned_date"`
	Origin      string          `json:"origin" db:"origin"`
	// OrderpointID links the order back to the orderpoint that emitted it,
	// so open orders count toward that orderpoint's quantity in progress.
	OrderpointID *int64    `json:"orderpoint_id" db:"orderpoint_id"`
	State        string    `json:"state" db:"state"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Supply order lifecycle states. Only draft orders count as in-progress
// supply; done orders are already reflected in stock quants.
const (
	SupplyOrderDraft = "draft"
	SupplyOrderDone  = "done"
)

// Activity is a follow-up opened on a user when a procurement fails.
// Deduplicated on (res_model, res_id, note).
type Activity struct {
	ID       int64     `json:"id" db:"id"`
	ResModel string    `json:"res_model" db:"res_model"`
	ResID    int64     `json:"res_id" db:"res_id"`
	UserID   int64     `json:"user_id" db:"user_id"`
	Kind     string    `json:"kind" db:"kind"`
	Summary  string    `json:"summary" db:"summary"`
	Note     string    `json:"note" db:"note"`
	Done     bool      `json:"done" db:"done"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
