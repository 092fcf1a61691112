package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/domain"
)

// Catalog bundles the product, location, rule and supplier fakes the
// forecast and rule engine tests share.
type Catalog struct {
	mu sync.Mutex

	products        map[int64]*domain.Product
	locations       map[int64]*domain.Location
	rules           []*domain.Rule
	warehouseRoutes map[int64][]int64
	supplierDelays  map[int64]int
}

func NewCatalog() *Catalog {
	return &Catalog{
		products:        make(map[int64]*domain.Product),
		locations:       make(map[int64]*domain.Location),
		warehouseRoutes: make(map[int64][]int64),
		supplierDelays:  make(map[int64]int),
	}
}

func (c *Catalog) AddProduct(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = &p
}

func (c *Catalog) AddLocation(l domain.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locations[l.ID] = &l
}

func (c *Catalog) AddRule(r domain.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &r)
}

func (c *Catalog) SetWarehouseRoutes(warehouseID int64, routeIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warehouseRoutes[warehouseID] = routeIDs
}

func (c *Catalog) SetSupplierDelay(productID int64, days int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supplierDelays[productID] = days
}

func (c *Catalog) Get(ctx context.Context, id int64) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// Locations returns a LocationReader view of the catalog.
func (c *Catalog) Locations() *catalogLocations { return &catalogLocations{c} }

// Rules returns a RuleReader view of the catalog.
func (c *Catalog) Rules() *catalogRules { return &catalogRules{c} }

type catalogLocations struct{ c *Catalog }

func (v *catalogLocations) Get(ctx context.Context, id int64) (*domain.Location, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	l, ok := v.c.locations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := *l
	return &copy, nil
}

func (v *catalogLocations) Ancestors(ctx context.Context, id int64) ([]int64, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	var chain []int64
	for cur := &id; cur != nil; {
		loc, ok := v.c.locations[*cur]
		if !ok {
			if len(chain) == 0 {
				return nil, domain.ErrNotFound
			}
			break
		}
		chain = append(chain, loc.ID)
		cur = loc.ParentID
	}
	return chain, nil
}

type catalogRules struct{ c *Catalog }

func (v *catalogRules) RulesForLocations(ctx context.Context, locationIDs []int64) ([]*domain.Rule, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	wanted := make(map[int64]bool, len(locationIDs))
	for _, id := range locationIDs {
		wanted[id] = true
	}
	var rules []*domain.Rule
	for _, r := range v.c.rules {
		if wanted[r.DestLocationID] {
			copy := *r
			rules = append(rules, &copy)
		}
	}
	return rules, nil
}

func (v *catalogRules) WarehouseRouteIDs(ctx context.Context, warehouseID int64) ([]int64, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return append([]int64(nil), v.c.warehouseRoutes[warehouseID]...), nil
}

func (v *catalogRules) SupplierDelay(ctx context.Context, productID int64) (int, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	return v.c.supplierDelays[productID], nil
}

func (v *catalogRules) MaxLeadDays(ctx context.Context, companyID int64) (int, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	var lead int
	for _, r := range v.c.rules {
		if r.CompanyID == companyID && r.LeadDays > lead {
			lead = r.LeadDays
		}
	}
	var delay int
	for _, d := range v.c.supplierDelays {
		if d > delay {
			delay = d
		}
	}
	return lead + delay, nil
}

// SupplyOrderWriter records the orders a run materialized.
type SupplyOrderWriter struct {
	mu     sync.Mutex
	Orders []*domain.SupplyOrder
}

func NewSupplyOrderWriter() *SupplyOrderWriter {
	return &SupplyOrderWriter{}
}

func (w *SupplyOrderWriter) Create(ctx context.Context, order *domain.SupplyOrder) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	order.ID = int64(len(w.Orders) + 1)
	if order.State == "" {
		order.State = domain.SupplyOrderDraft
	}
	w.Orders = append(w.Orders, order)
	return nil
}

// OpenQuantity sums draft orders linked to an orderpoint.
func (w *SupplyOrderWriter) OpenQuantity(orderpointID int64) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := decimal.Zero
	for _, o := range w.Orders {
		if o.State == domain.SupplyOrderDraft && o.OrderpointID != nil && *o.OrderpointID == orderpointID {
			total = total.Add(o.Quantity)
		}
	}
	return total
}

// ActivityRepository is the follow-up store fake with the same
// (res_model, res_id, note) dedup rule as the postgres one.
type ActivityRepository struct {
	mu         sync.Mutex
	Activities []domain.Activity
}

func NewActivityRepository() *ActivityRepository {
	return &ActivityRepository{}
}

func (r *ActivityRepository) EnsureWarning(ctx context.Context, resModel string, resID, userID int64, summary, note string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.Activities {
		if a.ResModel == resModel && a.ResID == resID && a.Note == note && !a.Done {
			return false, nil
		}
	}
	r.Activities = append(r.Activities, domain.Activity{
		ID:       int64(len(r.Activities) + 1),
		ResModel: resModel,
		ResID:    resID,
		UserID:   userID,
		Kind:     "warning",
		Summary:  summary,
		Note:     note,
	})
	return true, nil
}
