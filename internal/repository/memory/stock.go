package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

type stockKey struct {
	productID  int64
	locationID int64
}

// StockQuerier is a settable in-memory stock service for forecast and
// orchestrator tests.
type StockQuerier struct {
	mu         sync.Mutex
	onHand     map[stockKey]decimal.Decimal
	forecast   map[stockKey]decimal.Decimal
	inProgress map[int64]decimal.Decimal
	shortages  []shortageEntry
	orders     *SupplyOrderWriter
}

type shortageEntry struct {
	line repository.ShortageLine

	// visibleFrom is the earliest forecast date at which the shortage
	// shows up; zero means it is already negative today.
	visibleFrom time.Time
}

func NewStockQuerier() *StockQuerier {
	return &StockQuerier{
		onHand:     make(map[stockKey]decimal.Decimal),
		forecast:   make(map[stockKey]decimal.Decimal),
		inProgress: make(map[int64]decimal.Decimal),
	}
}

// SetOnHand sets the current stock; the forecast defaults to it unless
// SetForecast overrides.
func (s *StockQuerier) SetOnHand(productID, locationID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHand[stockKey{productID, locationID}] = qty
}

func (s *StockQuerier) SetForecast(productID, locationID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecast[stockKey{productID, locationID}] = qty
}

func (s *StockQuerier) SetInProgress(orderpointID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress[orderpointID] = qty
}

// TrackOrders makes QuantityInProgress count draft orders in w, the way
// the postgres querier counts open supply_order rows.
func (s *StockQuerier) TrackOrders(w *SupplyOrderWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = w
}

func (s *StockQuerier) SetShortages(lines []repository.ShortageLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortages = nil
	for _, line := range lines {
		s.shortages = append(s.shortages, shortageEntry{line: line})
	}
}

// AddShortageAt registers a shortage that only materializes once the
// forecast window reaches visibleFrom.
func (s *StockQuerier) AddShortageAt(line repository.ShortageLine, visibleFrom time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortages = append(s.shortages, shortageEntry{line: line, visibleFrom: visibleFrom})
}

func (s *StockQuerier) VirtualAvailable(ctx context.Context, productID, locationID int64, toDate time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qty, ok := s.forecast[stockKey{productID, locationID}]; ok {
		return qty, nil
	}
	return s.onHand[stockKey{productID, locationID}], nil
}

func (s *StockQuerier) QtyAvailable(ctx context.Context, productID, locationID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onHand[stockKey{productID, locationID}], nil
}

func (s *StockQuerier) QuantityInProgress(ctx context.Context, orderpointIDs []int64) (map[int64]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[int64]decimal.Decimal, len(orderpointIDs))
	for _, id := range orderpointIDs {
		qty, seeded := s.inProgress[id]
		if s.orders != nil {
			if open := s.orders.OpenQuantity(id); !open.IsZero() {
				qty = qty.Add(open)
				seeded = true
			}
		}
		if seeded {
			result[id] = qty
		}
	}
	return result, nil
}

func (s *StockQuerier) NegativeForecasts(ctx context.Context, companyID int64, toDate time.Time) ([]repository.ShortageLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lines []repository.ShortageLine
	for _, e := range s.shortages {
		if e.visibleFrom.After(toDate) {
			continue
		}
		lines = append(lines, e.line)
	}
	return lines, nil
}

// OrderpointRepository is the in-memory orderpoint store.
type OrderpointRepository struct {
	mu     sync.Mutex
	ops    map[int64]*domain.Orderpoint
	nextID int64

	// Busy simulates a row held by a concurrent worker: writes to these
	// ids fail with domain.ErrOrderpointBusy.
	Busy map[int64]bool
}

func NewOrderpointRepository() *OrderpointRepository {
	return &OrderpointRepository{
		ops:  make(map[int64]*domain.Orderpoint),
		Busy: make(map[int64]bool),
	}
}

func (r *OrderpointRepository) Get(ctx context.Context, id int64) (*domain.Orderpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := *op
	return &copy, nil
}

func (r *OrderpointRepository) ByIDs(ctx context.Context, ids []int64) ([]*domain.Orderpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ops []*domain.Orderpoint
	for _, id := range ids {
		if op, ok := r.ops[id]; ok {
			copy := *op
			ops = append(ops, &copy)
		}
	}
	sortOrderpoints(ops)
	return ops, nil
}

func (r *OrderpointRepository) Companies(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, op := range r.ops {
		if op.Active && !seen[op.CompanyID] {
			seen[op.CompanyID] = true
			ids = append(ids, op.CompanyID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *OrderpointRepository) SelectBatch(ctx context.Context, companyID int64, afterID int64, limit int) ([]*domain.Orderpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ops []*domain.Orderpoint
	for _, op := range r.ops {
		if op.Active && op.Trigger == domain.TriggerAuto && op.CompanyID == companyID && op.ID > afterID {
			copy := *op
			ops = append(ops, &copy)
		}
	}
	sortOrderpoints(ops)
	if len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

func (r *OrderpointRepository) Create(ctx context.Context, op *domain.Orderpoint) error {
	if err := op.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.ops {
		if existing.Active && op.Active &&
			existing.ProductID == op.ProductID &&
			existing.LocationID == op.LocationID &&
			existing.CompanyID == op.CompanyID {
			return domain.NewValidationError("an active orderpoint already exists for this product and location")
		}
	}
	r.nextID++
	op.ID = r.nextID
	copy := *op
	r.ops[op.ID] = &copy
	return nil
}

func (r *OrderpointRepository) Update(ctx context.Context, op *domain.Orderpoint) error {
	if err := op.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Busy[op.ID] {
		return domain.ErrOrderpointBusy
	}
	if _, ok := r.ops[op.ID]; !ok {
		return domain.ErrNotFound
	}
	copy := *op
	r.ops[op.ID] = &copy
	return nil
}

func (r *OrderpointRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Busy[id] {
		return domain.ErrOrderpointBusy
	}
	delete(r.ops, id)
	return nil
}

func (r *OrderpointRepository) SetComputedQty(ctx context.Context, id int64, qty decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return domain.ErrNotFound
	}
	op.QtyToOrderComputed = qty
	return nil
}

func (r *OrderpointRepository) SetSnooze(ctx context.Context, id int64, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return domain.ErrNotFound
	}
	if op.Trigger != domain.TriggerManual {
		return domain.NewValidationError("only manually triggered orderpoints can be snoozed")
	}
	op.SnoozedUntil = &until
	return nil
}

func (r *OrderpointRepository) DeleteAutoGenerated(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, op := range r.ops {
		if op.Origin == domain.OriginAuto && !op.QtyToOrder().IsPositive() {
			delete(r.ops, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortOrderpoints(ops []*domain.Orderpoint) {
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.CompanyID != b.CompanyID {
			return a.CompanyID < b.CompanyID
		}
		return a.ID < b.ID
	})
}
