package rules

import (
	"context"
	"fmt"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

// Selector resolves the rule applicable to a destination location.
// Ancestors of the location are searched when no rule matches it
// directly; the nearest location wins. Among rules on the same
// location, precedence is the explicit route argument, then the
// product's routes, then the warehouse defaults, then anything else,
// with ties broken by route sequence and rule id.
type Selector struct {
	rules     repository.RuleReader
	locations repository.LocationReader
}

func NewSelector(rules repository.RuleReader, locations repository.LocationReader) *Selector {
	return &Selector{rules: rules, locations: locations}
}

// SelectArgs carries the resolution context of one request.
type SelectArgs struct {
	LocationID  int64
	RouteID     *int64
	ProductRouteIDs []int64
	WarehouseID int64
}

func (s *Selector) Select(ctx context.Context, args SelectArgs) (*domain.Rule, error) {
	chain, err := s.locations.Ancestors(ctx, args.LocationID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.rules.RulesForLocations(ctx, chain)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no rule found for location %d", args.LocationID)
	}

	// An explicit route restricts resolution to that route only.
	if args.RouteID != nil {
		var onRoute []*domain.Rule
		for _, r := range candidates {
			if r.RouteID == *args.RouteID {
				onRoute = append(onRoute, r)
			}
		}
		if len(onRoute) == 0 {
			return nil, fmt.Errorf("no rule found for location %d on route %d", args.LocationID, *args.RouteID)
		}
		candidates = onRoute
	}

	depth := make(map[int64]int, len(chain))
	for i, id := range chain {
		depth[id] = i
	}

	productRoutes := make(map[int64]bool, len(args.ProductRouteIDs))
	for _, id := range args.ProductRouteIDs {
		productRoutes[id] = true
	}

	var warehouseRoutes map[int64]bool
	if args.WarehouseID != 0 {
		ids, err := s.rules.WarehouseRouteIDs(ctx, args.WarehouseID)
		if err != nil {
			return nil, err
		}
		warehouseRoutes = make(map[int64]bool, len(ids))
		for _, id := range ids {
			warehouseRoutes[id] = true
		}
	}

	group := func(r *domain.Rule) int {
		switch {
		case args.RouteID != nil && r.RouteID == *args.RouteID:
			return 0
		case productRoutes[r.RouteID]:
			return 1
		case warehouseRoutes[r.RouteID]:
			return 2
		default:
			return 3
		}
	}

	best := candidates[0]
	for _, r := range candidates[1:] {
		if less(r, best, depth, group) {
			best = r
		}
	}
	return best, nil
}

func less(a, b *domain.Rule, depth map[int64]int, group func(*domain.Rule) int) bool {
	if da, db := depth[a.DestLocationID], depth[b.DestLocationID]; da != db {
		return da < db
	}
	if ga, gb := group(a), group(b); ga != gb {
		return ga < gb
	}
	if a.RouteSequence != b.RouteSequence {
		return a.RouteSequence < b.RouteSequence
	}
	return a.ID < b.ID
}

// TotalDelay walks the rule chain from the given location and sums the
// rule-level lead days, the supplier delay when the chain ends in a buy
// rule, and the caller's extra days. The breakdown is returned for
// display.
func (s *Selector) TotalDelay(ctx context.Context, product *domain.Product, args SelectArgs, extraDays int) (int, []DelayComponent, error) {
	total := extraDays
	breakdown := []DelayComponent{}
	if extraDays > 0 {
		breakdown = append(breakdown, DelayComponent{Label: "days to order", Days: extraDays})
	}

	visited := make(map[int64]bool)
	locationID := args.LocationID
	for {
		if visited[locationID] {
			return 0, nil, fmt.Errorf("rule chain loops at location %d", locationID)
		}
		visited[locationID] = true

		rule, err := s.Select(ctx, SelectArgs{
			LocationID:      locationID,
			RouteID:         args.RouteID,
			ProductRouteIDs: args.ProductRouteIDs,
			WarehouseID:     args.WarehouseID,
		})
		if err != nil {
			return 0, nil, err
		}

		total += rule.LeadDays
		if rule.LeadDays > 0 {
			breakdown = append(breakdown, DelayComponent{Label: fmt.Sprintf("rule %d", rule.ID), Days: rule.LeadDays})
		}

		switch rule.Action {
		case domain.ActionBuy:
			delay, err := s.rules.SupplierDelay(ctx, product.ID)
			if err != nil {
				return 0, nil, err
			}
			total += delay
			if delay > 0 {
				breakdown = append(breakdown, DelayComponent{Label: "supplier", Days: delay})
			}
			return total, breakdown, nil
		case domain.ActionPull, domain.ActionPullPush:
			if rule.SourceLocationID == nil {
				return total, breakdown, nil
			}
			locationID = *rule.SourceLocationID
		default:
			return total, breakdown, nil
		}
	}
}

// DelayComponent is one contribution to a total lead time.
type DelayComponent struct {
	Label string
	Days  int
}
