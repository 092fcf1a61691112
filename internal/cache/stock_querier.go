package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/repository"
	"github.com/andresuchdata/orderpoint/pkg/logger"
)

// CachedStockQuerier serves VirtualAvailable through the forecast
// cache and delegates everything else. Cache failures degrade to the
// underlying querier, they never fail the computation.
type CachedStockQuerier struct {
	inner repository.StockQuerier
	cache ForecastCache
}

func NewCachedStockQuerier(inner repository.StockQuerier, cache ForecastCache) *CachedStockQuerier {
	return &CachedStockQuerier{inner: inner, cache: cache}
}

func (q *CachedStockQuerier) VirtualAvailable(ctx context.Context, productID, locationID int64, toDate time.Time) (decimal.Decimal, error) {
	qty, hit, err := q.cache.GetAvailability(ctx, productID, locationID, toDate)
	if err != nil {
		logger.Log.Warn().Err(err).Int64("product_id", productID).Msg("forecast cache read failed")
	} else if hit {
		return qty, nil
	}

	qty, err = q.inner.VirtualAvailable(ctx, productID, locationID, toDate)
	if err != nil {
		return decimal.Zero, err
	}

	if err := q.cache.SetAvailability(ctx, productID, locationID, toDate, qty); err != nil {
		logger.Log.Warn().Err(err).Int64("product_id", productID).Msg("forecast cache write failed")
	}
	return qty, nil
}

func (q *CachedStockQuerier) QtyAvailable(ctx context.Context, productID, locationID int64) (decimal.Decimal, error) {
	return q.inner.QtyAvailable(ctx, productID, locationID)
}

func (q *CachedStockQuerier) QuantityInProgress(ctx context.Context, orderpointIDs []int64) (map[int64]decimal.Decimal, error) {
	return q.inner.QuantityInProgress(ctx, orderpointIDs)
}

func (q *CachedStockQuerier) NegativeForecasts(ctx context.Context, companyID int64, toDate time.Time) ([]repository.ShortageLine, error) {
	return q.inner.NegativeForecasts(ctx, companyID, toDate)
}

// InvalidatingSupplyWriter invalidates the cached forecast of a product
// after a supply document lands, so the next cycle sees the new
// incoming quantity.
type InvalidatingSupplyWriter struct {
	inner repository.SupplyOrderWriter
	cache ForecastCache
}

func NewInvalidatingSupplyWriter(inner repository.SupplyOrderWriter, cache ForecastCache) *InvalidatingSupplyWriter {
	return &InvalidatingSupplyWriter{inner: inner, cache: cache}
}

func (w *InvalidatingSupplyWriter) Create(ctx context.Context, order *domain.SupplyOrder) error {
	if err := w.inner.Create(ctx, order); err != nil {
		return err
	}
	if err := w.cache.InvalidateProduct(ctx, order.ProductID); err != nil {
		logger.Log.Warn().Err(err).Int64("product_id", order.ProductID).Msg("forecast cache invalidation failed")
	}
	return nil
}
