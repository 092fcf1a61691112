package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/andresuchdata/orderpoint/internal/config"
)

const (
	forecastKeyPrefix     = "forecast:available"
	forecastScanBatchSize = 100
	defaultForecastTTL    = time.Minute
	redisDialTimeout      = 5 * time.Second
)

// ForecastCache memoizes virtual availability per (product, location,
// horizon date). Entries are invalidated whenever a replenishment write
// changes the forecast for a product.
type ForecastCache interface {
	GetAvailability(ctx context.Context, productID, locationID int64, horizon time.Time) (decimal.Decimal, bool, error)
	SetAvailability(ctx context.Context, productID, locationID int64, horizon time.Time, qty decimal.Decimal) error
	InvalidateProduct(ctx context.Context, productID int64) error
	InvalidateAll(ctx context.Context) error
}

type redisForecastCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopForecastCache struct{}

func NewForecastCache(cfg config.CacheConfig) (ForecastCache, error) {
	if !cfg.Enabled {
		return &noopForecastCache{}, nil
	}

	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := time.Duration(cfg.ForecastTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultForecastTTL
	}
	return &redisForecastCache{client: client, ttl: ttl}, nil
}

// redisOptions prefers a full URL; host/port fields are the fallback
// for compose-style environments.
func redisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	host, port := cfg.RedisHost, cfg.RedisPort
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "6379"
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

func NewNoopForecastCache() ForecastCache {
	return &noopForecastCache{}
}

type forecastEntry struct {
	Quantity decimal.Decimal `json:"quantity"`
}

func (c *redisForecastCache) GetAvailability(ctx context.Context, productID, locationID int64, horizon time.Time) (decimal.Decimal, bool, error) {
	key := buildForecastKey(productID, locationID, horizon)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get failed: %w", err)
	}

	var entry forecastEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return decimal.Zero, false, fmt.Errorf("decode forecast cache: %w", err)
	}

	return entry.Quantity, true, nil
}

func (c *redisForecastCache) SetAvailability(ctx context.Context, productID, locationID int64, horizon time.Time, qty decimal.Decimal) error {
	key := buildForecastKey(productID, locationID, horizon)
	payload, err := json.Marshal(forecastEntry{Quantity: qty})
	if err != nil {
		return fmt.Errorf("encode forecast cache: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisForecastCache) InvalidateProduct(ctx context.Context, productID int64) error {
	prefix := fmt.Sprintf("%s:%d:", forecastKeyPrefix, productID)
	return c.dropPrefix(ctx, prefix)
}

func (c *redisForecastCache) InvalidateAll(ctx context.Context) error {
	return c.dropPrefix(ctx, forecastKeyPrefix)
}

// dropPrefix walks the keyspace with SCAN so invalidation never blocks
// the server the way KEYS would.
func (c *redisForecastCache) dropPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", forecastScanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis delete failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (n *noopForecastCache) GetAvailability(ctx context.Context, productID, locationID int64, horizon time.Time) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (n *noopForecastCache) SetAvailability(ctx context.Context, productID, locationID int64, horizon time.Time, qty decimal.Decimal) error {
	return nil
}

func (n *noopForecastCache) InvalidateProduct(ctx context.Context, productID int64) error {
	return nil
}

func (n *noopForecastCache) InvalidateAll(ctx context.Context) error {
	return nil
}

func buildForecastKey(productID, locationID int64, horizon time.Time) string {
	return fmt.Sprintf("%s:%d:%d:%s", forecastKeyPrefix, productID, locationID, horizon.UTC().Format("2006-01-02"))
}
