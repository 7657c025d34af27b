package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"ms-booking/internal/logger"
)

const rateKeyPrefix = "fx_rate"

type cachedRate struct {
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RedisCache wraps a RateSource and keeps rates in Redis for ttl.
// Cache failures fall through to the wrapped source.
type RedisCache struct {
	client *redis.Client
	next   RateSource
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisCache(client *redis.Client, next RateSource, ttl time.Duration, log *logger.Logger) *RedisCache {
	return &RedisCache{client: client, next: next, ttl: ttl, log: log}
}

func rateKey(from, to string) string {
	return fmt.Sprintf("%s:%s:%s", rateKeyPrefix, Normalize(from), Normalize(to))
}

func (c *RedisCache) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := rateKey(from, to)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cached cachedRate
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil && cached.Rate.IsPositive() {
			return cached.Rate, nil
		}
		c.log.Warn("CURRENCY", fmt.Sprintf("Discarding unreadable cached rate %s", key))
	case err != redis.Nil:
		c.log.Warn("CURRENCY", fmt.Sprintf("Rate cache read failed for %s: %v", key, err))
	}

	rate, err := c.next.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	payload, _ := json.Marshal(cachedRate{Rate: rate, FetchedAt: time.Now().UTC()})
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Warn("CURRENCY", fmt.Sprintf("Rate cache write failed for %s: %v", key, err))
	}
	return rate, nil
}
