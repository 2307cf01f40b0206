package prices

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/model"
)

// RedisCache implements Live using Redis hashes so several processes can
// share one price stream. Each market is stored at "price:{marketID}" with
// fields "yes", "no" and "ts" (Unix nanoseconds).
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a RedisCache. A positive ttl expires markets that
// stop receiving updates.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

func sideField(o model.Outcome) string {
	if o == model.OutcomeYes {
		return "yes"
	}
	return "no"
}

func (c *RedisCache) Set(ctx context.Context, marketID string, outcome model.Outcome, price decimal.Decimal, ts time.Time) error {
	key := priceKey(marketID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		sideField(outcome): price.String(),
		"ts":               strconv.FormatInt(ts.UnixNano(), 10),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", marketID, err)
	}
	return nil
}

func (c *RedisCache) Quote(ctx context.Context, marketID string) (model.Quote, bool, error) {
	vals, err := c.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return model.Quote{}, false, fmt.Errorf("redis: get price %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return model.Quote{}, false, nil
	}

	var q model.Quote
	if s, ok := vals["yes"]; ok {
		if p, err := decimal.NewFromString(s); err == nil {
			q.Yes = decimal.NewNullDecimal(p)
		}
	}
	if s, ok := vals["no"]; ok {
		if p, err := decimal.NewFromString(s); err == nil {
			q.No = decimal.NewNullDecimal(p)
		}
	}
	return q, q.Yes.Valid || q.No.Valid, nil
}

var _ Live = (*RedisCache)(nil)
