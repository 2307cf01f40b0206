package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyagent/arb-engine/internal/model"
)

const portfolioCacheKey = "portfolio:default"

// CachedStore wraps a primary PortfolioStore with a Redis read-through
// cache. Writes go to the primary store first and only then refresh the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary PortfolioStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary PortfolioStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Load(ctx context.Context) (*model.Portfolio, error) {
	data, err := s.rdb.Get(ctx, portfolioCacheKey).Bytes()
	if err == nil {
		var p model.Portfolio
		if json.Unmarshal(data, &p) == nil {
			if p.Positions == nil {
				p.Positions = []model.Position{}
			}
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, p)
	return p, nil
}

func (s *CachedStore) Save(ctx context.Context, p *model.Portfolio) error {
	if err := s.primary.Save(ctx, p); err != nil {
		// The primary still holds the previous record; drop any cached copy
		// so the next read goes back to it.
		s.rdb.Del(ctx, portfolioCacheKey)
		return err
	}
	s.cache(ctx, p)
	return nil
}

func (s *CachedStore) cache(ctx context.Context, p *model.Portfolio) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, portfolioCacheKey, data, s.ttl).Err(); err != nil {
		slog.Warn("portfolio cache write failed", "err", err)
		s.rdb.Del(ctx, portfolioCacheKey)
	}
}
