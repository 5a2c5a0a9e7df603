// Package menu serves catalog snapshots for order pricing through a Redis
// cache in front of the directory store. Menus change rarely relative to how
// often orders read them, so a short TTL keeps intake off the database during
// rush hour.
package menu

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"feastline/internal/domain"
	"feastline/pkg/logger"
)

const cacheTTL = 5 * time.Minute

// Loader is the backing source of truth, typically the directory store.
type Loader interface {
	MenuSnapshot(ctx context.Context, restaurantID string) ([]domain.MenuItem, error)
}

type CachedSource struct {
	client *redis.Client
	loader Loader
	log    *logger.Logger
}

func NewCachedSource(addr string, loader Loader, log *logger.Logger) *CachedSource {
	return &CachedSource{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		loader: loader,
		log:    log,
	}
}

func (s *CachedSource) Close() error { return s.client.Close() }

func key(restaurantID string) string { return "feastline:menu:" + restaurantID }

// Snapshot returns the restaurant's available menu items, cache-aside. Cache
// failures fall through to the loader; only the loader's error is fatal.
func (s *CachedSource) Snapshot(ctx context.Context, restaurantID string) ([]domain.MenuItem, error) {
	cached, err := s.client.Get(ctx, key(restaurantID)).Result()
	if err == nil {
		var items []domain.MenuItem
		if err := json.Unmarshal([]byte(cached), &items); err == nil {
			return items, nil
		}
		// Poisoned entry; fall through and overwrite.
	} else if err != redis.Nil {
		s.log.Action("menu_cache_read_failed").Warn("redis unavailable, loading from store", "error", err.Error())
	}

	items, err := s.loader.MenuSnapshot(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(items); err == nil {
		if err := s.client.Set(ctx, key(restaurantID), data, cacheTTL).Err(); err != nil {
			s.log.Action("menu_cache_write_failed").Warn("could not populate cache", "error", err.Error())
		}
	}
	return items, nil
}
