package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeGuard/internal/domain/models"
	"TradeGuard/internal/domain/repository"
	"TradeGuard/pkg/cache"
)

const directiveKeyPrefix = "directive"

// CacheDirectiveStore keeps the last directive of each guard in the cache
// until the directive expires.
type CacheDirectiveStore struct {
	cache cache.Service
	now   func() time.Time
}

func NewCacheDirectiveStore(c cache.Service) *CacheDirectiveStore {
	return &CacheDirectiveStore{cache: c, now: time.Now}
}

var _ repository.DirectiveStore = (*CacheDirectiveStore)(nil)

// Save stores d under the guard key. An already expired directive removes
// the key instead.
func (s *CacheDirectiveStore) Save(ctx context.Context, guard string, d *models.Directive) error {
	key := cache.GenerateKey(directiveKeyPrefix, guard)
	ttl := d.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.cache.Delete(ctx, key)
	}
	if err := s.cache.Set(ctx, key, d, ttl); err != nil {
		return fmt.Errorf("save directive %s: %w", guard, err)
	}
	return nil
}

// Load returns the stored directive or nil when there is none.
func (s *CacheDirectiveStore) Load(ctx context.Context, guard string) (*models.Directive, error) {
	var d models.Directive
	if err := s.cache.Get(ctx, cache.GenerateKey(directiveKeyPrefix, guard), &d); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load directive %s: %w", guard, err)
	}
	return &d, nil
}
