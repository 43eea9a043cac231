// Package redis decorates repositories with Redis read-through caches.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/folioshelf/api/internal/domain"
	"github.com/folioshelf/api/internal/repositories"
)

const (
	defaultRatingTTL = 5 * time.Minute
	ratingKeyPrefix  = "ratings:avg:"
	// noRatings marks publications without reviews so they are not re-queried each page.
	noRatings = "-"
)

// ReviewCacheOption customises the cache.
type ReviewCacheOption func(*ReviewCache)

// WithTTL overrides how long averages stay cached.
func WithTTL(ttl time.Duration) ReviewCacheOption {
	return func(c *ReviewCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger reports cache failures, which never fail the read.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) ReviewCacheOption {
	return func(c *ReviewCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ReviewCache caches average ratings in Redis in front of another ReviewRepository.
// Review listings are passed through.
type ReviewCache struct {
	next   repositories.ReviewRepository
	client goredis.UniversalClient
	ttl    time.Duration
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ repositories.ReviewRepository = (*ReviewCache)(nil)

// NewReviewCache wraps next.
func NewReviewCache(next repositories.ReviewRepository, client goredis.UniversalClient, opts ...ReviewCacheOption) (*ReviewCache, error) {
	if next == nil {
		return nil, errors.New("review cache: repository is required")
	}
	if client == nil {
		return nil, errors.New("review cache: redis client is required")
	}
	cache := &ReviewCache{
		next:   next,
		client: client,
		ttl:    defaultRatingTTL,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache, nil
}

// ListByPublication delegates to the wrapped repository.
func (c *ReviewCache) ListByPublication(ctx context.Context, publicationID string) ([]domain.Review, error) {
	return c.next.ListByPublication(ctx, publicationID)
}

// AverageRatings serves cached averages and loads the rest from the wrapped repository.
func (c *ReviewCache) AverageRatings(ctx context.Context, publicationIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(publicationIDs))
	if len(publicationIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(publicationIDs))
	for i, id := range publicationIDs {
		keys[i] = ratingKeyPrefix + id
	}
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger(ctx, "rating_cache_read_failed", map[string]any{"error": err})
		cached = nil
	}

	var misses []string
	for i, id := range publicationIDs {
		if cached == nil || i >= len(cached) {
			misses = append(misses, id)
			continue
		}
		raw, ok := cached[i].(string)
		if !ok {
			misses = append(misses, id)
			continue
		}
		if raw == noRatings {
			continue
		}
		avg, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			misses = append(misses, id)
			continue
		}
		out[id] = avg
	}
	if len(misses) == 0 {
		return out, nil
	}

	loaded, err := c.next.AverageRatings(ctx, misses)
	if err != nil {
		return nil, err
	}

	pipe := c.client.Pipeline()
	for _, id := range misses {
		value := noRatings
		if avg, ok := loaded[id]; ok {
			out[id] = avg
			value = strconv.FormatFloat(avg, 'f', -1, 64)
		}
		pipe.Set(ctx, ratingKeyPrefix+id, value, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger(ctx, "rating_cache_write_failed", map[string]any{"error": err, "count": len(misses)})
	}
	return out, nil
}
