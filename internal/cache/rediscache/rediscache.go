package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/BearBump/LockerBox/internal/blob"
)

// URLCache keeps presigned photo-evidence URLs so the ops API does not
// re-sign the same object on every render. The TTL stays below the presign
// expiry so a cached URL is never handed out dead.
type URLCache struct {
	c   *redis.Client
	ttl time.Duration
}

func NewURLCache(addr string, ttl time.Duration) *URLCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &URLCache{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		ttl: ttl,
	}
}

func (u *URLCache) GetURL(ctx context.Context, object string) (string, bool, error) {
	val, err := u.c.Get(ctx, blob.CacheKey(object)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (u *URLCache) SetURL(ctx context.Context, object, url string) error {
	if err := u.c.Set(ctx, blob.CacheKey(object), url, u.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Resolver produces a presigned URL for a stored object.
type Resolver interface {
	Resolve(ctx context.Context, object string) (string, error)
}

// Resolving wraps a Resolver with this cache.
func (u *URLCache) Resolving(r Resolver) *CachedResolver {
	return &CachedResolver{cache: u, r: r}
}

type CachedResolver struct {
	cache *URLCache
	r     Resolver
}

func (cr *CachedResolver) Resolve(ctx context.Context, object string) (string, error) {
	if url, ok, err := cr.cache.GetURL(ctx, object); err == nil && ok {
		return url, nil
	}
	url, err := cr.r.Resolve(ctx, object)
	if err != nil {
		return "", err
	}
	if err := cr.cache.SetURL(ctx, object, url); err != nil {
		return url, err
	}
	return url, nil
}
