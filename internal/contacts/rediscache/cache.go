// Package rediscache decorates a contacts.Store with a short-TTL Redis
// cache over the by-prefix candidate query, the resolver's hottest read
// path. Every other query passes straight through. A decode that hits
// the same prefix repeatedly within the TTL only pays the datastore
// round-trip once.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"

	"github.com/jtstockton/meshresolver/internal/contacts"
)

const defaultTTL = 5 * time.Second

// Cache wraps an inner contacts.Store with Redis-backed caching.
type Cache struct {
	inner contacts.Store
	pool  *redis.Pool
	ttl   time.Duration
}

// New creates a cache over inner using the Redis server at addr. ttl <= 0
// uses the default of a few seconds; candidate freshness matters, so the
// TTL is deliberately short.
func New(inner contacts.Store, addr string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 60 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < 30*time.Second {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &Cache{inner: inner, pool: pool, ttl: ttl}
}

// Close releases the Redis connection pool. The inner store is not
// closed; its lifecycle belongs to the caller.
func (c *Cache) Close() error {
	return c.pool.Close()
}

func cacheKey(prefix string, maxAgeDays int) string {
	return fmt.Sprintf("meshresolver:contacts:prefix:%s:%d", prefix, maxAgeDays)
}

// ByPrefix serves from Redis when a fresh entry exists, otherwise
// queries the inner store and writes the result back. Cache failures
// degrade to a plain passthrough.
func (c *Cache) ByPrefix(ctx context.Context, prefix string, maxAgeDays int) ([]contacts.Record, error) {
	key := cacheKey(prefix, maxAgeDays)

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("rediscache: connection failed, passing through")
		return c.inner.ByPrefix(ctx, prefix, maxAgeDays)
	}
	defer conn.Close()

	if data, err := redis.Bytes(conn.Do("GET", key)); err == nil {
		var cached []contacts.Record
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	records, err := c.inner.ByPrefix(ctx, prefix, maxAgeDays)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		if _, err := conn.Do("SET", key, data, "PX", c.ttl.Milliseconds()); err != nil {
			log.Debug().Err(err).Str("prefix", prefix).Msg("rediscache: cache write failed")
		}
	}
	return records, nil
}

// ByPublicKey passes through to the inner store.
func (c *Cache) ByPublicKey(ctx context.Context, publicKey string) (contacts.Record, bool, error) {
	return c.inner.ByPublicKey(ctx, publicKey)
}

// BestCoordinates passes through to the inner store.
func (c *Cache) BestCoordinates(ctx context.Context, prefix string, ref *contacts.LatLon) (contacts.LatLon, bool, error) {
	return c.inner.BestCoordinates(ctx, prefix, ref)
}

var _ contacts.Store = (*Cache)(nil)
