// Package rediscache keeps the current pricing versions in redis.
package rediscache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/pricing"
)

type PricingCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

var _ pricing.Cache = (*PricingCache)(nil)

type Option func(*PricingCache)

func WithPrefix(prefix string) Option {
	return func(c *PricingCache) { c.prefix = strings.Trim(prefix, ":") }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *PricingCache) { c.ttl = ttl }
}

func NewPricingCache(rdb *redis.Client, opts ...Option) *PricingCache {
	c := &PricingCache{
		rdb:    rdb,
		prefix: "pricing:current",
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a redis client from conf and pings it.
func Connect(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

func (c *PricingCache) key(courseTypeID string) string {
	return c.prefix + ":" + courseTypeID
}

func (c *PricingCache) GetCurrent(ctx context.Context, courseTypeID string) (pricing.Version, bool, error) {
	var v pricing.Version
	data, err := c.rdb.Get(ctx, c.key(courseTypeID)).Bytes()
	if err == redis.Nil {
		return v, false, nil
	}
	if err != nil {
		return v, false, errors.Wrap(err, "reading cached pricing version")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, errors.Wrap(err, "decoding cached pricing version")
	}
	return v, true, nil
}

func (c *PricingCache) SetCurrent(ctx context.Context, v pricing.Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding pricing version")
	}
	return errors.Wrap(c.rdb.Set(ctx, c.key(v.CourseTypeID), data, c.ttl).Err(), "caching pricing version")
}

func (c *PricingCache) Invalidate(ctx context.Context, courseTypeID string) error {
	return errors.Wrap(c.rdb.Del(ctx, c.key(courseTypeID)).Err(), "invalidating pricing version")
}
