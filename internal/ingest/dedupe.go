package ingest

import (
	"context"
	"time"

	"inbox-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// DedupeTTL bounds the window in which a provider message id is treated as
// already seen. Providers redeliver webhooks on slow acknowledgments, never
// days later.
const DedupeTTL = 24 * time.Hour

// Deduper guards against duplicate webhook deliveries of the same provider
// message id.
type Deduper interface {
	// Claim returns true when the id has not been seen inside the window.
	Claim(ctx context.Context, id string) (bool, error)
	// Release re-opens a claimed id so a provider-side redelivery gets
	// processed after a pipeline failure.
	Release(ctx context.Context, id string) error
}

// RedisDeduper claims ids with an atomic SET NX.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: DedupeTTL}
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	return utils.AcquireOnce(ctx, d.rdb, dedupeKey(id), d.ttl)
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	return utils.ReleaseOnce(ctx, d.rdb, dedupeKey(id))
}

func dedupeKey(id string) string {
	return "webhook:msg:" + id
}

// NopDeduper never dedupes. Used when Redis is not configured.
type NopDeduper struct{}

func (NopDeduper) Claim(ctx context.Context, id string) (bool, error) { return true, nil }
func (NopDeduper) Release(ctx context.Context, id string) error       { return nil }
