package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/tonicworks/accord/internal/config"
)

const (
	keyIngestSource = "usage:ingest:source:%s"
	keyDrainLock    = "matching:drain:lock"

	drainLockTTL = 5 * time.Minute
)

// IngestLimiter throttles usage-report ingestion per source and
// serializes batch matching drains across instances. Disabled config
// yields a nil limiter; every check then passes.
type IngestLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestRate <= 0 || limitCfg.IngestBurst <= 0 {
		return nil, errors.New("ingest rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &IngestLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.IngestRate,
		burst:   limitCfg.IngestBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowSource charges one token against the reporting source's bucket.
func (l *IngestLimiter) AllowSource(ctx context.Context, source string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyIngestSource, strings.ToLower(strings.TrimSpace(source)))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// TryDrainLock guards the batch matching drain so only one instance
// runs it at a time.
func (l *IngestLimiter) TryDrainLock(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyDrainLock, drainLockTTL)
}

func (l *IngestLimiter) ReleaseDrainLock(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyDrainLock, token)
}
