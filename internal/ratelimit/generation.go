package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/pixelmuse/pixelmuse/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyGenerationUser = "generation:user:%s"

// GenerationLimiter throttles generation requests per user.
type GenerationLimiter struct {
	enabled bool

	bucket *TokenBucket

	userRate  float64
	userBurst int
}

// NewRedisClient builds the shared redis client. Returns nil when no address
// is configured; redis-backed features degrade gracefully without it.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func NewGenerationLimiter(cfg config.Config, client *redis.Client) *GenerationLimiter {
	genCfg := cfg.Generation
	if !genCfg.RateLimitEnabled || client == nil {
		return nil
	}
	if genCfg.UserRate <= 0 || genCfg.UserBurst <= 0 {
		return nil
	}

	return &GenerationLimiter{
		enabled:   true,
		bucket:    NewTokenBucket(client),
		userRate:  genCfg.UserRate,
		userBurst: genCfg.UserBurst,
	}
}

func (l *GenerationLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *GenerationLimiter) AllowUser(ctx context.Context, userID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyGenerationUser, strings.TrimSpace(userID)), l.userRate, l.userBurst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
