package redis

import (
	"context"
	"fmt"
	"time"

	"identity-service/internal/bucketing"
	"identity-service/internal/client"
	"identity-service/internal/config"
	"identity-service/internal/util"
)

const loginThrottlePrefix = "login_throttle:"

// LoginThrottle caps how often a client address may hit the
// authentication endpoints. It is a fixed-window counter in Redis,
// separate from the durable lockout counter: the throttle guards
// capacity, the lockout guards credentials.
type LoginThrottle struct {
	client    *client.RedisClient
	bucketing *bucketing.BucketingManager
	limit     int
	window    time.Duration
	enabled   bool
}

func NewLoginThrottle(redisClient *client.RedisClient, bucketManager *bucketing.BucketingManager, cfg *config.ThrottleConfig) *LoginThrottle {
	return &LoginThrottle{
		client:    redisClient,
		bucketing: bucketManager,
		limit:     cfg.Limit,
		window:    cfg.Window,
		enabled:   cfg.Enabled,
	}
}

// Allow reports whether the address is still inside its allowance for
// the current window and endpoint scope. The throttle fails open: if Redis is
// unreachable the request proceeds and the durable lockout counter
// remains the backstop.
func (t *LoginThrottle) Allow(scope, clientIP string) bool {
	if !t.enabled || t.client == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	windowBucket := t.bucketing.GetTimeBucket(time.Now(), t.window)
	key := fmt.Sprintf("%s%s:%s:%d", loginThrottlePrefix, scope, clientIP, windowBucket)

	count, err := t.client.IncrWithExpire(ctx, key, t.window)
	if err != nil {
		util.Warn("Login throttle check failed, allowing request",
			util.String("client_ip", clientIP),
			util.ErrorField(err))
		return true
	}

	if count > int64(t.limit) {
		util.Warn("Login throttle limit exceeded",
			util.String("scope", scope),
			util.String("client_ip", clientIP),
			util.Int64("count", count),
			util.Int("limit", t.limit))
		return false
	}
	return true
}
