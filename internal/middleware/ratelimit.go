package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/bandyab/bandyab/internal/apierr"
	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/safego"
)

// RateLimitConfig configures one RateLimiter
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// CleanupInterval is how often idle visitors are swept
	CleanupInterval time.Duration
	// IdleTTL is how long a visitor is kept after its last request
	IdleTTL time.Duration
}

// DefaultRateLimitConfig applies to the general API
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 120, Burst: 20, CleanupInterval: 5 * time.Minute, IdleTTL: 10 * time.Minute}
}

// AuthRateLimitConfig applies to sign-in, sign-up and code endpoints
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10, Burst: 5, CleanupInterval: 5 * time.Minute, IdleTTL: 10 * time.Minute}
}

// UploadRateLimitConfig applies to upload endpoints
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 30, Burst: 5, CleanupInterval: 5 * time.Minute, IdleTTL: 10 * time.Minute}
}

// RateLimitConfigsFrom derives the API and auth limiter settings from the config file
func RateLimitConfigsFrom(cfg config.RateLimitingConfig) (api, authCfg RateLimitConfig) {
	api, authCfg = DefaultRateLimitConfig(), AuthRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		api.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		api.Burst = cfg.Burst
	}
	if cfg.AuthPerMinute > 0 {
		authCfg.RequestsPerMinute = cfg.AuthPerMinute
	}
	return api, authCfg
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	config   RateLimitConfig
	limit    rate.Limit
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup worker
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	rl := &RateLimiter{
		config:   cfg,
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		visitors: make(map[string]*visitor),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	safego.Go("ratelimit-cleanup", rl.cleanupLoop)
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopCh:
			return
		}
	}
}

// sweep drops visitors idle for longer than IdleTTL
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.config.IdleTTL)
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
		}
	}
}

// Stop ends the cleanup worker; it is safe to call more than once
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) visitor(key string) *visitor {
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.config.Burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()
	return v
}

// Allow consumes one token for key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.visitor(key).limiter.AllowN(rl.now(), 1)
}

// Remaining returns the whole tokens currently available to key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[key]
	if !ok {
		return rl.config.Burst
	}
	n := int(math.Floor(v.limiter.TokensAt(rl.now())))
	if n < 0 {
		return 0
	}
	return n
}

// retryAfter is the wait in whole seconds until one token is back
func (rl *RateLimiter) retryAfter() int {
	if rl.config.RequestsPerMinute <= 0 {
		return 60
	}
	return int(math.Ceil(60.0 / float64(rl.config.RequestsPerMinute)))
}

// RateLimitMiddleware rejects requests over the limit with 429
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)
		if !limiter.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(limiter.retryAfter()))
			c.Header("X-RateLimit-Remaining", "0")
			apierr.Respond(c, domain.ErrRateLimited)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
		c.Next()
	}
}

// rateLimitKey prefers the signed-in account over the client IP
func rateLimitKey(c *gin.Context) string {
	if id := AccountID(c); id != "" {
		return "account:" + id
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
