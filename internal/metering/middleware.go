package metering

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/ctxkeys"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

type AccessMiddlewareConfig struct {
	RateLimiter *RateLimiter
	Logger      logging.Logger
}

// AccessMiddleware rejects callers without an organization, applies the
// hourly rate limit and installs the per-request policy cache.
func AccessMiddleware(cfg AccessMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		orgID := ctxkeys.GetOrganizationID(ctx)
		if orgID == "" || ctxkeys.GetUserID(ctx) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id missing"})
			return
		}

		if cfg.RateLimiter != nil {
			allowed, remaining, resetSeconds := cfg.RateLimiter.Allow(orgID)
			if !allowed {
				rateLimitedTotal.Inc()
				if cfg.Logger != nil {
					cfg.Logger.WithField("organization_id", orgID).Info("Chat rate limit exceeded")
				}
				c.Header("Retry-After", strconv.Itoa(resetSeconds))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error":       "Se alcanzó el límite de consultas por hora. Intenta nuevamente más tarde.",
					"retry_after": resetSeconds,
				})
				return
			}
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
		}

		c.Request = c.Request.WithContext(WithRequestCache(ctx))
		c.Next()
	}
}

// RateLimiter is a fixed-window counter per organization.
type RateLimiter struct {
	defaultLimit int
	overrides    map[string]int
	window       time.Duration
	now          func() time.Time

	mu    sync.Mutex
	usage map[string]*rateUsage
}

type rateUsage struct {
	windowStart time.Time
	count       int
}

func NewRateLimiter(defaultLimit int, overrides map[string]int) *RateLimiter {
	if overrides == nil {
		overrides = map[string]int{}
	}
	return &RateLimiter{
		defaultLimit: defaultLimit,
		overrides:    overrides,
		window:       time.Hour,
		now:          time.Now,
		usage:        make(map[string]*rateUsage),
	}
}

// Allow reports whether orgID may make another request, the remaining
// requests in the window and the seconds until the window resets.
func (rl *RateLimiter) Allow(orgID string) (bool, int, int) {
	if rl == nil || orgID == "" {
		return true, 0, 0
	}
	limit := rl.defaultLimit
	if override, ok := rl.overrides[orgID]; ok {
		limit = override
	}
	if limit <= 0 {
		return true, 0, 0
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.usage[orgID]
	if !ok || now.Sub(entry.windowStart) >= rl.window {
		entry = &rateUsage{windowStart: now}
		rl.usage[orgID] = entry
	}

	resetSeconds := max(int(entry.windowStart.Add(rl.window).Sub(now).Seconds()), 0)
	if entry.count >= limit {
		return false, 0, resetSeconds
	}
	entry.count++
	return true, limit - entry.count, resetSeconds
}

func (rl *RateLimiter) Cleanup() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for id, entry := range rl.usage {
		if now.Sub(entry.windowStart) >= 2*rl.window {
			delete(rl.usage, id)
		}
	}
}

func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	if rl == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(rl.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}
