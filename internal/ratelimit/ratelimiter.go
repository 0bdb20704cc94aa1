package ratelimit

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/k-code-yt/gogo-lamp/internal/clock"
	"github.com/sirupsen/logrus"
)

// RateLimiter is a token bucket refilled continuously at refillRate
// tokens per second.
type RateLimiter struct {
	refillRate float64
	lastRefill time.Time
	tokens     float64
	maxTokens  float64
	mu         *sync.Mutex
	clock      clock.Clock
}

func NewRateLimiter(c clock.Clock, maxTokens, refillRate float64) *RateLimiter {
	return &RateLimiter{
		refillRate: refillRate,
		maxTokens:  maxTokens,
		tokens:     maxTokens,
		lastRefill: c.Now(),
		mu:         new(sync.Mutex),
		clock:      c,
	}
}

func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

func (r *RateLimiter) refill() {
	now := r.clock.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens = math.Min(r.maxTokens, r.tokens+elapsed*r.refillRate)
	r.lastRefill = now
}

func (r *RateLimiter) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefill
}

// PerClientLimiter keeps one bucket per client key and forgets clients
// idle for longer than maxInactive.
type PerClientLimiter struct {
	limiters    map[string]*RateLimiter
	mu          *sync.Mutex
	clock       clock.Clock
	maxTokens   float64
	refillRate  float64
	maxInactive time.Duration
}

func NewPerClientLimiter(c clock.Clock, maxTokens, refillRate float64) *PerClientLimiter {
	if c == nil {
		c = clock.Real()
	}
	return &PerClientLimiter{
		limiters:    map[string]*RateLimiter{},
		mu:          new(sync.Mutex),
		clock:       c,
		maxTokens:   maxTokens,
		refillRate:  refillRate,
		maxInactive: time.Minute,
	}
}

func (c *PerClientLimiter) Allow(clientID string) bool {
	c.mu.Lock()
	rl, ok := c.limiters[clientID]
	if !ok {
		rl = NewRateLimiter(c.clock, c.maxTokens, c.refillRate)
		c.limiters[clientID] = rl
	}
	c.mu.Unlock()

	return rl.Allow()
}

func (c *PerClientLimiter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}

// CleanUp drops idle clients every interval until ctx is done.
func (c *PerClientLimiter) CleanUp(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *PerClientLimiter) sweep() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rl := range c.limiters {
		if now.Sub(rl.idleSince()) >= c.maxInactive {
			delete(c.limiters, id)
			logrus.WithField("clientID", id).Debug("removed idle rate limiter")
		}
	}
}

// Middleware rejects requests over the per-IP budget with 429.
func (c *PerClientLimiter) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !c.Allow(ctx.ClientIP()) {
			logrus.WithField("clientIP", ctx.ClientIP()).Warn("rate limited")
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests",
			})
			return
		}
		ctx.Next()
	}
}
