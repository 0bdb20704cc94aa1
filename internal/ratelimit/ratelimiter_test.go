package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/k-code-yt/gogo-lamp/internal/clock"
	"github.com/stretchr/testify/assert"
)

var start = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRateLimiterBurstThenRefill(t *testing.T) {
	c := clock.Fake(start)
	rl := NewRateLimiter(c, 3, 1)

	for range 3 {
		assert.True(t, rl.Allow())
	}
	assert.False(t, rl.Allow())

	c.Advance(time.Second)
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	c.Advance(time.Hour)
	for range 3 {
		assert.True(t, rl.Allow())
	}
	assert.False(t, rl.Allow())
}

func TestPerClientLimiterIsolatesClients(t *testing.T) {
	c := clock.Fake(start)
	l := NewPerClientLimiter(c, 2, 1)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())
}

func TestPerClientLimiterConcurrent(t *testing.T) {
	l := NewPerClientLimiter(clock.Fake(start), 50, 0)
	allowed := new(atomic.Int64)
	wg := new(sync.WaitGroup)
	wg.Add(200)
	for range 200 {
		go func() {
			defer wg.Done()
			if l.Allow("same") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

func TestSweepDropsIdleClients(t *testing.T) {
	c := clock.Fake(start)
	l := NewPerClientLimiter(c, 1, 1)
	l.Allow("old")
	c.Advance(30 * time.Second)
	l.Allow("new")
	c.Advance(40 * time.Second)

	l.sweep()
	assert.Equal(t, 1, l.Len())
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewPerClientLimiter(clock.Fake(start), 1, 0)
	r := gin.New()
	r.POST("/x", l.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for range 2 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
