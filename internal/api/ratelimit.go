package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// staleBucketAge is how long an idle client bucket is kept.
const staleBucketAge = 10 * time.Minute

// RateLimiter implements a token bucket rate limiter per IP address
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
	burst    int           // max tokens (bucket size)
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

type clientBucket struct {
	tokens    int
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter with specified rate (requests per interval) and burst size.
// Call Stop to end the background cleanup.
func NewRateLimiter(rate int, interval time.Duration, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients:  make(map[string]*clientBucket),
		rate:     rate,
		interval: interval,
		burst:    burst,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go rl.cleanupLoop(5 * time.Minute)

	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

// Allow checks if a request from the given IP should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	bucket, exists := rl.clients[ip]
	if !exists {
		// New client starts with full bucket
		rl.clients[ip] = &clientBucket{
			tokens:    rl.burst - 1, // -1 for this request
			lastCheck: now,
		}
		return true
	}

	// Refill whole intervals only; the remainder carries over to the next check.
	periods := int(now.Sub(bucket.lastCheck) / rl.interval)
	if periods > 0 {
		bucket.tokens += periods * rl.rate
		if bucket.tokens > rl.burst {
			bucket.tokens = rl.burst
		}
		bucket.lastCheck = bucket.lastCheck.Add(time.Duration(periods) * rl.interval)
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}

	return false
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup removes buckets idle for longer than staleBucketAge
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	threshold := rl.now().Add(-staleBucketAge)
	for ip, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, ip)
		}
	}
}

// Middleware returns a Gin middleware that rate limits requests
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": rl.interval.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Default limits for the control surface.
const (
	// ControlRate: 120 control actions per minute per IP, burst of 30.
	// Viewers read over the websocket, so only writes are limited.
	ControlRate     = 120
	ControlInterval = time.Minute
	ControlBurst    = 30
)
