package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"seedream-proxy/internal/models"
)

// visitorIdle is how long an idle client keeps its token bucket.
const visitorIdle = 3 * time.Minute

// RateLimit applies a token bucket per client IP. Idle buckets are dropped
// in the background until ctx is done. The key is c.ClientIP, so the engine's
// trusted proxies decide whether X-Forwarded-For is believed; with none
// trusted it is the connection address.
func RateLimit(ctx context.Context, rps float64, burst int, logger *zap.Logger) gin.HandlerFunc {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > visitorIdle {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = time.Now()
		mu.Unlock()

		if !v.limiter.Allow() {
			logger.Warn("rate limit exceeded",
				zap.String("client_ip", ip),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}
