package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/S-Corkum/recall/pkg/observability"
)

// RequestLogger logs one line per request with latency and status.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("HTTP request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
	}
}

// MetricsMiddleware records per-route success and latency. Unmatched
// paths share one label so probes cannot explode cardinality.
func MetricsMiddleware(metrics observability.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		success := c.Writer.Status() < http.StatusInternalServerError
		metrics.RecordAPIOperation("http", c.Request.Method+" "+route, success, time.Since(start).Seconds())
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles per client IP. Idle client state is swept
// after ten minutes to bound memory.
func RateLimiter(config RateLimitConfig) gin.HandlerFunc {
	if !config.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	period := config.Period
	if period <= 0 {
		period = time.Minute
	}
	limit := config.Limit
	if limit <= 0 {
		limit = 100
	}
	burst := limit
	if config.BurstFactor > 1 {
		burst = limit * config.BurstFactor
	}
	perSecond := rate.Limit(float64(limit) / period.Seconds())

	const idleTTL = 10 * time.Minute
	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)
	lastSweep := time.Now()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		if time.Since(lastSweep) > idleTTL {
			for addr, cl := range clients {
				if time.Since(cl.lastSeen) > idleTTL {
					delete(clients, addr)
				}
			}
			lastSweep = time.Now()
		}
		cl, ok := clients[ip]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(perSecond, burst)}
			clients[ip] = cl
		}
		cl.lastSeen = time.Now()
		allowed := cl.limiter.Allow()
		mu.Unlock()

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// CORSMiddleware enforces the origin allowlist. Production allows only
// the literal "null" origin plus configured extras; development adds
// the usual local dev ports. The wildcard origin is never sent because
// responses carry credentials.
func CORSMiddleware(environment string, extraOrigins []string) gin.HandlerFunc {
	allowed := map[string]bool{"null": true}
	if environment == "development" {
		for _, origin := range []string{
			"http://localhost:3000",
			"http://localhost:8080",
			"http://127.0.0.1:3000",
			"http://127.0.0.1:8080",
		} {
			allowed[origin] = true
		}
	}
	for _, origin := range extraOrigins {
		if origin != "" && origin != "*" {
			allowed[origin] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
