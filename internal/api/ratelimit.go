package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter table; the least recently seen
// client is forgotten first.
const maxTrackedClients = 4096

// clientLimiter keeps one token bucket per client IP.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = int(math.Ceil(perSecond))
	}
	// Size is a positive constant, New cannot fail.
	clients, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &clientLimiter{limit: rate.Limit(perSecond), burst: burst, clients: clients}
}

func (l *clientLimiter) get(client string) *rate.Limiter {
	if lim, ok := l.clients.Get(client); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	// Another request may have raced us; keep whichever landed first.
	if prev, ok, _ := l.clients.PeekOrAdd(client, lim); ok {
		return prev
	}
	return lim
}

func (l *clientLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/health" {
			c.Next()
			return
		}

		lim := l.get(c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.burst))
		if !lim.Allow() {
			c.Header("Retry-After", "1")
			respondError(c, http.StatusTooManyRequests, "rate_limit_exceeded",
				"Too many requests. Please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}
