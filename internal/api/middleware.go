package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/gigboard/marketplace/internal/auth"
	"github.com/gigboard/marketplace/internal/logger"
)

var log = logger.New("api")

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		authenticate(c, strings.TrimPrefix(authHeader, "Bearer "))
	}
}

// TokenAuthMiddleware also accepts the token as a ?token= query parameter.
// Browsers cannot set headers on a websocket upgrade.
func TokenAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		authenticate(c, token)
	}
}

func authenticate(c *gin.Context, token string) {
	userID, claims, err := auth.Authenticate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		c.Abort()
		return
	}

	c.Set("userID", userID)
	c.Set("username", claims.Username)
	c.Next()
}

// currentUser returns the authenticated caller, writing a 401 when there is none
func currentUser(c *gin.Context) (int64, bool) {
	userID := c.GetInt64("userID")
	if userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return 0, false
	}
	return userID, true
}

func parseID(c *gin.Context, raw, what string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what})
		return 0, false
	}
	return id, true
}

// limiterPool hands out one token bucket per user
type limiterPool struct {
	mu    sync.Mutex
	m     map[int64]*rate.Limiter
	limit rate.Limit
	burst int
}

func newLimiterPool(limit rate.Limit, burst int) *limiterPool {
	if limit <= 0 {
		limit = 2
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{m: make(map[int64]*rate.Limiter), limit: limit, burst: burst}
}

func (p *limiterPool) get(userID int64) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[userID]; ok {
		return l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[userID] = l
	return l
}

// RateLimitMiddleware rejects callers exceeding limit requests per second.
// It must run after an auth middleware.
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	pool := newLimiterPool(limit, burst)
	return func(c *gin.Context) {
		userID := c.GetInt64("userID")
		if !pool.get(userID).Allow() {
			log.Warn("Rate limit exceeded for user %d on %s", userID, c.FullPath())
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
