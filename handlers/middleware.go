package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// requestLogger logs every request with method, path, status and duration.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// sessionUser returns the authenticated user id, clearing sessions whose
// user directory no longer exists.
func (s *Server) sessionUser(c *gin.Context) string {
	sess := sessions.Default(c)
	uid, _ := sess.Get(sessionUserKey).(string)
	if uid == "" {
		return ""
	}
	if !s.store.UserExists(uid) {
		sess.Clear()
		if err := sess.Save(); err != nil {
			s.logger.Warn("session clear failed", "error", err)
		}
		return ""
	}
	return uid
}

// pageAuth guards HTML pages, redirecting to the login form.
func (s *Server) pageAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.sessionUser(c) == "" {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// apiAuth guards JSON endpoints with a 401 body.
func (s *Server) apiAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.sessionUser(c) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ipLimiter throttles credential submissions per client address.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		// 10 attempts, then one every two seconds
		lim = rate.NewLimiter(rate.Every(2*time.Second), 10)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}

// rateLimited wraps a credential handler with the per-IP limiter.
func (s *Server) rateLimited(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.ClientIP()) {
			c.String(http.StatusTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		h(c)
	}
}
