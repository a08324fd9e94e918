package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/core"
)

const (
	apiKeyHeader  = "X-API-Key"
	accountHeader = "X-Account-ID"
)

// requireKey gates a route group on a static API key and stashes the
// privileged role in the request context. An empty configured key disables
// the group entirely rather than leaving it open.
func (s *Server) requireKey(key string, role core.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.GetHeader(apiKeyHeader) != key {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set("role", role)
		c.Next()
	}
}

// authenticateAccount gates the account-scoped routes. End users never reach
// this service directly: the authenticating gateway verifies their identity,
// injects the account id header, and signs the request with its own key. The
// acting account therefore always comes from the gateway, never from the
// request body.
func (s *Server) authenticateAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth.GatewayKey == "" || c.GetHeader(apiKeyHeader) != s.auth.GatewayKey {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		account, err := uuid.Parse(c.GetHeader(accountHeader))
		if err != nil || account == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing or invalid account id"})
			return
		}
		c.Set("account", account)
		c.Next()
	}
}

// accountOf returns the account stashed by authenticateAccount.
func accountOf(c *gin.Context) uuid.UUID {
	if v, ok := c.Get("account"); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// roleOf returns the role stashed by requireKey, defaulting to investor.
func roleOf(c *gin.Context) core.Role {
	if v, ok := c.Get("role"); ok {
		if r, ok := v.(core.Role); ok {
			return r
		}
	}
	return core.RoleInvestor
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)

		if s.metrics != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
			s.metrics.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())
		}

		evt := s.log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = s.log.Error()
		}
		evt.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", took).
			Msg("request")
	}
}
