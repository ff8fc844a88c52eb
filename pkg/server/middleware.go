package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jaewoo-rain/webide/pkg/auth"
)

const principalKey = "principal"

// corsAllowAll mirrors the permissive policy of the upstream deployments:
// the client is served from arbitrary origins during development.
func corsAllowAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requireAuth verifies the bearer token and stashes the principal for
// handlers downstream.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			s.replyError(c, err)
			c.Abort()
			return
		}
		principal, err := s.Verifier.Verify(token)
		if err != nil {
			s.replyError(c, err)
			c.Abort()
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

func (s *Server) principal(c *gin.Context) auth.Principal {
	return c.MustGet(principalKey).(auth.Principal)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}
