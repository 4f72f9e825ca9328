package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/teleprompt2api/api-proxy/internal/logger"
	"github.com/teleprompt2api/api-proxy/internal/models"
	"go.uber.org/zap"
)

// loggerMiddleware logs HTTP requests and feeds the request metrics
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(route, method, strconv.Itoa(statusCode), latency)

		s.logger.Info("HTTP Request",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// corsMiddleware allows any origin and answers every preflight itself
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// apiKeyAuthMiddleware validates API key for API requests
func (s *Server) apiKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authenticate(c) {
			return
		}
		c.Next()
	}
}

// authenticate checks the bearer token and aborts with the matching error
// when it is missing or wrong.
func (s *Server) authenticate(c *gin.Context) bool {
	if s.cfg.Security.AuthDisabled {
		return true
	}

	authHeader := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "Bearer token authentication is required.", models.CodeUnauthorized)
		return false
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Security.APIKey)) != 1 {
		s.logger.Warn("Invalid API key attempt",
			zap.String("key_prefix", logger.MaskAPIKey(token)),
			zap.String("client_ip", c.ClientIP()))
		abortWithError(c, http.StatusForbidden, "Invalid API key.", models.CodeInvalidAPIKey)
		return false
	}

	return true
}

// abortWithError writes the uniform error envelope and stops the chain.
func abortWithError(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, models.NewErrorResponse(message, code))
}
