package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/teleprompt2api/api-proxy/internal/embed"
	"go.uber.org/zap"
)

// setupCockpit serves the embedded test console at / for any method.
// The page only talks to the public /v1 API.
func (s *Server) setupCockpit(compress gin.HandlerFunc) {
	page, err := embed.CockpitPage()
	if err != nil {
		s.logger.Warn("Cockpit page not embedded", zap.Error(err))
		s.router.Any("/", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})
		return
	}

	s.router.Any("/", compress, func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", page)
	})
}
