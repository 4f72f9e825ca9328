package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/teleprompt2api/api-proxy/internal/models"
)

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, models.ModelsResponse{
		Object: "list",
		Data:   s.models.Models(s.now()),
	})
}

// notFound handles every unmatched path. Unknown /v1 paths are still
// authenticated first, so a bad key is reported before the bad path.
func (s *Server) notFound(c *gin.Context) {
	path := c.Request.URL.Path

	if strings.HasPrefix(path, "/v1/") {
		if !s.authenticate(c) {
			return
		}
		abortWithError(c, http.StatusNotFound, fmt.Sprintf("Unsupported API path: %s", path), models.CodeNotFound)
		return
	}

	abortWithError(c, http.StatusNotFound, fmt.Sprintf("Path not found: %s", path), models.CodeNotFound)
}
