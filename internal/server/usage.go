package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetUsage reports the requester's current quota standing without consuming
// anything. The same decision logic that gates creation backs this view.
func (s *Server) GetUsage(c *gin.Context) {
	decision, err := s.admissionSvc.Check(c.Request.Context(), requesterIdentity(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}
