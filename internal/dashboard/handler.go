package dashboard

import (
	"github.com/gin-gonic/gin"

	"github.com/nexus-timebank/backend/pkg/response"
)

// Handler serves the landing page aggregates.
type Handler struct {
	svc *Service
}

// NewHandler creates a dashboard handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Stats handles GET /dashboard.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// Federation handles GET /federation.
func (h *Handler) Federation(c *gin.Context) {
	ov, err := h.svc.Federation(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ov)
}
