package exports

import (
	"github.com/gin-gonic/gin"

	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/request"
	"github.com/nexus-timebank/backend/pkg/response"
)

// Handler handles audit export endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates an export handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Request handles POST /audit/exports. The body is an audit filter; paging
// fields are ignored because the whole match set is exported.
func (h *Handler) Request(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var f models.AuditFilter
	if !request.BindOptionalJSON(c, &f) {
		return
	}
	f.Page, f.Limit = 0, 0
	e, err := h.svc.Request(c.Request.Context(), actor, f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, e)
}

// Status handles GET /audit/exports/:id.
func (h *Handler) Status(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	e, err := h.svc.Status(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, e)
}
