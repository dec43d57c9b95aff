package partnerships

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/request"
	"github.com/nexus-timebank/backend/pkg/response"
)

// CreateRequest is the body for POST /federation/partnerships.
type CreateRequest struct {
	Tenant1ID uuid.UUID `json:"tenant_1_id" binding:"required"`
	Tenant2ID uuid.UUID `json:"tenant_2_id" binding:"required"`
}

// ReasonRequest is the body of a lifecycle action.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// View is a partnership with the transitions available from its status.
type View struct {
	*models.Partnership
	Allowed []Transition `json:"allowed_transitions"`
}

func view(p *models.Partnership) View {
	allowed := Allowed(p.Status)
	if allowed == nil {
		allowed = []Transition{}
	}
	return View{Partnership: p, Allowed: allowed}
}

// Handler handles partnership HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a partnership handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /federation/partnerships.
func (h *Handler) List(c *gin.Context) {
	tenantID, ok := request.OptionalUUIDQuery(c, "tenant_id")
	if !ok {
		return
	}
	list, err := h.svc.List(c.Request.Context(), models.PartnershipFilter{
		Status:   models.PartnershipStatus(c.Query("status")),
		TenantID: tenantID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]View, 0, len(list))
	for _, p := range list {
		out = append(out, view(p))
	}
	response.OK(c, out)
}

// Stats handles GET /federation/partnerships/stats.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// Get handles GET /federation/partnerships/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view(p))
}

// Create handles POST /federation/partnerships.
func (h *Handler) Create(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var req CreateRequest
	if !request.BindJSON(c, &req) {
		return
	}
	p, err := h.svc.Create(c.Request.Context(), actor, req.Tenant1ID, req.Tenant2ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view(p))
}

// Suspend handles POST /federation/partnerships/:id/suspend.
func (h *Handler) Suspend(c *gin.Context) { h.transition(c, h.svc.Suspend) }

// Terminate handles POST /federation/partnerships/:id/terminate.
func (h *Handler) Terminate(c *gin.Context) { h.transition(c, h.svc.Terminate) }

// Reactivate handles POST /federation/partnerships/:id/reactivate.
func (h *Handler) Reactivate(c *gin.Context) { h.transition(c, h.svc.Reactivate) }

type transitionFunc func(ctx context.Context, actor, id uuid.UUID, reason string) (*models.Partnership, error)

func (h *Handler) transition(c *gin.Context, fn transitionFunc) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req ReasonRequest
	if !request.BindOptionalJSON(c, &req) {
		return
	}
	p, err := fn(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view(p))
}
