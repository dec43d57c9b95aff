package hierarchy

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/confirm"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/request"
	"github.com/nexus-timebank/backend/pkg/response"
)

// MoveRequest is the body for POST /tenants/:id/move. A nil parent makes the tenant a root.
type MoveRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

// ToggleHubRequest is the body for POST /tenants/:id/toggle-hub.
type ToggleHubRequest struct {
	Enabled bool `json:"enabled"`
}

// DeleteRequest carries the confirmation token of a tenant deletion.
type DeleteRequest struct {
	ConfirmationToken string `json:"confirmation_token"`
}

// Handler handles tenant HTTP endpoints.
type Handler struct {
	svc     *Service
	confirm *confirm.Broker
}

// NewHandler creates a tenant handler.
func NewHandler(svc *Service, broker *confirm.Broker) *Handler {
	return &Handler{svc: svc, confirm: broker}
}

// List handles GET /tenants.
func (h *Handler) List(c *gin.Context) {
	active, ok := request.OptionalBoolQuery(c, "active")
	if !ok {
		return
	}
	hub, ok := request.OptionalBoolQuery(c, "hub")
	if !ok {
		return
	}
	list, err := h.svc.List(c.Request.Context(), models.TenantFilter{Search: c.Query("search"), IsActive: active, Hub: hub})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Tree handles GET /tenants/hierarchy.
func (h *Handler) Tree(c *gin.Context) {
	tree, err := h.svc.Tree(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tree)
}

// Get handles GET /tenants/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	d, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, d)
}

// Create handles POST /tenants.
func (h *Handler) Create(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var in CreateInput
	if !request.BindJSON(c, &in) {
		return
	}
	t, err := h.svc.Create(c.Request.Context(), actor, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, t)
}

// Update handles PUT /tenants/:id.
func (h *Handler) Update(c *gin.Context) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var in UpdateInput
	if !request.BindJSON(c, &in) {
		return
	}
	t, err := h.svc.Update(c.Request.Context(), actor, id, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, t)
}

// Move handles POST /tenants/:id/move.
func (h *Handler) Move(c *gin.Context) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req MoveRequest
	if !request.BindJSON(c, &req) {
		return
	}
	t, err := h.svc.Move(c.Request.Context(), actor, id, req.ParentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, t)
}

// ToggleHub handles POST /tenants/:id/toggle-hub.
func (h *Handler) ToggleHub(c *gin.Context) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req ToggleHubRequest
	if !request.BindJSON(c, &req) {
		return
	}
	t, err := h.svc.ToggleHub(c.Request.Context(), actor, id, req.Enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, t)
}

// Reactivate handles POST /tenants/:id/reactivate.
func (h *Handler) Reactivate(c *gin.Context) { h.setActive(c, true) }

// Deactivate handles POST /tenants/:id/deactivate.
func (h *Handler) Deactivate(c *gin.Context) { h.setActive(c, false) }

func (h *Handler) setActive(c *gin.Context, active bool) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	t, err := h.svc.SetActive(c.Request.Context(), actor, id, active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, t)
}

// Delete handles DELETE /tenants/:id. The first call returns a confirmation
// token; repeating it with the token deletes the tenant.
func (h *Handler) Delete(c *gin.Context) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req DeleteRequest
	if !request.BindOptionalJSON(c, &req) {
		return
	}
	var confirmed uuid.UUID
	proposal, err := h.confirm.Step(c.Request.Context(), actor, confirm.ActionDeleteTenant,
		request.ConfirmationToken(c, req.ConfirmationToken), id, &confirmed)
	if err != nil {
		response.Error(c, err)
		return
	}
	if proposal != nil {
		response.Accepted(c, proposal)
		return
	}
	if confirmed != id {
		response.BadRequest(c, "confirmation token was issued for another tenant")
		return
	}
	if err := h.svc.Delete(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
