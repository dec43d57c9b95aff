package users

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/confirm"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/request"
	"github.com/nexus-timebank/backend/pkg/response"
)

// MoveRequest is the body for POST /users/:id/move.
type MoveRequest struct {
	TenantID        uuid.UUID `json:"tenant_id" binding:"required"`
	GrantSuperAdmin bool      `json:"grant_super_admin"`
}

// ConfirmRequest carries the confirmation token of a two-step action.
type ConfirmRequest struct {
	ConfirmationToken string `json:"confirmation_token"`
}

func publicList(list []*models.User) []models.UserPublic {
	out := make([]models.UserPublic, 0, len(list))
	for _, u := range list {
		out = append(out, u.ToPublic())
	}
	return out
}

// Handler handles user HTTP endpoints.
type Handler struct {
	svc     *Service
	confirm *confirm.Broker
}

// NewHandler creates a user handler.
func NewHandler(svc *Service, broker *confirm.Broker) *Handler {
	return &Handler{svc: svc, confirm: broker}
}

// List handles GET /users.
func (h *Handler) List(c *gin.Context) {
	tenantID, ok := request.OptionalUUIDQuery(c, "tenant_id")
	if !ok {
		return
	}
	list, err := h.svc.List(c.Request.Context(), models.UserFilter{TenantID: tenantID, Search: c.Query("search")})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, publicList(list))
}

// Get handles GET /users/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	u, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, u.ToPublic())
}

// Create handles POST /users.
func (h *Handler) Create(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var in CreateInput
	if !request.BindJSON(c, &in) {
		return
	}
	u, err := h.svc.Create(c.Request.Context(), actor, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, u.ToPublic())
}

// Update handles PUT /users/:id.
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
	u, err := h.svc.Update(c.Request.Context(), actor, id, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, u.ToPublic())
}

// Move handles POST /users/:id/move.
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
	u, err := h.svc.Move(c.Request.Context(), actor, id, req.TenantID, req.GrantSuperAdmin)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, u.ToPublic())
}

// GrantSuperAdmin handles POST /users/:id/super-admin/grant.
func (h *Handler) GrantSuperAdmin(c *gin.Context) { h.setTenantSuperAdmin(c, true) }

// RevokeSuperAdmin handles POST /users/:id/super-admin/revoke.
func (h *Handler) RevokeSuperAdmin(c *gin.Context) { h.setTenantSuperAdmin(c, false) }

func (h *Handler) setTenantSuperAdmin(c *gin.Context, enabled bool) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	u, err := h.svc.SetTenantSuperAdmin(c.Request.Context(), actor, id, enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, u.ToPublic())
}

// GrantGlobalSuperAdmin handles POST /users/:id/global-super-admin/grant (two-step).
func (h *Handler) GrantGlobalSuperAdmin(c *gin.Context) {
	h.setGlobalSuperAdmin(c, true, confirm.ActionGrantGlobalSuperAdmin)
}

// RevokeGlobalSuperAdmin handles POST /users/:id/global-super-admin/revoke (two-step).
func (h *Handler) RevokeGlobalSuperAdmin(c *gin.Context) {
	h.setGlobalSuperAdmin(c, false, confirm.ActionRevokeGlobalSuperAdmin)
}

func (h *Handler) setGlobalSuperAdmin(c *gin.Context, enabled bool, action confirm.Action) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req ConfirmRequest
	if !request.BindOptionalJSON(c, &req) {
		return
	}
	var target uuid.UUID
	proposal, err := h.confirm.Step(c.Request.Context(), actor, action,
		request.ConfirmationToken(c, req.ConfirmationToken), id, &target)
	if err != nil {
		response.Error(c, err)
		return
	}
	if proposal != nil {
		response.Accepted(c, proposal)
		return
	}
	if target != id {
		response.BadRequest(c, "confirmation token was issued for another user")
		return
	}
	u, err := h.svc.SetGlobalSuperAdmin(c.Request.Context(), actor, id, enabled)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, u.ToPublic())
}
