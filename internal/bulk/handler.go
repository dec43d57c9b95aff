package bulk

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/request"
	"github.com/nexus-timebank/backend/pkg/response"
)

// MoveUsersRequest is the body for POST /bulk/move-users.
type MoveUsersRequest struct {
	UserIDs         []uuid.UUID `json:"user_ids" binding:"required"`
	TargetTenantID  uuid.UUID   `json:"target_tenant_id" binding:"required"`
	GrantSuperAdmin bool        `json:"grant_super_admin"`
}

// UpdateTenantsRequest is the body for POST /bulk/update-tenants.
type UpdateTenantsRequest struct {
	TenantIDs []uuid.UUID `json:"tenant_ids" binding:"required"`
	Action    string      `json:"action" binding:"required"`
}

// Handler handles bulk HTTP endpoints.
type Handler struct {
	exec *Executor
}

// NewHandler creates a bulk handler.
func NewHandler(exec *Executor) *Handler {
	return &Handler{exec: exec}
}

// respond answers 200 when every item succeeded and 207 otherwise.
func respond(c *gin.Context, res *models.BulkResult, err error) {
	if err != nil && res == nil {
		response.Error(c, err)
		return
	}
	if err != nil {
		_ = c.Error(err)
	}
	if res.FailedCount > 0 {
		response.MultiStatus(c, res)
		return
	}
	response.OK(c, res)
}

// MoveUsers handles POST /bulk/move-users.
func (h *Handler) MoveUsers(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var req MoveUsersRequest
	if !request.BindJSON(c, &req) {
		return
	}
	res, err := h.exec.MoveUsers(c.Request.Context(), actor, req.UserIDs, req.TargetTenantID, req.GrantSuperAdmin)
	respond(c, res, err)
}

// UpdateTenants handles POST /bulk/update-tenants.
func (h *Handler) UpdateTenants(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var req UpdateTenantsRequest
	if !request.BindJSON(c, &req) {
		return
	}
	action, err := ParseTenantAction(req.Action)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.exec.UpdateTenants(c.Request.Context(), actor, req.TenantIDs, action)
	respond(c, res, err)
}

// SelectableTenants handles GET /bulk/selectable-tenants.
func (h *Handler) SelectableTenants(c *gin.Context) {
	ids, err := h.exec.SelectableTenantIDs(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ids)
}
