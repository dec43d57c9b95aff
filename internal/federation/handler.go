package federation

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/confirm"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/request"
	"github.com/nexus-timebank/backend/pkg/response"
)

// LockdownRequest is the body for POST /federation/emergency-lockdown.
type LockdownRequest struct {
	Reason            string `json:"reason"`
	ConfirmationToken string `json:"confirmation_token"`
}

// WhitelistRequest is the body for POST /federation/whitelist.
type WhitelistRequest struct {
	TenantID uuid.UUID `json:"tenant_id" binding:"required"`
	Notes    string    `json:"notes"`
}

// FeaturesRequest is the body for PUT /federation/tenants/:id/features.
// Keys are feature names in short or column form.
type FeaturesRequest struct {
	Features map[string]bool `json:"features" binding:"required"`
}

// Handler handles federation HTTP endpoints.
type Handler struct {
	controls  *ControlsService
	whitelist *WhitelistService
	features  *FeatureService
	gate      *Gate
	confirm   *confirm.Broker
}

// NewHandler creates a federation handler.
func NewHandler(controls *ControlsService, whitelist *WhitelistService, features *FeatureService, gate *Gate, broker *confirm.Broker) *Handler {
	return &Handler{controls: controls, whitelist: whitelist, features: features, gate: gate, confirm: broker}
}

// GetControls handles GET /federation/system-controls.
func (h *Handler) GetControls(c *gin.Context) {
	ctrl, err := h.controls.Get(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ctrl)
}

// UpdateControls handles PUT /federation/system-controls.
func (h *Handler) UpdateControls(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var patch ControlsPatch
	if !request.BindJSON(c, &patch) {
		return
	}
	ctrl, err := h.controls.Update(c.Request.Context(), actor, patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ctrl)
}

// EmergencyLockdown handles POST /federation/emergency-lockdown. The first
// call returns a confirmation token; the reason is taken from that call.
func (h *Handler) EmergencyLockdown(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var req LockdownRequest
	if !request.BindOptionalJSON(c, &req) {
		return
	}
	var reason string
	proposal, err := h.confirm.Step(c.Request.Context(), actor, confirm.ActionEmergencyLockdown,
		request.ConfirmationToken(c, req.ConfirmationToken), req.Reason, &reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	if proposal != nil {
		response.Accepted(c, proposal)
		return
	}
	ctrl, err := h.controls.ActivateLockdown(c.Request.Context(), actor, reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ctrl)
}

// LiftLockdown handles POST /federation/lift-lockdown.
func (h *Handler) LiftLockdown(c *gin.Context) {
	actor, _ := auth.Actor(c)
	ctrl, err := h.controls.LiftLockdown(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ctrl)
}

// ListWhitelist handles GET /federation/whitelist.
func (h *Handler) ListWhitelist(c *gin.Context) {
	list, err := h.whitelist.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// AddToWhitelist handles POST /federation/whitelist.
func (h *Handler) AddToWhitelist(c *gin.Context) {
	actor, _ := auth.Actor(c)
	var req WhitelistRequest
	if !request.BindJSON(c, &req) {
		return
	}
	e, err := h.whitelist.Add(c.Request.Context(), actor, req.TenantID, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, e)
}

// RemoveFromWhitelist handles DELETE /federation/whitelist/:tenantId.
func (h *Handler) RemoveFromWhitelist(c *gin.Context) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "tenantId")
	if !ok {
		return
	}
	if err := h.whitelist.Remove(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GetFeatures handles GET /federation/tenants/:id/features.
func (h *Handler) GetFeatures(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	fs, err := h.features.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fs)
}

// UpdateFeatures handles PUT /federation/tenants/:id/features.
func (h *Handler) UpdateFeatures(c *gin.Context) {
	actor, _ := auth.Actor(c)
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req FeaturesRequest
	if !request.BindJSON(c, &req) {
		return
	}
	changes := make(map[models.Feature]bool, len(req.Features))
	for name, enabled := range req.Features {
		f, ok := models.ParseFeature(name)
		if !ok {
			response.Error(c, apperr.Wrap(apperr.ErrUnknownFeature, apperr.Validationf("%q", name)))
			return
		}
		changes[f] = enabled
	}
	fs, err := h.features.Update(c.Request.Context(), actor, id, changes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fs)
}

// EffectiveFeatures handles GET /federation/tenants/:id/effective-features.
func (h *Handler) EffectiveFeatures(c *gin.Context) {
	id, ok := request.UUIDParam(c, "id")
	if !ok {
		return
	}
	ef, err := h.gate.EffectiveFeatures(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ef)
}

// CheckCapability handles GET /federation/check?tenant_a=&tenant_b=&feature=.
func (h *Handler) CheckCapability(c *gin.Context) {
	a, err := uuid.Parse(c.Query("tenant_a"))
	if err != nil {
		response.BadRequest(c, "invalid tenant_a")
		return
	}
	b, err := uuid.Parse(c.Query("tenant_b"))
	if err != nil {
		response.BadRequest(c, "invalid tenant_b")
		return
	}
	f, ok := models.ParseFeature(c.Query("feature"))
	if !ok {
		response.Error(c, apperr.ErrUnknownFeature)
		return
	}
	capability, err := h.gate.Check(c.Request.Context(), a, b, f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, capability)
}
