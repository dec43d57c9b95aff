package audit

import (
	"github.com/gin-gonic/gin"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/request"
	"github.com/nexus-timebank/backend/pkg/response"
)

// Handler serves the audit log.
type Handler struct {
	svc *Service
}

// NewHandler creates an audit handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ParseFilter reads the audit filter from the query string. On failure it
// writes a 400 and returns false.
func ParseFilter(c *gin.Context) (models.AuditFilter, bool) {
	from, ok := request.OptionalTimeQuery(c, "from")
	if !ok {
		return models.AuditFilter{}, false
	}
	to, ok := request.OptionalTimeQuery(c, "to")
	if !ok {
		return models.AuditFilter{}, false
	}
	return models.AuditFilter{
		Search:     c.Query("search"),
		ActionType: c.Query("action_type"),
		TargetType: c.Query("target_type"),
		Category:   c.Query("category"),
		Severity:   c.Query("severity"),
		From:       from,
		To:         to,
		Page:       request.IntQuery(c, "page", 1),
		Limit:      request.IntQuery(c, "limit", defaultLimit),
	}, true
}

// List handles GET /audit.
func (h *Handler) List(c *gin.Context) {
	f, ok := ParseFilter(c)
	if !ok {
		return
	}
	page, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, page)
}

// Categories handles GET /audit/categories.
func (h *Handler) Categories(c *gin.Context) {
	response.OK(c, gin.H{
		"categories":   Categories(),
		"severities":   []Severity{SeverityInfo, SeverityWarning, SeverityCritical},
		"action_types": AllActions(),
	})
}

// Stats handles GET /audit/stats?days=30.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context(), request.IntQuery(c, "days", defaultStatsDays))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// RecentCritical handles GET /audit/critical?limit=10.
func (h *Handler) RecentCritical(c *gin.Context) {
	entries, err := h.svc.RecentCritical(c.Request.Context(), request.IntQuery(c, "limit", defaultCriticalLimit))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, entries)
}
