// Package server assembles the admin HTTP surface.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/bulk"
	"github.com/nexus-timebank/backend/internal/confirm"
	"github.com/nexus-timebank/backend/internal/dashboard"
	"github.com/nexus-timebank/backend/internal/events"
	"github.com/nexus-timebank/backend/internal/exports"
	"github.com/nexus-timebank/backend/internal/federation"
	"github.com/nexus-timebank/backend/internal/hierarchy"
	"github.com/nexus-timebank/backend/internal/metrics"
	"github.com/nexus-timebank/backend/internal/middleware"
	"github.com/nexus-timebank/backend/internal/partnerships"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/users"
	"github.com/nexus-timebank/backend/pkg/authz"
	"github.com/nexus-timebank/backend/pkg/response"
)

// BasePath prefixes every console endpoint.
const BasePath = "/api/v2/admin/super"

// Deps are the shared components the router is built from.
type Deps struct {
	Store       store.Store
	Publisher   events.Publisher
	Hub         *events.Hub
	Broker      *confirm.Broker
	Exports     *exports.Service
	JWT         *auth.JWTService
	Authz       *authz.Authorizer
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter wires services and handlers onto a gin engine.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := d.Publisher
	if pub == nil {
		pub = events.Nop{}
	}

	hierarchySvc := hierarchy.NewService(d.Store, pub, logger)
	usersSvc := users.NewService(d.Store, pub, logger)
	controlsSvc := federation.NewControlsService(d.Store, pub, logger)
	whitelistSvc := federation.NewWhitelistService(d.Store, pub, logger)
	featureSvc := federation.NewFeatureService(d.Store, pub, logger)
	gate := federation.NewGate(d.Store)
	partnershipSvc := partnerships.NewService(d.Store, pub, logger)
	auditSvc := audit.NewService(d.Store)
	dashboardSvc := dashboard.NewService(d.Store)

	var observer bulk.Observer
	if d.Metrics != nil {
		observer = d.Metrics
	}
	executor := bulk.NewExecutor(d.Store, pub, logger, observer)

	authHandler := auth.NewHandler(usersSvc, d.JWT, logger)
	hierarchyHandler := hierarchy.NewHandler(hierarchySvc, d.Broker)
	usersHandler := users.NewHandler(usersSvc, d.Broker)
	bulkHandler := bulk.NewHandler(executor)
	federationHandler := federation.NewHandler(controlsSvc, whitelistSvc, featureSvc, gate, d.Broker)
	partnershipHandler := partnerships.NewHandler(partnershipSvc)
	auditHandler := audit.NewHandler(auditSvc)
	dashboardHandler := dashboard.NewHandler(dashboardSvc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.CORSOrigins))
	router.Use(middleware.Logger(logger))
	if d.Metrics != nil {
		router.Use(d.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	if d.Hub != nil {
		wsAuth := func(token string) (uuid.UUID, string, error) {
			claims, err := d.JWT.Validate(token)
			if err != nil {
				return uuid.Nil, "", err
			}
			return claims.UserID, claims.Role, nil
		}
		allow := func(role string) bool {
			ok, enforced, err := d.Authz.Authorize(role, authz.ObjectEvents, authz.ActionRead)
			return err == nil && (ok || !enforced)
		}
		router.GET("/ws", events.ServeWs(d.Hub, logger, wsAuth, allow))
	}

	guard := func(object, action string) gin.HandlerFunc {
		return middleware.Authorize(d.Authz, logger, object, action)
	}

	base := router.Group(BasePath)
	base.POST("/auth/login", authHandler.Login)

	api := base.Group("")
	api.Use(middleware.Authenticate(d.JWT, logger))
	{
		api.GET("/auth/me", authHandler.Me)

		api.GET("/dashboard", guard(authz.ObjectDashboard, authz.ActionRead), dashboardHandler.Stats)

		// Tenants
		api.GET("/tenants", guard(authz.ObjectTenants, authz.ActionRead), hierarchyHandler.List)
		api.GET("/tenants/hierarchy", guard(authz.ObjectTenants, authz.ActionRead), hierarchyHandler.Tree)
		api.GET("/tenants/:id", guard(authz.ObjectTenants, authz.ActionRead), hierarchyHandler.Get)
		api.POST("/tenants", guard(authz.ObjectTenants, authz.ActionAdmin), hierarchyHandler.Create)
		api.PUT("/tenants/:id", guard(authz.ObjectTenants, authz.ActionAdmin), hierarchyHandler.Update)
		api.POST("/tenants/:id/move", guard(authz.ObjectTenants, authz.ActionAdmin), hierarchyHandler.Move)
		api.POST("/tenants/:id/toggle-hub", guard(authz.ObjectTenants, authz.ActionAdmin), hierarchyHandler.ToggleHub)
		api.POST("/tenants/:id/reactivate", guard(authz.ObjectTenants, authz.ActionAdmin), hierarchyHandler.Reactivate)
		api.POST("/tenants/:id/deactivate", guard(authz.ObjectTenants, authz.ActionAdmin), hierarchyHandler.Deactivate)
		api.DELETE("/tenants/:id", guard(authz.ObjectTenants, authz.ActionAdmin), hierarchyHandler.Delete)

		// Tenant features
		api.GET("/federation/tenants/:id/features", guard(authz.ObjectFederation, authz.ActionRead), federationHandler.GetFeatures)
		api.PUT("/federation/tenants/:id/features", guard(authz.ObjectFederation, authz.ActionAdmin), federationHandler.UpdateFeatures)
		api.GET("/federation/tenants/:id/effective-features", guard(authz.ObjectFederation, authz.ActionRead), federationHandler.EffectiveFeatures)

		// Users
		api.GET("/users", guard(authz.ObjectUsers, authz.ActionRead), usersHandler.List)
		api.GET("/users/:id", guard(authz.ObjectUsers, authz.ActionRead), usersHandler.Get)
		api.POST("/users", guard(authz.ObjectUsers, authz.ActionAdmin), usersHandler.Create)
		api.PUT("/users/:id", guard(authz.ObjectUsers, authz.ActionAdmin), usersHandler.Update)
		api.POST("/users/:id/move", guard(authz.ObjectUsers, authz.ActionAdmin), usersHandler.Move)
		api.POST("/users/:id/super-admin/grant", guard(authz.ObjectUsers, authz.ActionAdmin), usersHandler.GrantSuperAdmin)
		api.POST("/users/:id/super-admin/revoke", guard(authz.ObjectUsers, authz.ActionAdmin), usersHandler.RevokeSuperAdmin)
		api.POST("/users/:id/global-super-admin/grant", guard(authz.ObjectSuperAdmins, authz.ActionAdmin), usersHandler.GrantGlobalSuperAdmin)
		api.POST("/users/:id/global-super-admin/revoke", guard(authz.ObjectSuperAdmins, authz.ActionAdmin), usersHandler.RevokeGlobalSuperAdmin)

		// Bulk
		api.GET("/bulk/selectable-tenants", guard(authz.ObjectBulk, authz.ActionAdmin), bulkHandler.SelectableTenants)
		api.POST("/bulk/move-users", guard(authz.ObjectBulk, authz.ActionAdmin), bulkHandler.MoveUsers)
		api.POST("/bulk/update-tenants", guard(authz.ObjectBulk, authz.ActionAdmin), bulkHandler.UpdateTenants)

		// Audit
		api.GET("/audit", guard(authz.ObjectAudit, authz.ActionRead), auditHandler.List)
		api.GET("/audit/categories", guard(authz.ObjectAudit, authz.ActionRead), auditHandler.Categories)
		api.GET("/audit/stats", guard(authz.ObjectAudit, authz.ActionRead), auditHandler.Stats)
		api.GET("/audit/critical", guard(authz.ObjectAudit, authz.ActionRead), auditHandler.RecentCritical)
		if d.Exports != nil {
			exportHandler := exports.NewHandler(d.Exports)
			api.POST("/audit/exports", guard(authz.ObjectAudit, authz.ActionExport), exportHandler.Request)
			api.GET("/audit/exports/:id", guard(authz.ObjectAudit, authz.ActionExport), exportHandler.Status)
		}

		// Federation
		api.GET("/federation", guard(authz.ObjectFederation, authz.ActionRead), dashboardHandler.Federation)
		api.GET("/federation/system-controls", guard(authz.ObjectFederation, authz.ActionRead), federationHandler.GetControls)
		api.PUT("/federation/system-controls", guard(authz.ObjectFederation, authz.ActionAdmin), federationHandler.UpdateControls)
		api.POST("/federation/emergency-lockdown", guard(authz.ObjectFederation, authz.ActionAdmin), federationHandler.EmergencyLockdown)
		api.POST("/federation/lift-lockdown", guard(authz.ObjectFederation, authz.ActionAdmin), federationHandler.LiftLockdown)
		api.GET("/federation/whitelist", guard(authz.ObjectFederation, authz.ActionRead), federationHandler.ListWhitelist)
		api.POST("/federation/whitelist", guard(authz.ObjectFederation, authz.ActionAdmin), federationHandler.AddToWhitelist)
		api.DELETE("/federation/whitelist/:tenantId", guard(authz.ObjectFederation, authz.ActionAdmin), federationHandler.RemoveFromWhitelist)
		api.GET("/federation/check", guard(authz.ObjectFederation, authz.ActionRead), federationHandler.CheckCapability)

		// Partnerships
		api.GET("/federation/partnerships", guard(authz.ObjectFederation, authz.ActionRead), partnershipHandler.List)
		api.GET("/federation/partnerships/stats", guard(authz.ObjectFederation, authz.ActionRead), partnershipHandler.Stats)
		api.GET("/federation/partnerships/:id", guard(authz.ObjectFederation, authz.ActionRead), partnershipHandler.Get)
		api.POST("/federation/partnerships", guard(authz.ObjectFederation, authz.ActionAdmin), partnershipHandler.Create)
		api.POST("/federation/partnerships/:id/suspend", guard(authz.ObjectFederation, authz.ActionAdmin), partnershipHandler.Suspend)
		api.POST("/federation/partnerships/:id/terminate", guard(authz.ObjectFederation, authz.ActionAdmin), partnershipHandler.Terminate)
		api.POST("/federation/partnerships/:id/reactivate", guard(authz.ObjectFederation, authz.ActionAdmin), partnershipHandler.Reactivate)
	}

	return router
}
