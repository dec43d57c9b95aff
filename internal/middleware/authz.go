package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/pkg/authz"
	"github.com/nexus-timebank/backend/pkg/response"
)

// ContextSubject holds the policy subject derived from the session role.
const ContextSubject = "authz_subject"

// TokenValidator turns a bearer token into session claims.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

var (
	errNoCredentials = errors.New("missing authorization header")
	errBadScheme     = errors.New("invalid authorization header")
)

func bearer(header string) (string, error) {
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// Authenticate resolves the bearer session into the actor, role and policy
// subject that Authorize and the handlers read back from the context.
func Authenticate(tokens TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	reject := func(c *gin.Context, msg string) {
		c.Header("WWW-Authenticate", `Bearer realm="console"`)
		response.Unauthorized(c, msg)
		c.Abort()
	}
	return func(c *gin.Context) {
		token, err := bearer(c.GetHeader("Authorization"))
		if err != nil {
			reject(c, err.Error())
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			reject(c, "invalid or expired token")
			return
		}
		// The registered subject must name the same user as the session claims.
		if claims.Subject != claims.UserID.String() || strings.TrimSpace(claims.Role) == "" {
			logger.Warn("session claims mismatch",
				zap.String("sub", claims.Subject),
				zap.String("user_id", claims.UserID.String()),
				zap.String("path", c.FullPath()))
			reject(c, "invalid or expired token")
			return
		}
		auth.SetClaims(c, claims)
		c.Set(ContextSubject, authz.SubjectFromRole(claims.Role))
		c.Next()
	}
}

// Subject returns the policy subject set by Authenticate.
func Subject(c *gin.Context) string {
	v, _ := c.Get(ContextSubject)
	s, _ := v.(string)
	return s
}

// Authorize returns a middleware that checks the session role against object
// and action. In shadow mode denials are logged and the request proceeds.
func Authorize(a *authz.Authorizer, logger *zap.Logger, object, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		role := auth.Role(c)
		allowed, enforced, err := a.Authorize(role, object, action)
		if err != nil {
			logger.Error("authz error", zap.Error(err), zap.String("object", object), zap.String("action", action))
			response.Internal(c, "authorization failed")
			c.Abort()
			return
		}
		if !allowed {
			if !enforced {
				logger.Warn("authz shadow deny",
					zap.String("subject", authz.SubjectFromRole(role)),
					zap.String("object", object),
					zap.String("action", action),
					zap.String("path", c.FullPath()))
				c.Next()
				return
			}
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
