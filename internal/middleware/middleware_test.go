package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-timebank/backend/internal/auth"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/authz"
)

func router(t *testing.T, jwtSvc *auth.JWTService, mode authz.Mode) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := authz.New(mode)
	require.NoError(t, err)
	r := gin.New()
	r.Use(CORS([]string{"https://console.example"}))
	g := r.Group("/", Authenticate(jwtSvc, nil))
	g.GET("/tenants", Authorize(a, nil, authz.ObjectTenants, authz.ActionRead), func(c *gin.Context) {
		id, _ := auth.Actor(c)
		c.String(http.StatusOK, id.String())
	})
	g.POST("/super-admins", Authorize(a, nil, authz.ObjectSuperAdmins, authz.ActionAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func token(t *testing.T, svc *auth.JWTService, role models.Role) (string, uuid.UUID) {
	t.Helper()
	u := &models.User{ID: uuid.New(), TenantID: uuid.New(), Email: "a@example.org", Role: role}
	tok, _, err := svc.Generate(u)
	require.NoError(t, err)
	return tok, u.ID
}

func do(r http.Handler, method, path, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndAuthorize(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := router(t, svc, authz.ModeEnforce)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/tenants", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/tenants", "garbage").Code)

	other, _ := token(t, auth.NewJWTService("other-secret", 1), models.RoleSuperAdmin)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/tenants", other).Code)

	sa, id := token(t, svc, models.RoleSuperAdmin)
	w := do(r, http.MethodGet, "/tenants", sa)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/super-admins", sa).Code)

	god, _ := token(t, svc, models.RoleGod)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/super-admins", god).Code)

	member, _ := token(t, svc, models.RoleMember)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/tenants", member).Code)
}

type staticTokens map[string]*auth.Claims

func (s staticTokens) Validate(token string) (*auth.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

func TestAuthenticate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.New()
	tokens := staticTokens{
		"good":     {UserID: id, Role: "super_admin", RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()}},
		"mismatch": {UserID: id, Role: "super_admin", RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}},
		"no-role":  {UserID: id, RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()}},
	}
	r := gin.New()
	r.GET("/me", Authenticate(tokens, nil), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "role:super_admin", w.Body.String())

	for name, header := range map[string]string{
		"missing":  "",
		"scheme":   "Basic good",
		"empty":    "Bearer ",
		"unknown":  "Bearer nope",
		"mismatch": "Bearer mismatch",
		"no role":  "Bearer no-role",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestAuthorize_ShadowLetsThrough(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := router(t, svc, authz.ModeShadow)
	member, _ := token(t, svc, models.RoleMember)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/tenants", member).Code)
}

func TestCORS(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := router(t, svc, authz.ModeEnforce)

	req := httptest.NewRequest(http.MethodOptions, "/tenants", nil)
	req.Header.Set("Origin", "https://console.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://console.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/tenants", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
