package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/store/memory"
	"github.com/nexus-timebank/backend/internal/users"
)

var actor = uuid.New()

func seed(t *testing.T, db store.Store, hub bool, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		now := time.Now()
		tn := &models.Tenant{ID: id, Name: name, Slug: name, AllowsSubtenants: hub, IsActive: true, CreatedAt: now, UpdatedAt: now}
		if hub {
			tn.MaxDepth = 2
		}
		return tx.InsertTenant(ctx, tn)
	}))
	return id
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := users.NewService(db, nil, nil)
	tenant := seed(t, db, false, "town")

	u, err := svc.Create(ctx, actor, users.CreateInput{TenantID: tenant, Email: " Ada@Example.org ", Password: "correct horse", FirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", u.Email)
	assert.Equal(t, models.RoleMember, u.Role)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	_, err = svc.Create(ctx, actor, users.CreateInput{TenantID: tenant, Email: "ada@example.org", Password: "another one"})
	assert.ErrorIs(t, err, apperr.ErrDuplicateEmail)
	_, err = svc.Create(ctx, actor, users.CreateInput{TenantID: tenant, Email: "b@example.org", Password: "short"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = svc.Create(ctx, actor, users.CreateInput{TenantID: uuid.New(), Email: "c@example.org", Password: "long enough"})
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)

	got, err := svc.Authenticate(ctx, "ADA@example.org", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	_, err = svc.Authenticate(ctx, "ada@example.org", "wrong")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = svc.Authenticate(ctx, "nobody@example.org", "x")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func newUser(t *testing.T, db store.Store, tenant uuid.UUID, email string, tenantSA bool) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.New(), TenantID: tenant, Email: email, Role: models.RoleMember, IsTenantSuperAdmin: tenantSA}
	require.NoError(t, db.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertUser(ctx, u)
	}))
	return u
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := users.NewService(db, nil, nil)
	hub := seed(t, db, true, "hub")
	leaf := seed(t, db, false, "leaf")
	u := newUser(t, db, hub, "sa@hub.test", true)

	_, err := svc.Move(ctx, actor, u.ID, leaf, true)
	assert.ErrorIs(t, err, apperr.ErrTargetNotHub)

	moved, err := svc.Move(ctx, actor, u.ID, leaf, false)
	require.NoError(t, err)
	assert.Equal(t, leaf, moved.TenantID)
	assert.False(t, moved.IsTenantSuperAdmin, "non-hub target drops tenant super admin")

	moved, err = svc.Move(ctx, actor, u.ID, hub, true)
	require.NoError(t, err)
	assert.True(t, moved.IsTenantSuperAdmin)
	assert.Equal(t, models.RoleTenantAdmin, moved.Role)

	_, err = svc.Move(ctx, actor, uuid.New(), hub, false)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
	_, err = svc.Move(ctx, actor, u.ID, uuid.New(), false)
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)

	page, err := audit.NewService(db).List(ctx, models.AuditFilter{ActionType: string(audit.ActionUserMoved)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestTenantSuperAdmin(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := users.NewService(db, nil, nil)
	hub := seed(t, db, true, "hub")
	leaf := seed(t, db, false, "leaf")
	onLeaf := newUser(t, db, leaf, "m@leaf.test", false)
	onHub := newUser(t, db, hub, "m@hub.test", false)

	_, err := svc.SetTenantSuperAdmin(ctx, actor, onLeaf.ID, true)
	assert.ErrorIs(t, err, apperr.ErrTargetNotHub)

	u, err := svc.SetTenantSuperAdmin(ctx, actor, onHub.ID, true)
	require.NoError(t, err)
	assert.True(t, u.IsTenantSuperAdmin)
	assert.Equal(t, models.RoleTenantAdmin, u.EffectiveRole())

	_, err = svc.SetTenantSuperAdmin(ctx, actor, onHub.ID, true)
	require.NoError(t, err)
	u, err = svc.SetTenantSuperAdmin(ctx, actor, onHub.ID, false)
	require.NoError(t, err)
	assert.False(t, u.IsTenantSuperAdmin)

	page, err := audit.NewService(db).List(ctx, models.AuditFilter{Category: string(audit.CategoryUser)})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2, "repeated grant is a no-op")
	assert.Equal(t, string(audit.ActionSuperAdminRevoked), page.Entries[0].ActionType)
	assert.Equal(t, string(audit.ActionSuperAdminGranted), page.Entries[1].ActionType)
}

func TestGlobalSuperAdmin(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := users.NewService(db, nil, nil)
	tenant := seed(t, db, false, "town")
	u := newUser(t, db, tenant, "x@town.test", false)

	got, err := svc.SetGlobalSuperAdmin(ctx, actor, u.ID, true)
	require.NoError(t, err)
	assert.True(t, got.IsGlobalSuperAdmin)
	assert.Equal(t, models.RoleSuperAdmin, got.EffectiveRole())

	_, err = svc.SetGlobalSuperAdmin(ctx, u.ID, u.ID, false)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err = svc.SetGlobalSuperAdmin(ctx, actor, u.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsGlobalSuperAdmin)

	page, err := audit.NewService(db).List(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, string(audit.SeverityCritical), page.Entries[0].Severity)

	list, err := svc.List(ctx, models.UserFilter{Search: "town"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func ptr[T any](v T) *T { return &v }

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := users.NewService(db, nil, nil)
	tenant := seed(t, db, false, "town")
	u := newUser(t, db, tenant, "ann@town.test", false)
	newUser(t, db, tenant, "bob@town.test", false)

	got, err := svc.Update(ctx, actor, u.ID, users.UpdateInput{
		FirstName: ptr(" Ann "),
		LastName:  ptr("Hart"),
		Email:     ptr("ANN.HART@town.test"),
		Role:      ptr(models.RoleTenantAdmin),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.FirstName)
	assert.Equal(t, "ann.hart@town.test", got.Email)
	assert.Equal(t, models.RoleTenantAdmin, got.Role)

	_, err = svc.Update(ctx, actor, u.ID, users.UpdateInput{Email: ptr("Bob@town.test")})
	assert.ErrorIs(t, err, apperr.ErrDuplicateEmail)
	_, err = svc.Update(ctx, actor, u.ID, users.UpdateInput{Email: ptr("not-an-email")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = svc.Update(ctx, actor, u.ID, users.UpdateInput{Role: ptr(models.RoleGod)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = svc.Update(ctx, actor, uuid.New(), users.UpdateInput{FirstName: ptr("x")})
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	// Same values again change nothing and record nothing.
	_, err = svc.Update(ctx, actor, u.ID, users.UpdateInput{FirstName: ptr("Ann"), Email: ptr("ann.hart@town.test")})
	require.NoError(t, err)

	page, err := audit.NewService(db).List(ctx, models.AuditFilter{ActionType: string(audit.ActionUserUpdated)})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	e := page.Entries[0]
	assert.Equal(t, "ann@town.test", e.TargetLabel)
	assert.JSONEq(t, `{"first_name":"","last_name":"","email":"ann@town.test","role":"member"}`, string(e.OldValue))
	assert.JSONEq(t, `{"first_name":"Ann","last_name":"Hart","email":"ann.hart@town.test","role":"tenant_admin"}`, string(e.NewValue))

	stored, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann.hart@town.test", stored.Email)
}

func TestUpdate_KeepsSuperAdminRole(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := users.NewService(db, nil, nil)
	tenant := seed(t, db, false, "town")
	u := &models.User{ID: uuid.New(), TenantID: tenant, Email: "root@town.test", Role: models.RoleSuperAdmin}
	require.NoError(t, db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error { return tx.InsertUser(ctx, u) }))

	_, err := svc.Update(ctx, actor, u.ID, users.UpdateInput{Role: ptr(models.RoleMember)})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := svc.Update(ctx, actor, u.ID, users.UpdateInput{LastName: ptr("Admin")})
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, got.Role)
}
