package bootstrap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/bootstrap"
	"github.com/nexus-timebank/backend/internal/hierarchy"
	"github.com/nexus-timebank/backend/internal/store/memory"
	"github.com/nexus-timebank/backend/internal/users"
)

const seedYAML = `
master:
  name: Nexus Platform
  slug: nexus
  domain: Admin.Nexus.Example
god:
  email: Owner@Nexus.Example
  password: ${SEED_GOD_PASSWORD}
  first_name: Platform
  last_name: Owner
tenants:
  - name: North Hub
    slug: north
    parent: nexus
    hub: true
  - name: Harbour Timebank
    slug: harbour
    parent: north
whitelist:
  - north
`

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))
	return path
}

func TestLoadAndApply(t *testing.T) {
	ctx := context.Background()
	t.Setenv("SEED_GOD_PASSWORD", "correct horse battery")
	seed, err := bootstrap.Load(writeSeed(t))
	require.NoError(t, err)
	assert.Equal(t, hierarchy.MaxHubDepth, seed.Master.MaxDepth)

	db := memory.New()
	res, err := bootstrap.Apply(ctx, db, seed, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"north", "harbour"}, res.CreatedTenants)
	assert.Equal(t, []string{"north"}, res.Whitelisted)

	tenants := hierarchy.NewService(db, nil, nil)
	master, err := tenants.Get(ctx, res.MasterID)
	require.NoError(t, err)
	assert.True(t, master.Tenant.IsProtected)
	assert.True(t, master.Tenant.IsHub())
	require.NotNil(t, master.Tenant.Domain)
	assert.Equal(t, "admin.nexus.example", *master.Tenant.Domain)

	err = tenants.Delete(ctx, res.GodID, res.MasterID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	god, err := users.NewService(db, nil, nil).Authenticate(ctx, "owner@nexus.example", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, res.GodID, god.ID)
	assert.True(t, god.IsGlobalSuperAdmin)

	again, err := bootstrap.Apply(ctx, db, seed, nil)
	require.NoError(t, err)
	assert.Equal(t, res.MasterID, again.MasterID)
	assert.Equal(t, res.GodID, again.GodID)
	assert.Empty(t, again.CreatedTenants)
	assert.Empty(t, again.Whitelisted)
}

func TestParse_Rejects(t *testing.T) {
	_, err := bootstrap.Parse([]byte("master: {name: X}\n"))
	assert.Error(t, err)

	_, err = bootstrap.Parse([]byte("master: {name: X, slug: x}\ngod: {email: a@b.c, password: short}\n"))
	assert.ErrorContains(t, err, "god password")

	_, err = bootstrap.Parse([]byte("master: [\n"))
	assert.Error(t, err)
}
