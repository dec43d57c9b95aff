package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/store/postgres"
	"github.com/nexus-timebank/backend/pkg/database"
)

func startPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: needs docker")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("timebank"),
		tcpostgres.WithUsername("timebank"),
		tcpostgres.WithPassword("timebank"),
		tcpostgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if container != nil {
			assert.NoError(t, container.Terminate(context.Background()))
		}
	})
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewPostgresPool(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	// Migrations are re-runnable.
	require.NoError(t, database.Migrate(ctx, pool))

	return postgres.New(pool, zap.NewNop())
}

func tenant(name string, parent *uuid.UUID) *models.Tenant {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Tenant{ID: uuid.New(), Name: name, Slug: name, ParentID: parent, IsActive: true,
		AllowsSubtenants: parent == nil, MaxDepth: 2, CreatedAt: now, UpdatedAt: now}
}

func TestStore_RoundTrip(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	hub := tenant("hub", nil)
	child := tenant("child", &hub.ID)
	err := store.Atomic(ctx, s, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertTenant(ctx, hub))
		require.NoError(t, tx.InsertTenant(ctx, child))
		require.ErrorIs(t, tx.InsertTenant(ctx, tenant("hub", nil)), store.ErrDuplicate)
		return nil
	})
	// The duplicate insert aborts the postgres transaction.
	require.Error(t, err)

	require.NoError(t, store.Atomic(ctx, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTenant(ctx, hub); err != nil {
			return err
		}
		return tx.InsertTenant(ctx, child)
	}))

	require.NoError(t, store.Atomic(ctx, s, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetTenant(ctx, child.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ParentID)
		assert.Equal(t, hub.ID, *got.ParentID)

		list, err := tx.ListTenants(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
		return nil
	}))
}

func TestStore_ControlsVersion(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, store.Atomic(ctx, s, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetControls(ctx)
		require.NoError(t, err)
		v := c.Version
		c.IsLockedDown = true
		c.LockdownReason = "Emergency lockdown"
		c.UpdatedAt = time.Now()
		require.NoError(t, tx.SaveControls(ctx, c, v))
		assert.Equal(t, v+1, c.Version)
		assert.ErrorIs(t, tx.SaveControls(ctx, c, v), store.ErrConflict)
		return nil
	}))
}

func TestStore_PartnershipsAndAudit(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	a, b := tenant("a", nil), tenant("b", nil)
	t1, t2 := store.OrderedPair(a.ID, b.ID)
	now := time.Now()
	actor := &models.User{ID: uuid.New(), TenantID: a.ID, Email: "ada@example.org", FirstName: "Ada", LastName: "Lovelace",
		Role: models.RoleSuperAdmin, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, store.Atomic(ctx, s, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertTenant(ctx, a))
		require.NoError(t, tx.InsertTenant(ctx, b))
		require.NoError(t, tx.InsertUser(ctx, actor))
		p := &models.Partnership{ID: uuid.New(), Tenant1ID: t1, Tenant2ID: t2, Status: models.PartnershipActive,
			CreatedAt: now, UpdatedAt: now}
		require.NoError(t, tx.InsertPartnership(ctx, p))
		require.NoError(t, tx.InsertWhitelistEntry(ctx, &models.WhitelistEntry{TenantID: a.ID, ApprovedAt: now}))
		fs := &models.TenantFeatureSet{TenantID: a.ID, UpdatedAt: now}
		fs.Messaging = true
		require.NoError(t, tx.SaveFeatureSet(ctx, fs))
		for _, action := range []string{"tenant_created", "federation_partnership_create"} {
			e := &models.AuditEntry{ID: uuid.New(), ActionType: action, TargetType: models.TargetFederation,
				ActorID: actor.ID, CreatedAt: now, NewValue: []byte(`{"ok":true}`)}
			require.NoError(t, tx.AppendAudit(ctx, e))
			assert.Positive(t, e.Seq)
		}
		return nil
	}))

	require.NoError(t, store.Atomic(ctx, s, func(ctx context.Context, tx store.Tx) error {
		ps, err := tx.ListPartnerships(ctx, models.PartnershipFilter{TenantID: &a.ID})
		require.NoError(t, err)
		require.Len(t, ps, 1)
		assert.NotEmpty(t, ps[0].Tenant1Name)

		e, err := tx.GetWhitelistEntry(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "a", e.TenantName)

		fs, err := tx.GetFeatureSet(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, fs.Messaging)

		entries, total, err := tx.ListAudit(ctx, store.AuditQuery{ActionTypes: []string{"tenant_created"}, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.JSONEq(t, `{"ok":true}`, string(entries[0].NewValue))
		assert.Equal(t, "Ada Lovelace", entries[0].ActorName)
		assert.Equal(t, "ada@example.org", entries[0].ActorEmail)

		entries, total, err = tx.ListAudit(ctx, store.AuditQuery{BeforeSeq: entries[0].Seq + 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "tenant_created", entries[0].ActionType)

		counts, err := tx.AuditActionCounts(ctx, store.AuditQuery{})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"tenant_created": 1, "federation_partnership_create": 1}, counts)
		return nil
	}))
}
