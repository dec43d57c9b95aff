package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/store/memory"
)

func newTenant(name string) *models.Tenant {
	now := time.Now()
	return &models.Tenant{ID: uuid.New(), Name: name, Slug: name, IsActive: true, CreatedAt: now, UpdatedAt: now}
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	tn := newTenant("alpha")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertTenant(ctx, tn))
		require.NoError(t, tx.AppendAudit(ctx, &models.AuditEntry{ID: uuid.New(), ActionType: "tenant_created"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetTenant(ctx, tn.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		n, err := tx.CountAudit(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTx_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	tn := newTenant("alpha")

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTenant(ctx, tn)
	}))
	tn.Name = "mutated outside"

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetTenant(ctx, tn.ID)
		require.NoError(t, err)
		assert.Equal(t, "alpha", got.Name)
		return nil
	}))
}

func TestSaveControls_VersionCheck(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetControls(ctx)
		require.NoError(t, err)
		c.FederationEnabled = true
		require.NoError(t, tx.SaveControls(ctx, c, c.Version))
		assert.Equal(t, int64(2), c.Version)

		stale := *c
		assert.ErrorIs(t, tx.SaveControls(ctx, &stale, 1), store.ErrConflict)
		return nil
	}))
}

func TestInsertPartnership_OnePerOpenPair(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a, b := newTenant("a"), newTenant("b")
	t1, t2 := store.OrderedPair(a.ID, b.ID)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertTenant(ctx, a))
		require.NoError(t, tx.InsertTenant(ctx, b))
		p := &models.Partnership{ID: uuid.New(), Tenant1ID: t1, Tenant2ID: t2, Status: models.PartnershipActive}
		require.NoError(t, tx.InsertPartnership(ctx, p))

		dup := &models.Partnership{ID: uuid.New(), Tenant1ID: t1, Tenant2ID: t2, Status: models.PartnershipActive}
		assert.ErrorIs(t, tx.InsertPartnership(ctx, dup), store.ErrDuplicate)

		p.Status = models.PartnershipTerminated
		require.NoError(t, tx.UpdatePartnership(ctx, p))
		return tx.InsertPartnership(ctx, dup)
	}))
}

func TestDeleteTenant_Cascades(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a, b := newTenant("a"), newTenant("b")
	t1, t2 := store.OrderedPair(a.ID, b.ID)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertTenant(ctx, a))
		require.NoError(t, tx.InsertTenant(ctx, b))
		require.NoError(t, tx.InsertWhitelistEntry(ctx, &models.WhitelistEntry{TenantID: a.ID}))
		require.NoError(t, tx.SaveFeatureSet(ctx, &models.TenantFeatureSet{TenantID: a.ID}))
		require.NoError(t, tx.InsertPartnership(ctx, &models.Partnership{ID: uuid.New(), Tenant1ID: t1, Tenant2ID: t2, Status: models.PartnershipTerminated}))
		return tx.DeleteTenant(ctx, a.ID)
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetWhitelistEntry(ctx, a.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = tx.GetFeatureSet(ctx, a.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		ps, err := tx.ListPartnerships(ctx, models.PartnershipFilter{})
		require.NoError(t, err)
		assert.Empty(t, ps)
		return nil
	}))
}

func TestListAudit_NewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, action := range []string{"tenant_created", "tenant_updated", "tenant_moved"} {
			e := &models.AuditEntry{ID: uuid.New(), ActionType: action, TargetType: models.TargetTenant, CreatedAt: time.Now()}
			require.NoError(t, tx.AppendAudit(ctx, e))
		}
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		page, total, err := tx.ListAudit(ctx, store.AuditQuery{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.Equal(t, "tenant_moved", page[0].ActionType)
		assert.Equal(t, int64(3), page[0].Seq)

		page, total, err = tx.ListAudit(ctx, store.AuditQuery{ActionTypes: []string{"tenant_created"}})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, int64(1), page[0].Seq)
		return nil
	}))
}

func TestListAudit_BeforeSeqAndActionCounts(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, action := range []string{"tenant_created", "tenant_updated", "tenant_updated", "tenant_moved"} {
			require.NoError(t, tx.AppendAudit(ctx, &models.AuditEntry{ID: uuid.New(), ActionType: action, CreatedAt: time.Now()}))
		}
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		page, total, err := tx.ListAudit(ctx, store.AuditQuery{BeforeSeq: 3, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 2)
		assert.Equal(t, int64(2), page[0].Seq)

		counts, err := tx.AuditActionCounts(ctx, store.AuditQuery{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"tenant_created": 1, "tenant_updated": 2, "tenant_moved": 1}, counts)

		counts, err = tx.AuditActionCounts(ctx, store.AuditQuery{ActionTypes: []string{"tenant_moved"}})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"tenant_moved": 1}, counts)
		return nil
	}))
}

func TestOrderedPair_Symmetric(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	x1, y1 := store.OrderedPair(a, b)
	x2, y2 := store.OrderedPair(b, a)
	assert.Equal(t, x1, x2)
	assert.Equal(t, y1, y2)
	assert.NotEqual(t, x1, y1)
}
