package partnerships_test

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
	"github.com/nexus-timebank/backend/internal/partnerships"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/store/memory"
)

var actor = uuid.New()

func seedTenants(t *testing.T, db store.Store, names ...string) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, len(names))
	err := db.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i, n := range names {
			ids[i] = uuid.New()
			now := time.Now()
			if err := tx.InsertTenant(ctx, &models.Tenant{ID: ids[i], Name: n, Slug: n, IsActive: true, CreatedAt: now, UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func TestNext(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		from models.PartnershipStatus
		t    partnerships.Transition
		want models.PartnershipStatus
		ok   bool
	}{
		{models.PartnershipActive, partnerships.TransitionSuspend, models.PartnershipSuspended, true},
		{models.PartnershipActive, partnerships.TransitionTerminate, models.PartnershipTerminated, true},
		{models.PartnershipSuspended, partnerships.TransitionTerminate, models.PartnershipTerminated, true},
		{models.PartnershipSuspended, partnerships.TransitionReactivate, models.PartnershipActive, true},
		{models.PartnershipSuspended, partnerships.TransitionSuspend, "", false},
		{models.PartnershipActive, partnerships.TransitionReactivate, "", false},
		{models.PartnershipTerminated, partnerships.TransitionSuspend, "", false},
		{models.PartnershipTerminated, partnerships.TransitionTerminate, "", false},
		{models.PartnershipTerminated, partnerships.TransitionReactivate, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.t.String(), func(t *testing.T) {
			got, err := partnerships.Next(ctx, tt.from, tt.t)
			if !tt.ok {
				require.ErrorIs(t, err, apperr.ErrInvalidTransition)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Empty(t, partnerships.Allowed(models.PartnershipTerminated))
}

func TestCreate_Rules(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := partnerships.NewService(db, nil, nil)
	ids := seedTenants(t, db, "a", "b")

	_, err := svc.Create(ctx, actor, ids[0], ids[0])
	assert.ErrorIs(t, err, apperr.ErrSelfPartnership)

	_, err = svc.Create(ctx, actor, ids[0], uuid.New())
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)

	p, err := svc.Create(ctx, actor, ids[0], ids[1])
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipActive, p.Status)

	// The pair is unordered.
	_, err = svc.Create(ctx, actor, ids[1], ids[0])
	assert.ErrorIs(t, err, apperr.ErrDuplicatePartnership)

	_, err = svc.Suspend(ctx, actor, p.ID, "review")
	require.NoError(t, err)
	_, err = svc.Create(ctx, actor, ids[0], ids[1])
	assert.ErrorIs(t, err, apperr.ErrDuplicatePartnership)

	_, err = svc.Terminate(ctx, actor, p.ID, "ended")
	require.NoError(t, err)
	_, err = svc.Create(ctx, actor, ids[0], ids[1])
	assert.NoError(t, err)
}

func TestTerminatedIsTerminal(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := partnerships.NewService(db, nil, nil)
	auditSvc := audit.NewService(db)
	ids := seedTenants(t, db, "a", "b")

	p, err := svc.Create(ctx, actor, ids[0], ids[1])
	require.NoError(t, err)
	_, err = svc.Terminate(ctx, actor, p.ID, "contract ended")
	require.NoError(t, err)
	before, err := auditSvc.Count(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = svc.Suspend(ctx, actor, p.ID, "again")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		_, err = svc.Terminate(ctx, actor, p.ID, "again")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		_, err = svc.Reactivate(ctx, actor, p.ID, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	}

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipTerminated, got.Status)
	assert.Equal(t, "contract ended", got.StatusReason)

	after, err := auditSvc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed transitions leave no audit entry")
}

func TestSuspendReactivateAndAudit(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := partnerships.NewService(db, nil, nil)
	ids := seedTenants(t, db, "a", "b")

	p, err := svc.Create(ctx, actor, ids[0], ids[1])
	require.NoError(t, err)

	_, err = svc.Suspend(ctx, actor, p.ID, "  ")
	assert.ErrorIs(t, err, apperr.ErrReasonRequired)

	p, err = svc.Suspend(ctx, actor, p.ID, "abuse report")
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipSuspended, p.Status)

	p, err = svc.Reactivate(ctx, actor, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipActive, p.Status)

	page, err := audit.NewService(db).List(ctx, models.AuditFilter{Category: string(audit.CategoryPartnership)})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, string(audit.ActionPartnershipReactivate), page.Entries[0].ActionType)
	assert.Equal(t, string(audit.ActionPartnershipSuspend), page.Entries[1].ActionType)
	assert.Equal(t, string(audit.ActionPartnershipCreate), page.Entries[2].ActionType)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PartnershipStats{Total: 1, Active: 1}, stats)

	_, err = svc.Suspend(ctx, actor, uuid.New(), "x")
	assert.ErrorIs(t, err, apperr.ErrPartnershipNotFound)
}
