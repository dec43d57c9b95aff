package federation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/federation"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/partnerships"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/store/memory"
)

var actor = uuid.New()

func ptr[T any](v T) *T { return &v }

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

func auditEntries(t *testing.T, db store.Store, category audit.Category) []*models.AuditEntry {
	t.Helper()
	page, err := audit.NewService(db).List(context.Background(), models.AuditFilter{Category: string(category), Limit: 200})
	require.NoError(t, err)
	return page.Entries
}

func TestControls_UpdateAuditsEachChangedField(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := federation.NewControlsService(db, nil, nil)

	start, err := svc.Get(ctx)
	require.NoError(t, err)

	c, err := svc.Update(ctx, actor, federation.ControlsPatch{
		FederationEnabled:    ptr(true),
		WhitelistModeEnabled: ptr(false),
		Messaging:            ptr(true),
	})
	require.NoError(t, err)
	assert.True(t, c.FederationEnabled)
	assert.True(t, c.Messaging)
	assert.Equal(t, start.Version+1, c.Version)
	require.NotNil(t, c.UpdatedBy)
	assert.Equal(t, actor, *c.UpdatedBy)

	entries := auditEntries(t, db, audit.CategorySystemControls)
	require.Len(t, entries, 2, "whitelist mode was already off")
	// Newest first: messaging was applied after federation_enabled.
	assert.JSONEq(t, `{"cross_tenant_messaging_enabled":true}`, string(entries[0].NewValue))
	assert.JSONEq(t, `{"federation_enabled":true}`, string(entries[1].NewValue))
	assert.Equal(t, string(audit.SeverityWarning), entries[0].Severity)

	again, err := svc.Update(ctx, actor, federation.ControlsPatch{FederationEnabled: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, c.Version, again.Version, "no-op update is not saved")
	assert.Len(t, auditEntries(t, db, audit.CategorySystemControls), 2)
}

func TestControls_LockdownLifecycle(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := federation.NewControlsService(db, nil, nil)

	c, err := svc.ActivateLockdown(ctx, actor, "  ")
	require.NoError(t, err)
	assert.True(t, c.IsLockedDown)
	assert.Equal(t, federation.DefaultLockdownReason, c.LockdownReason)
	require.NotNil(t, c.LockdownBy)
	assert.Equal(t, actor, *c.LockdownBy)

	_, err = svc.ActivateLockdown(ctx, actor, "again")
	assert.ErrorIs(t, err, apperr.ErrAlreadyLockedDown)

	c, err = svc.LiftLockdown(ctx, actor)
	require.NoError(t, err)
	assert.False(t, c.IsLockedDown)
	assert.Empty(t, c.LockdownReason)
	assert.Nil(t, c.LockdownAt)

	_, err = svc.LiftLockdown(ctx, actor)
	assert.ErrorIs(t, err, apperr.ErrNotLockedDown)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))

	entries := auditEntries(t, db, audit.CategoryLockdown)
	require.Len(t, entries, 2)
	assert.Equal(t, string(audit.ActionLockdownLifted), entries[0].ActionType)
	assert.Equal(t, string(audit.ActionLockdownTriggered), entries[1].ActionType)
	for _, e := range entries {
		assert.Equal(t, string(audit.SeverityCritical), e.Severity)
	}
}

// conflictStore fails the first n SaveControls calls with a version conflict.
type conflictStore struct {
	*memory.Store
	mu        sync.Mutex
	remaining int
}

type conflictTx struct {
	store.Tx
	s *conflictStore
}

func (s *conflictStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &conflictTx{Tx: tx, s: s})
	})
}

func (t *conflictTx) SaveControls(ctx context.Context, c *models.SystemControls, expected int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.remaining > 0 {
		t.s.remaining--
		return store.ErrConflict
	}
	return t.Tx.SaveControls(ctx, c, expected)
}

func TestControls_VersionConflictRetried(t *testing.T) {
	ctx := context.Background()
	db := &conflictStore{Store: memory.New(), remaining: 2}
	svc := federation.NewControlsService(db, nil, nil)

	c, err := svc.Update(ctx, actor, federation.ControlsPatch{FederationEnabled: ptr(true)})
	require.NoError(t, err)
	assert.True(t, c.FederationEnabled)
	assert.Len(t, auditEntries(t, db, audit.CategorySystemControls), 1, "rolled back attempts leave no audit")

	db.remaining = 100
	_, err = svc.Update(ctx, actor, federation.ControlsPatch{FederationEnabled: ptr(false)})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestControls_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := federation.NewControlsService(db, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(on bool) {
			defer wg.Done()
			_, err := svc.Update(ctx, actor, federation.ControlsPatch{FederationEnabled: ptr(on)})
			assert.NoError(t, err)
		}(i%2 == 0)
	}
	wg.Wait()

	final, err := svc.Get(ctx)
	require.NoError(t, err)
	entries := auditEntries(t, db, audit.CategorySystemControls)
	assert.Equal(t, int64(1+len(entries)), final.Version)
	if len(entries) > 0 {
		want := `{"federation_enabled":false}`
		if final.FederationEnabled {
			want = `{"federation_enabled":true}`
		}
		assert.JSONEq(t, want, string(entries[0].NewValue), "latest audit matches final state")
	}
}

func TestWhitelist(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	svc := federation.NewWhitelistService(db, nil, nil)
	ids := seedTenants(t, db, "alpha")

	_, err := svc.Add(ctx, actor, uuid.New(), "")
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)

	e, err := svc.Add(ctx, actor, ids[0], " vetted ")
	require.NoError(t, err)
	assert.Equal(t, "alpha", e.TenantName)
	assert.Equal(t, "vetted", e.Notes)

	_, err = svc.Add(ctx, actor, ids[0], "")
	assert.ErrorIs(t, err, apperr.ErrAlreadyWhitelisted)
	assert.True(t, apperr.Is(err, apperr.KindDuplicateEntry))

	ok, err := svc.IsWhitelisted(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)
	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Remove(ctx, actor, ids[0]))
	assert.ErrorIs(t, svc.Remove(ctx, actor, ids[0]), apperr.ErrNotWhitelisted)

	ok, err = svc.IsWhitelisted(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, auditEntries(t, db, audit.CategoryWhitelist), 2)
}

func TestFeatures(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	controls := federation.NewControlsService(db, nil, nil)
	svc := federation.NewFeatureService(db, nil, nil)
	ids := seedTenants(t, db, "alpha")

	_, err := controls.Update(ctx, actor, federation.ControlsPatch{Listings: ptr(true)})
	require.NoError(t, err)

	fs, err := svc.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, fs.Listings, "system default applies until the tenant saves its own set")
	assert.False(t, fs.Messaging)

	fs, err = svc.Set(ctx, actor, ids[0], models.FeatureMessaging, true)
	require.NoError(t, err)
	assert.True(t, fs.Messaging)
	assert.True(t, fs.Listings)

	_, err = controls.Update(ctx, actor, federation.ControlsPatch{Listings: ptr(false)})
	require.NoError(t, err)
	fs, err = svc.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, fs.Listings, "stored set no longer follows the default")

	_, err = svc.Set(ctx, actor, ids[0], models.FeatureMessaging, true)
	require.NoError(t, err)
	assert.Len(t, auditEntries(t, db, audit.CategoryFeatures), 1)

	_, err = svc.Set(ctx, actor, ids[0], models.Feature("teleport"), true)
	assert.ErrorIs(t, err, apperr.ErrUnknownFeature)
	_, err = svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)
}

type fixture struct {
	db       *memory.Store
	controls *federation.ControlsService
	wl       *federation.WhitelistService
	features *federation.FeatureService
	parts    *partnerships.Service
	gate     *federation.Gate
	a, b, c  uuid.UUID
	ab       *models.Partnership
}

// newFixture builds tenants a, b, c with an active a-b partnership, federation
// and every system flag on, every flag enabled for a and b and none for c.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := memory.New()
	f := &fixture{
		db:       db,
		controls: federation.NewControlsService(db, nil, nil),
		wl:       federation.NewWhitelistService(db, nil, nil),
		features: federation.NewFeatureService(db, nil, nil),
		parts:    partnerships.NewService(db, nil, nil),
		gate:     federation.NewGate(db),
	}
	ids := seedTenants(t, db, "a", "b", "c")
	f.a, f.b, f.c = ids[0], ids[1], ids[2]

	_, err := f.controls.Update(ctx, actor, federation.ControlsPatch{
		FederationEnabled: ptr(true),
		Profiles:          ptr(true),
		Messaging:         ptr(true),
		Transactions:      ptr(true),
		Listings:          ptr(true),
		Events:            ptr(true),
		Groups:            ptr(true),
	})
	require.NoError(t, err)
	all, none := map[models.Feature]bool{}, map[models.Feature]bool{}
	for _, feat := range models.Features {
		all[feat], none[feat] = true, false
	}
	for _, id := range []uuid.UUID{f.a, f.b} {
		_, err := f.features.Update(ctx, actor, id, all)
		require.NoError(t, err)
	}
	_, err = f.features.Update(ctx, actor, f.c, none)
	require.NoError(t, err)
	f.ab, err = f.parts.Create(ctx, actor, f.a, f.b)
	require.NoError(t, err)
	return f
}

func (f *fixture) effective(t *testing.T, id uuid.UUID) map[models.Feature]models.Capability {
	t.Helper()
	ef, err := f.gate.EffectiveFeatures(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, ef.Capabilities, len(models.Features))
	return ef.Capabilities
}

func TestGate_AllowedWithActivePartner(t *testing.T) {
	f := newFixture(t)
	for feat, c := range f.effective(t, f.a) {
		assert.True(t, c.Allowed, feat)
		assert.Equal(t, []uuid.UUID{f.b}, c.Partners)
	}
	// c has no partnership and no flags.
	for _, c := range f.effective(t, f.c) {
		assert.False(t, c.Allowed)
		assert.Equal(t, models.DenialTenantFeature, c.Level)
	}

	c, err := f.gate.Check(context.Background(), f.a, f.b, models.FeatureTransactions)
	require.NoError(t, err)
	assert.True(t, c.Allowed)
}

func TestGate_LockdownOverridesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.wl.Add(ctx, actor, f.a, "")
	require.NoError(t, err)

	_, err = f.controls.ActivateLockdown(ctx, actor, "incident 42")
	require.NoError(t, err)
	for _, c := range f.effective(t, f.a) {
		assert.False(t, c.Allowed)
		assert.Equal(t, models.DenialEmergency, c.Level)
		assert.Contains(t, c.Reason, "incident 42")
	}
	c, err := f.gate.Check(ctx, f.a, f.b, models.FeatureProfiles)
	require.NoError(t, err)
	assert.Equal(t, models.DenialEmergency, c.Level)

	_, err = f.controls.LiftLockdown(ctx, actor)
	require.NoError(t, err)
	assert.True(t, f.effective(t, f.a)[models.FeatureProfiles].Allowed)
}

func TestGate_FederationDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.controls.Update(ctx, actor, federation.ControlsPatch{FederationEnabled: ptr(false)})
	require.NoError(t, err)
	for _, c := range f.effective(t, f.a) {
		assert.False(t, c.Allowed)
		assert.Equal(t, models.DenialSystem, c.Level)
	}
}

func TestGate_SystemFeatureOff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.controls.Update(ctx, actor, federation.ControlsPatch{Messaging: ptr(false)})
	require.NoError(t, err)

	eff := f.effective(t, f.a)
	assert.False(t, eff[models.FeatureMessaging].Allowed)
	assert.Equal(t, models.DenialSystemFeature, eff[models.FeatureMessaging].Level)
	assert.Equal(t, federation.ReasonSystemFeature, eff[models.FeatureMessaging].Reason)
	assert.True(t, eff[models.FeatureListings].Allowed, "tenant sets a and b keep their own flags")

	c, err := f.gate.Check(ctx, f.a, f.b, models.FeatureMessaging)
	require.NoError(t, err)
	assert.False(t, c.Allowed)
	assert.Equal(t, models.DenialSystemFeature, c.Level)

	c, err = f.gate.Check(ctx, f.a, f.b, models.FeatureListings)
	require.NoError(t, err)
	assert.True(t, c.Allowed)
}

func TestGate_WhitelistMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.controls.Update(ctx, actor, federation.ControlsPatch{WhitelistModeEnabled: ptr(true)})
	require.NoError(t, err)

	// a has every flag on but is not whitelisted.
	for _, c := range f.effective(t, f.a) {
		assert.False(t, c.Allowed)
		assert.Equal(t, models.DenialWhitelist, c.Level)
	}

	_, err = f.wl.Add(ctx, actor, f.a, "")
	require.NoError(t, err)
	for _, c := range f.effective(t, f.a) {
		assert.False(t, c.Allowed, "partner b is not whitelisted")
		assert.Equal(t, models.DenialPartnership, c.Level)
	}
	c, err := f.gate.Check(ctx, f.a, f.b, models.FeatureGroups)
	require.NoError(t, err)
	assert.Equal(t, models.DenialWhitelist, c.Level)

	_, err = f.wl.Add(ctx, actor, f.b, "")
	require.NoError(t, err)
	assert.True(t, f.effective(t, f.a)[models.FeatureGroups].Allowed)
}

func TestGate_PartnerAndOwnFlags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.features.Set(ctx, actor, f.b, models.FeatureEvents, false)
	require.NoError(t, err)
	eff := f.effective(t, f.a)
	assert.False(t, eff[models.FeatureEvents].Allowed)
	assert.Equal(t, models.DenialPartnership, eff[models.FeatureEvents].Level)
	assert.True(t, eff[models.FeatureListings].Allowed)

	c, err := f.gate.Check(ctx, f.a, f.b, models.FeatureEvents)
	require.NoError(t, err)
	assert.Equal(t, models.DenialTenantFeature, c.Level)

	_, err = f.features.Set(ctx, actor, f.a, models.FeatureListings, false)
	require.NoError(t, err)
	assert.Equal(t, models.DenialTenantFeature, f.effective(t, f.a)[models.FeatureListings].Level)

	_, err = f.parts.Suspend(ctx, actor, f.ab.ID, "review")
	require.NoError(t, err)
	for _, c := range f.effective(t, f.a) {
		assert.False(t, c.Allowed)
	}
	c, err = f.gate.Check(ctx, f.a, f.b, models.FeatureProfiles)
	require.NoError(t, err)
	assert.Equal(t, models.DenialPartnership, c.Level)
}

func TestGate_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.gate.EffectiveFeatures(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrTenantNotFound)
	_, err = f.gate.Check(ctx, f.a, f.a, models.FeatureProfiles)
	assert.ErrorIs(t, err, apperr.ErrSelfPartnership)
	_, err = f.gate.Check(ctx, f.a, f.b, models.Feature("x"))
	assert.ErrorIs(t, err, apperr.ErrUnknownFeature)
}
