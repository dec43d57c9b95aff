package federation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/partnerships"
	"github.com/nexus-timebank/backend/internal/store"
)

// Denial reasons.
const (
	ReasonLockdown       = "Federation is under emergency lockdown"
	ReasonDisabled       = "Federation is disabled platform-wide"
	ReasonNotWhitelisted = "Tenant is not on the federation whitelist"
	ReasonSystemFeature  = "Feature is disabled platform-wide"
	ReasonFeatureOff     = "Feature is disabled for this tenant"
	ReasonNoPartner      = "No active partnership with a tenant that enables this feature"
	ReasonNoPartnership  = "Tenants have no active partnership"
)

// Gate evaluates effective cross-tenant capabilities. Every evaluation
// re-reads controls inside its own transaction so a committed lockdown is
// always seen.
type Gate struct {
	db store.Store
}

// NewGate creates a capability gate over db.
func NewGate(db store.Store) *Gate {
	return &Gate{db: db}
}

// evaluation caches lookups for one transaction.
type evaluation struct {
	ctx       context.Context
	tx        store.Tx
	controls  *models.SystemControls
	whitelist map[uuid.UUID]bool
	flags     map[uuid.UUID]models.FeatureFlags
}

func newEvaluation(ctx context.Context, tx store.Tx) (*evaluation, error) {
	c, err := tx.GetControls(ctx)
	if err != nil {
		return nil, err
	}
	return &evaluation{
		ctx:       ctx,
		tx:        tx,
		controls:  c,
		whitelist: make(map[uuid.UUID]bool),
		flags:     make(map[uuid.UUID]models.FeatureFlags),
	}, nil
}

// platformDenial returns the denial shared by every feature, if any.
func (e *evaluation) platformDenial() *models.Capability {
	switch {
	case e.controls.IsLockedDown:
		reason := ReasonLockdown
		if e.controls.LockdownReason != "" {
			reason += ": " + e.controls.LockdownReason
		}
		return &models.Capability{Reason: reason, Level: models.DenialEmergency}
	case !e.controls.FederationEnabled:
		return &models.Capability{Reason: ReasonDisabled, Level: models.DenialSystem}
	}
	return nil
}

// featureDenial returns the platform-wide denial of f, if any.
func (e *evaluation) featureDenial(f models.Feature) *models.Capability {
	if d := e.platformDenial(); d != nil {
		return d
	}
	if !e.controls.FeatureFlags.Enabled(f) {
		return &models.Capability{Reason: ReasonSystemFeature, Level: models.DenialSystemFeature}
	}
	return nil
}

// admitted reports whether id passes whitelist mode.
func (e *evaluation) admitted(id uuid.UUID) (bool, error) {
	if !e.controls.WhitelistModeEnabled {
		return true, nil
	}
	if ok, seen := e.whitelist[id]; seen {
		return ok, nil
	}
	ok, err := isWhitelisted(e.ctx, e.tx, id)
	if err != nil {
		return false, err
	}
	e.whitelist[id] = ok
	return ok, nil
}

func (e *evaluation) featureFlags(id uuid.UUID) (models.FeatureFlags, error) {
	if f, ok := e.flags[id]; ok {
		return f, nil
	}
	fs, err := featureSet(e.ctx, e.tx, e.controls, id)
	if err != nil {
		return models.FeatureFlags{}, err
	}
	e.flags[id] = fs.FeatureFlags
	return fs.FeatureFlags, nil
}

// tenantDenial checks whitelist admission and the tenant's own flag.
func (e *evaluation) tenantDenial(id uuid.UUID, f models.Feature, reasonSuffix string) (*models.Capability, error) {
	ok, err := e.admitted(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &models.Capability{Reason: ReasonNotWhitelisted + reasonSuffix, Level: models.DenialWhitelist}, nil
	}
	flags, err := e.featureFlags(id)
	if err != nil {
		return nil, err
	}
	if !flags.Enabled(f) {
		return &models.Capability{Reason: ReasonFeatureOff + reasonSuffix, Level: models.DenialTenantFeature}, nil
	}
	return nil, nil
}

func deny(f models.Feature, d *models.Capability) models.Capability {
	return models.Capability{Feature: f, Allowed: false, Reason: d.Reason, Level: d.Level}
}

// EffectiveFeatures evaluates all six capabilities for tenantID. A feature
// is allowed when federation is on and not locked down, the feature is on
// platform-wide, the tenant passes whitelist mode and has the flag set, and at
// least one active partner passes whitelist mode and has the same flag set.
func (g *Gate) EffectiveFeatures(ctx context.Context, tenantID uuid.UUID) (*models.EffectiveFeatures, error) {
	out := &models.EffectiveFeatures{
		TenantID:     tenantID,
		Capabilities: make(map[models.Feature]models.Capability, len(models.Features)),
	}
	err := g.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetTenant(ctx, tenantID); err != nil {
			return tenantErr(err)
		}
		ev, err := newEvaluation(ctx, tx)
		if err != nil {
			return err
		}
		out.EvaluatedAt = time.Now().UTC()
		if d := ev.platformDenial(); d != nil {
			for _, f := range models.Features {
				out.Capabilities[f] = deny(f, d)
			}
			return nil
		}
		active, err := partnerships.ActiveFor(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		for _, f := range models.Features {
			c, err := ev.capability(tenantID, f, active)
			if err != nil {
				return err
			}
			out.Capabilities[f] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *evaluation) capability(tenantID uuid.UUID, f models.Feature, active []*models.Partnership) (models.Capability, error) {
	if d := e.featureDenial(f); d != nil {
		return deny(f, d), nil
	}
	d, err := e.tenantDenial(tenantID, f, "")
	if err != nil {
		return models.Capability{}, err
	}
	if d != nil {
		return deny(f, d), nil
	}
	var partners []uuid.UUID
	for _, p := range active {
		other := p.Counterpart(tenantID)
		od, err := e.tenantDenial(other, f, "")
		if err != nil {
			return models.Capability{}, err
		}
		if od == nil {
			partners = append(partners, other)
		}
	}
	if len(partners) == 0 {
		return models.Capability{Feature: f, Reason: ReasonNoPartner, Level: models.DenialPartnership}, nil
	}
	return models.Capability{Feature: f, Allowed: true, Partners: partners}, nil
}

// Check decides whether feature may be used between tenants a and b.
func (g *Gate) Check(ctx context.Context, a, b uuid.UUID, feature models.Feature) (models.Capability, error) {
	if _, ok := models.ParseFeature(string(feature)); !ok {
		return models.Capability{}, apperr.ErrUnknownFeature
	}
	if a == b {
		return models.Capability{}, apperr.ErrSelfPartnership
	}
	var out models.Capability
	err := g.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []uuid.UUID{a, b} {
			if _, err := tx.GetTenant(ctx, id); err != nil {
				return tenantErr(err)
			}
		}
		ev, err := newEvaluation(ctx, tx)
		if err != nil {
			return err
		}
		if d := ev.featureDenial(feature); d != nil {
			out = deny(feature, d)
			return nil
		}
		if d, err := ev.tenantDenial(a, feature, ""); err != nil {
			return err
		} else if d != nil {
			out = deny(feature, d)
			return nil
		}
		if d, err := ev.tenantDenial(b, feature, " (counterpart)"); err != nil {
			return err
		} else if d != nil {
			out = deny(feature, d)
			return nil
		}
		active, err := partnerships.ActiveFor(ctx, tx, a)
		if err != nil {
			return err
		}
		for _, p := range active {
			if p.Involves(b) {
				out = models.Capability{Feature: feature, Allowed: true, Partners: []uuid.UUID{b}}
				return nil
			}
		}
		out = models.Capability{Feature: feature, Reason: ReasonNoPartnership, Level: models.DenialPartnership}
		return nil
	})
	return out, err
}
