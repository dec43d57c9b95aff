package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/events"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

// FeatureService manages per-tenant federation feature flags.
type FeatureService struct {
	db     store.Store
	events events.Publisher
	logger *zap.Logger
}

// NewFeatureService creates a feature service.
func NewFeatureService(db store.Store, pub events.Publisher, logger *zap.Logger) *FeatureService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeatureService{db: db, events: events.OrNop(pub), logger: logger}
}

// featureSet returns the stored flags of tenantID, or the system defaults
// when the tenant has never had its own set saved.
func featureSet(ctx context.Context, tx store.Tx, controls *models.SystemControls, tenantID uuid.UUID) (*models.TenantFeatureSet, error) {
	fs, err := tx.GetFeatureSet(ctx, tenantID)
	if err == nil {
		return fs, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get feature set: %w", err)
	}
	if controls == nil {
		if controls, err = tx.GetControls(ctx); err != nil {
			return nil, fmt.Errorf("get controls: %w", err)
		}
	}
	return &models.TenantFeatureSet{TenantID: tenantID, FeatureFlags: controls.FeatureFlags}, nil
}

// Get returns the feature flags of tenantID.
func (s *FeatureService) Get(ctx context.Context, tenantID uuid.UUID) (*models.TenantFeatureSet, error) {
	var fs *models.TenantFeatureSet
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetTenant(ctx, tenantID); err != nil {
			return tenantErr(err)
		}
		var err error
		fs, err = featureSet(ctx, tx, nil, tenantID)
		return err
	})
	return fs, err
}

// Set changes a single flag of tenantID.
func (s *FeatureService) Set(ctx context.Context, actor, tenantID uuid.UUID, feature models.Feature, enabled bool) (*models.TenantFeatureSet, error) {
	return s.Update(ctx, actor, tenantID, map[models.Feature]bool{feature: enabled})
}

// Update changes several flags of tenantID at once. Each changed flag is
// audited separately; unchanged flags are ignored.
func (s *FeatureService) Update(ctx context.Context, actor, tenantID uuid.UUID, changes map[models.Feature]bool) (*models.TenantFeatureSet, error) {
	for f := range changes {
		if _, ok := models.ParseFeature(string(f)); !ok {
			return nil, apperr.ErrUnknownFeature
		}
	}
	var (
		out   *models.TenantFeatureSet
		dirty bool
	)
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTenant(ctx, tenantID)
		if err != nil {
			return tenantErr(err)
		}
		fs, err := featureSet(ctx, tx, nil, tenantID)
		if err != nil {
			return err
		}
		dirty = false
		for _, f := range models.Features {
			enabled, ok := changes[f]
			if !ok || fs.Enabled(f) == enabled {
				continue
			}
			fs.Set(f, enabled)
			dirty = true
			if _, err := audit.Record(ctx, tx, audit.Entry{
				Action:      audit.ActionTenantFeatureChanged,
				TargetType:  models.TargetTenant,
				TargetID:    &t.ID,
				TargetLabel: t.Name,
				ActorID:     actor,
				Description: fmt.Sprintf("Set %s to %t for %s", f.Column(), enabled, t.Name),
				Old:         map[string]bool{f.Column(): !enabled},
				New:         map[string]bool{f.Column(): enabled},
			}); err != nil {
				return err
			}
		}
		out = fs
		if !dirty {
			return nil
		}
		fs.UpdatedAt = time.Now().UTC()
		return tx.SaveFeatureSet(ctx, fs)
	})
	if err != nil {
		return nil, err
	}
	if dirty {
		s.events.Publish(ctx, events.New(events.FeaturesChanged, &tenantID, actor))
	}
	return out, nil
}

func tenantErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrTenantNotFound
	}
	return err
}
