// Package federation holds the platform-wide federation controls, the
// whitelist, per-tenant feature flags and the capability gate that combines them.
package federation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/events"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

// DefaultLockdownReason is stored when a lockdown is triggered without a reason.
const DefaultLockdownReason = "Emergency lockdown"

const controlsLabel = "Federation System Controls"

// ControlsPatch is a partial update of the system controls. Lockdown is not
// patchable; use ActivateLockdown and LiftLockdown.
type ControlsPatch struct {
	FederationEnabled    *bool `json:"federation_enabled"`
	WhitelistModeEnabled *bool `json:"whitelist_mode_enabled"`
	Profiles             *bool `json:"cross_tenant_profiles_enabled"`
	Messaging            *bool `json:"cross_tenant_messaging_enabled"`
	Transactions         *bool `json:"cross_tenant_transactions_enabled"`
	Listings             *bool `json:"cross_tenant_listings_enabled"`
	Events               *bool `json:"cross_tenant_events_enabled"`
	Groups               *bool `json:"cross_tenant_groups_enabled"`
}

type controlField struct {
	key   string
	value *bool
	field *bool
}

// fields pairs each patch value with its target in c, in application order.
func (p ControlsPatch) fields(c *models.SystemControls) []controlField {
	return []controlField{
		{"federation_enabled", p.FederationEnabled, &c.FederationEnabled},
		{"whitelist_mode_enabled", p.WhitelistModeEnabled, &c.WhitelistModeEnabled},
		{models.FeatureProfiles.Column(), p.Profiles, &c.Profiles},
		{models.FeatureMessaging.Column(), p.Messaging, &c.Messaging},
		{models.FeatureTransactions.Column(), p.Transactions, &c.Transactions},
		{models.FeatureListings.Column(), p.Listings, &c.Listings},
		{models.FeatureEvents.Column(), p.Events, &c.Events},
		{models.FeatureGroups.Column(), p.Groups, &c.Groups},
	}
}

// ControlsService reads and mutates the singleton controls record.
type ControlsService struct {
	db     store.Store
	events events.Publisher
	logger *zap.Logger
}

// NewControlsService creates a controls service.
func NewControlsService(db store.Store, pub events.Publisher, logger *zap.Logger) *ControlsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlsService{db: db, events: events.OrNop(pub), logger: logger}
}

// Get returns the current controls.
func (s *ControlsService) Get(ctx context.Context) (*models.SystemControls, error) {
	var c *models.SystemControls
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		c, err = tx.GetControls(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get controls: %w", err)
	}
	return c, nil
}

// Update applies p. Every field that actually changes gets its own audit
// entry; fields equal to the current value are skipped.
func (s *ControlsService) Update(ctx context.Context, actor uuid.UUID, p ControlsPatch) (*models.SystemControls, error) {
	var (
		out     *models.SystemControls
		changed int
	)
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, c *models.SystemControls) (bool, error) {
		changed = 0
		for _, f := range p.fields(c) {
			if f.value == nil || *f.value == *f.field {
				continue
			}
			old := *f.field
			*f.field = *f.value
			changed++
			if _, err := audit.Record(ctx, tx, audit.Entry{
				Action:      audit.ActionSystemControlsUpdated,
				TargetType:  models.TargetFederation,
				TargetLabel: controlsLabel,
				ActorID:     actor,
				Description: fmt.Sprintf("Set %s to %t", f.key, *f.value),
				Old:         map[string]bool{f.key: old},
				New:         map[string]bool{f.key: *f.value},
			}); err != nil {
				return false, err
			}
		}
		out = c
		return changed > 0, nil
	}, actor)
	if err != nil {
		return nil, err
	}
	if changed > 0 {
		s.logger.Info("federation controls updated", zap.Int("fields", changed), zap.String("actor_id", actor.String()))
		s.events.Publish(ctx, events.New(events.ControlsChanged, nil, actor))
	}
	return out, nil
}

// ActivateLockdown suspends all federation. A blank reason is replaced by
// DefaultLockdownReason.
func (s *ControlsService) ActivateLockdown(ctx context.Context, actor uuid.UUID, reason string) (*models.SystemControls, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultLockdownReason
	}
	var out *models.SystemControls
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, c *models.SystemControls) (bool, error) {
		if c.IsLockedDown {
			return false, apperr.ErrAlreadyLockedDown
		}
		now := time.Now().UTC()
		actorID := actor
		c.IsLockedDown = true
		c.LockdownReason = reason
		c.LockdownAt = &now
		c.LockdownBy = &actorID
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionLockdownTriggered,
			TargetType:  models.TargetFederation,
			TargetLabel: controlsLabel,
			ActorID:     actor,
			Description: "Emergency lockdown activated: " + reason,
			Old:         map[string]any{"is_locked_down": false},
			New:         map[string]any{"is_locked_down": true, "lockdown_reason": reason},
		}); err != nil {
			return false, err
		}
		out = c
		return true, nil
	}, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("federation emergency lockdown activated", zap.String("reason", reason), zap.String("actor_id", actor.String()))
	s.events.Publish(ctx, events.New(events.LockdownChanged, nil, actor))
	return out, nil
}

// LiftLockdown ends an active lockdown and clears its reason.
func (s *ControlsService) LiftLockdown(ctx context.Context, actor uuid.UUID) (*models.SystemControls, error) {
	var out *models.SystemControls
	err := s.mutate(ctx, func(ctx context.Context, tx store.Tx, c *models.SystemControls) (bool, error) {
		if !c.IsLockedDown {
			return false, apperr.ErrNotLockedDown
		}
		prev := c.LockdownReason
		c.IsLockedDown = false
		c.LockdownReason = ""
		c.LockdownAt = nil
		c.LockdownBy = nil
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionLockdownLifted,
			TargetType:  models.TargetFederation,
			TargetLabel: controlsLabel,
			ActorID:     actor,
			Description: "Emergency lockdown lifted",
			Old:         map[string]any{"is_locked_down": true, "lockdown_reason": prev},
			New:         map[string]any{"is_locked_down": false},
		}); err != nil {
			return false, err
		}
		out = c
		return true, nil
	}, actor)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("federation emergency lockdown lifted", zap.String("actor_id", actor.String()))
	s.events.Publish(ctx, events.New(events.LockdownChanged, nil, actor))
	return out, nil
}

// mutate runs a read-modify-write of the controls record. fn reports whether
// it changed anything; only then is the record saved against the version it read.
func (s *ControlsService) mutate(ctx context.Context, fn func(ctx context.Context, tx store.Tx, c *models.SystemControls) (bool, error), actor uuid.UUID) error {
	return store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		c, err := tx.GetControls(ctx)
		if err != nil {
			return fmt.Errorf("get controls: %w", err)
		}
		version := c.Version
		dirty, err := fn(ctx, tx, c)
		if err != nil || !dirty {
			return err
		}
		actorID := actor
		c.UpdatedAt = time.Now().UTC()
		c.UpdatedBy = &actorID
		if err := tx.SaveControls(ctx, c, version); err != nil {
			return fmt.Errorf("save controls: %w", err)
		}
		return nil
	})
}
