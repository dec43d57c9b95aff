package federation

import (
	"context"
	"errors"
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

// WhitelistService manages the set of tenants allowed to federate while
// whitelist mode is on.
type WhitelistService struct {
	db     store.Store
	events events.Publisher
	logger *zap.Logger
}

// NewWhitelistService creates a whitelist service.
func NewWhitelistService(db store.Store, pub events.Publisher, logger *zap.Logger) *WhitelistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhitelistService{db: db, events: events.OrNop(pub), logger: logger}
}

// Add whitelists tenantID.
func (s *WhitelistService) Add(ctx context.Context, actor, tenantID uuid.UUID, notes string) (*models.WhitelistEntry, error) {
	var entry *models.WhitelistEntry
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTenant(ctx, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrTenantNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.GetWhitelistEntry(ctx, tenantID); err == nil {
			return apperr.ErrAlreadyWhitelisted
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		actorID := actor
		e := &models.WhitelistEntry{
			TenantID:   tenantID,
			TenantName: t.Name,
			Notes:      strings.TrimSpace(notes),
			ApprovedBy: &actorID,
			ApprovedAt: time.Now().UTC(),
		}
		if err := tx.InsertWhitelistEntry(ctx, e); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrAlreadyWhitelisted
			}
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionTenantWhitelisted,
			TargetType:  models.TargetTenant,
			TargetID:    &t.ID,
			TargetLabel: t.Name,
			ActorID:     actor,
			Description: "Added " + t.Name + " to the federation whitelist",
			New:         e,
		})
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.WhitelistChanged, &tenantID, actor))
	return entry, nil
}

// Remove takes tenantID off the whitelist.
func (s *WhitelistService) Remove(ctx context.Context, actor, tenantID uuid.UUID) error {
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.GetWhitelistEntry(ctx, tenantID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotWhitelisted
		}
		if err != nil {
			return err
		}
		if err := tx.DeleteWhitelistEntry(ctx, tenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.ErrNotWhitelisted
			}
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionTenantUnwhitelisted,
			TargetType:  models.TargetTenant,
			TargetID:    &tenantID,
			TargetLabel: e.TenantName,
			ActorID:     actor,
			Description: "Removed " + e.TenantName + " from the federation whitelist",
			Old:         e,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.events.Publish(ctx, events.New(events.WhitelistChanged, &tenantID, actor))
	return nil
}

// IsWhitelisted reports whether tenantID is on the whitelist.
func (s *WhitelistService) IsWhitelisted(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = isWhitelisted(ctx, tx, tenantID)
		return err
	})
	return ok, err
}

func isWhitelisted(ctx context.Context, tx store.Tx, tenantID uuid.UUID) (bool, error) {
	_, err := tx.GetWhitelistEntry(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns the whitelist ordered by tenant name.
func (s *WhitelistService) List(ctx context.Context) ([]*models.WhitelistEntry, error) {
	var out []*models.WhitelistEntry
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListWhitelist(ctx)
		return err
	})
	if out == nil {
		out = []*models.WhitelistEntry{}
	}
	return out, err
}
