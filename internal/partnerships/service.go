// Package partnerships manages bilateral federation agreements between tenants.
package partnerships

import (
	"context"
	"errors"
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

// Service applies partnership lifecycle changes.
type Service struct {
	db     store.Store
	events events.Publisher
	logger *zap.Logger
}

// NewService creates a partnership service.
func NewService(db store.Store, pub events.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, events: events.OrNop(pub), logger: logger}
}

func label(p *models.Partnership) string {
	return p.Tenant1Name + " & " + p.Tenant2Name
}

// Create opens an active partnership between a and b.
func (s *Service) Create(ctx context.Context, actor, a, b uuid.UUID) (*models.Partnership, error) {
	if a == b {
		return nil, apperr.ErrSelfPartnership
	}
	var created *models.Partnership
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		ta, err := tx.GetTenant(ctx, a)
		if err != nil {
			return notFound(err, apperr.ErrTenantNotFound)
		}
		tb, err := tx.GetTenant(ctx, b)
		if err != nil {
			return notFound(err, apperr.ErrTenantNotFound)
		}
		if open, err := findOpen(ctx, tx, a, b); err != nil {
			return err
		} else if open != nil {
			return apperr.ErrDuplicatePartnership
		}

		t1, t2 := store.OrderedPair(a, b)
		now := time.Now().UTC()
		actorID := actor
		p := &models.Partnership{
			ID:        uuid.New(),
			Tenant1ID: t1,
			Tenant2ID: t2,
			Status:    models.PartnershipActive,
			CreatedBy: &actorID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		p.Tenant1Name, p.Tenant2Name = ta.Name, tb.Name
		if t1 != a {
			p.Tenant1Name, p.Tenant2Name = tb.Name, ta.Name
		}
		if err := tx.InsertPartnership(ctx, p); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrDuplicatePartnership
			}
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionPartnershipCreate,
			TargetType:  models.TargetFederation,
			TargetID:    &p.ID,
			TargetLabel: label(p),
			ActorID:     actor,
			Description: fmt.Sprintf("Created federation partnership between %s and %s", p.Tenant1Name, p.Tenant2Name),
			New:         p,
		})
		created = p
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.PartnershipChanged, &created.ID, actor))
	return created, nil
}

// Suspend moves an active partnership to suspended.
func (s *Service) Suspend(ctx context.Context, actor, id uuid.UUID, reason string) (*models.Partnership, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.ErrReasonRequired
	}
	return s.apply(ctx, actor, id, TransitionSuspend, reason)
}

// Terminate ends a partnership permanently.
func (s *Service) Terminate(ctx context.Context, actor, id uuid.UUID, reason string) (*models.Partnership, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.ErrReasonRequired
	}
	return s.apply(ctx, actor, id, TransitionTerminate, reason)
}

// Reactivate returns a suspended partnership to active.
func (s *Service) Reactivate(ctx context.Context, actor, id uuid.UUID, reason string) (*models.Partnership, error) {
	return s.apply(ctx, actor, id, TransitionReactivate, strings.TrimSpace(reason))
}

func (s *Service) apply(ctx context.Context, actor, id uuid.UUID, t Transition, reason string) (*models.Partnership, error) {
	var updated *models.Partnership
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetPartnership(ctx, id)
		if err != nil {
			return notFound(err, apperr.ErrPartnershipNotFound)
		}
		if err := transition(ctx, tx, actor, p, t, reason); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("partnership transition",
		zap.String("partnership_id", id.String()),
		zap.String("transition", t.String()),
		zap.String("status", string(updated.Status)))
	s.events.Publish(ctx, events.New(events.PartnershipChanged, &updated.ID, actor))
	return updated, nil
}

var transitionActions = map[Transition]audit.Action{
	TransitionSuspend:    audit.ActionPartnershipSuspend,
	TransitionTerminate:  audit.ActionPartnershipTerminate,
	TransitionReactivate: audit.ActionPartnershipReactivate,
}

func transition(ctx context.Context, tx store.Tx, actor uuid.UUID, p *models.Partnership, t Transition, reason string) error {
	next, err := Next(ctx, p.Status, t)
	if err != nil {
		return err
	}
	prev := p.Status
	p.Status = next
	p.StatusReason = reason
	p.UpdatedAt = time.Now().UTC()
	if err := tx.UpdatePartnership(ctx, p); err != nil {
		return err
	}
	desc := fmt.Sprintf("Partnership %s: %s -> %s", label(p), prev, next)
	if reason != "" {
		desc += " (" + reason + ")"
	}
	_, err = audit.Record(ctx, tx, audit.Entry{
		Action:      transitionActions[t],
		TargetType:  models.TargetFederation,
		TargetID:    &p.ID,
		TargetLabel: label(p),
		ActorID:     actor,
		Description: desc,
		Old:         map[string]any{"status": prev},
		New:         map[string]any{"status": next, "reason": reason},
	})
	return err
}

// TerminateForTenant ends every open partnership of tenantID inside tx.
func TerminateForTenant(ctx context.Context, tx store.Tx, actor, tenantID uuid.UUID, reason string) (int, error) {
	list, err := tx.ListPartnerships(ctx, models.PartnershipFilter{TenantID: &tenantID})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range list {
		if !p.Status.Open() {
			continue
		}
		if err := transition(ctx, tx, actor, p, TransitionTerminate, reason); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ActiveFor returns the active partnerships of tenantID inside tx.
func ActiveFor(ctx context.Context, tx store.Tx, tenantID uuid.UUID) ([]*models.Partnership, error) {
	return tx.ListPartnerships(ctx, models.PartnershipFilter{TenantID: &tenantID, Status: models.PartnershipActive})
}

func findOpen(ctx context.Context, tx store.Tx, a, b uuid.UUID) (*models.Partnership, error) {
	list, err := tx.ListPartnerships(ctx, models.PartnershipFilter{TenantID: &a})
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.Status.Open() && p.Involves(b) {
			return p, nil
		}
	}
	return nil, nil
}

// Get returns one partnership.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Partnership, error) {
	var p *models.Partnership
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetPartnership(ctx, id)
		return notFound(err, apperr.ErrPartnershipNotFound)
	})
	return p, err
}

// List returns partnerships matching filter, newest first.
func (s *Service) List(ctx context.Context, filter models.PartnershipFilter) ([]*models.Partnership, error) {
	var list []*models.Partnership
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		list, err = tx.ListPartnerships(ctx, filter)
		return err
	})
	if list == nil {
		list = []*models.Partnership{}
	}
	return list, err
}

// Stats counts partnerships per status.
func (s *Service) Stats(ctx context.Context) (models.PartnershipStats, error) {
	var st models.PartnershipStats
	list, err := s.List(ctx, models.PartnershipFilter{})
	if err != nil {
		return st, err
	}
	for _, p := range list {
		st.Total++
		switch p.Status {
		case models.PartnershipActive:
			st.Active++
		case models.PartnershipSuspended:
			st.Suspended++
		case models.PartnershipTerminated:
			st.Terminated++
		}
	}
	return st, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}
