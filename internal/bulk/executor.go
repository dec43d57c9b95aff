// Package bulk runs best-effort batch actions. Each item is applied in its
// own transaction; a failing item never undoes or blocks the others.
package bulk

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/events"
	"github.com/nexus-timebank/backend/internal/hierarchy"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/users"
)

// MaxItems bounds a single request.
const MaxItems = 500

// TenantAction is a bulk tenant operation.
type TenantAction string

const (
	ActionActivate   TenantAction = "activate"
	ActionDeactivate TenantAction = "deactivate"
	ActionEnableHub  TenantAction = "enable_hub"
	ActionDisableHub TenantAction = "disable_hub"
)

// ParseTenantAction validates s.
func ParseTenantAction(s string) (TenantAction, error) {
	switch a := TenantAction(s); a {
	case ActionActivate, ActionDeactivate, ActionEnableHub, ActionDisableHub:
		return a, nil
	}
	return "", apperr.Validationf("unknown bulk action %q", s)
}

// Observer is told about every processed item.
type Observer interface {
	BulkItem(operation string, ok bool)
}

// Executor runs bulk operations.
type Executor struct {
	db       store.Store
	events   events.Publisher
	logger   *zap.Logger
	observer Observer
}

// NewExecutor creates an executor. observer may be nil.
func NewExecutor(db store.Store, pub events.Publisher, logger *zap.Logger, observer Observer) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{db: db, events: events.OrNop(pub), logger: logger, observer: observer}
}

// batch is the deduplicated work of one request.
type batch struct {
	ids        []uuid.UUID
	duplicates []uuid.UUID
	requested  int
}

// newBatch drops repeated ids, keeping the first occurrence. Every repeat is
// reported as skipped.
func newBatch(ids []uuid.UUID) (*batch, error) {
	if len(ids) == 0 {
		return nil, apperr.Validationf("no ids given")
	}
	if len(ids) > MaxItems {
		return nil, apperr.Validationf("at most %d ids per request", MaxItems)
	}
	b := &batch{ids: make([]uuid.UUID, 0, len(ids)), requested: len(ids)}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			b.duplicates = append(b.duplicates, id)
			continue
		}
		seen[id] = struct{}{}
		b.ids = append(b.ids, id)
	}
	return b, nil
}

// run applies fn to every id independently and collects the outcome.
func (e *Executor) run(ctx context.Context, op string, b *batch, fn func(ctx context.Context, tx store.Tx, id uuid.UUID) error) *models.BulkResult {
	res := &models.BulkResult{
		RequestedCount: b.requested,
		SkippedCount:   len(b.duplicates),
		Skipped:        b.duplicates,
		Items:          make([]models.BulkItemResult, 0, len(b.ids)),
	}
	for _, id := range b.ids {
		err := store.Atomic(ctx, e.db, func(ctx context.Context, tx store.Tx) error {
			return fn(ctx, tx, id)
		})
		item := models.BulkItemResult{ID: id, OK: err == nil}
		if err != nil {
			item.Error = err.Error()
			item.Kind = string(apperr.KindOf(err))
			e.logger.Debug("bulk item failed", zap.String("operation", op), zap.String("id", id.String()), zap.Error(err))
		}
		res.Add(item)
		if e.observer != nil {
			e.observer.BulkItem(op, item.OK)
		}
	}
	return res
}

func (e *Executor) summarize(ctx context.Context, actor uuid.UUID, action audit.Action, desc string, extra map[string]any, res *models.BulkResult) error {
	updated := make([]uuid.UUID, 0, res.UpdatedCount)
	for _, it := range res.Items {
		if it.OK {
			updated = append(updated, it.ID)
		}
	}
	extra["total_requested"] = res.RequestedCount
	extra["updated_count"] = res.UpdatedCount
	extra["failed_count"] = res.FailedCount
	extra["skipped_count"] = res.SkippedCount
	extra["updated_ids"] = updated
	return store.Atomic(ctx, e.db, func(ctx context.Context, tx store.Tx) error {
		_, err := audit.Record(ctx, tx, audit.Entry{
			Action:      action,
			TargetType:  models.TargetBulk,
			TargetLabel: fmt.Sprintf("%d of %d", res.UpdatedCount, res.RequestedCount),
			ActorID:     actor,
			Description: desc,
			New:         extra,
		})
		return err
	})
}

// MoveUsers moves every user in ids to target. The target is validated once
// up front; per-user failures are reported in the result.
func (e *Executor) MoveUsers(ctx context.Context, actor uuid.UUID, ids []uuid.UUID, target uuid.UUID, grantSuperAdmin bool) (*models.BulkResult, error) {
	b, err := newBatch(ids)
	if err != nil {
		return nil, err
	}
	var tenant *models.Tenant
	err = e.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tenant, err = tx.GetTenant(ctx, target)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	if grantSuperAdmin && !tenant.IsHub() {
		return nil, apperr.ErrTargetNotHub
	}

	res := e.run(ctx, "move_users", b, func(ctx context.Context, tx store.Tx, id uuid.UUID) error {
		_, err := users.MoveInTx(ctx, tx, actor, id, target, grantSuperAdmin)
		return err
	})
	desc := fmt.Sprintf("Bulk moved %d of %d users to %s", res.UpdatedCount, res.RequestedCount, tenant.Name)
	if grantSuperAdmin {
		desc += " with Super Admin"
	}
	if err := e.summarize(ctx, actor, audit.ActionBulkUsersMoved, desc, map[string]any{
		"target_tenant_id":  target,
		"grant_super_admin": grantSuperAdmin,
	}, res); err != nil {
		return res, err
	}
	e.logger.Info("bulk users moved", zap.Int("updated", res.UpdatedCount), zap.Int("failed", res.FailedCount))
	e.events.Publish(ctx, events.New(events.BulkCompleted, &target, actor))
	return res, nil
}

// UpdateTenants applies action to every tenant in ids. Protected tenants fail
// with a forbidden item error.
func (e *Executor) UpdateTenants(ctx context.Context, actor uuid.UUID, ids []uuid.UUID, action TenantAction) (*models.BulkResult, error) {
	if _, err := ParseTenantAction(string(action)); err != nil {
		return nil, err
	}
	b, err := newBatch(ids)
	if err != nil {
		return nil, err
	}
	res := e.run(ctx, "update_tenants", b, func(ctx context.Context, tx store.Tx, id uuid.UUID) error {
		_, _, err := hierarchy.MutateInTx(ctx, tx, actor, id, func(_ context.Context, _ store.Tx, f *hierarchy.Forest, t *models.Tenant) (*audit.Entry, error) {
			if t.IsProtected {
				return nil, apperr.ErrProtectedTenant
			}
			switch action {
			case ActionActivate, ActionDeactivate:
				active := action == ActionActivate
				if t.IsActive == active {
					return nil, nil
				}
				return hierarchy.ApplyActive(t, active)
			default:
				hub := action == ActionEnableHub
				if t.AllowsSubtenants == hub {
					return nil, nil
				}
				return hierarchy.ApplyHub(f, t, hub)
			}
		})
		return err
	})
	desc := fmt.Sprintf("Bulk %s: %d of %d tenants updated", action, res.UpdatedCount, res.RequestedCount)
	if err := e.summarize(ctx, actor, audit.ActionBulkTenantsUpdated, desc, map[string]any{"action": action}, res); err != nil {
		return res, err
	}
	e.logger.Info("bulk tenants updated", zap.String("action", string(action)), zap.Int("updated", res.UpdatedCount), zap.Int("failed", res.FailedCount))
	e.events.Publish(ctx, events.New(events.BulkCompleted, nil, actor))
	return res, nil
}

// SelectableTenantIDs returns the ids offered by "select all": every tenant
// except protected ones.
func (e *Executor) SelectableTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := e.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		list, err := tx.ListTenants(ctx)
		if err != nil {
			return err
		}
		out = make([]uuid.UUID, 0, len(list))
		for _, t := range list {
			if !t.IsProtected {
				out = append(out, t.ID)
			}
		}
		return nil
	})
	return out, err
}
