// Package hierarchy manages the tenant forest: creation, moves, hub status,
// activation and deletion, enforcing acyclicity and hub depth limits.
package hierarchy

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
	"github.com/nexus-timebank/backend/internal/partnerships"
	"github.com/nexus-timebank/backend/internal/store"
)

// MaxHubDepth caps the depth a hub may declare.
const MaxHubDepth = 10

// CreateInput describes a new tenant. Slug is derived from Name when empty.
type CreateInput struct {
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	Domain           *string    `json:"domain"`
	ParentID         *uuid.UUID `json:"parent_id"`
	AllowsSubtenants bool       `json:"allows_subtenants"`
	MaxDepth         int        `json:"max_depth"`
	IsActive         *bool      `json:"is_active"`
}

// UpdateInput is a partial tenant update. Nil fields are left unchanged;
// an empty Domain clears it.
type UpdateInput struct {
	Name     *string `json:"name"`
	Slug     *string `json:"slug"`
	Domain   *string `json:"domain"`
	MaxDepth *int    `json:"max_depth"`
	IsActive *bool   `json:"is_active"`
}

// Service applies hierarchy changes.
type Service struct {
	db     store.Store
	events events.Publisher
	logger *zap.Logger
}

// NewService creates a hierarchy service.
func NewService(db store.Store, pub events.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, events: events.OrNop(pub), logger: logger}
}

// LoadForest indexes every tenant visible in tx.
func LoadForest(ctx context.Context, tx store.Tx) (*Forest, error) {
	list, err := tx.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return NewForest(list), nil
}

func tenantNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrTenantNotFound
	}
	return err
}

func normalizeDomain(d *string) *string {
	if d == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*d))
	if v == "" {
		return nil
	}
	return &v
}

// hubDepth resolves the stored depth limit. Non-hubs always store 0.
func hubDepth(hub bool, requested int) (int, error) {
	if !hub {
		if requested != 0 {
			return 0, apperr.Validationf("max_depth applies to hub tenants only")
		}
		return 0, nil
	}
	if requested <= 0 {
		return models.DefaultHubMaxDepth, nil
	}
	if requested > MaxHubDepth {
		return 0, apperr.Validationf("max_depth must be between 1 and %d", MaxHubDepth)
	}
	return requested, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return "", apperr.Validationf("name must be 1-255 characters")
	}
	return name, nil
}

// Create inserts a tenant, optionally under a hub parent.
func (s *Service) Create(ctx context.Context, actor uuid.UUID, in CreateInput) (*models.Tenant, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	generated := slug == ""
	if generated {
		slug = Slugify(name)
	}
	if !ValidSlug(slug) {
		return nil, apperr.Validationf("slug must be 2-64 chars, lowercase letters, numbers, hyphens only")
	}
	maxDepth, err := hubDepth(in.AllowsSubtenants, in.MaxDepth)
	if err != nil {
		return nil, err
	}
	domain := normalizeDomain(in.Domain)
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	var created *models.Tenant
	err = store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		forest, err := LoadForest(ctx, tx)
		if err != nil {
			return err
		}
		if err := forest.CheckPlacement(in.ParentID, 0); err != nil {
			return err
		}
		finalSlug, err := uniqueSlug(ctx, tx, slug, generated)
		if err != nil {
			return err
		}
		if domain != nil {
			if _, err := tx.TenantByDomain(ctx, *domain); err == nil {
				return apperr.ErrDuplicateDomain
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		now := time.Now().UTC()
		t := &models.Tenant{
			ID:               uuid.New(),
			Name:             name,
			Slug:             finalSlug,
			Domain:           domain,
			ParentID:         in.ParentID,
			AllowsSubtenants: in.AllowsSubtenants,
			MaxDepth:         maxDepth,
			IsActive:         active,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertTenant(ctx, t); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrDuplicateSlug
			}
			return err
		}
		desc := fmt.Sprintf("Created tenant %s", t.Name)
		if in.ParentID != nil {
			parent, _ := forest.Get(*in.ParentID)
			desc += " under " + parent.Name
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionTenantCreated,
			TargetType:  models.TargetTenant,
			TargetID:    &t.ID,
			TargetLabel: t.Name,
			ActorID:     actor,
			Description: desc,
			New:         t,
		}); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tenant created", zap.String("tenant_id", created.ID.String()), zap.String("slug", created.Slug))
	s.events.Publish(ctx, events.New(events.HierarchyChanged, &created.ID, actor))
	return created, nil
}

func uniqueSlug(ctx context.Context, tx store.Tx, slug string, generated bool) (string, error) {
	candidate := slug
	for n := 2; ; n++ {
		_, err := tx.TenantBySlug(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		if !generated {
			return "", apperr.ErrDuplicateSlug
		}
		candidate = withSuffix(slug, n)
	}
}

// Update changes name, domain, max depth or active flag. The slug is immutable.
func (s *Service) Update(ctx context.Context, actor, id uuid.UUID, in UpdateInput) (*models.Tenant, error) {
	var updated *models.Tenant
	changed := false
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		forest, err := LoadForest(ctx, tx)
		if err != nil {
			return err
		}
		cur, ok := forest.Get(id)
		if !ok {
			return apperr.ErrTenantNotFound
		}
		before := cur.Clone()
		t := cur.Clone()

		if in.Slug != nil && strings.ToLower(strings.TrimSpace(*in.Slug)) != t.Slug {
			return apperr.ErrSlugImmutable
		}
		if in.Name != nil {
			if t.Name, err = validName(*in.Name); err != nil {
				return err
			}
		}
		if in.Domain != nil {
			t.Domain = normalizeDomain(in.Domain)
			if t.Domain != nil {
				other, err := tx.TenantByDomain(ctx, *t.Domain)
				if err == nil && other.ID != t.ID {
					return apperr.ErrDuplicateDomain
				}
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}
		}
		if in.MaxDepth != nil && *in.MaxDepth != t.MaxDepth {
			if !t.IsHub() {
				return apperr.Validationf("max_depth applies to hub tenants only")
			}
			if *in.MaxDepth < 1 || *in.MaxDepth > MaxHubDepth {
				return apperr.Validationf("max_depth must be between 1 and %d", MaxHubDepth)
			}
			if forest.Height(t.ID) > *in.MaxDepth {
				return apperr.ErrDepthExceeded
			}
			t.MaxDepth = *in.MaxDepth
		}
		if in.IsActive != nil {
			if !*in.IsActive && t.IsProtected {
				return apperr.ErrProtectedTenant
			}
			t.IsActive = *in.IsActive
		}

		if sameTenant(before, t) {
			updated = t
			return nil
		}
		t.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateTenant(ctx, t); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrDuplicateDomain
			}
			return tenantNotFound(err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionTenantUpdated,
			TargetType:  models.TargetTenant,
			TargetID:    &t.ID,
			TargetLabel: t.Name,
			ActorID:     actor,
			Description: fmt.Sprintf("Updated tenant %s", t.Name),
			Old:         before,
			New:         t,
		}); err != nil {
			return err
		}
		updated, changed = t, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.events.Publish(ctx, events.New(events.TenantChanged, &updated.ID, actor))
	}
	return updated, nil
}

func sameTenant(a, b *models.Tenant) bool {
	sameDomain := (a.Domain == nil && b.Domain == nil) ||
		(a.Domain != nil && b.Domain != nil && *a.Domain == *b.Domain)
	return a.Name == b.Name && sameDomain && a.MaxDepth == b.MaxDepth && a.IsActive == b.IsActive
}

// Move re-parents a tenant and its subtree. A nil parent makes it a root.
func (s *Service) Move(ctx context.Context, actor, id uuid.UUID, newParentID *uuid.UUID) (*models.Tenant, error) {
	var moved *models.Tenant
	changed := false
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		forest, err := LoadForest(ctx, tx)
		if err != nil {
			return err
		}
		cur, ok := forest.Get(id)
		if !ok {
			return apperr.ErrTenantNotFound
		}
		t := cur.Clone()
		if samePtr(t.ParentID, newParentID) {
			moved = t
			return nil
		}
		if t.IsProtected {
			return apperr.ErrProtectedTenant
		}
		if newParentID != nil && (*newParentID == id || forest.IsDescendant(*newParentID, id)) {
			return apperr.ErrCycleDetected
		}
		if err := forest.CheckPlacement(newParentID, forest.Height(id)); err != nil {
			return err
		}

		from, to := "top level", "top level"
		if t.ParentID != nil {
			if p, ok := forest.Get(*t.ParentID); ok {
				from = p.Name
			}
		}
		if newParentID != nil {
			p, _ := forest.Get(*newParentID)
			to = p.Name
		}
		oldParent := t.ParentID
		t.ParentID = newParentID
		t.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateTenant(ctx, t); err != nil {
			return tenantNotFound(err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionTenantMoved,
			TargetType:  models.TargetTenant,
			TargetID:    &t.ID,
			TargetLabel: t.Name,
			ActorID:     actor,
			Description: fmt.Sprintf("Moved tenant %s from %s to %s", t.Name, from, to),
			Old:         map[string]any{"parent_id": oldParent},
			New:         map[string]any{"parent_id": newParentID},
		}); err != nil {
			return err
		}
		moved, changed = t, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("tenant moved", zap.String("tenant_id", id.String()))
		s.events.Publish(ctx, events.New(events.HierarchyChanged, &moved.ID, actor))
	}
	return moved, nil
}

func samePtr(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ToggleHub enables or disables sub-tenant support. Disabling fails while the
// tenant still has children.
func (s *Service) ToggleHub(ctx context.Context, actor, id uuid.UUID, enabled bool) (*models.Tenant, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, tx store.Tx, f *Forest, t *models.Tenant) (*audit.Entry, error) {
		if t.AllowsSubtenants == enabled {
			return nil, nil
		}
		return ApplyHub(f, t, enabled)
	})
}

// ApplyHub sets the hub flag on t and returns the audit entry to record.
func ApplyHub(f *Forest, t *models.Tenant, enabled bool) (*audit.Entry, error) {
	if !enabled && f.HasChildren(t.ID) {
		return nil, apperr.ErrHasChildren
	}
	old := map[string]any{"allows_subtenants": t.AllowsSubtenants, "max_depth": t.MaxDepth}
	t.AllowsSubtenants = enabled
	verb := "Disabled"
	if enabled {
		verb = "Enabled"
		if t.MaxDepth < 1 {
			t.MaxDepth = models.DefaultHubMaxDepth
		}
	} else {
		t.MaxDepth = 0
	}
	return &audit.Entry{
		Action:      audit.ActionHubToggled,
		Description: fmt.Sprintf("%s hub status for %s", verb, t.Name),
		Old:         old,
		New:         map[string]any{"allows_subtenants": t.AllowsSubtenants, "max_depth": t.MaxDepth},
	}, nil
}

// SetActive deactivates or reactivates a tenant. Protected tenants cannot be deactivated.
func (s *Service) SetActive(ctx context.Context, actor, id uuid.UUID, active bool) (*models.Tenant, error) {
	return s.mutate(ctx, actor, id, func(_ context.Context, _ store.Tx, _ *Forest, t *models.Tenant) (*audit.Entry, error) {
		if t.IsActive == active {
			return nil, nil
		}
		return ApplyActive(t, active)
	})
}

// ApplyActive sets the active flag on t and returns the audit entry to record.
func ApplyActive(t *models.Tenant, active bool) (*audit.Entry, error) {
	if !active && t.IsProtected {
		return nil, apperr.ErrProtectedTenant
	}
	t.IsActive = active
	if active {
		return &audit.Entry{Action: audit.ActionTenantReactivated, Description: "Reactivated tenant " + t.Name}, nil
	}
	return &audit.Entry{Action: audit.ActionTenantDeactivated, Description: "Deactivated tenant " + t.Name}, nil
}

// Mutation changes t in place and returns the audit entry to record, or nil
// when nothing changed.
type Mutation func(ctx context.Context, tx store.Tx, f *Forest, t *models.Tenant) (*audit.Entry, error)

// mutate loads t, applies fn and persists t with fn's audit entry. A nil
// entry means nothing changed.
func (s *Service) mutate(ctx context.Context, actor, id uuid.UUID, fn Mutation) (*models.Tenant, error) {
	var out *models.Tenant
	changed := false
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		t, changedNow, err := MutateInTx(ctx, tx, actor, id, fn)
		if err != nil {
			return err
		}
		out, changed = t, changedNow
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.events.Publish(ctx, events.New(events.TenantChanged, &out.ID, actor))
	}
	return out, nil
}

// MutateInTx is mutate without the transaction, for callers that batch.
func MutateInTx(ctx context.Context, tx store.Tx, actor, id uuid.UUID, fn Mutation) (*models.Tenant, bool, error) {
	forest, err := LoadForest(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	cur, ok := forest.Get(id)
	if !ok {
		return nil, false, apperr.ErrTenantNotFound
	}
	t := cur.Clone()
	entry, err := fn(ctx, tx, forest, t)
	if err != nil || entry == nil {
		return t, false, err
	}
	t.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateTenant(ctx, t); err != nil {
		return nil, false, tenantNotFound(err)
	}
	entry.TargetType = models.TargetTenant
	entry.TargetID = &t.ID
	entry.TargetLabel = t.Name
	entry.ActorID = actor
	if _, err := audit.Record(ctx, tx, *entry); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// Delete permanently removes a leaf tenant. Its open partnerships are
// terminated first so the trail shows why they ended.
func (s *Service) Delete(ctx context.Context, actor, id uuid.UUID) error {
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		forest, err := LoadForest(ctx, tx)
		if err != nil {
			return err
		}
		t, ok := forest.Get(id)
		if !ok {
			return apperr.ErrTenantNotFound
		}
		if t.IsProtected {
			return apperr.ErrProtectedTenant
		}
		if forest.HasChildren(id) {
			return apperr.ErrHasChildren
		}
		if _, err := partnerships.TerminateForTenant(ctx, tx, actor, id, "Tenant deleted"); err != nil {
			return err
		}
		if err := tx.DeleteTenant(ctx, id); err != nil {
			return tenantNotFound(err)
		}
		_, err = audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionTenantDeleted,
			TargetType:  models.TargetTenant,
			TargetID:    &t.ID,
			TargetLabel: t.Name,
			ActorID:     actor,
			Description: fmt.Sprintf("Permanently deleted tenant %s (%s)", t.Name, t.Slug),
			Old:         t,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Warn("tenant deleted", zap.String("tenant_id", id.String()), zap.String("actor_id", actor.String()))
	s.events.Publish(ctx, events.New(events.TenantDeleted, &id, actor))
	return nil
}

// Get returns the tenant with breadcrumb, children and admins.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.TenantDetail, error) {
	var d *models.TenantDetail
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		forest, err := LoadForest(ctx, tx)
		if err != nil {
			return err
		}
		t, ok := forest.Get(id)
		if !ok {
			return apperr.ErrTenantNotFound
		}
		users, err := tx.ListUsers(ctx, models.UserFilter{TenantID: &id})
		if err != nil {
			return err
		}
		d = &models.TenantDetail{
			Tenant:     t,
			Depth:      forest.Depth(id),
			Breadcrumb: forest.Breadcrumb(id),
			Children:   forest.Children(id),
			Admins:     []models.UserPublic{},
			UserCount:  len(users),
		}
		for _, u := range users {
			if u.IsTenantSuperAdmin || u.Role == models.RoleTenantAdmin {
				d.Admins = append(d.Admins, u.ToPublic())
			}
		}
		return nil
	})
	return d, err
}

// List returns tenants matching filter, ordered by name.
func (s *Service) List(ctx context.Context, filter models.TenantFilter) ([]*models.Tenant, error) {
	var out []*models.Tenant
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListTenants(ctx)
		if err != nil {
			return err
		}
		out = make([]*models.Tenant, 0, len(all))
		for _, t := range all {
			if filter.IsActive != nil && t.IsActive != *filter.IsActive {
				continue
			}
			if filter.Hub != nil && t.AllowsSubtenants != *filter.Hub {
				continue
			}
			if search != "" {
				hay := strings.ToLower(t.Name + " " + t.Slug)
				if t.Domain != nil {
					hay += " " + *t.Domain
				}
				if !strings.Contains(hay, search) {
					continue
				}
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

// Tree returns the whole hierarchy as nested nodes.
func (s *Service) Tree(ctx context.Context) ([]*models.TenantNode, error) {
	var out []*models.TenantNode
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		forest, err := LoadForest(ctx, tx)
		if err != nil {
			return err
		}
		out = forest.Tree()
		return nil
	})
	return out, err
}
