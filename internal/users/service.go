// Package users manages platform users as seen by super admins: placement in
// tenants and the tenant and global super admin flags.
package users

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
	"github.com/nexus-timebank/backend/pkg/utils"
)

// CreateInput describes a new user.
type CreateInput struct {
	TenantID  uuid.UUID   `json:"tenant_id" binding:"required"`
	Email     string      `json:"email" binding:"required,email"`
	Password  string      `json:"password" binding:"required"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      models.Role `json:"role"`
}

// UpdateInput edits a user's profile. Nil fields are left unchanged.
type UpdateInput struct {
	Email     *string      `json:"email"`
	FirstName *string      `json:"first_name"`
	LastName  *string      `json:"last_name"`
	Role      *models.Role `json:"role"`
}

// Service applies user administration.
type Service struct {
	db     store.Store
	events events.Publisher
	logger *zap.Logger
}

// NewService creates a user service.
func NewService(db store.Store, pub events.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, events: events.OrNop(pub), logger: logger}
}

func userErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrUserNotFound
	}
	return err
}

func tenantErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrTenantNotFound
	}
	return err
}

func validRole(r models.Role) bool {
	switch r {
	case models.RoleMember, models.RoleTenantAdmin, models.RoleSuperAdmin, models.RoleGod:
		return true
	}
	return false
}

// Create adds a user to a tenant.
func (s *Service) Create(ctx context.Context, actor uuid.UUID, in CreateInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validationf("a valid email is required")
	}
	if in.Role == "" {
		in.Role = models.RoleMember
	}
	if !validRole(in.Role) {
		return nil, apperr.Validationf("unknown role %q", in.Role)
	}
	if err := utils.ValidatePassword(in.Password); err != nil {
		return nil, apperr.Wrap(apperr.Validationf("invalid password"), err)
	}
	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *models.User
	err = store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTenant(ctx, in.TenantID)
		if err != nil {
			return tenantErr(err)
		}
		now := time.Now().UTC()
		u := &models.User{
			ID:           uuid.New(),
			TenantID:     t.ID,
			Email:        email,
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			Role:         in.Role,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrDuplicateEmail
			}
			return err
		}
		_, err = audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionUserCreated,
			TargetType:  models.TargetUser,
			TargetID:    &u.ID,
			TargetLabel: u.DisplayName(),
			ActorID:     actor,
			Description: fmt.Sprintf("Created user %s in %s", u.Email, t.Name),
			New:         u.ToPublic(),
		})
		created = u
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.UserChanged, &created.ID, actor))
	return created, nil
}

// Update edits name, email and role. Super admin and god roles are only
// reachable through the grant flows, and users holding them keep their role.
func (s *Service) Update(ctx context.Context, actor, id uuid.UUID, in UpdateInput) (*models.User, error) {
	var email string
	if in.Email != nil {
		email = strings.ToLower(strings.TrimSpace(*in.Email))
		if email == "" || !strings.Contains(email, "@") {
			return nil, apperr.Validationf("a valid email is required")
		}
	}
	if in.Role != nil {
		if !validRole(*in.Role) {
			return nil, apperr.Validationf("unknown role %q", *in.Role)
		}
		if *in.Role == models.RoleSuperAdmin || *in.Role == models.RoleGod {
			return nil, apperr.Validationf("role %q is granted through the super admin endpoints", *in.Role)
		}
	}

	var (
		updated *models.User
		changed bool
	)
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return userErr(err)
		}
		label := u.DisplayName()
		old, next := map[string]any{}, map[string]any{}
		set := func(field string, cur *string, v *string) {
			if v == nil {
				return
			}
			val := strings.TrimSpace(*v)
			if field == "email" {
				val = email
			}
			if val == *cur {
				return
			}
			old[field], next[field] = *cur, val
			*cur = val
		}
		set("first_name", &u.FirstName, in.FirstName)
		set("last_name", &u.LastName, in.LastName)
		if in.Email != nil && email != u.Email {
			other, err := tx.UserByEmail(ctx, email)
			switch {
			case err == nil && other.ID != u.ID:
				return apperr.ErrDuplicateEmail
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return err
			}
			set("email", &u.Email, in.Email)
		}
		if in.Role != nil && *in.Role != u.Role {
			if u.Role == models.RoleSuperAdmin || u.Role == models.RoleGod {
				return apperr.Wrap(apperr.ErrForbidden, fmt.Errorf("role %q cannot be changed here", u.Role))
			}
			old["role"], next["role"] = u.Role, *in.Role
			u.Role = *in.Role
		}

		updated = u
		if len(next) == 0 {
			return nil
		}
		changed = true
		u.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrDuplicateEmail
			}
			return userErr(err)
		}
		_, err = audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionUserUpdated,
			TargetType:  models.TargetUser,
			TargetID:    &u.ID,
			TargetLabel: label,
			ActorID:     actor,
			Description: "Updated user " + u.DisplayName(),
			Old:         old,
			New:         next,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.events.Publish(ctx, events.New(events.UserChanged, &updated.ID, actor))
	}
	return updated, nil
}

// Authenticate returns the user with email when password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	var u *models.User
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		u, err = tx.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(password, u.PasswordHash) {
		return nil, apperr.ErrUnauthorized
	}
	return u, nil
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u *models.User
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		u, err = tx.GetUser(ctx, id)
		return userErr(err)
	})
	return u, err
}

// List returns users matching filter.
func (s *Service) List(ctx context.Context, filter models.UserFilter) ([]*models.User, error) {
	var out []*models.User
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListUsers(ctx, filter)
		return err
	})
	if out == nil {
		out = []*models.User{}
	}
	return out, err
}

// Move places a user in targetID. Moving to a tenant that is not a hub drops
// the tenant super admin flag; grantSuperAdmin requires a hub target.
func (s *Service) Move(ctx context.Context, actor, userID, targetID uuid.UUID, grantSuperAdmin bool) (*models.User, error) {
	var moved *models.User
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		var err error
		moved, err = MoveInTx(ctx, tx, actor, userID, targetID, grantSuperAdmin)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.New(events.UserChanged, &moved.ID, actor))
	return moved, nil
}

// MoveInTx is Move inside an existing transaction.
func MoveInTx(ctx context.Context, tx store.Tx, actor, userID, targetID uuid.UUID, grantSuperAdmin bool) (*models.User, error) {
	target, err := tx.GetTenant(ctx, targetID)
	if err != nil {
		return nil, tenantErr(err)
	}
	if grantSuperAdmin && !target.IsHub() {
		return nil, apperr.ErrTargetNotHub
	}
	u, err := tx.GetUser(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	old := map[string]any{"tenant_id": u.TenantID, "is_tenant_super_admin": u.IsTenantSuperAdmin}
	u.TenantID = target.ID
	switch {
	case grantSuperAdmin:
		u.IsTenantSuperAdmin = true
		if u.Role == models.RoleMember {
			u.Role = models.RoleTenantAdmin
		}
	case !target.IsHub():
		u.IsTenantSuperAdmin = false
	}
	u.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateUser(ctx, u); err != nil {
		return nil, userErr(err)
	}
	_, err = audit.Record(ctx, tx, audit.Entry{
		Action:      audit.ActionUserMoved,
		TargetType:  models.TargetUser,
		TargetID:    &u.ID,
		TargetLabel: u.DisplayName(),
		ActorID:     actor,
		Description: fmt.Sprintf("Moved %s to tenant %s", u.DisplayName(), target.Name),
		Old:         old,
		New:         map[string]any{"tenant_id": u.TenantID, "is_tenant_super_admin": u.IsTenantSuperAdmin},
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetTenantSuperAdmin grants or revokes tenant super admin. Granting requires
// the user's tenant to be a hub.
func (s *Service) SetTenantSuperAdmin(ctx context.Context, actor, userID uuid.UUID, enabled bool) (*models.User, error) {
	return s.setFlag(ctx, actor, userID, func(ctx context.Context, tx store.Tx, u *models.User) (*audit.Entry, error) {
		if u.IsTenantSuperAdmin == enabled {
			return nil, nil
		}
		if enabled {
			t, err := tx.GetTenant(ctx, u.TenantID)
			if err != nil {
				return nil, tenantErr(err)
			}
			if !t.IsHub() {
				return nil, apperr.ErrTargetNotHub
			}
			if u.Role == models.RoleMember {
				u.Role = models.RoleTenantAdmin
			}
		}
		u.IsTenantSuperAdmin = enabled
		e := &audit.Entry{
			Action:      audit.ActionSuperAdminRevoked,
			Description: "Revoked Super Admin privileges from " + u.DisplayName(),
			Old:         map[string]bool{"is_tenant_super_admin": !enabled},
			New:         map[string]bool{"is_tenant_super_admin": enabled},
		}
		if enabled {
			e.Action = audit.ActionSuperAdminGranted
			e.Description = "Granted Super Admin privileges to " + u.DisplayName()
		}
		return e, nil
	})
}

// SetGlobalSuperAdmin grants or revokes platform-wide super admin. Actors
// cannot revoke their own flag.
func (s *Service) SetGlobalSuperAdmin(ctx context.Context, actor, userID uuid.UUID, enabled bool) (*models.User, error) {
	if !enabled && actor == userID {
		return nil, apperr.Wrap(apperr.ErrForbidden, errors.New("cannot revoke your own global super admin status"))
	}
	return s.setFlag(ctx, actor, userID, func(_ context.Context, _ store.Tx, u *models.User) (*audit.Entry, error) {
		if u.IsGlobalSuperAdmin == enabled {
			return nil, nil
		}
		u.IsGlobalSuperAdmin = enabled
		e := &audit.Entry{
			Action:      audit.ActionGlobalSuperAdminRevoked,
			Description: "Revoked global Super Admin privileges from " + u.DisplayName(),
			Old:         map[string]bool{"is_global_super_admin": !enabled},
			New:         map[string]bool{"is_global_super_admin": enabled},
		}
		if enabled {
			e.Action = audit.ActionGlobalSuperAdminGranted
			e.Description = "Granted global Super Admin privileges to " + u.DisplayName()
		}
		return e, nil
	})
}

func (s *Service) setFlag(ctx context.Context, actor, userID uuid.UUID, fn func(ctx context.Context, tx store.Tx, u *models.User) (*audit.Entry, error)) (*models.User, error) {
	var (
		out     *models.User
		changed bool
	)
	err := store.Atomic(ctx, s.db, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return userErr(err)
		}
		e, err := fn(ctx, tx, u)
		if err != nil {
			return err
		}
		out, changed = u, e != nil
		if e == nil {
			return nil
		}
		u.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateUser(ctx, u); err != nil {
			return userErr(err)
		}
		e.TargetType = models.TargetUser
		e.TargetID = &u.ID
		e.TargetLabel = u.DisplayName()
		e.ActorID = actor
		_, err = audit.Record(ctx, tx, *e)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("user privileges changed", zap.String("user_id", userID.String()), zap.String("actor_id", actor.String()))
		s.events.Publish(ctx, events.New(events.UserChanged, &out.ID, actor))
	}
	return out, nil
}
