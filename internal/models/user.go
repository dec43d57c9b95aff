package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the platform-level role carried in tokens.
type Role string

const (
	RoleMember      Role = "member"
	RoleTenantAdmin Role = "tenant_admin"
	RoleSuperAdmin  Role = "super_admin"
	RoleGod         Role = "god"
)

// User is a member of exactly one tenant.
type User struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Role               Role      `json:"role"`
	IsTenantSuperAdmin bool      `json:"is_tenant_super_admin"`
	IsGlobalSuperAdmin bool      `json:"is_global_super_admin"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UserPublic is User without credentials, for API responses.
type UserPublic struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	Email              string    `json:"email"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Role               Role      `json:"role"`
	IsTenantSuperAdmin bool      `json:"is_tenant_super_admin"`
	IsGlobalSuperAdmin bool      `json:"is_global_super_admin"`
	CreatedAt          time.Time `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:                 u.ID,
		TenantID:           u.TenantID,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Role:               u.Role,
		IsTenantSuperAdmin: u.IsTenantSuperAdmin,
		IsGlobalSuperAdmin: u.IsGlobalSuperAdmin,
		CreatedAt:          u.CreatedAt,
	}
}

// DisplayName is "First Last", falling back to the email.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Email
	}
	return name
}

// EffectiveRole folds the admin flags into the role used for authorization.
func (u *User) EffectiveRole() Role {
	switch {
	case u.Role == RoleGod:
		return RoleGod
	case u.IsGlobalSuperAdmin || u.Role == RoleSuperAdmin:
		return RoleSuperAdmin
	case u.IsTenantSuperAdmin || u.Role == RoleTenantAdmin:
		return RoleTenantAdmin
	}
	return RoleMember
}

// UserFilter narrows user listings.
type UserFilter struct {
	TenantID *uuid.UUID
	Search   string
}
