package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultHubMaxDepth is applied when a hub is created or enabled without an explicit depth.
const DefaultHubMaxDepth = 2

// Tenant is one community instance. Hubs (AllowsSubtenants) may parent other tenants.
type Tenant struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	Domain           *string    `json:"domain,omitempty"`
	ParentID         *uuid.UUID `json:"parent_id,omitempty"`
	AllowsSubtenants bool       `json:"allows_subtenants"`
	MaxDepth         int        `json:"max_depth"`
	IsActive         bool       `json:"is_active"`
	IsProtected      bool       `json:"is_protected"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsHub reports whether the tenant may have children.
func (t *Tenant) IsHub() bool { return t.AllowsSubtenants }

// Clone returns a deep copy.
func (t *Tenant) Clone() *Tenant {
	c := *t
	if t.Domain != nil {
		d := *t.Domain
		c.Domain = &d
	}
	if t.ParentID != nil {
		p := *t.ParentID
		c.ParentID = &p
	}
	return &c
}

// TenantRef is the short form used in breadcrumbs and partnership views.
type TenantRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// Ref returns the short form of t.
func (t *Tenant) Ref() TenantRef {
	return TenantRef{ID: t.ID, Name: t.Name, Slug: t.Slug}
}

// TenantNode is one node of the rendered hierarchy.
type TenantNode struct {
	*Tenant
	Depth    int           `json:"depth"`
	Children []*TenantNode `json:"children"`
}

// TenantDetail is the single-tenant view.
type TenantDetail struct {
	Tenant     *Tenant      `json:"tenant"`
	Depth      int          `json:"depth"`
	Breadcrumb []TenantRef  `json:"breadcrumb"`
	Children   []*Tenant    `json:"children"`
	Admins     []UserPublic `json:"admins"`
	UserCount  int          `json:"user_count"`
}

// TenantFilter narrows tenant listings. Nil pointers mean "any".
type TenantFilter struct {
	Search   string
	IsActive *bool
	Hub      *bool
}
