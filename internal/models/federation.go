package models

import (
	"time"

	"github.com/google/uuid"
)

// Feature names one cross-tenant capability.
type Feature string

const (
	FeatureProfiles     Feature = "profiles"
	FeatureMessaging    Feature = "messaging"
	FeatureTransactions Feature = "transactions"
	FeatureListings     Feature = "listings"
	FeatureEvents       Feature = "events"
	FeatureGroups       Feature = "groups"
)

// Features lists every capability in display order.
var Features = []Feature{
	FeatureProfiles,
	FeatureMessaging,
	FeatureTransactions,
	FeatureListings,
	FeatureEvents,
	FeatureGroups,
}

// ParseFeature accepts both the short name ("messaging") and the column form
// ("cross_tenant_messaging_enabled").
func ParseFeature(s string) (Feature, bool) {
	for _, f := range Features {
		if s == string(f) || s == f.Column() {
			return f, true
		}
	}
	return "", false
}

// Column returns the storage/JSON key of the flag.
func (f Feature) Column() string {
	return "cross_tenant_" + string(f) + "_enabled"
}

// FeatureFlags holds the six capability booleans.
type FeatureFlags struct {
	Profiles     bool `json:"cross_tenant_profiles_enabled"`
	Messaging    bool `json:"cross_tenant_messaging_enabled"`
	Transactions bool `json:"cross_tenant_transactions_enabled"`
	Listings     bool `json:"cross_tenant_listings_enabled"`
	Events       bool `json:"cross_tenant_events_enabled"`
	Groups       bool `json:"cross_tenant_groups_enabled"`
}

func (f *FeatureFlags) field(feat Feature) *bool {
	switch feat {
	case FeatureProfiles:
		return &f.Profiles
	case FeatureMessaging:
		return &f.Messaging
	case FeatureTransactions:
		return &f.Transactions
	case FeatureListings:
		return &f.Listings
	case FeatureEvents:
		return &f.Events
	case FeatureGroups:
		return &f.Groups
	}
	return nil
}

// Enabled returns the flag for feat; unknown features are disabled.
func (f FeatureFlags) Enabled(feat Feature) bool {
	p := f.field(feat)
	return p != nil && *p
}

// Set updates the flag for feat. It returns false for an unknown feature.
func (f *FeatureFlags) Set(feat Feature, enabled bool) bool {
	p := f.field(feat)
	if p == nil {
		return false
	}
	*p = enabled
	return true
}

// Map returns the flags keyed by feature.
func (f FeatureFlags) Map() map[Feature]bool {
	m := make(map[Feature]bool, len(Features))
	for _, feat := range Features {
		m[feat] = f.Enabled(feat)
	}
	return m
}

// SystemControls is the platform-wide federation record. Version is bumped on every save.
type SystemControls struct {
	FederationEnabled    bool       `json:"federation_enabled"`
	WhitelistModeEnabled bool       `json:"whitelist_mode_enabled"`
	IsLockedDown         bool       `json:"is_locked_down"`
	LockdownReason       string     `json:"lockdown_reason"`
	LockdownAt           *time.Time `json:"lockdown_at,omitempty"`
	LockdownBy           *uuid.UUID `json:"lockdown_by,omitempty"`
	FeatureFlags
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
}

// TenantFeatureSet is the per-tenant copy of the six flags.
type TenantFeatureSet struct {
	TenantID uuid.UUID `json:"tenant_id"`
	FeatureFlags
	UpdatedAt time.Time `json:"updated_at"`
}

// WhitelistEntry marks a tenant as allowed to federate under whitelist mode.
type WhitelistEntry struct {
	TenantID   uuid.UUID  `json:"tenant_id"`
	TenantName string     `json:"tenant_name"`
	Notes      string     `json:"notes,omitempty"`
	ApprovedBy *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt time.Time  `json:"approved_at"`
}

// PartnershipStatus is a lifecycle state.
type PartnershipStatus string

const (
	PartnershipActive     PartnershipStatus = "active"
	PartnershipSuspended  PartnershipStatus = "suspended"
	PartnershipTerminated PartnershipStatus = "terminated"
)

// Open reports whether the status still blocks a new partnership for the pair.
func (s PartnershipStatus) Open() bool {
	return s == PartnershipActive || s == PartnershipSuspended
}

// Partnership is a bilateral agreement. Tenant1ID < Tenant2ID by byte order.
type Partnership struct {
	ID           uuid.UUID         `json:"id"`
	Tenant1ID    uuid.UUID         `json:"tenant_1_id"`
	Tenant2ID    uuid.UUID         `json:"tenant_2_id"`
	Tenant1Name  string            `json:"tenant_1_name,omitempty"`
	Tenant2Name  string            `json:"tenant_2_name,omitempty"`
	Status       PartnershipStatus `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	CreatedBy    *uuid.UUID        `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Involves reports whether tenantID is one side of p.
func (p *Partnership) Involves(tenantID uuid.UUID) bool {
	return p.Tenant1ID == tenantID || p.Tenant2ID == tenantID
}

// Counterpart returns the other side of p relative to tenantID.
func (p *Partnership) Counterpart(tenantID uuid.UUID) uuid.UUID {
	if p.Tenant1ID == tenantID {
		return p.Tenant2ID
	}
	return p.Tenant1ID
}

// PartnershipFilter narrows partnership listings.
type PartnershipFilter struct {
	Status   PartnershipStatus
	TenantID *uuid.UUID
}

// PartnershipStats counts partnerships per status.
type PartnershipStats struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Suspended  int `json:"suspended"`
	Terminated int `json:"terminated"`
}

// DenialLevel says which gate refused a capability.
type DenialLevel string

const (
	DenialEmergency     DenialLevel = "emergency"
	DenialSystem        DenialLevel = "system"
	DenialSystemFeature DenialLevel = "system_feature"
	DenialWhitelist     DenialLevel = "whitelist"
	DenialTenantFeature DenialLevel = "tenant_feature"
	DenialPartnership   DenialLevel = "partnership"
)

// Capability is the evaluated result for one feature.
type Capability struct {
	Feature  Feature     `json:"feature"`
	Allowed  bool        `json:"allowed"`
	Reason   string      `json:"reason,omitempty"`
	Level    DenialLevel `json:"level,omitempty"`
	Partners []uuid.UUID `json:"partners,omitempty"`
}

// EffectiveFeatures is the read-side aggregation for one tenant.
type EffectiveFeatures struct {
	TenantID     uuid.UUID              `json:"tenant_id"`
	Capabilities map[Feature]Capability `json:"capabilities"`
	EvaluatedAt  time.Time              `json:"evaluated_at"`
}
