package audit

import (
	"sort"
	"strings"
)

// Action is an audit action type tag.
type Action string

// Category groups actions for filtering.
type Category string

// Severity is the derived importance of an action.
type Severity string

const (
	CategoryTenant         Category = "tenant"
	CategoryUser           Category = "user"
	CategoryBulk           Category = "bulk"
	CategorySystemControls Category = "system_controls"
	CategoryLockdown       Category = "lockdown"
	CategoryWhitelist      Category = "whitelist"
	CategoryPartnership    Category = "partnership"
	CategoryFeatures       Category = "features"
	CategoryData           Category = "data"
	CategoryOther          Category = "other"

	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	ActionTenantCreated     Action = "tenant_created"
	ActionTenantUpdated     Action = "tenant_updated"
	ActionTenantDeleted     Action = "tenant_deleted"
	ActionTenantMoved       Action = "tenant_moved"
	ActionTenantDeactivated Action = "tenant_deactivated"
	ActionTenantReactivated Action = "tenant_reactivated"
	ActionHubToggled        Action = "hub_toggled"

	ActionUserCreated             Action = "user_created"
	ActionUserUpdated             Action = "user_updated"
	ActionUserMoved               Action = "user_moved"
	ActionSuperAdminGranted       Action = "super_admin_granted"
	ActionSuperAdminRevoked       Action = "super_admin_revoked"
	ActionGlobalSuperAdminGranted Action = "global_super_admin_granted"
	ActionGlobalSuperAdminRevoked Action = "global_super_admin_revoked"

	ActionBulkUsersMoved     Action = "bulk_users_moved"
	ActionBulkTenantsUpdated Action = "bulk_tenants_updated"

	ActionSystemControlsUpdated Action = "system_controls_updated"
	ActionLockdownTriggered     Action = "emergency_lockdown_triggered"
	ActionLockdownLifted        Action = "emergency_lockdown_lifted"

	ActionTenantWhitelisted   Action = "tenant_whitelisted"
	ActionTenantUnwhitelisted Action = "tenant_removed_from_whitelist"

	ActionPartnershipCreate     Action = "federation_partnership_create"
	ActionPartnershipSuspend    Action = "federation_partnership_suspend"
	ActionPartnershipTerminate  Action = "federation_partnership_terminate"
	ActionPartnershipReactivate Action = "federation_partnership_reactivate"

	ActionTenantFeatureChanged Action = "tenant_feature_changed"

	ActionDataExported Action = "data_exported"
)

type classification struct {
	category Category
	severity Severity
}

var catalog = map[Action]classification{
	ActionTenantCreated:     {CategoryTenant, SeverityInfo},
	ActionTenantUpdated:     {CategoryTenant, SeverityInfo},
	ActionTenantDeleted:     {CategoryTenant, SeverityCritical},
	ActionTenantMoved:       {CategoryTenant, SeverityWarning},
	ActionTenantDeactivated: {CategoryTenant, SeverityWarning},
	ActionTenantReactivated: {CategoryTenant, SeverityInfo},
	ActionHubToggled:        {CategoryTenant, SeverityWarning},

	ActionUserCreated:             {CategoryUser, SeverityInfo},
	ActionUserUpdated:             {CategoryUser, SeverityInfo},
	ActionUserMoved:               {CategoryUser, SeverityInfo},
	ActionSuperAdminGranted:       {CategoryUser, SeverityWarning},
	ActionSuperAdminRevoked:       {CategoryUser, SeverityWarning},
	ActionGlobalSuperAdminGranted: {CategoryUser, SeverityCritical},
	ActionGlobalSuperAdminRevoked: {CategoryUser, SeverityCritical},

	ActionBulkUsersMoved:     {CategoryBulk, SeverityWarning},
	ActionBulkTenantsUpdated: {CategoryBulk, SeverityWarning},

	ActionSystemControlsUpdated: {CategorySystemControls, SeverityWarning},
	ActionLockdownTriggered:     {CategoryLockdown, SeverityCritical},
	ActionLockdownLifted:        {CategoryLockdown, SeverityCritical},

	ActionTenantWhitelisted:   {CategoryWhitelist, SeverityInfo},
	ActionTenantUnwhitelisted: {CategoryWhitelist, SeverityWarning},

	ActionPartnershipCreate:     {CategoryPartnership, SeverityInfo},
	ActionPartnershipSuspend:    {CategoryPartnership, SeverityWarning},
	ActionPartnershipTerminate:  {CategoryPartnership, SeverityCritical},
	ActionPartnershipReactivate: {CategoryPartnership, SeverityInfo},

	ActionTenantFeatureChanged: {CategoryFeatures, SeverityInfo},

	ActionDataExported: {CategoryData, SeverityWarning},
}

// rule classifies an uncatalogued action type by a substring of its name.
type rule struct {
	substr string
	value  string
}

// Checked in order; the first match wins.
var (
	categoryRules = []rule{
		{"lockdown", string(CategoryLockdown)},
		{"whitelist", string(CategoryWhitelist)},
		{"partnership", string(CategoryPartnership)},
		{"feature", string(CategoryFeatures)},
		{"system_control", string(CategorySystemControls)},
		{"bulk", string(CategoryBulk)},
		{"export", string(CategoryData)},
		{"audit", string(CategoryData)},
		{"super_admin", string(CategoryUser)},
		{"user", string(CategoryUser)},
		{"tenant", string(CategoryTenant)},
		{"hub", string(CategoryTenant)},
		{"updated", string(CategorySystemControls)},
	}
	severityRules = []rule{
		{"lockdown", string(SeverityCritical)},
		{"global_super_admin", string(SeverityCritical)},
		{"delete", string(SeverityCritical)},
		{"purge", string(SeverityCritical)},
		{"terminate", string(SeverityWarning)},
		{"suspend", string(SeverityWarning)},
		{"revoke", string(SeverityWarning)},
		{"deactivate", string(SeverityWarning)},
		{"remove", string(SeverityWarning)},
		{"disable", string(SeverityWarning)},
		{"moved", string(SeverityWarning)},
	}
)

func match(rules []rule, actionType, fallback string) string {
	for _, r := range rules {
		if strings.Contains(actionType, r.substr) {
			return r.value
		}
	}
	return fallback
}

// Classify returns the category and severity of an action type. Catalogued
// types use their fixed classification. Others, such as rows written by older
// releases, are classified by the first matching substring rule and default
// to other/info.
func Classify(actionType string) (Category, Severity) {
	if c, ok := catalog[Action(actionType)]; ok {
		return c.category, c.severity
	}
	t := strings.ToLower(actionType)
	return Category(match(categoryRules, t, string(CategoryOther))),
		Severity(match(severityRules, t, string(SeverityInfo)))
}

// AllActions returns every catalogued action type, sorted.
func AllActions() []string {
	out := make([]string, 0, len(catalog))
	for a := range catalog {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}

// Categories returns every category in display order.
func Categories() []Category {
	return []Category{
		CategoryTenant, CategoryUser, CategoryBulk, CategorySystemControls, CategoryLockdown,
		CategoryWhitelist, CategoryPartnership, CategoryFeatures, CategoryData, CategoryOther,
	}
}
