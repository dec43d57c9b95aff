// Package dashboard aggregates the counts shown on the console landing page
// and the federation overview.
package dashboard

import (
	"context"
	"fmt"
	"slices"

	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

const recentLimit = 10

// TenantCounts summarizes the tenant table.
type TenantCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Hubs     int `json:"hubs"`
}

// Stats is the landing page payload.
type Stats struct {
	Tenants           TenantCounts            `json:"tenants"`
	Users             int                     `json:"users"`
	WhitelistCount    int                     `json:"whitelisted_tenants"`
	Partnerships      models.PartnershipStats `json:"partnerships"`
	FederationEnabled bool                    `json:"federation_enabled"`
	IsLockedDown      bool                    `json:"is_locked_down"`
	AuditEntries      int                     `json:"audit_entries"`
}

// FederationOverview is the federation landing payload.
type FederationOverview struct {
	Controls       *models.SystemControls  `json:"controls"`
	WhitelistCount int                     `json:"whitelisted_tenants"`
	Partnerships   models.PartnershipStats `json:"partnerships"`
	RecentActivity []*models.AuditEntry    `json:"recent_activity"`
}

// federationCategories are the audit categories shown as federation activity.
var federationCategories = []audit.Category{
	audit.CategoryLockdown,
	audit.CategorySystemControls,
	audit.CategoryWhitelist,
	audit.CategoryPartnership,
	audit.CategoryFeatures,
}

// Service reads dashboard aggregates in a single transaction each.
type Service struct {
	db store.Store
}

// NewService returns a dashboard reader.
func NewService(db store.Store) *Service {
	return &Service{db: db}
}

func partnershipStats(ctx context.Context, tx store.Tx) (models.PartnershipStats, error) {
	var st models.PartnershipStats
	list, err := tx.ListPartnerships(ctx, models.PartnershipFilter{})
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

// Stats returns the landing page counts.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{}
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tenants, err := tx.ListTenants(ctx)
		if err != nil {
			return err
		}
		for _, t := range tenants {
			out.Tenants.Total++
			if t.IsActive {
				out.Tenants.Active++
			} else {
				out.Tenants.Inactive++
			}
			if t.IsHub() {
				out.Tenants.Hubs++
			}
		}
		if out.Users, err = tx.CountUsers(ctx); err != nil {
			return err
		}
		wl, err := tx.ListWhitelist(ctx)
		if err != nil {
			return err
		}
		out.WhitelistCount = len(wl)
		if out.Partnerships, err = partnershipStats(ctx, tx); err != nil {
			return err
		}
		c, err := tx.GetControls(ctx)
		if err != nil {
			return err
		}
		out.FederationEnabled, out.IsLockedDown = c.FederationEnabled, c.IsLockedDown
		out.AuditEntries, err = tx.CountAudit(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return out, nil
}

// Federation returns controls, whitelist and partnership counts and the
// latest federation audit entries.
func (s *Service) Federation(ctx context.Context) (*FederationOverview, error) {
	out := &FederationOverview{}
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if out.Controls, err = tx.GetControls(ctx); err != nil {
			return err
		}
		wl, err := tx.ListWhitelist(ctx)
		if err != nil {
			return err
		}
		out.WhitelistCount = len(wl)
		if out.Partnerships, err = partnershipStats(ctx, tx); err != nil {
			return err
		}
		actions, err := audit.ResolveActions(ctx, tx, store.AuditQuery{}, func(c audit.Category, _ audit.Severity) bool {
			return slices.Contains(federationCategories, c)
		})
		if err != nil {
			return err
		}
		out.RecentActivity, _, err = tx.ListAudit(ctx, store.AuditQuery{ActionTypes: actions, Limit: recentLimit})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("federation overview: %w", err)
	}
	if out.RecentActivity == nil {
		out.RecentActivity = []*models.AuditEntry{}
	}
	for _, e := range out.RecentActivity {
		cat, sev := audit.Classify(e.ActionType)
		e.Category, e.Severity = string(cat), string(sev)
	}
	return out, nil
}
