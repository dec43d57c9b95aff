package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

const flagColumns = `cross_tenant_profiles_enabled, cross_tenant_messaging_enabled, cross_tenant_transactions_enabled,
	cross_tenant_listings_enabled, cross_tenant_events_enabled, cross_tenant_groups_enabled`

func flagDest(f *models.FeatureFlags) []any {
	return []any{&f.Profiles, &f.Messaging, &f.Transactions, &f.Listings, &f.Events, &f.Groups}
}

func flagArgs(f models.FeatureFlags) []any {
	return []any{f.Profiles, f.Messaging, f.Transactions, f.Listings, f.Events, f.Groups}
}

func (t *tx) GetControls(ctx context.Context) (*models.SystemControls, error) {
	const q = `SELECT federation_enabled, whitelist_mode_enabled, is_locked_down, lockdown_reason,
		lockdown_at, lockdown_by, ` + flagColumns + `, version, updated_at, updated_by
		FROM federation_system_controls WHERE id = 1`
	var c models.SystemControls
	dest := []any{&c.FederationEnabled, &c.WhitelistModeEnabled, &c.IsLockedDown, &c.LockdownReason,
		&c.LockdownAt, &c.LockdownBy}
	dest = append(dest, flagDest(&c.FeatureFlags)...)
	dest = append(dest, &c.Version, &c.UpdatedAt, &c.UpdatedBy)
	if err := t.tx.QueryRow(ctx, q).Scan(dest...); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (t *tx) SaveControls(ctx context.Context, c *models.SystemControls, expectedVersion int64) error {
	const q = `UPDATE federation_system_controls SET
		federation_enabled = $2, whitelist_mode_enabled = $3, is_locked_down = $4, lockdown_reason = $5,
		lockdown_at = $6, lockdown_by = $7,
		cross_tenant_profiles_enabled = $8, cross_tenant_messaging_enabled = $9,
		cross_tenant_transactions_enabled = $10, cross_tenant_listings_enabled = $11,
		cross_tenant_events_enabled = $12, cross_tenant_groups_enabled = $13,
		version = version + 1, updated_at = $14, updated_by = $15
		WHERE id = 1 AND version = $1`
	args := []any{expectedVersion, c.FederationEnabled, c.WhitelistModeEnabled, c.IsLockedDown, c.LockdownReason,
		c.LockdownAt, c.LockdownBy}
	args = append(args, flagArgs(c.FeatureFlags)...)
	args = append(args, c.UpdatedAt, c.UpdatedBy)
	tag, err := t.tx.Exec(ctx, q, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	c.Version = expectedVersion + 1
	return nil
}

const whitelistSelect = `SELECT w.tenant_id, t.name, w.notes, w.approved_by, w.approved_at
	FROM federation_whitelist w JOIN tenants t ON t.id = w.tenant_id`

func scanWhitelist(row pgx.Row) (*models.WhitelistEntry, error) {
	var e models.WhitelistEntry
	if err := row.Scan(&e.TenantID, &e.TenantName, &e.Notes, &e.ApprovedBy, &e.ApprovedAt); err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}

func (t *tx) GetWhitelistEntry(ctx context.Context, tenantID uuid.UUID) (*models.WhitelistEntry, error) {
	return scanWhitelist(t.tx.QueryRow(ctx, whitelistSelect+` WHERE w.tenant_id = $1`, tenantID))
}

func (t *tx) ListWhitelist(ctx context.Context) ([]*models.WhitelistEntry, error) {
	rows, err := t.tx.Query(ctx, whitelistSelect+` ORDER BY t.name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.WhitelistEntry
	for rows.Next() {
		e, err := scanWhitelist(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, mapError(rows.Err())
}

func (t *tx) InsertWhitelistEntry(ctx context.Context, e *models.WhitelistEntry) error {
	const q = `INSERT INTO federation_whitelist (tenant_id, notes, approved_by, approved_at) VALUES ($1, $2, $3, $4)`
	_, err := t.tx.Exec(ctx, q, e.TenantID, e.Notes, e.ApprovedBy, e.ApprovedAt)
	return mapError(err)
}

func (t *tx) DeleteWhitelistEntry(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM federation_whitelist WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const partnershipSelect = `SELECT p.id, p.tenant_1_id, p.tenant_2_id, t1.name, t2.name, p.status, p.status_reason,
	p.created_by, p.created_at, p.updated_at
	FROM federation_partnerships p
	JOIN tenants t1 ON t1.id = p.tenant_1_id
	JOIN tenants t2 ON t2.id = p.tenant_2_id`

func scanPartnership(row pgx.Row) (*models.Partnership, error) {
	var p models.Partnership
	err := row.Scan(&p.ID, &p.Tenant1ID, &p.Tenant2ID, &p.Tenant1Name, &p.Tenant2Name, &p.Status,
		&p.StatusReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (t *tx) GetPartnership(ctx context.Context, id uuid.UUID) (*models.Partnership, error) {
	return scanPartnership(t.tx.QueryRow(ctx, partnershipSelect+` WHERE p.id = $1`, id))
}

func (t *tx) ListPartnerships(ctx context.Context, filter models.PartnershipFilter) ([]*models.Partnership, error) {
	q := partnershipSelect + ` WHERE TRUE`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		q += fmt.Sprintf(` AND p.status = $%d`, len(args))
	}
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		q += fmt.Sprintf(` AND (p.tenant_1_id = $%d OR p.tenant_2_id = $%d)`, len(args), len(args))
	}
	q += ` ORDER BY p.created_at DESC, p.id`
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.Partnership
	for rows.Next() {
		p, err := scanPartnership(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, mapError(rows.Err())
}

func (t *tx) InsertPartnership(ctx context.Context, p *models.Partnership) error {
	const q = `INSERT INTO federation_partnerships
		(id, tenant_1_id, tenant_2_id, status, status_reason, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.Exec(ctx, q, p.ID, p.Tenant1ID, p.Tenant2ID, string(p.Status), p.StatusReason,
		p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return mapError(err)
}

func (t *tx) UpdatePartnership(ctx context.Context, p *models.Partnership) error {
	const q = `UPDATE federation_partnerships SET status = $2, status_reason = $3, updated_at = $4 WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, p.ID, string(p.Status), p.StatusReason, p.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) GetFeatureSet(ctx context.Context, tenantID uuid.UUID) (*models.TenantFeatureSet, error) {
	const q = `SELECT tenant_id, ` + flagColumns + `, updated_at FROM tenant_federation_features WHERE tenant_id = $1`
	fs := models.TenantFeatureSet{}
	dest := append([]any{&fs.TenantID}, flagDest(&fs.FeatureFlags)...)
	dest = append(dest, &fs.UpdatedAt)
	if err := t.tx.QueryRow(ctx, q, tenantID).Scan(dest...); err != nil {
		return nil, mapError(err)
	}
	return &fs, nil
}

func (t *tx) SaveFeatureSet(ctx context.Context, fs *models.TenantFeatureSet) error {
	const q = `INSERT INTO tenant_federation_features (tenant_id, ` + flagColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id) DO UPDATE SET
			cross_tenant_profiles_enabled = EXCLUDED.cross_tenant_profiles_enabled,
			cross_tenant_messaging_enabled = EXCLUDED.cross_tenant_messaging_enabled,
			cross_tenant_transactions_enabled = EXCLUDED.cross_tenant_transactions_enabled,
			cross_tenant_listings_enabled = EXCLUDED.cross_tenant_listings_enabled,
			cross_tenant_events_enabled = EXCLUDED.cross_tenant_events_enabled,
			cross_tenant_groups_enabled = EXCLUDED.cross_tenant_groups_enabled,
			updated_at = EXCLUDED.updated_at`
	args := append([]any{fs.TenantID}, flagArgs(fs.FeatureFlags)...)
	args = append(args, fs.UpdatedAt)
	_, err := t.tx.Exec(ctx, q, args...)
	return mapError(err)
}
