package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

const tenantColumns = `id, name, slug, domain, parent_id, allows_subtenants, max_depth, is_active, is_protected, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Domain, &t.ParentID, &t.AllowsSubtenants,
		&t.MaxDepth, &t.IsActive, &t.IsProtected, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (t *tx) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(t.tx.QueryRow(ctx, q, id))
}

func (t *tx) TenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	return scanTenant(t.tx.QueryRow(ctx, q, slug))
}

func (t *tx) TenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants WHERE lower(domain) = lower($1)`
	return scanTenant(t.tx.QueryRow(ctx, q, domain))
}

func (t *tx) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants ORDER BY name, id`
	rows, err := t.tx.Query(ctx, q)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.Tenant
	for rows.Next() {
		tn, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, tn)
	}
	return list, mapError(rows.Err())
}

func (t *tx) InsertTenant(ctx context.Context, tn *models.Tenant) error {
	const q = `INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := t.tx.Exec(ctx, q, tn.ID, tn.Name, tn.Slug, tn.Domain, tn.ParentID, tn.AllowsSubtenants,
		tn.MaxDepth, tn.IsActive, tn.IsProtected, tn.CreatedAt, tn.UpdatedAt)
	return mapError(err)
}

func (t *tx) UpdateTenant(ctx context.Context, tn *models.Tenant) error {
	const q = `UPDATE tenants SET name = $2, domain = $3, parent_id = $4, allows_subtenants = $5,
		max_depth = $6, is_active = $7, is_protected = $8, updated_at = $9
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, tn.ID, tn.Name, tn.Domain, tn.ParentID, tn.AllowsSubtenants,
		tn.MaxDepth, tn.IsActive, tn.IsProtected, tn.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
