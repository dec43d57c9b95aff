package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, role,
	is_tenant_super_admin, is_global_super_admin, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.IsTenantSuperAdmin, &u.IsGlobalSuperAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (t *tx) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(t.tx.QueryRow(ctx, q, id))
}

func (t *tx) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(t.tx.QueryRow(ctx, q, email))
}

func (t *tx) ListUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", n, n, n))
	}
	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY email`
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var list []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, mapError(rows.Err())
}

func (t *tx) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, mapError(err)
}

func (t *tx) InsertUser(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := t.tx.Exec(ctx, q, u.ID, u.TenantID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role,
		u.IsTenantSuperAdmin, u.IsGlobalSuperAdmin, u.CreatedAt, u.UpdatedAt)
	return mapError(err)
}

func (t *tx) UpdateUser(ctx context.Context, u *models.User) error {
	const q = `UPDATE users SET tenant_id = $2, email = $3, first_name = $4, last_name = $5, role = $6,
		is_tenant_super_admin = $7, is_global_super_admin = $8, updated_at = $9
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, q, u.ID, u.TenantID, u.Email, u.FirstName, u.LastName, u.Role,
		u.IsTenantSuperAdmin, u.IsGlobalSuperAdmin, u.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
