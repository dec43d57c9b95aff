package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

func (t *tx) AppendAudit(ctx context.Context, e *models.AuditEntry) error {
	const q = `INSERT INTO audit_log
		(id, action_type, target_type, target_id, target_label, actor_id, description, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq`
	var oldValue, newValue any
	if len(e.OldValue) > 0 {
		oldValue = string(e.OldValue)
	}
	if len(e.NewValue) > 0 {
		newValue = string(e.NewValue)
	}
	err := t.tx.QueryRow(ctx, q, e.ID, e.ActionType, e.TargetType, e.TargetID, e.TargetLabel, e.ActorID,
		e.Description, oldValue, newValue, e.CreatedAt).Scan(&e.Seq)
	return mapError(err)
}

// auditWhere builds the WHERE clause for q over audit_log aliased as a.
func auditWhere(q store.AuditQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(q.ActionTypes) > 0 {
		args = append(args, q.ActionTypes)
		where = append(where, fmt.Sprintf("a.action_type = ANY($%d)", len(args)))
	}
	if q.TargetType != "" {
		args = append(args, q.TargetType)
		where = append(where, fmt.Sprintf("a.target_type = $%d", len(args)))
	}
	if q.From != nil {
		args = append(args, *q.From)
		where = append(where, fmt.Sprintf("a.created_at >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		where = append(where, fmt.Sprintf("a.created_at <= $%d", len(args)))
	}
	if q.BeforeSeq > 0 {
		args = append(args, q.BeforeSeq)
		where = append(where, fmt.Sprintf("a.seq < $%d", len(args)))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(a.action_type ILIKE $%d OR a.target_label ILIKE $%d OR a.description ILIKE $%d)", n, n, n))
	}
	if len(where) == 0 {
		return "", args
	}
	return ` WHERE ` + strings.Join(where, " AND "), args
}

func (t *tx) ListAudit(ctx context.Context, q store.AuditQuery) ([]*models.AuditEntry, int, error) {
	cond, args := auditWhere(q)

	var total int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log a`+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	sel := `SELECT a.id, a.seq, a.action_type, a.target_type, a.target_id, a.target_label, a.actor_id,
		COALESCE(NULLIF(TRIM(CONCAT(u.first_name, ' ', u.last_name)), ''), u.email, ''), COALESCE(u.email, ''),
		a.description, a.old_value, a.new_value, a.created_at
		FROM audit_log a LEFT JOIN users u ON u.id = a.actor_id` + cond + ` ORDER BY a.seq DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sel += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sel += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := t.tx.Query(ctx, sel, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()
	list := []*models.AuditEntry{}
	for rows.Next() {
		var (
			e                  models.AuditEntry
			oldValue, newValue []byte
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.ActionType, &e.TargetType, &e.TargetID, &e.TargetLabel, &e.ActorID,
			&e.ActorName, &e.ActorEmail, &e.Description, &oldValue, &newValue, &e.CreatedAt); err != nil {
			return nil, 0, mapError(err)
		}
		e.OldValue, e.NewValue = oldValue, newValue
		list = append(list, &e)
	}
	return list, total, mapError(rows.Err())
}

func (t *tx) AuditActionCounts(ctx context.Context, q store.AuditQuery) (map[string]int, error) {
	cond, args := auditWhere(q)
	rows, err := t.tx.Query(ctx, `SELECT a.action_type, COUNT(*) FROM audit_log a`+cond+` GROUP BY a.action_type`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, mapError(err)
		}
		counts[action] = n
	}
	return counts, mapError(rows.Err())
}

func (t *tx) CountAudit(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, mapError(err)
}
