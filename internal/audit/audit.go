// Package audit records privileged actions and serves the audit log.
// Entries are written inside the caller's transaction and never modified.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	defaultStatsDays     = 30
	defaultCriticalLimit = 10
	topActions           = 10
)

// Entry describes an action to record. Old and New are marshalled to JSON when set.
type Entry struct {
	Action      Action
	TargetType  string
	TargetID    *uuid.UUID
	TargetLabel string
	ActorID     uuid.UUID
	Description string
	Old         any
	New         any
}

// Record appends e to the log within tx and returns the stored entry.
func Record(ctx context.Context, tx store.Tx, e Entry) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{
		ID:          uuid.New(),
		ActionType:  string(e.Action),
		TargetType:  e.TargetType,
		TargetID:    e.TargetID,
		TargetLabel: e.TargetLabel,
		ActorID:     e.ActorID,
		Description: e.Description,
		CreatedAt:   time.Now().UTC(),
	}
	var err error
	if entry.OldValue, err = marshal(e.Old); err != nil {
		return nil, fmt.Errorf("marshal old value: %w", err)
	}
	if entry.NewValue, err = marshal(e.New); err != nil {
		return nil, fmt.Errorf("marshal new value: %w", err)
	}
	if err := tx.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit %s: %w", e.Action, err)
	}
	decorate(entry)
	return entry, nil
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decorate(e *models.AuditEntry) {
	cat, sev := Classify(e.ActionType)
	e.Category, e.Severity = string(cat), string(sev)
}

// ResolveActions returns the action types, catalogued or already present in
// the log under q, whose classification satisfies keep. Category and severity
// are derived, so filters on them become action type lists.
func ResolveActions(ctx context.Context, tx store.Tx, q store.AuditQuery, keep func(Category, Severity) bool) ([]string, error) {
	q.ActionTypes = nil
	counts, err := tx.AuditActionCounts(ctx, q)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(catalog)+len(counts))
	var out []string
	add := func(action string) {
		if seen[action] {
			return
		}
		seen[action] = true
		if keep(Classify(action)) {
			out = append(out, action)
		}
	}
	for a := range catalog {
		add(string(a))
	}
	for a := range counts {
		add(a)
	}
	sort.Strings(out)
	return out, nil
}

// Service reads the audit log.
type Service struct {
	db store.Store
}

// NewService returns an audit reader over db.
func NewService(db store.Store) *Service {
	return &Service{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// query turns f into a storage query. ok is false when the category or
// severity filter cannot match any entry.
func query(ctx context.Context, tx store.Tx, f models.AuditFilter) (q store.AuditQuery, ok bool, err error) {
	q = store.AuditQuery{
		Search:     f.Search,
		TargetType: f.TargetType,
		From:       f.From,
		To:         f.To,
	}
	if f.Category == "" && f.Severity == "" {
		if f.ActionType != "" {
			q.ActionTypes = []string{f.ActionType}
		}
		return q, true, nil
	}
	actions, err := ResolveActions(ctx, tx, q, func(c Category, s Severity) bool {
		return (f.Category == "" || c == Category(f.Category)) && (f.Severity == "" || s == Severity(f.Severity))
	})
	if err != nil {
		return q, false, err
	}
	if f.ActionType != "" {
		if !slices.Contains(actions, f.ActionType) {
			return q, false, nil
		}
		actions = []string{f.ActionType}
	}
	q.ActionTypes = actions
	return q, len(actions) > 0, nil
}

// List returns one page of entries, newest first, with category and severity filled in.
func (s *Service) List(ctx context.Context, f models.AuditFilter) (*models.AuditPage, error) {
	page, limit := f.Page, clampLimit(f.Limit)
	if page < 1 {
		page = 1
	}

	out := &models.AuditPage{Page: page, Limit: limit, Entries: []*models.AuditEntry{}}
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		q, ok, err := query(ctx, tx, f)
		if err != nil || !ok {
			return err
		}
		q.Offset, q.Limit = (page-1)*limit, limit
		entries, total, err := tx.ListAudit(ctx, q)
		if err != nil {
			return err
		}
		if entries != nil {
			out.Entries = entries
		}
		out.Total = total
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	for _, e := range out.Entries {
		decorate(e)
	}
	return out, nil
}

// Collect returns up to limit entries matching f, newest first. Pages are read
// by descending Seq so entries recorded while collecting are not picked up
// and none are skipped or repeated.
func (s *Service) Collect(ctx context.Context, f models.AuditFilter, limit, pageSize int) ([]*models.AuditEntry, error) {
	var (
		out    []*models.AuditEntry
		q      store.AuditQuery
		ok     bool
		before int64
	)
	first := true
	for len(out) < limit {
		var batch []*models.AuditEntry
		err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			if first {
				first = false
				if q, ok, err = query(ctx, tx, f); err != nil || !ok {
					return err
				}
			}
			q.BeforeSeq, q.Limit = before, min(pageSize, limit-len(out))
			batch, _, err = tx.ListAudit(ctx, q)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("collect audit: %w", err)
		}
		if !ok {
			break
		}
		for _, e := range batch {
			decorate(e)
		}
		out = append(out, batch...)
		if len(batch) < q.Limit {
			break
		}
		before = batch[len(batch)-1].Seq
	}
	return out, nil
}

// Stats summarises the entries recorded in the last days days.
func (s *Service) Stats(ctx context.Context, days int) (*models.AuditStats, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	var counts map[string]int
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		counts, err = tx.AuditActionCounts(ctx, store.AuditQuery{From: &since})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}

	out := &models.AuditStats{
		PeriodDays: days,
		Since:      since,
		ByCategory: map[string]int{},
		BySeverity: map[string]int{},
		TopActions: []models.ActionCount{},
	}
	for action, n := range counts {
		cat, sev := Classify(action)
		out.Total += n
		out.ByCategory[string(cat)] += n
		out.BySeverity[string(sev)] += n
		if sev == SeverityCritical {
			out.CriticalCount += n
		}
		out.TopActions = append(out.TopActions, models.ActionCount{ActionType: action, Count: n})
	}
	sort.Slice(out.TopActions, func(i, j int) bool {
		a, b := out.TopActions[i], out.TopActions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ActionType < b.ActionType
	})
	if len(out.TopActions) > topActions {
		out.TopActions = out.TopActions[:topActions]
	}
	return out, nil
}

// RecentCritical returns the latest limit critical entries.
func (s *Service) RecentCritical(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultCriticalLimit
	}
	page, err := s.List(ctx, models.AuditFilter{Severity: string(SeverityCritical), Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Entries, nil
}

// Count returns the number of recorded entries.
func (s *Service) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.CountAudit(ctx)
		return err
	})
	return n, err
}
