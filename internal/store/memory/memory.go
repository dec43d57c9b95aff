// Package memory is an in-process store.Store. Transactions are serialized by
// a single mutex and run against a private copy of the state that replaces
// the live state on commit.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
)

type state struct {
	tenants      map[uuid.UUID]*models.Tenant
	users        map[uuid.UUID]*models.User
	controls     models.SystemControls
	whitelist    map[uuid.UUID]*models.WhitelistEntry
	partnerships map[uuid.UUID]*models.Partnership
	features     map[uuid.UUID]*models.TenantFeatureSet
	audit        []*models.AuditEntry
	seq          int64
}

func (s *state) clone() *state {
	c := &state{
		tenants:      make(map[uuid.UUID]*models.Tenant, len(s.tenants)),
		users:        make(map[uuid.UUID]*models.User, len(s.users)),
		controls:     s.controls,
		whitelist:    make(map[uuid.UUID]*models.WhitelistEntry, len(s.whitelist)),
		partnerships: make(map[uuid.UUID]*models.Partnership, len(s.partnerships)),
		features:     make(map[uuid.UUID]*models.TenantFeatureSet, len(s.features)),
		audit:        slices.Clip(s.audit),
		seq:          s.seq,
	}
	for id, t := range s.tenants {
		c.tenants[id] = t.Clone()
	}
	for id, u := range s.users {
		u2 := *u
		c.users[id] = &u2
	}
	for id, e := range s.whitelist {
		e2 := *e
		c.whitelist[id] = &e2
	}
	for id, p := range s.partnerships {
		p2 := *p
		c.partnerships[id] = &p2
	}
	for id, f := range s.features {
		f2 := *f
		c.features[id] = &f2
	}
	return c
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New returns an empty store whose controls start with federation disabled.
func New() *Store {
	return &Store{state: &state{
		tenants:      make(map[uuid.UUID]*models.Tenant),
		users:        make(map[uuid.UUID]*models.User),
		whitelist:    make(map[uuid.UUID]*models.WhitelistEntry),
		partnerships: make(map[uuid.UUID]*models.Partnership),
		features:     make(map[uuid.UUID]*models.TenantFeatureSet),
		controls:     models.SystemControls{Version: 1},
	}}
}

// WithTx implements store.Store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type tx struct {
	st *state
}

func (t *tx) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	tn, ok := t.st.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tn.Clone(), nil
}

func (t *tx) TenantBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	for _, tn := range t.st.tenants {
		if tn.Slug == slug {
			return tn.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) TenantByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	for _, tn := range t.st.tenants {
		if tn.Domain != nil && strings.EqualFold(*tn.Domain, domain) {
			return tn.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListTenants(_ context.Context) ([]*models.Tenant, error) {
	list := make([]*models.Tenant, 0, len(t.st.tenants))
	for _, tn := range t.st.tenants {
		list = append(list, tn.Clone())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list, nil
}

func (t *tx) InsertTenant(_ context.Context, tn *models.Tenant) error {
	if _, ok := t.st.tenants[tn.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range t.st.tenants {
		if other.Slug == tn.Slug {
			return store.ErrDuplicate
		}
		if tn.Domain != nil && other.Domain != nil && strings.EqualFold(*other.Domain, *tn.Domain) {
			return store.ErrDuplicate
		}
	}
	t.st.tenants[tn.ID] = tn.Clone()
	return nil
}

func (t *tx) UpdateTenant(_ context.Context, tn *models.Tenant) error {
	if _, ok := t.st.tenants[tn.ID]; !ok {
		return store.ErrNotFound
	}
	for id, other := range t.st.tenants {
		if id != tn.ID && tn.Domain != nil && other.Domain != nil && strings.EqualFold(*other.Domain, *tn.Domain) {
			return store.ErrDuplicate
		}
	}
	t.st.tenants[tn.ID] = tn.Clone()
	return nil
}

func (t *tx) DeleteTenant(_ context.Context, id uuid.UUID) error {
	if _, ok := t.st.tenants[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.tenants, id)
	delete(t.st.whitelist, id)
	delete(t.st.features, id)
	for pid, p := range t.st.partnerships {
		if p.Involves(id) {
			delete(t.st.partnerships, pid)
		}
	}
	for uid, u := range t.st.users {
		if u.TenantID == id {
			delete(t.st.users, uid)
		}
	}
	return nil
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (t *tx) UserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range t.st.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListUsers(_ context.Context, filter models.UserFilter) ([]*models.User, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var list []*models.User
	for _, u := range t.st.users {
		if filter.TenantID != nil && u.TenantID != *filter.TenantID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Email+" "+u.FirstName+" "+u.LastName), search) {
			continue
		}
		c := *u
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Email < list[j].Email })
	return list, nil
}

func (t *tx) CountUsers(_ context.Context) (int, error) {
	return len(t.st.users), nil
}

func (t *tx) InsertUser(_ context.Context, u *models.User) error {
	if _, ok := t.st.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	for _, other := range t.st.users {
		if strings.EqualFold(other.Email, u.Email) {
			return store.ErrDuplicate
		}
	}
	c := *u
	t.st.users[u.ID] = &c
	return nil
}

func (t *tx) UpdateUser(_ context.Context, u *models.User) error {
	if _, ok := t.st.users[u.ID]; !ok {
		return store.ErrNotFound
	}
	for id, other := range t.st.users {
		if id != u.ID && strings.EqualFold(other.Email, u.Email) {
			return store.ErrDuplicate
		}
	}
	c := *u
	t.st.users[u.ID] = &c
	return nil
}

func (t *tx) GetControls(_ context.Context) (*models.SystemControls, error) {
	c := t.st.controls
	return &c, nil
}

func (t *tx) SaveControls(_ context.Context, c *models.SystemControls, expectedVersion int64) error {
	if t.st.controls.Version != expectedVersion {
		return store.ErrConflict
	}
	c.Version = expectedVersion + 1
	t.st.controls = *c
	return nil
}

func (t *tx) GetWhitelistEntry(_ context.Context, tenantID uuid.UUID) (*models.WhitelistEntry, error) {
	e, ok := t.st.whitelist[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	if tn, ok := t.st.tenants[tenantID]; ok {
		c.TenantName = tn.Name
	}
	return &c, nil
}

func (t *tx) ListWhitelist(_ context.Context) ([]*models.WhitelistEntry, error) {
	list := make([]*models.WhitelistEntry, 0, len(t.st.whitelist))
	for id, e := range t.st.whitelist {
		c := *e
		if tn, ok := t.st.tenants[id]; ok {
			c.TenantName = tn.Name
		}
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TenantName < list[j].TenantName })
	return list, nil
}

func (t *tx) InsertWhitelistEntry(_ context.Context, e *models.WhitelistEntry) error {
	if _, ok := t.st.tenants[e.TenantID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := t.st.whitelist[e.TenantID]; ok {
		return store.ErrDuplicate
	}
	c := *e
	t.st.whitelist[e.TenantID] = &c
	return nil
}

func (t *tx) DeleteWhitelistEntry(_ context.Context, tenantID uuid.UUID) error {
	if _, ok := t.st.whitelist[tenantID]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.whitelist, tenantID)
	return nil
}

func (t *tx) GetPartnership(_ context.Context, id uuid.UUID) (*models.Partnership, error) {
	p, ok := t.st.partnerships[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.withNames(p), nil
}

func (t *tx) withNames(p *models.Partnership) *models.Partnership {
	c := *p
	if tn, ok := t.st.tenants[c.Tenant1ID]; ok {
		c.Tenant1Name = tn.Name
	}
	if tn, ok := t.st.tenants[c.Tenant2ID]; ok {
		c.Tenant2Name = tn.Name
	}
	return &c
}

func (t *tx) ListPartnerships(_ context.Context, filter models.PartnershipFilter) ([]*models.Partnership, error) {
	var list []*models.Partnership
	for _, p := range t.st.partnerships {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.TenantID != nil && !p.Involves(*filter.TenantID) {
			continue
		}
		list = append(list, t.withNames(p))
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list, nil
}

func (t *tx) InsertPartnership(_ context.Context, p *models.Partnership) error {
	if _, ok := t.st.partnerships[p.ID]; ok {
		return store.ErrDuplicate
	}
	if p.Status.Open() {
		for _, other := range t.st.partnerships {
			if other.Status.Open() && other.Tenant1ID == p.Tenant1ID && other.Tenant2ID == p.Tenant2ID {
				return store.ErrDuplicate
			}
		}
	}
	c := *p
	t.st.partnerships[p.ID] = &c
	return nil
}

func (t *tx) UpdatePartnership(_ context.Context, p *models.Partnership) error {
	if _, ok := t.st.partnerships[p.ID]; !ok {
		return store.ErrNotFound
	}
	c := *p
	t.st.partnerships[p.ID] = &c
	return nil
}

func (t *tx) GetFeatureSet(_ context.Context, tenantID uuid.UUID) (*models.TenantFeatureSet, error) {
	fs, ok := t.st.features[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *fs
	return &c, nil
}

func (t *tx) SaveFeatureSet(_ context.Context, fs *models.TenantFeatureSet) error {
	if _, ok := t.st.tenants[fs.TenantID]; !ok {
		return store.ErrNotFound
	}
	c := *fs
	t.st.features[fs.TenantID] = &c
	return nil
}

func (t *tx) AppendAudit(_ context.Context, e *models.AuditEntry) error {
	t.st.seq++
	e.Seq = t.st.seq
	c := *e
	t.st.audit = append(t.st.audit, &c)
	return nil
}

func (t *tx) matchAudit(q store.AuditQuery) []*models.AuditEntry {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var matched []*models.AuditEntry
	for i := len(t.st.audit) - 1; i >= 0; i-- {
		e := t.st.audit[i]
		if len(q.ActionTypes) > 0 && !slices.Contains(q.ActionTypes, e.ActionType) {
			continue
		}
		if q.TargetType != "" && e.TargetType != q.TargetType {
			continue
		}
		if q.From != nil && e.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && e.CreatedAt.After(*q.To) {
			continue
		}
		if q.BeforeSeq > 0 && e.Seq >= q.BeforeSeq {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.ActionType+" "+e.TargetLabel+" "+e.Description), search) {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}

func (t *tx) ListAudit(_ context.Context, q store.AuditQuery) ([]*models.AuditEntry, int, error) {
	matched := t.matchAudit(q)
	total := len(matched)
	if q.Offset >= total {
		return []*models.AuditEntry{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	page := make([]*models.AuditEntry, 0, end-q.Offset)
	for _, e := range matched[q.Offset:end] {
		c := *e
		if u, ok := t.st.users[c.ActorID]; ok {
			c.ActorName, c.ActorEmail = u.DisplayName(), u.Email
		}
		page = append(page, &c)
	}
	return page, total, nil
}

func (t *tx) AuditActionCounts(_ context.Context, q store.AuditQuery) (map[string]int, error) {
	counts := map[string]int{}
	for _, e := range t.matchAudit(q) {
		counts[e.ActionType]++
	}
	return counts, nil
}

func (t *tx) CountAudit(_ context.Context) (int, error) {
	return len(t.st.audit), nil
}
