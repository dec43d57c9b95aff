package hierarchy

import (
	"sort"

	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/models"
)

// Forest is an id-indexed view of all tenants with a child index.
// It is built per transaction and never shared across goroutines.
type Forest struct {
	nodes    map[uuid.UUID]*models.Tenant
	children map[uuid.UUID][]uuid.UUID
	roots    []uuid.UUID
}

// NewForest indexes tenants. Children are ordered by name.
func NewForest(tenants []*models.Tenant) *Forest {
	f := &Forest{
		nodes:    make(map[uuid.UUID]*models.Tenant, len(tenants)),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
	for _, t := range tenants {
		f.nodes[t.ID] = t
	}
	for _, t := range tenants {
		if t.ParentID != nil {
			if _, ok := f.nodes[*t.ParentID]; ok {
				f.children[*t.ParentID] = append(f.children[*t.ParentID], t.ID)
				continue
			}
		}
		f.roots = append(f.roots, t.ID)
	}
	byName := func(ids []uuid.UUID) {
		sort.SliceStable(ids, func(i, j int) bool { return f.nodes[ids[i]].Name < f.nodes[ids[j]].Name })
	}
	byName(f.roots)
	for _, ids := range f.children {
		byName(ids)
	}
	return f
}

// Len returns the number of tenants.
func (f *Forest) Len() int { return len(f.nodes) }

// Get returns the tenant with id.
func (f *Forest) Get(id uuid.UUID) (*models.Tenant, bool) {
	t, ok := f.nodes[id]
	return t, ok
}

// Children returns the direct children of id.
func (f *Forest) Children(id uuid.UUID) []*models.Tenant {
	ids := f.children[id]
	out := make([]*models.Tenant, 0, len(ids))
	for _, c := range ids {
		out = append(out, f.nodes[c])
	}
	return out
}

// HasChildren reports whether id parents any tenant.
func (f *Forest) HasChildren(id uuid.UUID) bool {
	return len(f.children[id]) > 0
}

// Ancestors returns the parent chain of id, nearest first. The walk is bounded
// by the forest size so corrupted data cannot loop forever.
func (f *Forest) Ancestors(id uuid.UUID) []*models.Tenant {
	var out []*models.Tenant
	t, ok := f.nodes[id]
	for ok && t.ParentID != nil && len(out) < len(f.nodes) {
		t, ok = f.nodes[*t.ParentID]
		if ok {
			out = append(out, t)
		}
	}
	return out
}

// Depth is the number of ancestors of id; roots have depth 0.
func (f *Forest) Depth(id uuid.UUID) int {
	return len(f.Ancestors(id))
}

// Breadcrumb returns the path from the root down to id, inclusive.
func (f *Forest) Breadcrumb(id uuid.UUID) []models.TenantRef {
	t, ok := f.nodes[id]
	if !ok {
		return nil
	}
	anc := f.Ancestors(id)
	out := make([]models.TenantRef, 0, len(anc)+1)
	for i := len(anc) - 1; i >= 0; i-- {
		out = append(out, anc[i].Ref())
	}
	return append(out, t.Ref())
}

// IsDescendant reports whether id lies strictly below ancestor.
func (f *Forest) IsDescendant(id, ancestor uuid.UUID) bool {
	for _, a := range f.Ancestors(id) {
		if a.ID == ancestor {
			return true
		}
	}
	return false
}

// Descendants returns every tenant below id in breadth-first order.
func (f *Forest) Descendants(id uuid.UUID) []*models.Tenant {
	var out []*models.Tenant
	queue := append([]uuid.UUID(nil), f.children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, f.nodes[next])
		queue = append(queue, f.children[next]...)
	}
	return out
}

// Height is the depth of the deepest descendant of id relative to id.
func (f *Forest) Height(id uuid.UUID) int {
	h := 0
	level := f.children[id]
	for len(level) > 0 {
		h++
		var next []uuid.UUID
		for _, c := range level {
			next = append(next, f.children[c]...)
		}
		level = next
	}
	return h
}

// CheckPlacement validates putting a subtree of the given height directly
// under parentID. Every ancestor A of the new position must satisfy
// distance(A, deepest node) <= A.MaxDepth.
func (f *Forest) CheckPlacement(parentID *uuid.UUID, height int) error {
	if parentID == nil {
		return nil
	}
	parent, ok := f.nodes[*parentID]
	if !ok {
		return apperr.ErrTenantNotFound
	}
	if !parent.IsHub() {
		return apperr.ErrParentNotHub
	}
	dist := 1
	for _, a := range append([]*models.Tenant{parent}, f.Ancestors(parent.ID)...) {
		if dist+height > a.MaxDepth {
			return apperr.ErrDepthExceeded
		}
		dist++
	}
	return nil
}

// Tree returns the forest as nested nodes.
func (f *Forest) Tree() []*models.TenantNode {
	out := make([]*models.TenantNode, 0, len(f.roots))
	for _, r := range f.roots {
		out = append(out, f.node(r, 0))
	}
	return out
}

func (f *Forest) node(id uuid.UUID, depth int) *models.TenantNode {
	n := &models.TenantNode{Tenant: f.nodes[id], Depth: depth, Children: []*models.TenantNode{}}
	for _, c := range f.children[id] {
		n.Children = append(n.Children, f.node(c, depth+1))
	}
	return n
}
