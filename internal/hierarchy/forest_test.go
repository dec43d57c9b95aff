package hierarchy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/models"
)

func tenant(name string, parent *models.Tenant, hub bool, maxDepth int) *models.Tenant {
	t := &models.Tenant{ID: uuid.New(), Name: name, Slug: name, AllowsSubtenants: hub, MaxDepth: maxDepth}
	if parent != nil {
		id := parent.ID
		t.ParentID = &id
	}
	return t
}

func TestForest_Navigation(t *testing.T) {
	root := tenant("root", nil, true, 3)
	mid := tenant("mid", root, true, 2)
	leaf := tenant("leaf", mid, false, 0)
	other := tenant("another", root, false, 0)
	f := NewForest([]*models.Tenant{leaf, mid, root, other})

	assert.Equal(t, 4, f.Len())
	assert.Equal(t, 0, f.Depth(root.ID))
	assert.Equal(t, 2, f.Depth(leaf.ID))
	assert.Equal(t, 2, f.Height(root.ID))
	assert.Equal(t, 0, f.Height(leaf.ID))
	assert.True(t, f.IsDescendant(leaf.ID, root.ID))
	assert.False(t, f.IsDescendant(root.ID, leaf.ID))
	assert.False(t, f.IsDescendant(root.ID, root.ID))

	children := f.Children(root.ID)
	if assert.Len(t, children, 2) {
		assert.Equal(t, "another", children[0].Name)
		assert.Equal(t, "mid", children[1].Name)
	}
	assert.Len(t, f.Descendants(root.ID), 3)

	crumb := f.Breadcrumb(leaf.ID)
	assert.Equal(t, []models.TenantRef{root.Ref(), mid.Ref(), leaf.Ref()}, crumb)
	assert.Nil(t, f.Breadcrumb(uuid.New()))

	tree := f.Tree()
	if assert.Len(t, tree, 1) {
		assert.Equal(t, root.ID, tree[0].ID)
		assert.Equal(t, 1, tree[0].Children[1].Depth)
		assert.Equal(t, leaf.ID, tree[0].Children[1].Children[0].ID)
	}
}

func TestForest_OrphanIsRoot(t *testing.T) {
	missing := tenant("gone", nil, true, 2)
	orphan := tenant("orphan", missing, false, 0)
	f := NewForest([]*models.Tenant{orphan})
	assert.Len(t, f.Tree(), 1)
	assert.Empty(t, f.Ancestors(orphan.ID))
}

func TestForest_CheckPlacement(t *testing.T) {
	root := tenant("root", nil, true, 2)
	mid := tenant("mid", root, true, 2)
	leaf := tenant("leaf", nil, false, 0)
	f := NewForest([]*models.Tenant{root, mid, leaf})

	missing := uuid.New()
	tests := []struct {
		name   string
		parent *uuid.UUID
		height int
		want   error
	}{
		{"root level", nil, 5, nil},
		{"unknown parent", &missing, 0, apperr.ErrTenantNotFound},
		{"non hub parent", &leaf.ID, 0, apperr.ErrParentNotHub},
		{"leaf under root", &root.ID, 0, nil},
		{"subtree under root", &root.ID, 1, nil},
		{"too deep under root", &root.ID, 2, apperr.ErrDepthExceeded},
		{"leaf under mid", &mid.ID, 0, nil},
		{"root limit binds through mid", &mid.ID, 1, apperr.ErrDepthExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.CheckPlacement(tt.parent, tt.height)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Springfield Timebank": "springfield-timebank",
		"  Ünïcode & Co!  ":    "n-code-co",
		"A":                    "tenant-a",
		"!!":                   "tenant",
	}
	for in, want := range tests {
		got := Slugify(in)
		assert.Equal(t, want, got, in)
		assert.True(t, ValidSlug(got), got)
	}
	assert.False(t, ValidSlug("-bad"))
	assert.False(t, ValidSlug("UPPER"))
	assert.Equal(t, "base-3", withSuffix("base", 3))
}
