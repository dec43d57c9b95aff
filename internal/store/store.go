// Package store defines the transactional persistence contract shared by the
// admin services. Every mutation and the audit entries describing it run in
// one Tx so an action is never observable without its trail.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-timebank/backend/internal/models"
)

var (
	// ErrNotFound is returned when a keyed lookup has no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrConflict is returned when a transaction lost a race and may be retried.
	ErrConflict = errors.New("store: write conflict")
)

// Store opens transactions.
type Store interface {
	// WithTx runs fn in a transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuditQuery is the storage-level audit filter. Category and severity filters
// are resolved to ActionTypes by the caller.
type AuditQuery struct {
	Search      string
	ActionTypes []string
	TargetType  string
	From        *time.Time
	To          *time.Time
	// BeforeSeq keeps only entries with a smaller Seq, for keyset paging.
	BeforeSeq int64
	Offset    int
	Limit     int
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	TenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	TenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// ListTenants returns every tenant ordered by name.
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	InsertTenant(ctx context.Context, t *models.Tenant) error
	UpdateTenant(ctx context.Context, t *models.Tenant) error
	// DeleteTenant removes the tenant with its whitelist entry, feature set,
	// partnerships and users.
	DeleteTenant(ctx context.Context, id uuid.UUID) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, error)
	CountUsers(ctx context.Context) (int, error)
	InsertUser(ctx context.Context, u *models.User) error
	UpdateUser(ctx context.Context, u *models.User) error

	GetControls(ctx context.Context) (*models.SystemControls, error)
	// SaveControls writes c when the stored version equals expectedVersion and
	// sets c.Version to expectedVersion+1. Otherwise it returns ErrConflict.
	SaveControls(ctx context.Context, c *models.SystemControls, expectedVersion int64) error

	GetWhitelistEntry(ctx context.Context, tenantID uuid.UUID) (*models.WhitelistEntry, error)
	ListWhitelist(ctx context.Context) ([]*models.WhitelistEntry, error)
	InsertWhitelistEntry(ctx context.Context, e *models.WhitelistEntry) error
	DeleteWhitelistEntry(ctx context.Context, tenantID uuid.UUID) error

	GetPartnership(ctx context.Context, id uuid.UUID) (*models.Partnership, error)
	ListPartnerships(ctx context.Context, filter models.PartnershipFilter) ([]*models.Partnership, error)
	InsertPartnership(ctx context.Context, p *models.Partnership) error
	UpdatePartnership(ctx context.Context, p *models.Partnership) error

	GetFeatureSet(ctx context.Context, tenantID uuid.UUID) (*models.TenantFeatureSet, error)
	SaveFeatureSet(ctx context.Context, fs *models.TenantFeatureSet) error

	// AppendAudit inserts e and assigns e.Seq. There is no update or delete.
	AppendAudit(ctx context.Context, e *models.AuditEntry) error
	// ListAudit returns matching entries ordered by Seq descending, with the
	// actor's name and email filled in while the actor still exists.
	ListAudit(ctx context.Context, q AuditQuery) ([]*models.AuditEntry, int, error)
	// AuditActionCounts counts matching entries per action type. Offset and
	// Limit are ignored.
	AuditActionCounts(ctx context.Context, q AuditQuery) (map[string]int, error)
	CountAudit(ctx context.Context) (int, error)
}

// OrderedPair returns a and b in the canonical partnership order.
func OrderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return a, b
			}
			return b, a
		}
	}
	return a, b
}
