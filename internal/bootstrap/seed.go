// Package bootstrap seeds the protected master tenant, the god account and
// an optional starter hierarchy from a YAML file. Applying a seed twice is a no-op.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/federation"
	"github.com/nexus-timebank/backend/internal/hierarchy"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/pkg/utils"
)

// Seed is the document read from the seed file.
type Seed struct {
	Master    MasterTenant `yaml:"master"`
	God       GodUser      `yaml:"god"`
	Tenants   []TenantSeed `yaml:"tenants"`
	Whitelist []string     `yaml:"whitelist"`
}

// MasterTenant is the root hub that cannot be deleted, moved or deactivated.
type MasterTenant struct {
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Domain   string `yaml:"domain"`
	MaxDepth int    `yaml:"max_depth"`
}

// GodUser is the platform owner account.
type GodUser struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

// TenantSeed is one starter tenant. Parent is a slug seeded earlier in the file.
type TenantSeed struct {
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Parent   string `yaml:"parent"`
	Hub      bool   `yaml:"hub"`
	MaxDepth int    `yaml:"max_depth"`
}

// Load reads path and expands ${VAR} references so secrets stay in the environment.
func Load(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse decodes and validates a seed document.
func Parse(raw []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if strings.TrimSpace(s.Master.Name) == "" || strings.TrimSpace(s.Master.Slug) == "" {
		return nil, errors.New("seed: master name and slug are required")
	}
	if strings.TrimSpace(s.God.Email) == "" {
		return nil, errors.New("seed: god email is required")
	}
	if err := utils.ValidatePassword(s.God.Password); err != nil {
		return nil, fmt.Errorf("seed: god password: %w", err)
	}
	if s.Master.MaxDepth <= 0 {
		s.Master.MaxDepth = hierarchy.MaxHubDepth
	}
	return &s, nil
}

// Result reports what Apply created.
type Result struct {
	MasterID       uuid.UUID
	GodID          uuid.UUID
	CreatedTenants []string
	Whitelisted    []string
}

// Apply writes the seed into db, skipping anything that already exists.
func Apply(ctx context.Context, db store.Store, s *Seed, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &Result{}
	err := store.Atomic(ctx, db, func(ctx context.Context, tx store.Tx) error {
		master, err := ensureMaster(ctx, tx, s.Master)
		if err != nil {
			return err
		}
		god, err := ensureGod(ctx, tx, master.ID, s.God)
		if err != nil {
			return err
		}
		res.MasterID, res.GodID = master.ID, god.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed master: %w", err)
	}

	tenants := hierarchy.NewService(db, nil, logger)
	slugs := map[string]uuid.UUID{strings.ToLower(s.Master.Slug): res.MasterID}
	for _, ts := range s.Tenants {
		id, created, err := ensureTenant(ctx, db, tenants, res.GodID, ts, slugs)
		if err != nil {
			return nil, fmt.Errorf("seed tenant %s: %w", ts.Slug, err)
		}
		slugs[strings.ToLower(ts.Slug)] = id
		if created {
			res.CreatedTenants = append(res.CreatedTenants, ts.Slug)
		}
	}

	whitelist := federation.NewWhitelistService(db, nil, logger)
	for _, slug := range s.Whitelist {
		id, ok := slugs[strings.ToLower(slug)]
		if !ok {
			return nil, fmt.Errorf("seed whitelist: unknown tenant %q", slug)
		}
		_, err := whitelist.Add(ctx, res.GodID, id, "seeded")
		if errors.Is(err, apperr.ErrAlreadyWhitelisted) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("seed whitelist %s: %w", slug, err)
		}
		res.Whitelisted = append(res.Whitelisted, slug)
	}

	logger.Info("bootstrap applied",
		zap.String("master_id", res.MasterID.String()),
		zap.Int("tenants_created", len(res.CreatedTenants)),
		zap.Int("whitelisted", len(res.Whitelisted)))
	return res, nil
}

func ensureMaster(ctx context.Context, tx store.Tx, m MasterTenant) (*models.Tenant, error) {
	slug := strings.ToLower(strings.TrimSpace(m.Slug))
	existing, err := tx.TenantBySlug(ctx, slug)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	t := &models.Tenant{
		ID:               uuid.New(),
		Name:             strings.TrimSpace(m.Name),
		Slug:             slug,
		AllowsSubtenants: true,
		MaxDepth:         m.MaxDepth,
		IsActive:         true,
		IsProtected:      true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if d := strings.ToLower(strings.TrimSpace(m.Domain)); d != "" {
		t.Domain = &d
	}
	if err := tx.InsertTenant(ctx, t); err != nil {
		return nil, err
	}
	_, err = audit.Record(ctx, tx, audit.Entry{
		Action:      audit.ActionTenantCreated,
		TargetType:  models.TargetTenant,
		TargetID:    &t.ID,
		TargetLabel: t.Name,
		ActorID:     uuid.Nil,
		Description: "Seeded master tenant " + t.Name,
		New:         t,
	})
	return t, err
}

func ensureGod(ctx context.Context, tx store.Tx, masterID uuid.UUID, g GodUser) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(g.Email))
	existing, err := tx.UserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	hash, err := utils.HashPassword(g.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	u := &models.User{
		ID:                 uuid.New(),
		TenantID:           masterID,
		Email:              email,
		PasswordHash:       hash,
		FirstName:          g.FirstName,
		LastName:           g.LastName,
		Role:               models.RoleGod,
		IsTenantSuperAdmin: true,
		IsGlobalSuperAdmin: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.InsertUser(ctx, u); err != nil {
		return nil, err
	}
	_, err = audit.Record(ctx, tx, audit.Entry{
		Action:      audit.ActionUserCreated,
		TargetType:  models.TargetUser,
		TargetID:    &u.ID,
		TargetLabel: u.Email,
		ActorID:     uuid.Nil,
		Description: "Seeded platform owner " + u.Email,
		New:         u.ToPublic(),
	})
	return u, err
}

func ensureTenant(ctx context.Context, db store.Store, svc *hierarchy.Service, actor uuid.UUID, ts TenantSeed, slugs map[string]uuid.UUID) (uuid.UUID, bool, error) {
	var existing *models.Tenant
	err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		existing, err = tx.TenantBySlug(ctx, strings.ToLower(ts.Slug))
		return err
	})
	if err == nil {
		return existing.ID, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, false, err
	}
	in := hierarchy.CreateInput{
		Name:             ts.Name,
		Slug:             ts.Slug,
		AllowsSubtenants: ts.Hub,
		MaxDepth:         ts.MaxDepth,
	}
	if ts.Parent != "" {
		parent, ok := slugs[strings.ToLower(ts.Parent)]
		if !ok {
			return uuid.Nil, false, fmt.Errorf("unknown parent %q", ts.Parent)
		}
		in.ParentID = &parent
	}
	t, err := svc.Create(ctx, actor, in)
	if err != nil {
		return uuid.Nil, false, err
	}
	return t.ID, true, nil
}
