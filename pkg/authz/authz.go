// Package authz decides which console role may act on which admin object.
// The RBAC model and policy ship embedded; god inherits every super_admin grant.
package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

//go:embed model.conf
var modelText string

//go:embed policy.csv
var policyText string

// Mode controls whether decisions are enforced.
type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

// Objects guarded by the admin API.
const (
	ObjectDashboard   = "dashboard"
	ObjectTenants     = "tenants"
	ObjectUsers       = "users"
	ObjectBulk        = "bulk"
	ObjectAudit       = "audit"
	ObjectFederation  = "federation"
	ObjectEvents      = "events"
	ObjectSuperAdmins = "super_admins"
)

// Actions.
const (
	ActionRead   = "read"
	ActionAdmin  = "admin"
	ActionExport = "export"
)

// ParseMode validates a configured mode. Disabled must be unlocked explicitly.
func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("authz: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	default:
		return "", errors.New("authz: invalid AUTHZ_MODE (expected enforce|shadow|disabled)")
	}
}

// Authorizer wraps a casbin enforcer.
type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

// New loads the embedded model and policy.
func New(mode Mode) (*Authorizer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("authz: load model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m, stringadapter.NewAdapter(policyText))
	if err != nil {
		return nil, fmt.Errorf("authz: load policy: %w", err)
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

// Mode returns the configured mode.
func (a *Authorizer) Mode() Mode { return a.mode }

// SubjectFromRole maps a token role to a policy subject.
func SubjectFromRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = "anonymous"
	}
	return "role:" + role
}

// Authorize evaluates role against object and action. enforced is false in
// shadow and disabled modes, where callers must let the request through.
func (a *Authorizer) Authorize(role, object, action string) (allowed bool, enforced bool, err error) {
	switch a.mode {
	case ModeDisabled:
		return true, false, nil
	case ModeShadow:
		ok, err := a.enforcer.Enforce(SubjectFromRole(role), object, action)
		if err != nil {
			return false, false, err
		}
		return ok, false, nil
	case ModeEnforce:
		ok, err := a.enforcer.Enforce(SubjectFromRole(role), object, action)
		if err != nil {
			return false, true, err
		}
		return ok, true, nil
	default:
		return false, false, errors.New("authz: unknown mode")
	}
}
