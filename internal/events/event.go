// Package events fans committed admin changes out to connected consoles so
// dashboards, whitelist and partnership views refresh without polling.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TenantChanged      = "tenant.changed"
	TenantDeleted      = "tenant.deleted"
	HierarchyChanged   = "hierarchy.changed"
	UserChanged        = "user.changed"
	ControlsChanged    = "federation.controls_changed"
	LockdownChanged    = "federation.lockdown_changed"
	WhitelistChanged   = "federation.whitelist_changed"
	PartnershipChanged = "federation.partnership_changed"
	FeaturesChanged    = "federation.features_changed"
	BulkCompleted      = "bulk.completed"
	ExportReady        = "audit.export_ready"
)

// Event is a change notification. It carries identifiers only; consumers
// re-read state through the API.
type Event struct {
	Type     string     `json:"type"`
	TargetID *uuid.UUID `json:"target_id,omitempty"`
	ActorID  uuid.UUID  `json:"actor_id"`
	At       time.Time  `json:"at"`
}

// New builds an event stamped with the current time.
func New(typ string, target *uuid.UUID, actor uuid.UUID) Event {
	return Event{Type: typ, TargetID: target, ActorID: actor, At: time.Now().UTC()}
}

// Publisher delivers events after the change has committed. Delivery is
// best effort; failures are logged by the implementation, never returned.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) {}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
