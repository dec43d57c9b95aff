// Package confirm implements two-step commits for high-severity actions:
// the caller proposes an action, receives a short-lived token and must
// present it again to execute.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/apperr"
)

const (
	keyPrefix = "confirm:"
	// DefaultTTL is used when the broker is created with a non-positive TTL.
	DefaultTTL = 2 * time.Minute
)

// Action names an operation that needs confirmation.
type Action string

const (
	ActionEmergencyLockdown      Action = "emergency_lockdown"
	ActionGrantGlobalSuperAdmin  Action = "grant_global_super_admin"
	ActionRevokeGlobalSuperAdmin Action = "revoke_global_super_admin"
	ActionDeleteTenant           Action = "delete_tenant"
)

// Proposal is returned by Propose.
type Proposal struct {
	Token     string    `json:"confirmation_token"`
	Action    Action    `json:"action"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pending struct {
	Actor   uuid.UUID       `json:"actor"`
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Broker stores pending proposals in Redis.
type Broker struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewBroker creates a broker whose tokens expire after ttl.
func NewBroker(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{rdb: rdb, ttl: ttl, logger: logger}
}

// Propose records that actor intends to run action with payload.
func (b *Broker) Propose(ctx context.Context, actor uuid.UUID, action Action, payload any) (*Proposal, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	raw, err := json.Marshal(pending{Actor: actor, Action: action, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("marshal proposal: %w", err)
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	ok, err := b.rdb.SetNX(ctx, keyPrefix+token, raw, b.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("store proposal: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("store proposal: token collision")
	}
	b.logger.Debug("confirmation proposed", zap.String("action", string(action)), zap.String("actor_id", actor.String()))
	return &Proposal{Token: token, Action: action, ExpiresAt: time.Now().UTC().Add(b.ttl)}, nil
}

// Confirm consumes token and decodes the proposed payload into dest. A token
// works once, only for the actor and action it was issued for.
func (b *Broker) Confirm(ctx context.Context, actor uuid.UUID, action Action, token string, dest any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.ErrConfirmationRequired
	}
	raw, err := b.rdb.GetDel(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return apperr.ErrInvalidConfirmation
	}
	if err != nil {
		return fmt.Errorf("load proposal: %w", err)
	}
	var p pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode proposal: %w", err)
	}
	if p.Actor != actor || p.Action != action {
		b.logger.Warn("confirmation token misuse",
			zap.String("action", string(action)),
			zap.String("actor_id", actor.String()))
		return apperr.ErrInvalidConfirmation
	}
	if dest != nil {
		if err := json.Unmarshal(p.Payload, dest); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

// Step runs one half of a two-step action. Without a token it proposes
// payload and returns the proposal; with a token it confirms and decodes the
// stored payload into dest, returning a nil proposal.
func (b *Broker) Step(ctx context.Context, actor uuid.UUID, action Action, token string, payload, dest any) (*Proposal, error) {
	if strings.TrimSpace(token) == "" {
		return b.Propose(ctx, actor, action, payload)
	}
	return nil, b.Confirm(ctx, actor, action, token, dest)
}
