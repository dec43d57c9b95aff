// Package exports produces audit log workbooks in the background and tracks
// their progress in Redis until the download link is handed out.
package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/models"
)

const (
	statusPrefix = "export:"
	// StatusTTL bounds how long a finished export can be looked up.
	StatusTTL = 24 * time.Hour
)

// State is the progress of one export.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Export is the status record of one requested workbook.
type Export struct {
	ID          uuid.UUID          `json:"id"`
	State       State              `json:"status"`
	RequestedBy uuid.UUID          `json:"requested_by"`
	Filter      models.AuditFilter `json:"filter"`
	Rows        int                `json:"rows"`
	ObjectKey   string             `json:"object_key,omitempty"`
	Error       string             `json:"error,omitempty"`
	DownloadURL string             `json:"download_url,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// StatusStore keeps export records in Redis.
type StatusStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewStatusStore returns a store whose records expire after StatusTTL.
func NewStatusStore(rdb redis.Cmdable) *StatusStore {
	return &StatusStore{rdb: rdb, ttl: StatusTTL}
}

func statusKey(id uuid.UUID) string { return statusPrefix + id.String() }

// Save writes e and refreshes its expiry.
func (s *StatusStore) Save(ctx context.Context, e *Export) error {
	e.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := s.rdb.Set(ctx, statusKey(e.ID), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("save export status: %w", err)
	}
	return nil
}

// Get returns the record for id, or apperr.ErrExportNotFound.
func (s *StatusStore) Get(ctx context.Context, id uuid.UUID) (*Export, error) {
	raw, err := s.rdb.Get(ctx, statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get export status: %w", err)
	}
	var e Export
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode export status: %w", err)
	}
	return &e, nil
}

// Transition loads id, applies fn and saves the result.
func (s *StatusStore) Transition(ctx context.Context, id uuid.UUID, fn func(e *Export)) (*Export, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn(e)
	if err := s.Save(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
