package exports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/pkg/queue"
)

// ObjectStore is the slice of pkg/storage used for exports.
type ObjectStore interface {
	ExportsBucket() string
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	PresignExpire() time.Duration
}

// Payload is the job body of an audit export.
type Payload struct {
	ExportID uuid.UUID          `json:"export_id"`
	ActorID  uuid.UUID          `json:"actor_id"`
	Filter   models.AuditFilter `json:"filter"`
}

// Service accepts export requests and reports their status.
type Service struct {
	queue    *queue.Queue
	statuses *StatusStore
	objects  ObjectStore
	logger   *zap.Logger
}

// NewService returns an export front end. objects may be nil when no bucket
// is configured; completed exports then carry no download link.
func NewService(q *queue.Queue, statuses *StatusStore, objects ObjectStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{queue: q, statuses: statuses, objects: objects, logger: logger}
}

// Request records a pending export and enqueues the job that builds it.
func (s *Service) Request(ctx context.Context, actor uuid.UUID, filter models.AuditFilter) (*Export, error) {
	now := time.Now().UTC()
	e := &Export{
		ID:          uuid.New(),
		State:       StatePending,
		RequestedBy: actor,
		Filter:      filter,
		CreatedAt:   now,
	}
	if err := s.statuses.Save(ctx, e); err != nil {
		return nil, err
	}
	job, err := s.queue.Enqueue(ctx, queue.JobTypeAuditExport, Payload{ExportID: e.ID, ActorID: actor, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("enqueue export: %w", err)
	}
	s.logger.Info("audit export requested",
		zap.String("export_id", e.ID.String()),
		zap.String("job_id", job.ID),
		zap.String("actor_id", actor.String()))
	return e, nil
}

// Status returns the export with a fresh download link once it is complete.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*Export, error) {
	e, err := s.statuses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != StateComplete || e.ObjectKey == "" || s.objects == nil {
		return e, nil
	}
	url, err := s.objects.GeneratePresignedDownloadURL(ctx, s.objects.ExportsBucket(), e.ObjectKey, s.objects.PresignExpire())
	if err != nil {
		return nil, fmt.Errorf("presign export: %w", err)
	}
	e.DownloadURL = url
	return e, nil
}
