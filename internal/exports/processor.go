package exports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/events"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/pkg/queue"
	"github.com/nexus-timebank/backend/pkg/storage"
)

const (
	// MaxRows caps the entries written to one workbook.
	MaxRows  = 50000
	pageSize = 200

	dequeueTimeout = 5 * time.Second
)

// Observer is told how each export job ended.
type Observer interface {
	ExportJob(ok bool)
}

// Processor builds, uploads and records audit export jobs.
type Processor struct {
	db       store.Store
	audits   *audit.Service
	statuses *StatusStore
	queue    *queue.Queue
	objects  ObjectStore
	events   events.Publisher
	logger   *zap.Logger
	observer Observer
	backoff  time.Duration
}

// NewProcessor creates an audit export processor.
func NewProcessor(db store.Store, statuses *StatusStore, q *queue.Queue, objects ObjectStore, pub events.Publisher, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		db:       db,
		audits:   audit.NewService(db),
		statuses: statuses,
		queue:    q,
		objects:  objects,
		events:   events.OrNop(pub),
		logger:   logger,
		backoff:  queue.RetryBackoff,
	}
}

// WithObserver sets the job outcome observer and returns p.
func (p *Processor) WithObserver(o Observer) *Processor {
	p.observer = o
	return p
}

func (p *Processor) observe(ok bool) {
	if p.observer != nil {
		p.observer.ExportJob(ok)
	}
}

// Process executes one export job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAuditExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	current, err := p.statuses.Get(ctx, payload.ExportID)
	if err != nil {
		return fmt.Errorf("export %s: %w", payload.ExportID, err)
	}
	if current.State == StateComplete {
		p.logger.Info("export already complete", zap.String("export_id", payload.ExportID.String()))
		return nil
	}
	if _, err := p.statuses.Transition(ctx, payload.ExportID, func(e *Export) { e.State = StateRunning }); err != nil {
		return err
	}

	entries, err := p.audits.Collect(ctx, payload.Filter, MaxRows, pageSize)
	if err != nil {
		return err
	}
	body, err := BuildWorkbook(entries)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}

	bucket := p.objects.ExportsBucket()
	key := storage.ExportKey("audit", payload.ExportID.String(), time.Now())
	if _, err := p.objects.Upload(ctx, bucket, key, storage.ContentTypeXLSX, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("upload export: %w", err)
	}

	exportID := payload.ExportID
	err = store.Atomic(ctx, p.db, func(ctx context.Context, tx store.Tx) error {
		_, err := audit.Record(ctx, tx, audit.Entry{
			Action:      audit.ActionDataExported,
			TargetType:  models.TargetAudit,
			TargetID:    &exportID,
			TargetLabel: "audit log",
			ActorID:     payload.ActorID,
			Description: fmt.Sprintf("Exported %d audit entries", len(entries)),
			New:         map[string]any{"rows": len(entries), "object_key": key, "filter": payload.Filter},
		})
		return err
	})
	if err != nil {
		// An object without its audit record must not be left downloadable.
		if derr := p.objects.DeleteObject(context.WithoutCancel(ctx), bucket, key); derr != nil {
			p.logger.Warn("remove unrecorded export", zap.String("s3_key", key), zap.Error(derr))
		}
		return fmt.Errorf("record export: %w", err)
	}

	if _, err := p.statuses.Transition(ctx, exportID, func(e *Export) {
		e.State = StateComplete
		e.Rows = len(entries)
		e.ObjectKey = key
		e.Error = ""
	}); err != nil {
		return err
	}
	p.events.Publish(ctx, events.New(events.ExportReady, &exportID, payload.ActorID))
	p.logger.Info("audit export completed",
		zap.String("export_id", exportID.String()),
		zap.Int("rows", len(entries)),
		zap.String("s3_key", key))
	return nil
}

// handle runs one job and schedules a retry on failure. Jobs that exhaust
// their retries are marked failed.
func (p *Processor) handle(ctx context.Context, job *queue.Job) error {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	perr := p.Process(ctx, job)
	if perr == nil {
		p.observe(true)
		return nil
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(perr))
	dead, err := p.queue.Retry(ctx, job, perr)
	if err != nil {
		p.logger.Error("retry enqueue failed", zap.Error(err))
		return perr
	}
	if dead {
		p.observe(false)
		p.markFailed(ctx, job, perr)
	}
	return perr
}

func (p *Processor) markFailed(ctx context.Context, job *queue.Job, cause error) {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ExportID == uuid.Nil {
		return
	}
	if _, err := p.statuses.Transition(ctx, payload.ExportID, func(e *Export) {
		e.State = StateFailed
		e.Error = cause.Error()
	}); err != nil {
		p.logger.Warn("mark export failed", zap.String("export_id", payload.ExportID.String()), zap.Error(err))
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("export worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout, queue.JobTypeAuditExport)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if err := p.handle(ctx, job); err != nil {
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
