package exports

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/nexus-timebank/backend/internal/apperr"
	"github.com/nexus-timebank/backend/internal/audit"
	"github.com/nexus-timebank/backend/internal/models"
	"github.com/nexus-timebank/backend/internal/store"
	"github.com/nexus-timebank/backend/internal/store/memory"
	"github.com/nexus-timebank/backend/pkg/queue"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newFakeObjects() *fakeObjects { return &fakeObjects{objects: map[string][]byte{}} }

func (f *fakeObjects) ExportsBucket() string         { return "exports-test" }
func (f *fakeObjects) PresignExpire() time.Duration { return time.Minute }

func (f *fakeObjects) Upload(_ context.Context, bucket, key, _ string, body io.Reader, _ int64) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	return "https://" + bucket + "/" + key, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, _, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) GeneratePresignedDownloadURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://" + bucket + "/" + key + "?signed=1", nil
}

type harness struct {
	mr       *miniredis.Miniredis
	db       *memory.Store
	queue    *queue.Queue
	objects  *fakeObjects
	service  *Service
	worker   *Processor
	actor    uuid.UUID
	statuses *StatusStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{mr: mr, db: memory.New(), objects: newFakeObjects(), actor: uuid.New()}
	h.queue = queue.NewQueue(rdb, nil)
	h.statuses = NewStatusStore(rdb)
	h.service = NewService(h.queue, h.statuses, h.objects, nil)
	h.worker = NewProcessor(h.db, h.statuses, h.queue, h.objects, nil, nil)
	return h
}

func (h *harness) seed(t *testing.T, n int) {
	t.Helper()
	err := h.db.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < n; i++ {
			id := uuid.New()
			if _, err := audit.Record(ctx, tx, audit.Entry{
				Action:      audit.ActionTenantCreated,
				TargetType:  models.TargetTenant,
				TargetID:    &id,
				TargetLabel: "tenant",
				ActorID:     h.actor,
				Description: "Created tenant",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) next(t *testing.T) *queue.Job {
	t.Helper()
	job, err := h.queue.Dequeue(context.Background(), time.Second, queue.JobTypeAuditExport)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestExport_RequestProcessStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, 3)

	e, err := h.service.Request(ctx, h.actor, models.AuditFilter{Category: string(audit.CategoryTenant)})
	require.NoError(t, err)
	assert.Equal(t, StatePending, e.State)

	got, err := h.service.Status(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Empty(t, got.DownloadURL)

	require.NoError(t, h.worker.handle(ctx, h.next(t)))

	got, err = h.service.Status(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, got.State)
	assert.Equal(t, 3, got.Rows)
	assert.Contains(t, got.DownloadURL, got.ObjectKey)
	assert.Contains(t, got.DownloadURL, "signed=1")

	body, ok := h.objects.objects[got.ObjectKey]
	require.True(t, ok)
	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, string(audit.ActionTenantCreated), rows[1][2])
	assert.Equal(t, "tenant", rows[1][3])

	page, err := audit.NewService(h.db).List(ctx, models.AuditFilter{ActionType: string(audit.ActionDataExported)})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, h.actor, page.Entries[0].ActorID)
	assert.Equal(t, string(audit.SeverityWarning), page.Entries[0].Severity)
}

func TestExport_StatusUnknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrExportNotFound)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestExport_StatusExpires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e, err := h.service.Request(ctx, h.actor, models.AuditFilter{})
	require.NoError(t, err)

	h.mr.FastForward(StatusTTL + time.Second)
	_, err = h.service.Status(ctx, e.ID)
	assert.ErrorIs(t, err, apperr.ErrExportNotFound)
}

func TestExport_FailedUploadRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, 1)
	h.objects.fail = errors.New("bucket unavailable")

	e, err := h.service.Request(ctx, h.actor, models.AuditFilter{})
	require.NoError(t, err)

	for i := 0; i < queue.MaxRetries; i++ {
		require.Error(t, h.worker.handle(ctx, h.next(t)))
	}

	got, err := h.service.Status(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Error, "bucket unavailable")

	dead, err := h.queue.DeadLetters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, dead)

	page, err := audit.NewService(h.db).List(ctx, models.AuditFilter{ActionType: string(audit.ActionDataExported)})
	require.NoError(t, err)
	assert.Empty(t, page.Entries, "nothing is recorded for an export that never landed")
}

// failingAudit is a store whose transactions cannot append audit entries.
type failingAudit struct{ *memory.Store }

type noAppendTx struct{ store.Tx }

func (noAppendTx) AppendAudit(context.Context, *models.AuditEntry) error {
	return errors.New("audit log unavailable")
}

func (s failingAudit) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error { return fn(ctx, noAppendTx{tx}) })
}

func TestExport_UnrecordedObjectIsRemoved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, 2)
	worker := NewProcessor(failingAudit{h.db}, h.statuses, h.queue, h.objects, nil, nil)

	e, err := h.service.Request(ctx, h.actor, models.AuditFilter{})
	require.NoError(t, err)
	require.Error(t, worker.handle(ctx, h.next(t)))

	assert.Empty(t, h.objects.objects)
	got, err := h.service.Status(ctx, e.ID)
	require.NoError(t, err)
	assert.NotEqual(t, StateComplete, got.State)
	assert.Empty(t, got.ObjectKey)
}

// growingStore records one more entry before every transaction after the first.
type growingStore struct {
	*memory.Store
	actor uuid.UUID
	calls int
}

func (s *growingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.calls++
	if s.calls > 1 {
		err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := audit.Record(ctx, tx, audit.Entry{Action: audit.ActionTenantUpdated, TargetType: models.TargetTenant, ActorID: s.actor})
			return err
		})
		if err != nil {
			return err
		}
	}
	return s.Store.WithTx(ctx, fn)
}

func TestCollect_RowsRecordedMeanwhileAreNotRepeated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, 7)

	db := &growingStore{Store: h.db, actor: h.actor}
	entries, err := audit.NewService(db).Collect(ctx, models.AuditFilter{}, MaxRows, 2)
	require.NoError(t, err)
	require.Len(t, entries, 7)
	for i, e := range entries {
		assert.Equal(t, int64(7-i), e.Seq)
		assert.Equal(t, string(audit.ActionTenantCreated), e.ActionType)
	}
	assert.Greater(t, db.calls, 3)

	capped, err := audit.NewService(h.db).Collect(ctx, models.AuditFilter{}, 3, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 3)
}

func TestBuildWorkbook_Empty(t *testing.T) {
	body, err := BuildWorkbook(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
