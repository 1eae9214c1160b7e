package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/cota-system/cota/internal/jobs"
	"github.com/cota-system/cota/internal/mail"
	"github.com/cota-system/cota/internal/quotations"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSource struct {
	params  mail.Params
	err     error
	marked  []uuid.UUID
	markErr error
}

func (s *fakeSource) Invitation(ctx context.Context, linkID uuid.UUID, token string) (mail.Params, error) {
	return s.params, s.err
}

func (s *fakeSource) MarkEmailSent(ctx context.Context, linkID uuid.UUID) error {
	s.marked = append(s.marked, linkID)
	return s.markErr
}

type fakeMailer struct {
	sent []mail.Params
	err  error
}

func (m *fakeMailer) SendInvitation(ctx context.Context, params mail.Params) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, params)
	return nil
}

type outcomes map[string]int

func (o outcomes) ObserveInvitation(result string) { o[result]++ }

func inviteTask(t *testing.T, linkID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewInviteTask(linkID, "token")
	require.NoError(t, err)
	return task
}

func TestInviteJobSendsAndMarks(t *testing.T) {
	linkID := uuid.New()
	source := &fakeSource{params: mail.Params{"email": "contato@alfa.com.br"}}
	mailer := &fakeMailer{}
	seen := outcomes{}
	job := NewInviteJob(source, mailer, seen, jobmetrics.NewMetrics(prometheus.NewRegistry()), discard)

	require.NoError(t, job.Handle(context.Background(), inviteTask(t, linkID)))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "contato@alfa.com.br", mailer.sent[0].Recipient())
	assert.Equal(t, []uuid.UUID{linkID}, source.marked)
	assert.Equal(t, 1, seen["sent"])

	source.markErr = errors.New("db down")
	require.NoError(t, job.Handle(context.Background(), inviteTask(t, linkID)))
}

func TestInviteJobFailures(t *testing.T) {
	ctx := context.Background()
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())

	t.Run("stale", func(t *testing.T) {
		for _, err := range []error{quotations.ErrStaleInvitation, fmt.Errorf("link: %w", quotations.ErrNotFound)} {
			mailer := &fakeMailer{}
			seen := outcomes{}
			job := NewInviteJob(&fakeSource{err: err}, mailer, seen, metrics, discard)
			require.NoError(t, job.Handle(ctx, inviteTask(t, uuid.New())))
			assert.Empty(t, mailer.sent)
			assert.Equal(t, 1, seen["stale"])
		}
	})

	t.Run("temporary", func(t *testing.T) {
		boom := errors.New("smtp timeout")
		seen := outcomes{}
		source := &fakeSource{params: mail.Params{}}
		job := NewInviteJob(source, &fakeMailer{err: boom}, seen, metrics, discard)
		err := job.Handle(ctx, inviteTask(t, uuid.New()))
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
		assert.Equal(t, 1, seen["failed"])
		assert.Empty(t, source.marked)
	})

	t.Run("permanent", func(t *testing.T) {
		job := NewInviteJob(&fakeSource{params: mail.Params{}}, &fakeMailer{err: fmt.Errorf("400: %w", mail.ErrPermanent)}, outcomes{}, metrics, discard)
		err := job.Handle(ctx, inviteTask(t, uuid.New()))
		require.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("bad payload", func(t *testing.T) {
		job := NewInviteJob(&fakeSource{}, &fakeMailer{}, nil, metrics, discard)
		err := job.Handle(ctx, asynq.NewTask(TaskQuotationInvite, []byte("{")))
		require.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("not configured", func(t *testing.T) {
		var job *InviteJob
		require.Error(t, job.Handle(ctx, inviteTask(t, uuid.New())))
	})
}

func TestNewInviteTask(t *testing.T) {
	_, err := NewInviteTask(uuid.Nil, "token")
	require.Error(t, err)
	_, err = NewInviteTask(uuid.New(), "")
	require.Error(t, err)

	linkID := uuid.New()
	task := inviteTask(t, linkID)
	assert.Equal(t, TaskQuotationInvite, task.Type())
	var payload InvitePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, linkID, payload.LinkID)
	assert.Equal(t, "token", payload.Token)
}

type fakeExpirer struct {
	asOf time.Time
	n    int
	err  error
}

func (e *fakeExpirer) ExpireOverdue(ctx context.Context, asOf time.Time) (int, error) {
	e.asOf = asOf
	return e.n, e.err
}

func TestExpireJob(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	expirer := &fakeExpirer{n: 2}
	job := NewExpireJob(expirer, jobmetrics.NewMetrics(prometheus.NewRegistry()), discard)
	job.clock = func() time.Time { return now }

	require.NoError(t, job.Handle(context.Background(), NewExpireTask()))
	assert.Equal(t, now, expirer.asOf)

	expirer.err = errors.New("db down")
	require.ErrorIs(t, job.Handle(context.Background(), NewExpireTask()), expirer.err)
}

type fakeCatalog struct{ refreshed int }

func (c *fakeCatalog) RefreshCatalog(ctx context.Context) error {
	c.refreshed++
	return nil
}

type fakePruner struct{ retention time.Duration }

func (p *fakePruner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.retention = olderThan
	return 4, nil
}

func TestMaintenanceJobs(t *testing.T) {
	ctx := context.Background()
	catalog := &fakeCatalog{}
	require.NoError(t, NewCatalogRefreshJob(catalog, nil, discard).Handle(ctx, NewCatalogRefreshTask()))
	assert.Equal(t, 1, catalog.refreshed)

	pruner := &fakePruner{}
	cleanup := NewCleanupJob(pruner, nil, discard)
	task, err := NewCleanupTask(48)
	require.NoError(t, err)
	require.NoError(t, cleanup.Handle(ctx, task))
	assert.Equal(t, 48*time.Hour, pruner.retention)

	require.NoError(t, cleanup.Handle(ctx, asynq.NewTask(TaskIdempotencyCleanup, nil)))
	assert.Equal(t, DefaultKeyRetention, pruner.retention)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelay(0, nil, nil))
	assert.Equal(t, 2*time.Minute, RetryDelay(2, nil, nil))
	assert.Equal(t, time.Hour, RetryDelay(7, nil, nil))
	assert.Equal(t, time.Hour, RetryDelay(40, nil, nil))
}

func TestClientEnqueueInvitation(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.EnqueueInvitation(context.Background(), uuid.New(), "token"))
	pending, err := mr.List("asynq:{" + QueueMail + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

type fakeInspector map[string]*asynq.QueueInfo

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{QueueMail: {Queue: QueueMail, Pending: 3, Archived: 1}}, discard).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queues":[{"queue":"default","pending":0,"archived":0},{"queue":"mail","pending":3,"archived":1}]}`, rec.Body.String())

	r = chi.NewRouter()
	NewHandler(nil, discard).MountRoutes(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
