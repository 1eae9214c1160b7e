package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cota-system/cota/internal/jobs"
)

// CatalogRefresher invalidates the cached supplier catalog.
type CatalogRefresher interface {
	RefreshCatalog(ctx context.Context) error
}

// CatalogRefreshJob bumps the catalog version so every API process reloads it.
type CatalogRefreshJob struct {
	Catalog CatalogRefresher
	Metrics *jobmetrics.Metrics
	Logger  *slog.Logger
}

// NewCatalogRefreshJob wires the catalog refresh handler.
func NewCatalogRefreshJob(catalog CatalogRefresher, metrics *jobmetrics.Metrics, logger *slog.Logger) *CatalogRefreshJob {
	return &CatalogRefreshJob{Catalog: catalog, Metrics: metrics, Logger: logger}
}

// Handle processes suppliers:catalog-refresh tasks.
func (j *CatalogRefreshJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Catalog == nil {
		return errors.New("catalog refresh: handler not configured")
	}
	tracker := j.Metrics.Track(TaskCatalogRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if err := j.Catalog.RefreshCatalog(ctx); err != nil {
		j.Logger.Error("refresh supplier catalog", slog.Any("error", err))
		return err
	}
	j.Logger.Info("supplier catalog refreshed")
	return nil
}

// KeyPruner deletes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DefaultKeyRetention applies when the payload does not set one.
const DefaultKeyRetention = 7 * 24 * time.Hour

// CleanupJob prunes portal idempotency keys.
type CleanupJob struct {
	Keys    KeyPruner
	Metrics *jobmetrics.Metrics
	Logger  *slog.Logger
}

// NewCleanupJob wires the idempotency cleanup handler.
func NewCleanupJob(keys KeyPruner, metrics *jobmetrics.Metrics, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{Keys: keys, Metrics: metrics, Logger: logger}
}

// Handle processes idempotency:cleanup tasks.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	retention := DefaultKeyRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}

	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	n, err := j.Keys.Cleanup(ctx, retention)
	if err != nil {
		j.Logger.Error("cleanup idempotency keys", slog.Any("error", err))
		return err
	}
	j.Logger.Info("idempotency keys pruned", slog.Int64("deleted", n), slog.Duration("retention", retention))
	return nil
}
