package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cota-system/cota/internal/jobs"
)

// Expirer closes quotations whose deadline passed.
type Expirer interface {
	ExpireOverdue(ctx context.Context, asOf time.Time) (int, error)
}

// ExpireJob runs the hourly expiry sweep.
type ExpireJob struct {
	Quotations Expirer
	Metrics    *jobmetrics.Metrics
	Logger     *slog.Logger
	clock      func() time.Time
}

// NewExpireJob wires dependencies for the expiry handler.
func NewExpireJob(quotations Expirer, metrics *jobmetrics.Metrics, logger *slog.Logger) *ExpireJob {
	return &ExpireJob{
		Quotations: quotations,
		Metrics:    metrics,
		Logger:     logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes quotation:expire tasks.
func (j *ExpireJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Quotations == nil {
		return errors.New("quotation expire: handler not configured")
	}
	tracker := j.Metrics.Track(TaskQuotationExpire)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	asOf := j.clock()
	n, err := j.Quotations.ExpireOverdue(ctx, asOf)
	if err != nil {
		j.Logger.Error("expire quotations", slog.Any("error", err))
		return err
	}
	j.Metrics.AddExpired(n)
	if n > 0 {
		j.Logger.Info("quotations expired", slog.Int("count", n), slog.Time("as_of", asOf))
	}
	return nil
}
