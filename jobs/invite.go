package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/cota-system/cota/internal/jobs"
	"github.com/cota-system/cota/internal/mail"
	"github.com/cota-system/cota/internal/quotations"
)

// InvitationSource resolves queued invitations into email parameters.
type InvitationSource interface {
	Invitation(ctx context.Context, linkID uuid.UUID, token string) (mail.Params, error)
	MarkEmailSent(ctx context.Context, linkID uuid.UUID) error
}

// InvitationObserver counts delivery outcomes.
type InvitationObserver interface {
	ObserveInvitation(result string)
}

// InviteJob delivers supplier invitation emails.
type InviteJob struct {
	Invitations InvitationSource
	Mailer      mail.Mailer
	Observer    InvitationObserver
	Metrics     *jobmetrics.Metrics
	Logger      *slog.Logger
}

// NewInviteJob wires dependencies for the invitation handler.
func NewInviteJob(source InvitationSource, mailer mail.Mailer, observer InvitationObserver, metrics *jobmetrics.Metrics, logger *slog.Logger) *InviteJob {
	return &InviteJob{Invitations: source, Mailer: mailer, Observer: observer, Metrics: metrics, Logger: logger}
}

// Handle processes quotation:invite tasks. Invitations that went stale while
// queued are dropped; permanent delivery failures are not retried.
func (j *InviteJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Invitations == nil || j.Mailer == nil {
		return errors.New("quotation invite: handler not configured")
	}
	var payload InvitePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode invite payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskQuotationInvite)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger().With(slog.String("link_id", payload.LinkID.String()))

	params, err := j.Invitations.Invitation(ctx, payload.LinkID, payload.Token)
	if errors.Is(err, quotations.ErrStaleInvitation) || errors.Is(err, quotations.ErrNotFound) {
		logger.Info("skip stale invitation", slog.Any("error", err))
		j.observe("stale")
		return nil
	}
	if err != nil {
		logger.Error("load invitation", slog.Any("error", err))
		return err
	}

	if err := j.Mailer.SendInvitation(ctx, params); err != nil {
		j.observe("failed")
		if errors.Is(err, mail.ErrPermanent) {
			logger.Error("invitation rejected", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Warn("send invitation", slog.Any("error", err))
		return err
	}
	j.observe("sent")
	if err := j.Invitations.MarkEmailSent(ctx, payload.LinkID); err != nil {
		logger.Warn("mark invitation sent", slog.Any("error", err))
	}
	logger.Info("invitation sent", slog.String("to", params.Recipient()))
	return nil
}

func (j *InviteJob) observe(result string) {
	if j.Observer != nil {
		j.Observer.ObserveInvitation(result)
	}
}

func (j *InviteJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
