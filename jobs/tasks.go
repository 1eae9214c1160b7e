package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries invitation emails.
	QueueMail = "mail"

	// TaskQuotationInvite sends one supplier invitation email.
	TaskQuotationInvite = "quotation:invite"
	// TaskQuotationExpire moves quotations past their deadline to expired.
	TaskQuotationExpire = "quotation:expire"
	// TaskCatalogRefresh bumps the shared supplier catalog version.
	TaskCatalogRefresh = "suppliers:catalog-refresh"
	// TaskIdempotencyCleanup prunes old portal idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	// InviteMaxRetry bounds delivery attempts of one invitation.
	InviteMaxRetry = 5
)

// InvitePayload identifies a queued invitation. The token is the raw link
// token; only its hash is stored in the database.
type InvitePayload struct {
	LinkID uuid.UUID `json:"link_id"`
	Token  string    `json:"token"`
}

// NewInviteTask builds a quotation:invite task.
func NewInviteTask(linkID uuid.UUID, token string) (*asynq.Task, error) {
	if linkID == uuid.Nil || token == "" {
		return nil, fmt.Errorf("invite task: link and token are required")
	}
	body, err := json.Marshal(InvitePayload{LinkID: linkID, Token: token})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationInvite, body, asynq.Queue(QueueMail), asynq.MaxRetry(InviteMaxRetry)), nil
}

// NewExpireTask builds a quotation:expire task.
func NewExpireTask() *asynq.Task {
	return asynq.NewTask(TaskQuotationExpire, nil, asynq.Queue(QueueDefault))
}

// NewCatalogRefreshTask builds a suppliers:catalog-refresh task.
func NewCatalogRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskCatalogRefresh, nil, asynq.Queue(QueueDefault))
}

// CleanupPayload configures idempotency key retention.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewCleanupTask builds an idempotency:cleanup task.
func NewCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
