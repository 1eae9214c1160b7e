package quotations

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/suppliers"
)

var (
	// ErrNotFound indicates the quotation, item or link does not exist.
	ErrNotFound = shared.ErrNotFound
	// ErrInvalidState is returned for transitions the workflow forbids.
	ErrInvalidState = shared.ErrInvalidState
	// ErrAlreadyResponded is returned when a supplier link was already answered.
	ErrAlreadyResponded = fmt.Errorf("supplier already responded: %w", shared.ErrConflict)
	// ErrClosed is returned when responses are no longer accepted.
	ErrClosed = fmt.Errorf("quotation no longer accepts responses: %w", shared.ErrGone)
	// ErrInvalidLink covers unknown, tampered or rotated link tokens.
	ErrInvalidLink = fmt.Errorf("invalid supplier link: %w", shared.ErrUnauthorized)
	// ErrNoSuppliers is returned when a dispatch selects nobody to invite.
	ErrNoSuppliers = errors.New("no suppliers selected")
)

// Status is the quotation lifecycle state.
type Status string

const (
	StatusDraft     Status = "rascunho"
	StatusSent      Status = "enviada"
	StatusOpen      Status = "aberta"
	StatusAnalysis  Status = "analise"
	StatusFinalized Status = "finalizada"
	StatusCancelled Status = "cancelada"
	StatusExpired   Status = "vencida"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusSent, StatusOpen, StatusCancelled},
	StatusSent:     {StatusOpen, StatusAnalysis, StatusCancelled, StatusExpired},
	StatusOpen:     {StatusAnalysis, StatusCancelled, StatusExpired},
	StatusAnalysis: {StatusFinalized, StatusCancelled, StatusOpen},
	StatusExpired:  {StatusOpen, StatusAnalysis, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusOpen, StatusAnalysis, StatusFinalized, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether the workflow allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AcceptsResponses reports whether suppliers may still answer.
func (s Status) AcceptsResponses() bool {
	return s == StatusOpen || s == StatusSent
}

// Terminal reports whether no further transition exists.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ResponseStatus tracks one supplier link.
type ResponseStatus string

const (
	ResponsePending   ResponseStatus = "pendente"
	ResponseResponded ResponseStatus = "respondido"
)

// Quotation bundles requisitions sent to suppliers for pricing.
type Quotation struct {
	ID          uuid.UUID  `json:"id"`
	Number      string     `json:"number"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Requester   string     `json:"requester"`
	Status      Status     `json:"status"`
	Notes       string     `json:"notes"`
	Deadline    time.Time  `json:"deadline"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Open reports whether suppliers can respond at now.
func (q Quotation) Open(now time.Time) bool {
	return q.Status.AcceptsResponses() && now.Before(q.Deadline)
}

// Item is a requisition line included in a quotation.
type Item struct {
	ID            uuid.UUID                `json:"id"`
	QuotationID   uuid.UUID                `json:"quotation_id"`
	RequisitionID uuid.UUID                `json:"requisition_id"`
	RequestedQty  decimal.Decimal          `json:"requested_qty"`
	Requisition   requisitions.Requisition `json:"requisition"`
}

// SupplierLink is the invitation of one supplier, scoped to one category.
type SupplierLink struct {
	ID             uuid.UUID          `json:"id"`
	QuotationID    uuid.UUID          `json:"quotation_id"`
	SupplierID     uuid.UUID          `json:"supplier_id"`
	CategoryCode   string             `json:"category_code"`
	TokenHash      string             `json:"-"`
	ResponseStatus ResponseStatus     `json:"response_status"`
	InvitedAt      time.Time          `json:"invited_at"`
	EmailSentAt    *time.Time         `json:"email_sent_at,omitempty"`
	ViewedAt       *time.Time         `json:"viewed_at,omitempty"`
	RespondedAt    *time.Time         `json:"responded_at,omitempty"`
	Supplier       suppliers.Supplier `json:"supplier"`
}

// Response is one priced line submitted by a supplier.
type Response struct {
	ID            uuid.UUID        `json:"id"`
	LinkID        uuid.UUID        `json:"link_id"`
	RequisitionID uuid.UUID        `json:"requisition_id"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	LeadTimeDays  int              `json:"lead_time_days"`
	AvailableQty  *decimal.Decimal `json:"available_qty,omitempty"`
	Notes         string           `json:"notes"`
	SubmittedAt   time.Time        `json:"submitted_at"`
}

// Detail is a quotation with everything attached to it.
type Detail struct {
	Quotation
	Items     []Item         `json:"items"`
	Links     []SupplierLink `json:"suppliers"`
	Responses []Response     `json:"responses"`
}

// Counts are the aggregate figures List needs per quotation.
type Counts struct {
	Items     int
	Invited   int
	Responded int
}

// Summary is a list row.
type Summary struct {
	Quotation
	ItemCount       int `json:"item_count"`
	Invited         int `json:"invited"`
	Responded       int `json:"responded"`
	ResponsePercent int `json:"response_percent"`
	DaysRemaining   int `json:"days_remaining"`
}

// Summarize derives the list figures of q at now.
func Summarize(q Quotation, c Counts, now time.Time) Summary {
	return Summary{
		Quotation:       q,
		ItemCount:       c.Items,
		Invited:         c.Invited,
		Responded:       c.Responded,
		ResponsePercent: ResponsePercent(c.Responded, c.Invited),
		DaysRemaining:   DaysRemaining(q.Deadline, now),
	}
}

// ResponsePercent is responded/invited as a rounded percentage, 0 with nobody invited.
func ResponsePercent(responded, invited int) int {
	if invited <= 0 {
		return 0
	}
	return int(math.Round(float64(responded) * 100 / float64(invited)))
}

// DaysRemaining counts whole days until deadline, rounding up. Past or zero
// deadlines yield 0.
func DaysRemaining(deadline, now time.Time) int {
	if deadline.IsZero() {
		return 0
	}
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// Stats aggregates the dashboard figures.
type Stats struct {
	Total          int             `json:"total"`
	Open           int             `json:"open"`
	Analysis       int             `json:"analysis"`
	Finalized      int             `json:"finalized"`
	Expired        int             `json:"expired"`
	Cancelled      int             `json:"cancelled"`
	AverageSavings decimal.Decimal `json:"average_savings_percent"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Search  string
	Status  Status
	Page    int
	PerPage int
}
