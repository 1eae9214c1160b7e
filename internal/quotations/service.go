package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cota-system/cota/internal/access"
	"github.com/cota-system/cota/internal/mail"
	"github.com/cota-system/cota/internal/platform/locale"
	"github.com/cota-system/cota/internal/platform/validate"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/suppliers"
)

// ErrStaleInvitation is returned for queued invitations whose token was rotated
// or whose link can no longer be answered.
var ErrStaleInvitation = errors.New("invitation is no longer current")

// SupplierDirectory resolves suppliers for matching and invitations.
type SupplierDirectory interface {
	MatchByCategories(ctx context.Context, codes []string) (map[string][]suppliers.Supplier, error)
	Get(ctx context.Context, id uuid.UUID) (suppliers.Supplier, error)
}

// RequisitionReader loads stored requisitions.
type RequisitionReader interface {
	GetMany(ctx context.Context, ids []uuid.UUID) ([]requisitions.Requisition, error)
}

// InvitationQueue schedules invitation emails.
type InvitationQueue interface {
	EnqueueInvitation(ctx context.Context, linkID uuid.UUID, token string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives quotation events, typically a metrics sink.
type Observer interface {
	ObserveInvitation(result string)
	ObserveResponse()
}

// Config holds quotation settings.
type Config struct {
	TTL      time.Duration
	Branding mail.Branding
}

// Deps groups the collaborators of Service. Queue, Audit, Observer, Templates
// and PDF may be nil.
type Deps struct {
	Suppliers    SupplierDirectory
	Requisitions RequisitionReader
	Issuer       *access.Issuer
	Queue        InvitationQueue
	Audit        AuditPort
	Observer     Observer
	Templates    TemplateRenderer
	PDF          PDFRenderer
}

// Service orchestrates quotation flows.
type Service struct {
	repo   RepositoryPort
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs quotation service.
func NewService(repo RepositoryPort, deps Deps, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * 24 * time.Hour
	}
	return &Service{repo: repo, deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Invitee describes one issued supplier link. Link carries the token and is
// only returned right after issuing it.
type Invitee struct {
	LinkID       uuid.UUID `json:"link_id"`
	SupplierID   uuid.UUID `json:"supplier_id"`
	SupplierName string    `json:"supplier_name"`
	Email        string    `json:"email"`
	CategoryCode string    `json:"category_code"`
	Link         string    `json:"link"`
	Queued       bool      `json:"queued"`
}

type issued struct {
	link  SupplierLink
	token string
}

// CreateInput describes a manual quotation over stored requisitions.
type CreateInput struct {
	Title          string      `json:"title" validate:"required,max=200"`
	Description    string      `json:"description"`
	Requester      string      `json:"requester"`
	Notes          string      `json:"notes"`
	Deadline       *time.Time  `json:"deadline"`
	RequisitionIDs []uuid.UUID `json:"requisition_ids" validate:"required,min=1"`
}

// Create stores a draft quotation with the given requisitions as items.
func (s *Service) Create(ctx context.Context, in CreateInput) (Detail, error) {
	now := s.now().UTC()
	fields := validate.Collect(in)
	if in.Deadline != nil && !in.Deadline.After(now) {
		fields["deadline"] = "must be in the future"
	}
	if len(fields) > 0 {
		return Detail{}, shared.NewValidationError(fields)
	}
	reqs, err := s.loadRequisitions(ctx, in.RequisitionIDs)
	if err != nil {
		return Detail{}, err
	}

	q := Quotation{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Requester:   strings.TrimSpace(in.Requester),
		Status:      StatusDraft,
		Notes:       in.Notes,
		Deadline:    now.Add(s.cfg.TTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.Number = generateNumber(q.ID, now)
	if in.Deadline != nil {
		q.Deadline = in.Deadline.UTC()
	}
	if q.Description == "" {
		q.Description = describe(requisitionNumbers(reqs))
	}
	items := newItems(q.ID, reqs)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertQuotation(ctx, q); err != nil {
			return err
		}
		for _, it := range items {
			if err := tx.InsertItem(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Detail{}, fmt.Errorf("create quotation: %w", err)
	}
	s.recordAudit(ctx, "QUOTATION_CREATE", q.ID, map[string]any{"number": q.Number, "items": len(items)})
	return Detail{Quotation: q, Items: items, Links: []SupplierLink{}, Responses: []Response{}}, nil
}

// AddItems appends stored requisitions to a quotation.
func (s *Service) AddItems(ctx context.Context, id uuid.UUID, requisitionIDs []uuid.UUID) ([]Item, error) {
	if len(requisitionIDs) == 0 {
		return nil, shared.NewValidationError(shared.FieldErrors{"requisition_ids": "is required"})
	}
	reqs, err := s.loadRequisitions(ctx, requisitionIDs)
	if err != nil {
		return nil, err
	}
	items := newItems(id, reqs)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.LockQuotation(ctx, id)
		if err != nil {
			return err
		}
		if q.Status.Terminal() {
			return fmt.Errorf("quotation is %s: %w", q.Status, ErrInvalidState)
		}
		for _, it := range items {
			if err := tx.InsertItem(ctx, it); err != nil {
				return err
			}
		}
		q.UpdatedAt = s.now().UTC()
		return tx.UpdateQuotation(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("add items: %w", err)
	}
	return items, nil
}

// RemoveItem drops one item from a quotation.
func (s *Service) RemoveItem(ctx context.Context, id, itemID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.LockQuotation(ctx, id)
		if err != nil {
			return err
		}
		if q.Status.Terminal() {
			return fmt.Errorf("quotation is %s: %w", q.Status, ErrInvalidState)
		}
		if err := tx.DeleteItem(ctx, id, itemID); err != nil {
			return err
		}
		q.UpdatedAt = s.now().UTC()
		return tx.UpdateQuotation(ctx, q)
	})
	if err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

// AddSuppliersInput selects suppliers to invite.
type AddSuppliersInput struct {
	SupplierIDs []uuid.UUID `json:"supplier_ids" validate:"required,min=1"`
}

// AddSuppliers links suppliers to a quotation, one token each. Every supplier
// must be active and its category must have items in the quotation. Emails go
// out right away when the quotation accepts responses.
func (s *Service) AddSuppliers(ctx context.Context, id uuid.UUID, in AddSuppliersInput) ([]Invitee, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	sups := make([]suppliers.Supplier, 0, len(in.SupplierIDs))
	for _, sid := range in.SupplierIDs {
		sup, err := s.deps.Suppliers.Get(ctx, sid)
		if err != nil {
			return nil, fmt.Errorf("supplier %s: %w", sid, err)
		}
		if sup.Status == suppliers.StatusInactive {
			return nil, shared.NewValidationError(shared.FieldErrors{"supplier_ids": sup.LegalName + " is inactive"})
		}
		sups = append(sups, sup)
	}

	var (
		q      Quotation
		issues []issued
	)
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if q, err = tx.LockQuotation(ctx, id); err != nil {
			return err
		}
		if q.Status.Terminal() {
			return fmt.Errorf("quotation is %s: %w", q.Status, ErrInvalidState)
		}
		items, err := tx.Items(ctx, id)
		if err != nil {
			return err
		}
		categories := make(map[string]bool)
		for _, it := range items {
			categories[it.Requisition.CategoryCode] = true
		}
		for _, sup := range sups {
			if !categories[sup.CategoryCode] {
				return shared.NewValidationError(shared.FieldErrors{
					"supplier_ids": fmt.Sprintf("%s supplies category %s, which has no items", sup.LegalName, sup.CategoryCode),
				})
			}
			link, token, err := s.newLink(q, sup, now)
			if err != nil {
				return err
			}
			if err := tx.InsertLink(ctx, link); err != nil {
				return err
			}
			issues = append(issues, issued{link: link, token: token})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add suppliers: %w", err)
	}
	s.recordAudit(ctx, "QUOTATION_SUPPLIERS_ADD", id, map[string]any{"suppliers": len(issues)})
	return s.invite(ctx, issues, q.Status.AcceptsResponses()), nil
}

// RemoveSupplier deletes a supplier link that has not responded yet.
func (s *Service) RemoveSupplier(ctx context.Context, id, linkID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.LockQuotation(ctx, id)
		if err != nil {
			return err
		}
		if q.Status.Terminal() {
			return fmt.Errorf("quotation is %s: %w", q.Status, ErrInvalidState)
		}
		link, err := tx.LockLink(ctx, linkID)
		if err != nil {
			return err
		}
		if link.QuotationID != id {
			return fmt.Errorf("supplier link %s: %w", linkID, ErrNotFound)
		}
		if link.ResponseStatus == ResponseResponded {
			return fmt.Errorf("supplier link %s: %w", linkID, ErrAlreadyResponded)
		}
		return tx.DeleteLink(ctx, id, linkID)
	})
	if err != nil {
		return fmt.Errorf("remove supplier: %w", err)
	}
	s.recordAudit(ctx, "QUOTATION_SUPPLIER_REMOVE", id, map[string]any{"link_id": linkID.String()})
	return nil
}

// ResendInvitation rotates the token of a pending link and queues a new email.
// The previous link stops working.
func (s *Service) ResendInvitation(ctx context.Context, id, linkID uuid.UUID) (Invitee, error) {
	var issue issued
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.LockQuotation(ctx, id)
		if err != nil {
			return err
		}
		if !q.Open(now) {
			return fmt.Errorf("quotation %s is %s: %w", q.Number, q.Status, ErrInvalidState)
		}
		link, err := tx.LockLink(ctx, linkID)
		if err != nil {
			return err
		}
		if link.QuotationID != id {
			return fmt.Errorf("supplier link %s: %w", linkID, ErrNotFound)
		}
		if link.ResponseStatus == ResponseResponded {
			return ErrAlreadyResponded
		}
		if issue, err = s.rotate(ctx, tx, q, link, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Invitee{}, fmt.Errorf("resend invitation: %w", err)
	}
	invitees := s.invite(ctx, []issued{issue}, true)
	return invitees[0], nil
}

// List returns a page of quotation summaries, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Summary, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, shared.NewValidationError(shared.FieldErrors{"status": "unknown status"})
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	now := s.now()
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, Summarize(row.Quotation, row.Counts, now))
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Get returns a quotation with items, links and responses.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Detail, error) {
	d, err := s.repo.Detail(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if d.Items == nil {
		d.Items = []Item{}
	}
	if d.Links == nil {
		d.Links = []SupplierLink{}
	}
	if d.Responses == nil {
		d.Responses = []Response{}
	}
	return d, nil
}

// Compare returns the price map of a quotation.
func (s *Service) Compare(ctx context.Context, id uuid.UUID) (Comparison, error) {
	d, err := s.repo.Detail(ctx, id)
	if err != nil {
		return Comparison{}, err
	}
	return Compare(d), nil
}

// UpdateStatusInput requests a status change. Deadline is required when
// reopening a quotation whose deadline already passed and is rejected for
// states that do not accept responses.
type UpdateStatusInput struct {
	Status   Status     `json:"status"`
	Deadline *time.Time `json:"deadline"`
}

// UpdateStatus moves a quotation along the workflow. Moving into a state that
// accepts responses sends the invitations: every pending link gets a fresh
// token when the quotation leaves draft or its deadline changes.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, in UpdateStatusInput) (Quotation, error) {
	if !in.Status.Valid() {
		return Quotation{}, shared.NewValidationError(shared.FieldErrors{"status": "unknown status"})
	}
	if in.Deadline != nil && !in.Status.AcceptsResponses() {
		return Quotation{}, shared.NewValidationError(shared.FieldErrors{
			"deadline": "only applies when moving to " + string(StatusSent) + " or " + string(StatusOpen),
		})
	}
	now := s.now().UTC()
	if in.Deadline != nil && !in.Deadline.After(now) {
		return Quotation{}, shared.NewValidationError(shared.FieldErrors{"deadline": "must be in the future"})
	}

	var (
		q      Quotation
		from   Status
		issues []issued
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if q, err = tx.LockQuotation(ctx, id); err != nil {
			return err
		}
		from = q.Status
		if !from.CanTransition(in.Status) {
			return fmt.Errorf("%s to %s: %w", from, in.Status, ErrInvalidState)
		}
		q.Status = in.Status
		q.UpdatedAt = now
		if !in.Status.AcceptsResponses() {
			return tx.UpdateQuotation(ctx, q)
		}

		previous := q.Deadline
		switch {
		case in.Deadline != nil:
			q.Deadline = in.Deadline.UTC()
		case !q.Deadline.After(now) && from == StatusDraft:
			q.Deadline = now.Add(s.cfg.TTL)
		case !q.Deadline.After(now):
			return shared.NewValidationError(shared.FieldErrors{"deadline": "a new deadline is required to reopen"})
		}
		if q.SentAt == nil {
			q.SentAt = &now
		}
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		if from != StatusDraft && q.Deadline.Equal(previous) {
			return nil
		}
		links, err := tx.Links(ctx, id)
		if err != nil {
			return err
		}
		for _, link := range links {
			if link.ResponseStatus != ResponsePending {
				continue
			}
			issue, err := s.rotate(ctx, tx, q, link, now)
			if err != nil {
				return err
			}
			issues = append(issues, issue)
		}
		return nil
	})
	if err != nil {
		return Quotation{}, fmt.Errorf("update status: %w", err)
	}
	s.recordAudit(ctx, "QUOTATION_STATUS", id, map[string]any{"from": string(from), "to": string(q.Status)})
	s.invite(ctx, issues, true)
	return q, nil
}

// Stats aggregates quotation counts and the average savings.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.repo.StatusCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	avg, err := s.repo.AverageSavings(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Open:           counts[StatusOpen] + counts[StatusSent],
		Analysis:       counts[StatusAnalysis],
		Finalized:      counts[StatusFinalized],
		Expired:        counts[StatusExpired],
		Cancelled:      counts[StatusCancelled],
		AverageSavings: avg,
	}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// ExpireOverdue marks open quotations past their deadline as expired.
func (s *Service) ExpireOverdue(ctx context.Context, asOf time.Time) (int, error) {
	var ids []uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ids, err = tx.ExpireOverdue(ctx, asOf.UTC())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("expire quotations: %w", err)
	}
	for _, id := range ids {
		s.recordAudit(ctx, "QUOTATION_EXPIRE", id, map[string]any{"as_of": asOf.UTC().Format(time.RFC3339)})
	}
	return len(ids), nil
}

// Invitation builds the email parameters of a queued invitation. It returns
// ErrStaleInvitation when token no longer belongs to the link or the link
// cannot be answered anymore.
func (s *Service) Invitation(ctx context.Context, linkID uuid.UUID, token string) (mail.Params, error) {
	link, err := s.repo.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if !access.Matches(token, link.TokenHash) || link.ResponseStatus != ResponsePending {
		return nil, ErrStaleInvitation
	}
	q, err := s.repo.Get(ctx, link.QuotationID)
	if err != nil {
		return nil, err
	}
	if !q.Open(s.now()) {
		return nil, ErrStaleInvitation
	}
	items, err := s.repo.Items(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	estimate, priced := decimal.Zero, false
	for _, it := range scopeItems(items, link.CategoryCode) {
		if unit, ok := it.Requisition.UnitReference(); ok {
			estimate = estimate.Add(unit.Mul(it.RequestedQty))
			priced = true
		}
	}
	inv := mail.Invitation{
		Email:             link.Supplier.Email,
		SupplierName:      link.Supplier.LegalName,
		Description:       q.Description,
		Date:              q.CreatedAt,
		Token:             token,
		EstimatedDeadline: locale.Date(q.Deadline),
		Notes:             q.Notes,
	}
	if q.SentAt != nil {
		inv.Date = *q.SentAt
	}
	if priced {
		inv.EstimatedValue = locale.Money(estimate)
	}
	return mail.InvitationParams(inv, s.cfg.Branding), nil
}

// MarkEmailSent records the delivery of an invitation.
func (s *Service) MarkEmailSent(ctx context.Context, linkID uuid.UUID) error {
	return s.repo.MarkEmailSent(ctx, linkID, s.now().UTC())
}

func (s *Service) loadRequisitions(ctx context.Context, ids []uuid.UUID) ([]requisitions.Requisition, error) {
	reqs, err := s.deps.Requisitions.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]bool, len(reqs))
	for _, r := range reqs {
		found[r.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return nil, shared.NewValidationError(shared.FieldErrors{"requisition_ids": "unknown: " + strings.Join(missing, ", ")})
	}
	return reqs, nil
}

func (s *Service) newLink(q Quotation, sup suppliers.Supplier, now time.Time) (SupplierLink, string, error) {
	link := SupplierLink{
		ID:             uuid.New(),
		QuotationID:    q.ID,
		SupplierID:     sup.ID,
		CategoryCode:   sup.CategoryCode,
		ResponseStatus: ResponsePending,
		InvitedAt:      now,
		Supplier:       sup,
	}
	token, hash, err := s.deps.Issuer.Issue(link.ID, q.ID, q.Deadline)
	if err != nil {
		return SupplierLink{}, "", err
	}
	link.TokenHash = hash
	return link, token, nil
}

func (s *Service) rotate(ctx context.Context, tx TxRepository, q Quotation, link SupplierLink, now time.Time) (issued, error) {
	token, hash, err := s.deps.Issuer.Issue(link.ID, q.ID, q.Deadline)
	if err != nil {
		return issued{}, err
	}
	if err := tx.RotateToken(ctx, link.ID, hash, now); err != nil {
		return issued{}, err
	}
	link.TokenHash = hash
	link.InvitedAt = now
	link.EmailSentAt = nil
	return issued{link: link, token: token}, nil
}

// invite queues one email per issued link when send is true. Queue failures
// are logged; the links stay valid and can be resent.
func (s *Service) invite(ctx context.Context, issues []issued, send bool) []Invitee {
	out := make([]Invitee, 0, len(issues))
	for _, is := range issues {
		inv := Invitee{
			LinkID:       is.link.ID,
			SupplierID:   is.link.SupplierID,
			SupplierName: is.link.Supplier.LegalName,
			Email:        is.link.Supplier.Email,
			CategoryCode: is.link.CategoryCode,
			Link:         mail.Link(s.cfg.Branding.BaseURL, is.token),
		}
		if send && s.deps.Queue != nil {
			if err := s.deps.Queue.EnqueueInvitation(ctx, is.link.ID, is.token); err != nil {
				s.logger.Error("enqueue invitation", slog.String("link_id", is.link.ID.String()), slog.Any("error", err))
				s.observe("enqueue_failed")
			} else {
				inv.Queued = true
				s.observe("queued")
			}
		}
		out = append(out, inv)
	}
	return out
}

func (s *Service) observe(result string) {
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveInvitation(result)
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Record(ctx, shared.AuditLog{Actor: "system", Action: action, Entity: "quotation", EntityID: id.String(), Meta: meta}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func newItems(quotationID uuid.UUID, reqs []requisitions.Requisition) []Item {
	items := make([]Item, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, Item{
			ID:            uuid.New(),
			QuotationID:   quotationID,
			RequisitionID: r.ID,
			RequestedQty:  r.Quantity,
			Requisition:   r,
		})
	}
	return items
}

// scopeItems keeps the items a supplier of category may price.
func scopeItems(items []Item, category string) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Requisition.CategoryCode == category {
			out = append(out, it)
		}
	}
	return out
}

func requisitionNumbers(reqs []requisitions.Requisition) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range reqs {
		if !seen[r.Number] {
			seen[r.Number] = true
			out = append(out, r.Number)
		}
	}
	return out
}

func describe(numbers []string) string {
	return "Cotação incluindo as RCs: " + strings.Join(numbers, ", ")
}

func generateNumber(id uuid.UUID, now time.Time) string {
	return fmt.Sprintf("COT-%d-%s", now.UnixMilli(), strings.ToUpper(id.String()[:4]))
}
