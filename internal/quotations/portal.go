package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cota-system/cota/internal/access"
	"github.com/cota-system/cota/internal/shared"
)

// PortalSupplier is what a supplier sees about itself.
type PortalSupplier struct {
	LegalName string `json:"legal_name"`
	CNPJ      string `json:"cnpj"`
	Email     string `json:"email"`
}

// PortalItem is an item a supplier is asked to price.
type PortalItem struct {
	ItemID                 uuid.UUID       `json:"item_id"`
	Number                 string          `json:"number"`
	ItemNumber             string          `json:"item_number"`
	MaterialCode           string          `json:"material_code"`
	Description            string          `json:"description"`
	Manufacturer           string          `json:"manufacturer"`
	ManufacturerPartNumber string          `json:"manufacturer_part_number"`
	Quantity               decimal.Decimal `json:"quantity"`
	Unit                   string          `json:"unit"`
	Plant                  string          `json:"plant"`
	City                   string          `json:"city"`
	State                  string          `json:"state"`
	Response               *Response       `json:"response,omitempty"`
}

// PortalView is the page behind a supplier link.
type PortalView struct {
	Number         string           `json:"number"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Notes          string           `json:"notes"`
	Status         Status           `json:"status"`
	Deadline       time.Time        `json:"deadline"`
	DaysRemaining  int              `json:"days_remaining"`
	CategoryCode   string           `json:"category_code"`
	ResponseStatus ResponseStatus   `json:"response_status"`
	CanRespond     bool             `json:"can_respond"`
	Supplier       PortalSupplier   `json:"supplier"`
	Items          []PortalItem     `json:"items"`
	Total          *decimal.Decimal `json:"total,omitempty"`
}

// LineInput prices one item.
type LineInput struct {
	ItemID       uuid.UUID        `json:"item_id"`
	UnitPrice    *decimal.Decimal `json:"unit_price"`
	LeadTimeDays *int             `json:"lead_time_days"`
	AvailableQty *decimal.Decimal `json:"available_qty"`
	Notes        string           `json:"notes"`
}

// SubmitInput is a supplier answer. IdempotencyKey comes from the request header.
type SubmitInput struct {
	Lines          []LineInput `json:"lines"`
	IdempotencyKey string      `json:"-"`
}

// SubmitResult confirms a submitted answer.
type SubmitResult struct {
	Lines       int             `json:"lines"`
	Total       decimal.Decimal `json:"total"`
	RespondedAt time.Time       `json:"responded_at"`
}

// resolve verifies token and returns the link it belongs to. Expired tokens
// map to ErrGone; anything else that does not match a stored link is ErrInvalidLink.
func (s *Service) resolve(ctx context.Context, token string) (SupplierLink, error) {
	claims, err := s.deps.Issuer.Parse(token)
	if errors.Is(err, access.ErrExpiredToken) {
		return SupplierLink{}, fmt.Errorf("supplier link expired: %w", shared.ErrGone)
	}
	if err != nil {
		return SupplierLink{}, ErrInvalidLink
	}
	linkID, _ := claims.LinkID()
	link, err := s.repo.GetLink(ctx, linkID)
	if errors.Is(err, ErrNotFound) {
		return SupplierLink{}, ErrInvalidLink
	}
	if err != nil {
		return SupplierLink{}, err
	}
	if link.QuotationID != claims.QuotationID || !access.Matches(token, link.TokenHash) {
		return SupplierLink{}, ErrInvalidLink
	}
	return link, nil
}

// OpenLink returns the quotation as the linked supplier sees it: only the
// items of the link category, with any prices already submitted. The first
// call records the view time.
func (s *Service) OpenLink(ctx context.Context, token string) (PortalView, error) {
	link, err := s.resolve(ctx, token)
	if err != nil {
		return PortalView{}, err
	}
	q, err := s.repo.Get(ctx, link.QuotationID)
	if err != nil {
		return PortalView{}, err
	}
	all, err := s.repo.Items(ctx, q.ID)
	if err != nil {
		return PortalView{}, err
	}
	responses, err := s.repo.LinkResponses(ctx, link.ID)
	if err != nil {
		return PortalView{}, err
	}
	now := s.now().UTC()
	if link.ViewedAt == nil {
		if err := s.repo.MarkViewed(ctx, link.ID, now); err != nil {
			s.logger.Warn("mark link viewed", slog.String("link_id", link.ID.String()), slog.Any("error", err))
		}
	}

	byRequisition := make(map[uuid.UUID]Response, len(responses))
	for _, r := range responses {
		byRequisition[r.RequisitionID] = r
	}
	view := PortalView{
		Number:         q.Number,
		Title:          q.Title,
		Description:    q.Description,
		Notes:          q.Notes,
		Status:         q.Status,
		Deadline:       q.Deadline,
		DaysRemaining:  DaysRemaining(q.Deadline, now),
		CategoryCode:   link.CategoryCode,
		ResponseStatus: link.ResponseStatus,
		CanRespond:     link.ResponseStatus == ResponsePending && q.Open(now),
		Supplier: PortalSupplier{
			LegalName: link.Supplier.LegalName,
			CNPJ:      link.Supplier.CNPJ,
			Email:     link.Supplier.Email,
		},
	}
	items := scopeItems(all, link.CategoryCode)
	view.Items = make([]PortalItem, 0, len(items))
	total, answered := decimal.Zero, false
	for _, it := range items {
		req := it.Requisition
		pi := PortalItem{
			ItemID:                 it.ID,
			Number:                 req.Number,
			ItemNumber:             req.ItemNumber,
			MaterialCode:           req.MaterialCode,
			Description:            req.Description,
			Manufacturer:           req.Manufacturer,
			ManufacturerPartNumber: req.ManufacturerPartNumber,
			Quantity:               it.RequestedQty,
			Unit:                   req.Unit,
			Plant:                  req.Plant,
			City:                   req.City,
			State:                  req.State,
		}
		if r, ok := byRequisition[it.RequisitionID]; ok {
			pi.Response = &r
			total = total.Add(r.UnitPrice.Mul(it.RequestedQty))
			answered = true
		}
		view.Items = append(view.Items, pi)
	}
	if answered {
		total = total.Round(2)
		view.Total = &total
	}
	return view, nil
}

// SubmitResponse stores a supplier answer. Every item of the link category must
// be priced exactly once. The link is locked for the duration of the
// transaction, so concurrent submissions of the same link store one answer.
func (s *Service) SubmitResponse(ctx context.Context, token string, in SubmitInput) (SubmitResult, error) {
	link, err := s.resolve(ctx, token)
	if err != nil {
		return SubmitResult{}, err
	}
	if len(in.Lines) == 0 {
		return SubmitResult{}, shared.NewValidationError(shared.FieldErrors{"lines": "at least one priced item is required"})
	}

	now := s.now().UTC()
	var res SubmitResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockLink(ctx, link.ID)
		if err != nil {
			return err
		}
		if locked.TokenHash != link.TokenHash {
			return ErrInvalidLink
		}
		if locked.ResponseStatus != ResponsePending {
			return ErrAlreadyResponded
		}
		q, err := tx.LockQuotation(ctx, locked.QuotationID)
		if err != nil {
			return err
		}
		if !q.Open(now) {
			return ErrClosed
		}
		if in.IdempotencyKey != "" {
			if err := tx.ClaimKey(ctx, in.IdempotencyKey, now); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					return fmt.Errorf("%v: %w", err, shared.ErrConflict)
				}
				return err
			}
		}
		all, err := tx.Items(ctx, q.ID)
		if err != nil {
			return err
		}
		items := scopeItems(all, locked.CategoryCode)
		if err := checkLines(items, in.Lines); err != nil {
			return err
		}
		byID := make(map[uuid.UUID]Item, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		for _, l := range in.Lines {
			r := Response{
				ID:            uuid.New(),
				LinkID:        locked.ID,
				RequisitionID: byID[l.ItemID].RequisitionID,
				UnitPrice:     *l.UnitPrice,
				LeadTimeDays:  *l.LeadTimeDays,
				AvailableQty:  l.AvailableQty,
				Notes:         strings.TrimSpace(l.Notes),
				SubmittedAt:   now,
			}
			if err := tx.InsertResponse(ctx, r); err != nil {
				return err
			}
		}
		if err := tx.MarkResponded(ctx, locked.ID, now); err != nil {
			return err
		}
		res = SubmitResult{Lines: len(in.Lines), Total: PortalTotal(items, in.Lines), RespondedAt: now}
		return nil
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit response: %w", err)
	}
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveResponse()
	}
	s.recordAudit(ctx, "QUOTATION_RESPONSE", link.QuotationID, map[string]any{
		"link_id": link.ID.String(), "supplier": link.Supplier.LegalName, "total": res.Total.String(),
	})
	return res, nil
}

// checkLines requires one valid line per item and nothing else.
func checkLines(items []Item, lines []LineInput) error {
	want := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		want[it.ID] = true
	}
	fields := shared.FieldErrors{}
	seen := make(map[uuid.UUID]bool, len(lines))
	for i, l := range lines {
		key := "lines[" + strconv.Itoa(i) + "]"
		switch {
		case !want[l.ItemID]:
			fields[key+".item_id"] = "is not part of this quotation"
		case seen[l.ItemID]:
			fields[key+".item_id"] = "is priced twice"
		}
		seen[l.ItemID] = true
		if l.UnitPrice == nil {
			fields[key+".unit_price"] = "is required"
		} else if l.UnitPrice.IsNegative() {
			fields[key+".unit_price"] = "must be greater than or equal to 0"
		}
		if l.LeadTimeDays == nil {
			fields[key+".lead_time_days"] = "is required"
		} else if *l.LeadTimeDays < 0 {
			fields[key+".lead_time_days"] = "must be greater than or equal to 0"
		}
		if l.AvailableQty != nil && l.AvailableQty.IsNegative() {
			fields[key+".available_qty"] = "must be greater than or equal to 0"
		}
	}
	var missing int
	for id := range want {
		if !seen[id] {
			missing++
		}
	}
	if missing > 0 {
		fields["lines"] = fmt.Sprintf("%d item(s) without a price", missing)
	}
	if len(fields) > 0 {
		return shared.NewValidationError(fields)
	}
	return nil
}
