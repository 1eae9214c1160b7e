package quotations

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
	"github.com/cota-system/cota/internal/suppliers"
)

// DefaultTitle names dispatched quotations without a title.
const DefaultTitle = "Cotação para múltiplos grupos de mercadoria"

// PlanGroup is one category of a new quotation with the suppliers able to price it.
type PlanGroup struct {
	CategoryCode string               `json:"category_code"`
	Family       string               `json:"family"`
	ItemCount    int                  `json:"item_count"`
	Numbers      []string             `json:"rc_numbers"`
	Suppliers    []suppliers.Supplier `json:"suppliers"`
	Selected     []uuid.UUID          `json:"selected"`
}

// Plan previews a new quotation built from uploaded rows.
type Plan struct {
	Rows     []requisitions.Input   `json:"rows"`
	Rejected []spreadsheet.RowError `json:"rejected"`
	Groups   []PlanGroup            `json:"groups"`
}

// Plan groups parsed rows by category and attaches the matching suppliers,
// all of them selected.
func (s *Service) Plan(ctx context.Context, parsed requisitions.Parsed) (Plan, error) {
	groups := requisitions.GroupByCategory(parsed.Rows)
	codes := make([]string, 0, len(groups))
	for _, g := range groups {
		codes = append(codes, g.Key)
	}
	matched, err := s.deps.Suppliers.MatchByCategories(ctx, codes)
	if err != nil {
		return Plan{}, fmt.Errorf("plan quotation: %w", err)
	}

	plan := Plan{Rows: parsed.Rows, Rejected: parsed.Rejected, Groups: make([]PlanGroup, 0, len(groups))}
	if plan.Rows == nil {
		plan.Rows = []requisitions.Input{}
	}
	if plan.Rejected == nil {
		plan.Rejected = []spreadsheet.RowError{}
	}
	for _, g := range groups {
		pg := PlanGroup{
			CategoryCode: g.Key,
			Family:       g.Family,
			ItemCount:    len(g.Rows),
			Numbers:      numbers(g.Rows),
			Suppliers:    matched[g.Key],
			Selected:     make([]uuid.UUID, 0, len(matched[g.Key])),
		}
		if pg.Suppliers == nil {
			pg.Suppliers = []suppliers.Supplier{}
		}
		for _, sup := range pg.Suppliers {
			pg.Selected = append(pg.Selected, sup.ID)
		}
		plan.Groups = append(plan.Groups, pg)
	}
	return plan, nil
}

// DispatchInput is the confirmed new quotation: the rows to store and the
// suppliers to invite.
type DispatchInput struct {
	Title       string               `json:"title"`
	Requester   string               `json:"requester"`
	Notes       string               `json:"notes"`
	Rows        []requisitions.Input `json:"rows"`
	SupplierIDs []uuid.UUID          `json:"supplier_ids"`
}

// DispatchResult reports a dispatched quotation.
type DispatchResult struct {
	Quotation Quotation `json:"quotation"`
	Items     int       `json:"items"`
	Invitees  []Invitee `json:"invitees"`
	Queued    int       `json:"queued"`
}

// Dispatch stores the rows as requisitions, opens a quotation over them and
// links every selected supplier, all in one transaction. Invitation emails are
// queued after commit.
func (s *Service) Dispatch(ctx context.Context, in DispatchInput) (DispatchResult, error) {
	if len(in.Rows) == 0 {
		return DispatchResult{}, shared.NewValidationError(shared.FieldErrors{"rows": "at least one requisition row is required"})
	}
	if len(in.SupplierIDs) == 0 {
		return DispatchResult{}, shared.NewValidationError(shared.FieldErrors{"supplier_ids": ErrNoSuppliers.Error()})
	}
	fields := shared.FieldErrors{}
	for i, row := range in.Rows {
		if err := row.Validate(); err != nil {
			fields["rows["+strconv.Itoa(i)+"]"] = shared.Describe(err)
		}
	}
	if len(fields) > 0 {
		return DispatchResult{}, shared.NewValidationError(fields)
	}

	selected, err := s.selectSuppliers(ctx, in.Rows, in.SupplierIDs)
	if err != nil {
		return DispatchResult{}, err
	}

	now := s.now().UTC()
	reqs := requisitions.Build(in.Rows, now)
	q := Quotation{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(in.Title),
		Description: describe(numbers(in.Rows)),
		Requester:   strings.TrimSpace(in.Requester),
		Status:      StatusOpen,
		Notes:       in.Notes,
		Deadline:    now.Add(s.cfg.TTL),
		SentAt:      &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.Number = generateNumber(q.ID, now)
	if q.Title == "" {
		q.Title = DefaultTitle
	}
	items := newItems(q.ID, reqs)

	var issues []issued
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, r := range reqs {
			if err := tx.InsertRequisition(ctx, r); err != nil {
				return err
			}
		}
		if err := tx.InsertQuotation(ctx, q); err != nil {
			return err
		}
		for _, it := range items {
			if err := tx.InsertItem(ctx, it); err != nil {
				return err
			}
		}
		for _, sup := range selected {
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
		return DispatchResult{}, fmt.Errorf("dispatch quotation: %w", err)
	}
	s.recordAudit(ctx, "QUOTATION_DISPATCH", q.ID, map[string]any{
		"number": q.Number, "items": len(items), "suppliers": len(issues),
	})

	res := DispatchResult{Quotation: q, Items: len(items), Invitees: s.invite(ctx, issues, true)}
	for _, inv := range res.Invitees {
		if inv.Queued {
			res.Queued++
		}
	}
	return res, nil
}

// selectSuppliers resolves ids against the suppliers matching the categories
// of rows, in the order given. Ids that do not match any row category are rejected.
func (s *Service) selectSuppliers(ctx context.Context, rows []requisitions.Input, ids []uuid.UUID) ([]suppliers.Supplier, error) {
	groups := requisitions.GroupByCategory(rows)
	codes := make([]string, 0, len(groups))
	for _, g := range groups {
		codes = append(codes, g.Key)
	}
	matched, err := s.deps.Suppliers.MatchByCategories(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("match suppliers: %w", err)
	}
	byID := make(map[uuid.UUID]suppliers.Supplier)
	for _, list := range matched {
		for _, sup := range list {
			byID[sup.ID] = sup
		}
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]suppliers.Supplier, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		sup, ok := byID[id]
		if !ok {
			unknown = append(unknown, id.String())
			continue
		}
		out = append(out, sup)
	}
	if len(unknown) > 0 {
		return nil, shared.NewValidationError(shared.FieldErrors{
			"supplier_ids": "not active for the requisition categories: " + strings.Join(unknown, ", "),
		})
	}
	return out, nil
}

func numbers(rows []requisitions.Input) []string {
	groups := requisitions.GroupByNumber(rows)
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Key)
	}
	return out
}
