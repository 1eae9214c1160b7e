package quotations

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Offer is one supplier's price for one item.
type Offer struct {
	LinkID       uuid.UUID       `json:"link_id"`
	SupplierID   uuid.UUID       `json:"supplier_id"`
	SupplierName string          `json:"supplier_name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
	LeadTimeDays int             `json:"lead_time_days"`
	Notes        string          `json:"notes"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	Best         bool            `json:"best"`
}

// ItemComparison lines up every offer received for one item.
type ItemComparison struct {
	ItemID         uuid.UUID        `json:"item_id"`
	RequisitionID  uuid.UUID        `json:"requisition_id"`
	Number         string           `json:"number"`
	ItemNumber     string           `json:"item_number"`
	MaterialCode   string           `json:"material_code"`
	Description    string           `json:"description"`
	CategoryCode   string           `json:"category_code"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Unit           string           `json:"unit"`
	ReferenceTotal *decimal.Decimal `json:"reference_total,omitempty"`
	Offers         []Offer          `json:"offers"`
	Best           *Offer           `json:"best,omitempty"`
	Savings        *decimal.Decimal `json:"savings,omitempty"`
}

// Comparison is the price map of a quotation.
type Comparison struct {
	QuotationID    uuid.UUID        `json:"quotation_id"`
	Items          []ItemComparison `json:"items"`
	Invited        int              `json:"invited"`
	Responded      int              `json:"responded"`
	BestTotal      decimal.Decimal  `json:"best_total"`
	ReferenceTotal decimal.Decimal  `json:"reference_total"`
	Savings        decimal.Decimal  `json:"savings"`
	SavingsPercent decimal.Decimal  `json:"savings_percent"`
}

// Compare builds the price map of d. Offers of an item are ordered by unit
// price, then lead time, then submission time; the first one is the best.
// Savings only count items that have both a best offer and a reference price.
func Compare(d Detail) Comparison {
	links := make(map[uuid.UUID]SupplierLink, len(d.Links))
	out := Comparison{QuotationID: d.ID, Items: make([]ItemComparison, 0, len(d.Items))}
	for _, l := range d.Links {
		links[l.ID] = l
		out.Invited++
		if l.ResponseStatus == ResponseResponded {
			out.Responded++
		}
	}

	byRequisition := make(map[uuid.UUID][]Response)
	for _, r := range d.Responses {
		byRequisition[r.RequisitionID] = append(byRequisition[r.RequisitionID], r)
	}

	var savedBase decimal.Decimal
	for _, item := range d.Items {
		req := item.Requisition
		ic := ItemComparison{
			ItemID:        item.ID,
			RequisitionID: item.RequisitionID,
			Number:        req.Number,
			ItemNumber:    req.ItemNumber,
			MaterialCode:  req.MaterialCode,
			Description:   req.Description,
			CategoryCode:  req.CategoryCode,
			Quantity:      item.RequestedQty,
			Unit:          req.Unit,
			Offers:        []Offer{},
		}
		if unit, ok := req.UnitReference(); ok {
			total := unit.Mul(item.RequestedQty).Round(2)
			ic.ReferenceTotal = &total
		}
		for _, r := range byRequisition[item.RequisitionID] {
			link := links[r.LinkID]
			ic.Offers = append(ic.Offers, Offer{
				LinkID:       r.LinkID,
				SupplierID:   link.SupplierID,
				SupplierName: link.Supplier.LegalName,
				UnitPrice:    r.UnitPrice,
				LineTotal:    r.UnitPrice.Mul(item.RequestedQty).Round(2),
				LeadTimeDays: r.LeadTimeDays,
				Notes:        r.Notes,
				SubmittedAt:  r.SubmittedAt,
			})
		}
		sort.SliceStable(ic.Offers, func(i, j int) bool {
			a, b := ic.Offers[i], ic.Offers[j]
			if c := a.UnitPrice.Cmp(b.UnitPrice); c != 0 {
				return c < 0
			}
			if a.LeadTimeDays != b.LeadTimeDays {
				return a.LeadTimeDays < b.LeadTimeDays
			}
			return a.SubmittedAt.Before(b.SubmittedAt)
		})
		if len(ic.Offers) > 0 {
			ic.Offers[0].Best = true
			best := ic.Offers[0]
			ic.Best = &best
			out.BestTotal = out.BestTotal.Add(best.LineTotal)
			if ic.ReferenceTotal != nil {
				saving := ic.ReferenceTotal.Sub(best.LineTotal)
				ic.Savings = &saving
				out.Savings = out.Savings.Add(saving)
				savedBase = savedBase.Add(*ic.ReferenceTotal)
			}
		}
		if ic.ReferenceTotal != nil {
			out.ReferenceTotal = out.ReferenceTotal.Add(*ic.ReferenceTotal)
		}
		out.Items = append(out.Items, ic)
	}
	if savedBase.IsPositive() {
		out.SavingsPercent = out.Savings.Div(savedBase).Mul(hundred).Round(2)
	}
	return out
}

// PortalTotal is the amount a supplier quotes: the sum of unit price times
// requested quantity over the priced items.
func PortalTotal(items []Item, lines []LineInput) decimal.Decimal {
	qty := make(map[uuid.UUID]decimal.Decimal, len(items))
	for _, it := range items {
		qty[it.ID] = it.RequestedQty
	}
	total := decimal.Zero
	for _, l := range lines {
		if l.UnitPrice == nil {
			continue
		}
		if q, ok := qty[l.ItemID]; ok {
			total = total.Add(l.UnitPrice.Mul(q))
		}
	}
	return total.Round(2)
}
