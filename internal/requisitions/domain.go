package requisitions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cota-system/cota/internal/platform/validate"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// ErrNotFound indicates the requisition does not exist.
var ErrNotFound = shared.ErrNotFound

// Requisition is one line of a purchase requisition (RC).
type Requisition struct {
	ID                     uuid.UUID         `json:"id"`
	Number                 string            `json:"number"`
	ItemNumber             string            `json:"item_number"`
	MaterialCode           string            `json:"material_code"`
	Description            string            `json:"description"`
	Manufacturer           string            `json:"manufacturer"`
	ManufacturerPartNumber string            `json:"manufacturer_part_number"`
	CategoryCode           string            `json:"category_code"`
	Family                 string            `json:"family"`
	BuyerGroup             string            `json:"buyer_group"`
	Quantity               decimal.Decimal   `json:"quantity"`
	Unit                   string            `json:"unit"`
	ReferencePrice         *decimal.Decimal  `json:"reference_price,omitempty"`
	PriceUnit              *decimal.Decimal  `json:"price_unit,omitempty"`
	Plant                  string            `json:"plant"`
	Address                string            `json:"address"`
	PostalCode             string            `json:"postal_code"`
	City                   string            `json:"city"`
	State                  string            `json:"state"`
	Extra                  map[string]string `json:"extra,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// UnitReference returns the reference price of a single unit, dividing by the
// price unit when the requisition quotes per N units.
func (r Requisition) UnitReference() (decimal.Decimal, bool) {
	if r.ReferencePrice == nil {
		return decimal.Zero, false
	}
	if r.PriceUnit == nil || r.PriceUnit.IsZero() {
		return *r.ReferencePrice, true
	}
	return r.ReferencePrice.Div(*r.PriceUnit), true
}

// Input carries the fields accepted from manual entry and spreadsheet rows.
type Input struct {
	Number                 string            `json:"number" validate:"required"`
	ItemNumber             string            `json:"item_number"`
	MaterialCode           string            `json:"material_code" validate:"required"`
	Description            string            `json:"description" validate:"required"`
	Manufacturer           string            `json:"manufacturer" validate:"required"`
	ManufacturerPartNumber string            `json:"manufacturer_part_number"`
	CategoryCode           string            `json:"category_code" validate:"required"`
	Family                 string            `json:"family" validate:"required"`
	BuyerGroup             string            `json:"buyer_group"`
	Quantity               decimal.Decimal   `json:"quantity"`
	Unit                   string            `json:"unit" validate:"required"`
	ReferencePrice         *decimal.Decimal  `json:"reference_price,omitempty"`
	PriceUnit              *decimal.Decimal  `json:"price_unit,omitempty"`
	Plant                  string            `json:"plant"`
	Address                string            `json:"address"`
	PostalCode             string            `json:"postal_code"`
	City                   string            `json:"city"`
	State                  string            `json:"state" validate:"omitempty,uf"`
	Extra                  map[string]string `json:"extra,omitempty"`
}

// Validate checks required fields and numeric ranges.
func (in Input) Validate() error {
	fields := validate.Collect(in)
	if !in.Quantity.IsPositive() {
		fields["quantity"] = "must be greater than 0"
	}
	if in.ReferencePrice != nil && in.ReferencePrice.IsNegative() {
		fields["reference_price"] = "must be greater than or equal to 0"
	}
	if in.PriceUnit != nil && !in.PriceUnit.IsPositive() {
		fields["price_unit"] = "must be greater than 0"
	}
	if len(fields) > 0 {
		return shared.NewValidationError(fields)
	}
	return nil
}

func (in Input) build(id uuid.UUID, now time.Time) Requisition {
	return Requisition{
		ID:                     id,
		Number:                 in.Number,
		ItemNumber:             in.ItemNumber,
		MaterialCode:           in.MaterialCode,
		Description:            in.Description,
		Manufacturer:           in.Manufacturer,
		ManufacturerPartNumber: in.ManufacturerPartNumber,
		CategoryCode:           in.CategoryCode,
		Family:                 in.Family,
		BuyerGroup:             in.BuyerGroup,
		Quantity:               in.Quantity,
		Unit:                   in.Unit,
		ReferencePrice:         in.ReferencePrice,
		PriceUnit:              in.PriceUnit,
		Plant:                  in.Plant,
		Address:                in.Address,
		PostalCode:             in.PostalCode,
		City:                   in.City,
		State:                  in.State,
		Extra:                  in.Extra,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// Build turns validated inputs into new requisitions sharing one timestamp.
func Build(inputs []Input, now time.Time) []Requisition {
	out := make([]Requisition, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, in.build(uuid.New(), now))
	}
	return out
}

// ListFilter narrows List results.
type ListFilter struct {
	Search  string
	Page    int
	PerPage int
}

// ImportReport summarises an import.
type ImportReport struct {
	Accepted     int                    `json:"accepted"`
	Rejected     []spreadsheet.RowError `json:"rejected"`
	Requisitions []Requisition          `json:"requisitions"`
}
