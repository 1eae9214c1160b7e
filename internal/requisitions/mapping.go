package requisitions

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// Column headers of the RC export, after spreadsheet.NormalizeHeader.
const (
	ColNumber                 = "NUM_REC"
	ColItemNumber             = "NUM_ITEM_RC"
	ColBuyerGroup             = "GRUPO_COMPRADOR"
	ColMaterialCode           = "COD_MATERIAL"
	ColDescription            = "DESC_MATERIAL"
	ColManufacturer           = "FABRICANTE"
	ColManufacturerPartNumber = "NUMERO_PECA_FABRICANTE"
	ColCategory               = "GRUPO_MERCADORIA"
	ColQuantity               = "QUANTID"
	ColUnit                   = "UND_MED"
	ColReferencePrice         = "PRECO_REQ"
	ColPriceUnit              = "UND_PRECO"
	ColPlant                  = "CENTRO"
	ColAddress                = "ENDERECO"
	ColPostalCode             = "CEP"
	ColCity                   = "CIDADE"
	ColState                  = "UF"
	ColFamily                 = "FAMILIA"
)

type column struct {
	header string
	get    func(*Input) string
	set    func(*Input, string) error
}

func text(field func(*Input) *string) (func(*Input) string, func(*Input, string) error) {
	return func(in *Input) string { return *field(in) },
		func(in *Input, v string) error { *field(in) = v; return nil }
}

func textColumn(header string, field func(*Input) *string) column {
	get, set := text(field)
	return column{header: header, get: get, set: set}
}

func optionalNumber(header string, field func(*Input) **decimal.Decimal) column {
	return column{
		header: header,
		get: func(in *Input) string {
			if d := *field(in); d != nil {
				return d.String()
			}
			return ""
		},
		set: func(in *Input, v string) error {
			if v == "" {
				*field(in) = nil
				return nil
			}
			d, err := ParseNumber(v)
			if err != nil {
				return err
			}
			*field(in) = &d
			return nil
		},
	}
}

var columns = []column{
	textColumn(ColNumber, func(in *Input) *string { return &in.Number }),
	textColumn(ColItemNumber, func(in *Input) *string { return &in.ItemNumber }),
	textColumn(ColBuyerGroup, func(in *Input) *string { return &in.BuyerGroup }),
	textColumn(ColMaterialCode, func(in *Input) *string { return &in.MaterialCode }),
	textColumn(ColDescription, func(in *Input) *string { return &in.Description }),
	textColumn(ColManufacturer, func(in *Input) *string { return &in.Manufacturer }),
	textColumn(ColManufacturerPartNumber, func(in *Input) *string { return &in.ManufacturerPartNumber }),
	textColumn(ColCategory, func(in *Input) *string { return &in.CategoryCode }),
	{
		header: ColQuantity,
		get: func(in *Input) string {
			if in.Quantity.IsZero() {
				return ""
			}
			return in.Quantity.String()
		},
		set: func(in *Input, v string) error {
			if v == "" {
				in.Quantity = decimal.Zero
				return nil
			}
			d, err := ParseNumber(v)
			if err != nil {
				return err
			}
			in.Quantity = d
			return nil
		},
	},
	textColumn(ColUnit, func(in *Input) *string { return &in.Unit }),
	optionalNumber(ColReferencePrice, func(in *Input) **decimal.Decimal { return &in.ReferencePrice }),
	optionalNumber(ColPriceUnit, func(in *Input) **decimal.Decimal { return &in.PriceUnit }),
	textColumn(ColPlant, func(in *Input) *string { return &in.Plant }),
	textColumn(ColAddress, func(in *Input) *string { return &in.Address }),
	textColumn(ColPostalCode, func(in *Input) *string { return &in.PostalCode }),
	textColumn(ColCity, func(in *Input) *string { return &in.City }),
	{
		header: ColState,
		get:    func(in *Input) string { return in.State },
		set:    func(in *Input, v string) error { in.State = strings.ToUpper(v); return nil },
	},
	textColumn(ColFamily, func(in *Input) *string { return &in.Family }),
}

var knownColumns = func() map[string]column {
	m := make(map[string]column, len(columns))
	for _, c := range columns {
		m[c.header] = c
	}
	return m
}()

// ParseNumber reads spreadsheet numbers. Whitespace is dropped and a comma is
// the decimal separator when present, in which case dots group thousands.
func ParseNumber(raw string) (decimal.Decimal, error) {
	s := strings.Join(strings.Fields(raw), "")
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", raw)
	}
	return d, nil
}

// MapRecord maps header keyed values onto an Input. Every known header lands
// in its field, the rest are kept in Extra. The returned error lists the
// cells that could not be converted.
func MapRecord(values map[string]string) (Input, error) {
	var in Input
	bad := shared.FieldErrors{}
	for key, raw := range values {
		v := strings.TrimSpace(raw)
		col, ok := knownColumns[key]
		if !ok {
			if in.Extra == nil {
				in.Extra = map[string]string{}
			}
			in.Extra[key] = v
			continue
		}
		if err := col.set(&in, v); err != nil {
			bad[key] = err.Error()
		}
	}
	if len(bad) > 0 {
		return in, shared.NewValidationError(bad)
	}
	return in, nil
}

// Record renders an Input back into header keyed values. Mapping a record
// and rendering it again yields the same record.
func (in Input) Record() map[string]string {
	out := make(map[string]string, len(columns)+len(in.Extra))
	for _, c := range columns {
		out[c.header] = c.get(&in)
	}
	for k, v := range in.Extra {
		out[k] = v
	}
	return out
}

// Parsed holds the outcome of mapping spreadsheet rows.
type Parsed struct {
	Rows     []Input                `json:"rows"`
	Rejected []spreadsheet.RowError `json:"rejected"`
}

// ParseRows maps and validates rows of one file. Rows that fail either step
// are reported with their worksheet line instead of being coerced.
func ParseRows(file string, rows []spreadsheet.Row) Parsed {
	out := Parsed{Rows: []Input{}, Rejected: []spreadsheet.RowError{}}
	for _, row := range rows {
		in, err := MapRecord(row.Values)
		if err == nil {
			err = in.Validate()
		}
		if err != nil {
			out.Rejected = append(out.Rejected, spreadsheet.RowError{File: file, Row: row.Number, Reason: shared.Describe(err)})
			continue
		}
		out.Rows = append(out.Rows, in)
	}
	return out
}

// ParseSheets runs ParseRows over every sheet, preserving order.
func ParseSheets(sheets []*spreadsheet.Sheet) Parsed {
	out := Parsed{Rows: []Input{}, Rejected: []spreadsheet.RowError{}}
	for _, s := range sheets {
		p := ParseRows(s.File, s.Rows)
		out.Rows = append(out.Rows, p.Rows...)
		out.Rejected = append(out.Rejected, p.Rejected...)
	}
	return out
}
