package suppliers

import (
	"fmt"
	"strings"

	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// Import headers after spreadsheet.NormalizeHeader, so accented and spaced
// variants (RAZÃO SOCIAL, COD SAP) collapse onto these keys.
var importColumns = map[string]func(*Input, string){
	"RAZAO_SOCIAL":         func(in *Input, v string) { in.LegalName = v },
	"CNPJ":                 func(in *Input, v string) { in.CNPJ = zeroPad(v, 14) },
	"EMAIL":                func(in *Input, v string) { in.Email = v },
	"E-MAIL":               func(in *Input, v string) { in.Email = v },
	"TELEFONE":             func(in *Input, v string) { in.Phone = v },
	"ENDERECO":             func(in *Input, v string) { in.Address = v },
	"CIDADE":               func(in *Input, v string) { in.City = v },
	"UF":                   func(in *Input, v string) { in.State = v },
	"CEP":                  func(in *Input, v string) { in.PostalCode = zeroPad(v, 8) },
	"COD_SAP":              func(in *Input, v string) { in.SAPCode = v },
	"CODIGO_SAP":           func(in *Input, v string) { in.SAPCode = v },
	"COD_GRUPO_MERCADORIA": func(in *Input, v string) { in.CategoryCode = v },
	"GRUPO_MERCADORIA":     func(in *Input, v string) { in.CategoryName = v },
	"FAMILIA":              func(in *Input, v string) { in.Family = v },
}

// MapRow converts a spreadsheet row into a normalised Input.
func MapRow(row spreadsheet.Row) Input {
	var in Input
	for key, v := range row.Values {
		if set, ok := importColumns[key]; ok {
			set(&in, v)
		}
	}
	return in.Normalize()
}

// zeroPad restores leading zeros lost when a CNPJ or CEP was typed into a
// numeric cell. Masked or non-numeric values are returned unchanged.
func zeroPad(v string, width int) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) >= width || strings.Trim(v, "0123456789") != "" {
		return v
	}
	return strings.Repeat("0", width-len(v)) + v
}

type importRow struct {
	file  string
	row   int
	input Input
}

// parseImport maps and validates every row. A row repeating the CNPJ and
// category of an earlier row is rejected.
func parseImport(sheets []*spreadsheet.Sheet) ([]importRow, []spreadsheet.RowError) {
	accepted := []importRow{}
	rejected := []spreadsheet.RowError{}
	seen := map[string]importRow{}
	for _, sheet := range sheets {
		for _, row := range sheet.Rows {
			in := MapRow(row)
			if err := in.Validate(); err != nil {
				rejected = append(rejected, spreadsheet.RowError{File: sheet.File, Row: row.Number, Reason: shared.Describe(err)})
				continue
			}
			key := in.CNPJ + "|" + in.CategoryCode
			if prev, dup := seen[key]; dup {
				rejected = append(rejected, spreadsheet.RowError{
					File: sheet.File, Row: row.Number,
					Reason: fmt.Sprintf("duplicates %s row %d", prev.file, prev.row),
				})
				continue
			}
			r := importRow{file: sheet.File, row: row.Number, input: in}
			seen[key] = r
			accepted = append(accepted, r)
		}
	}
	return accepted, rejected
}
