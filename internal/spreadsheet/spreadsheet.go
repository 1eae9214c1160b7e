// Package spreadsheet reads the first worksheet of Excel uploads into header keyed rows.
package spreadsheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither .xlsx nor .xls.
	ErrUnsupportedFormat = errors.New("spreadsheet: unsupported file format")
	// ErrEmpty is returned when the first worksheet has no header row.
	ErrEmpty = errors.New("spreadsheet: worksheet is empty")
)

// File is an uploaded workbook.
type File struct {
	Name string
	Data []byte
}

// Row holds one data row keyed by normalised header. Number is the 1-based
// line in the worksheet, so the first data row is 2.
type Row struct {
	Number int
	Values map[string]string
}

// Get returns the trimmed cell value for a normalised header.
func (r Row) Get(key string) string {
	return strings.TrimSpace(r.Values[key])
}

// Sheet is the parsed first worksheet of a file.
type Sheet struct {
	File   string
	Header []string
	Rows   []Row
}

// Parse reads the first worksheet of an .xlsx or .xls file.
func Parse(f File) (*Sheet, error) {
	var (
		cells [][]string
		err   error
	)
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".xlsx", ".xlsm":
		cells, err = readXLSX(f.Data)
	case ".xls":
		cells, err = readXLS(f.Data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: read %s: %w", f.Name, err)
	}
	sheet, err := build(cells)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	sheet.File = f.Name
	return sheet, nil
}

// ParseAll parses files concurrently and returns sheets in input order.
func ParseAll(ctx context.Context, files []File) ([]*Sheet, error) {
	sheets := make([]*Sheet, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := Parse(f)
			if err != nil {
				return err
			}
			sheets[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sheets, nil
}

func build(cells [][]string) (*Sheet, error) {
	headerIdx := -1
	for i, row := range cells {
		if !blank(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrEmpty
	}
	header := make([]string, len(cells[headerIdx]))
	for i, h := range cells[headerIdx] {
		header[i] = NormalizeHeader(h)
	}
	sheet := &Sheet{Header: header}
	for i := headerIdx + 1; i < len(cells); i++ {
		row := cells[i]
		if blank(row) {
			continue
		}
		values := make(map[string]string, len(header))
		for c, key := range header {
			if key == "" {
				continue
			}
			if c < len(row) {
				values[key] = row[c]
			} else {
				values[key] = ""
			}
		}
		sheet.Rows = append(sheet.Rows, Row{Number: i + 1, Values: values})
	}
	return sheet, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	// raw values keep number formats such as #,##0.00 out of the cell text
	return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
}

func readXLS(data []byte) (cells [][]string, err error) {
	// the xls decoder panics on truncated or malformed workbooks
	defer func() {
		if r := recover(); r != nil {
			cells, err = nil, fmt.Errorf("corrupt xls workbook: %v", r)
		}
	}()
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, err
	}
	ws := wb.GetSheet(0)
	if ws == nil {
		return nil, ErrEmpty
	}
	out := make([][]string, 0, int(ws.MaxRow)+1)
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := xlsRow(ws, i)
		if row == nil {
			out = append(out, nil)
			continue
		}
		last := row.LastCol()
		if last <= 0 {
			// cells written without a ROW record leave the bounds unset
			last = xlsMaxCols
		}
		cols := make([]string, 0, last)
		for c := 0; c < last; c++ {
			cols = append(cols, row.Col(c))
		}
		out = append(out, trimTrailing(cols))
	}
	return out, nil
}

// xlsMaxCols is the BIFF8 column limit.
const xlsMaxCols = 256

func trimTrailing(cols []string) []string {
	n := len(cols)
	for n > 0 && cols[n-1] == "" {
		n--
	}
	return cols[:n]
}

// xlsRow returns nil for rows absent from the sheet; WorkSheet.Row
// dereferences the missing entry.
func xlsRow(ws *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return ws.Row(i)
}

// NormalizeHeader strips accents, joins whitespace runs (including line
// breaks) with underscores and upper-cases the result.
func NormalizeHeader(h string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(stripMarks, h)
	if err != nil {
		s = h
	}
	return strings.ToUpper(strings.Join(strings.Fields(s), "_"))
}

// RowError reports a row that was not imported.
type RowError struct {
	File   string `json:"file"`
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}
