package quotations

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cota-system/cota/internal/platform/locale"
	"github.com/cota-system/cota/internal/view"
)

// ErrExportUnavailable is returned when PDF rendering is not configured.
var ErrExportUnavailable = errors.New("pdf export not configured")

// TemplateRenderer renders named HTML templates.
type TemplateRenderer interface {
	RenderString(name string, data any) (string, error)
}

// PDFRenderer converts HTML into PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.Comma = ';'
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	_, err := s.buf.WriteString("# " + strings.TrimRight(line, "\r\n") + "\r\n")
	return err
}

func (s *csvStreamer) writeRow(row ...string) error {
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

// ExportCSV streams the price map of a quotation, one row per offer.
func (s *Service) ExportCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	d, err := s.repo.Detail(ctx, id)
	if err != nil {
		return err
	}
	return WriteComparisonCSV(w, d.Quotation, Compare(d))
}

// WriteComparisonCSV writes c as semicolon separated values. Items without
// offers get one row with empty supplier columns.
func WriteComparisonCSV(w io.Writer, q Quotation, c Comparison) error {
	st := newCSVStreamer(w)
	if err := st.writeComment(fmt.Sprintf("Cotação %s - %s", q.Number, q.Title)); err != nil {
		return err
	}
	if err := st.writeComment(fmt.Sprintf("Prazo %s; respostas %d/%d", locale.Date(q.Deadline), c.Responded, c.Invited)); err != nil {
		return err
	}
	if err := st.writeRow("RC", "Item", "Material", "Descricao", "Quantidade", "Unidade", "Fornecedor",
		"Preco unitario", "Total", "Prazo (dias)", "Melhor", "Total referencia", "Observacoes"); err != nil {
		return err
	}
	for _, item := range c.Items {
		base := []string{item.Number, item.ItemNumber, item.MaterialCode, item.Description, item.Quantity.String(), item.Unit}
		ref := optional(item.ReferenceTotal)
		if len(item.Offers) == 0 {
			if err := st.writeRow(append(base, "", "", "", "", "", ref, "")...); err != nil {
				return err
			}
			continue
		}
		for _, o := range item.Offers {
			best := ""
			if o.Best {
				best = "X"
			}
			row := append(append([]string{}, base...), o.SupplierName, o.UnitPrice.StringFixed(2), o.LineTotal.StringFixed(2),
				strconv.Itoa(o.LeadTimeDays), best, ref, o.Notes)
			if err := st.writeRow(row...); err != nil {
				return err
			}
		}
	}
	if err := st.writeRow(); err != nil {
		return err
	}
	if err := st.writeRow("Melhor total", c.BestTotal.StringFixed(2)); err != nil {
		return err
	}
	if err := st.writeRow("Total referencia", c.ReferenceTotal.StringFixed(2)); err != nil {
		return err
	}
	if err := st.writeRow("Economia", c.Savings.StringFixed(2), c.SavingsPercent.StringFixed(2)+"%"); err != nil {
		return err
	}
	return st.Flush()
}

func optional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

// ReportData feeds the comparison report template.
type ReportData struct {
	CompanyName string
	Quotation   Quotation
	Comparison  Comparison
	GeneratedAt time.Time
}

// ExportPDF renders the comparison report and converts it to PDF.
func (s *Service) ExportPDF(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if s.deps.Templates == nil || s.deps.PDF == nil {
		return nil, ErrExportUnavailable
	}
	d, err := s.repo.Detail(ctx, id)
	if err != nil {
		return nil, err
	}
	html, err := s.deps.Templates.RenderString(view.ComparisonReport, ReportData{
		CompanyName: s.cfg.Branding.CompanyName,
		Quotation:   d.Quotation,
		Comparison:  Compare(d),
		GeneratedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render comparison: %w", err)
	}
	pdf, err := s.deps.PDF.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("convert comparison: %w", err)
	}
	return pdf, nil
}
