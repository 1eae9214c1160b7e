package requisitions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// ImportObserver receives import outcomes, typically a metrics sink.
type ImportObserver interface {
	ObserveImport(kind string, accepted, rejected int)
}

// Service orchestrates requisition flows.
type Service struct {
	repo     RepositoryPort
	observer ImportObserver
	now      func() time.Time
}

// NewService constructs requisition service. observer may be nil.
func NewService(repo RepositoryPort, observer ImportObserver) *Service {
	return &Service{repo: repo, observer: observer, now: time.Now}
}

// Create validates and stores a manually entered requisition.
func (s *Service) Create(ctx context.Context, in Input) (Requisition, error) {
	if err := in.Validate(); err != nil {
		return Requisition{}, err
	}
	req := in.build(uuid.New(), s.now().UTC())
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, req)
	})
	if err != nil {
		return Requisition{}, fmt.Errorf("create requisition: %w", err)
	}
	return req, nil
}

// Get returns a requisition by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Requisition, error) {
	return s.repo.Get(ctx, id)
}

// GetMany returns the requisitions that exist among ids.
func (s *Service) GetMany(ctx context.Context, ids []uuid.UUID) ([]Requisition, error) {
	return s.repo.GetMany(ctx, ids)
}

// List returns a page of requisitions, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Requisition, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if items == nil {
		items = []Requisition{}
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Preview is the parsed content of uploaded RC files, before anything is stored.
type Preview struct {
	Parsed
	Groups []Group `json:"groups"`
}

// Preview parses uploads and groups valid rows by category.
func (s *Service) Preview(ctx context.Context, files []spreadsheet.File) (Preview, error) {
	parsed, err := s.Parse(ctx, files)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Parsed: parsed, Groups: GroupByCategory(parsed.Rows)}, nil
}

// Parse reads every upload and maps its rows.
func (s *Service) Parse(ctx context.Context, files []spreadsheet.File) (Parsed, error) {
	if len(files) == 0 {
		return Parsed{}, shared.NewValidationError(shared.FieldErrors{"files": "at least one file is required"})
	}
	sheets, err := spreadsheet.ParseAll(ctx, files)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	parsed := ParseSheets(sheets)
	if s.observer != nil {
		s.observer.ObserveImport("requisitions", len(parsed.Rows), len(parsed.Rejected))
	}
	return parsed, nil
}

// Import parses uploads and stores every valid row in one transaction.
func (s *Service) Import(ctx context.Context, files []spreadsheet.File) (ImportReport, error) {
	parsed, err := s.Parse(ctx, files)
	if err != nil {
		return ImportReport{}, err
	}
	report := ImportReport{Rejected: parsed.Rejected, Requisitions: []Requisition{}}
	if len(parsed.Rows) == 0 {
		return report, nil
	}
	reqs := Build(parsed.Rows, s.now().UTC())
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, r := range reqs {
			if err := tx.Insert(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ImportReport{}, fmt.Errorf("import requisitions: %w", err)
	}
	report.Accepted = len(reqs)
	report.Requisitions = reqs
	return report, nil
}
