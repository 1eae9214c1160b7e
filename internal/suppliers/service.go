package suppliers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// ImportObserver receives import outcomes, typically a metrics sink.
type ImportObserver interface {
	ObserveImport(kind string, accepted, rejected int)
}

// localTTL bounds how long a process trusts its in-memory catalog copy
// without hearing a bump.
const localTTL = 30 * time.Second

type snapshot struct {
	suppliers []Supplier
	loadedAt  time.Time
}

// Service orchestrates supplier flows and serves the matching catalog.
type Service struct {
	repo     RepositoryPort
	cache    *Cache
	observer ImportObserver
	logger   *slog.Logger
	now      func() time.Time

	loads singleflight.Group
	mu    sync.RWMutex
	local *snapshot
}

// NewService constructs supplier service. cache and observer may be nil.
func NewService(repo RepositoryPort, cache *Cache, observer ImportObserver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, observer: observer, logger: logger, now: time.Now}
}

// Create validates and stores a supplier.
func (s *Service) Create(ctx context.Context, in Input) (Supplier, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Supplier{}, err
	}
	now := s.now().UTC()
	sup := Supplier{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	in.apply(&sup)
	if err := s.write(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, sup)
	}); err != nil {
		return Supplier{}, err
	}
	return sup, nil
}

// Update replaces the writable fields of a supplier.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (Supplier, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Supplier{}, err
	}
	sup, err := s.repo.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	in.apply(&sup)
	sup.UpdatedAt = s.now().UTC()
	if err := s.write(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, sup)
	}); err != nil {
		return Supplier{}, err
	}
	return sup, nil
}

// Delete removes a supplier that has no invitations.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id)
	})
}

// Get returns a supplier by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Supplier, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of suppliers ordered by legal name.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Supplier, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if items == nil {
		items = []Supplier{}
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Import upserts every valid row of the uploads in one transaction.
func (s *Service) Import(ctx context.Context, files []spreadsheet.File) (ImportReport, error) {
	if len(files) == 0 {
		return ImportReport{}, shared.NewValidationError(shared.FieldErrors{"files": "at least one file is required"})
	}
	sheets, err := spreadsheet.ParseAll(ctx, files)
	if err != nil {
		return ImportReport{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	rows, rejected := parseImport(sheets)
	if s.observer != nil {
		s.observer.ObserveImport("suppliers", len(rows), len(rejected))
	}
	report := ImportReport{Rejected: rejected}
	if len(rows) == 0 {
		return report, nil
	}
	now := s.now().UTC()
	err = s.write(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, row := range rows {
			sup := Supplier{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
			row.input.apply(&sup)
			if err := tx.Upsert(ctx, sup); err != nil {
				return fmt.Errorf("%s row %d: %w", row.file, row.row, err)
			}
		}
		return nil
	})
	if err != nil {
		return ImportReport{}, fmt.Errorf("import suppliers: %w", err)
	}
	report.Imported = len(rows)
	return report, nil
}

// MatchByCategories returns, for each requested category code, the suppliers
// registered for it. Inactive suppliers are left out and every requested code
// is present in the result, possibly with no suppliers.
func (s *Service) MatchByCategories(ctx context.Context, codes []string) (map[string][]Supplier, error) {
	out := make(map[string][]Supplier, len(codes))
	for _, c := range codes {
		out[c] = []Supplier{}
	}
	if len(codes) == 0 {
		return out, nil
	}
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	for _, sup := range catalog {
		if sup.Status == StatusInactive {
			continue
		}
		if list, ok := out[sup.CategoryCode]; ok {
			out[sup.CategoryCode] = append(list, sup)
		}
	}
	return out, nil
}

// Catalog returns every supplier, served from process memory, then Redis,
// then the database. Concurrent misses share one load.
func (s *Service) Catalog(ctx context.Context) ([]Supplier, error) {
	s.mu.RLock()
	snap := s.local
	s.mu.RUnlock()
	if snap != nil && s.now().Sub(snap.loadedAt) < localTTL {
		return snap.suppliers, nil
	}
	v, err, _ := s.loads.Do("catalog", func() (any, error) {
		list, err := s.cache.Catalog(ctx, s.repo.ListAll)
		if err != nil {
			s.logger.Warn("supplier catalog cache unavailable", slog.Any("error", err))
			list, err = s.repo.ListAll(ctx)
			if err != nil {
				return nil, err
			}
		}
		s.mu.Lock()
		s.local = &snapshot{suppliers: list, loadedAt: s.now()}
		s.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load supplier catalog: %w", err)
	}
	return v.([]Supplier), nil
}

// Invalidate drops the in-process catalog copy.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.local = nil
	s.mu.Unlock()
}

// RefreshCatalog bumps the shared catalog version and drops the local copy.
func (s *Service) RefreshCatalog(ctx context.Context) error {
	s.Invalidate()
	return s.cache.Bump(ctx)
}

// ListenForChanges drops the local catalog whenever another process bumps it.
func (s *Service) ListenForChanges(ctx context.Context) error {
	return s.cache.ListenForInvalidation(ctx, func(version int64) {
		s.logger.Debug("supplier catalog bumped", slog.Int64("version", version))
		s.Invalidate()
	})
}

func (s *Service) write(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if err := s.repo.WithTx(ctx, fn); err != nil {
		return err
	}
	if err := s.RefreshCatalog(ctx); err != nil {
		s.logger.Warn("bump supplier catalog", slog.Any("error", err))
	}
	return nil
}
