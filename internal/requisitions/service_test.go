package requisitions

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
)

type memoryRepo struct {
	items   map[uuid.UUID]Requisition
	failTx  error
	commits int
}

type memoryTx struct {
	pending []Requisition
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[uuid.UUID]Requisition{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if r.failTx != nil {
		return r.failTx
	}
	for _, req := range tx.pending {
		r.items[req.ID] = req
	}
	r.commits++
	return nil
}

func (t *memoryTx) Insert(ctx context.Context, req Requisition) error {
	t.pending = append(t.pending, req)
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Requisition, error) {
	req, ok := r.items[id]
	if !ok {
		return Requisition{}, ErrNotFound
	}
	return req, nil
}

func (r *memoryRepo) GetMany(ctx context.Context, ids []uuid.UUID) ([]Requisition, error) {
	var out []Requisition
	for _, id := range ids {
		if req, ok := r.items[id]; ok {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Requisition, int, error) {
	var all []Requisition
	term := strings.ToLower(filter.Search)
	for _, req := range r.items {
		if term == "" || strings.Contains(strings.ToLower(req.Description), term) || strings.Contains(strings.ToLower(req.Number), term) {
			all = append(all, req)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Number < all[j].Number })
	start := (filter.Page - 1) * filter.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

type countingObserver struct {
	accepted, rejected int
}

func (o *countingObserver) ObserveImport(kind string, accepted, rejected int) {
	o.accepted += accepted
	o.rejected += rejected
}

func validInput() Input {
	return Input{
		Number:       "4500123",
		ItemNumber:   "10",
		MaterialCode: "100200",
		Description:  "Rolamento",
		Manufacturer: "SKF",
		CategoryCode: "MRO01",
		Family:       "Rolamentos",
		Quantity:     decimal.NewFromInt(2),
		Unit:         "UN",
	}
}

func TestServiceCreate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	req, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, req.ID)
	require.Equal(t, svc.now(), req.CreatedAt)

	got, err := svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, "Rolamento", got.Description)
}

func TestServiceCreateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	in := validInput()
	in.Description = ""
	in.Quantity = decimal.Zero
	unit := decimal.Zero
	in.PriceUnit = &unit

	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "description")
	require.Contains(t, err.Error(), "quantity")
	require.Contains(t, err.Error(), "price_unit")
}

func TestServiceListPaginates(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	for i := 0; i < 5; i++ {
		in := validInput()
		in.Number = "RC" + string(rune('A'+i))
		_, err := svc.Create(context.Background(), in)
		require.NoError(t, err)
	}

	items, page, err := svc.List(context.Background(), ListFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "RCC", items[0].Number)
	require.Equal(t, shared.Pagination{Page: 2, PerPage: 2, Total: 5, TotalPages: 3}, page)

	items, _, err = svc.List(context.Background(), ListFilter{Search: "rce"})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func rcWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"NUM_REC", "NUM_ITEM_RC", "COD\nMATERIAL", "DESC_MATERIAL", "FABRICANTE", "GRUPO MERCADORIA", "QUANTID", "UND_MED", "PRECO_REQ", "FAMILIA"},
		{"4500123", "10", "100200", "Rolamento", "SKF", "MRO01", "2", "UN", "10,50", "Rolamentos"},
		{"4500123", "20", "100300", "Correia", "Gates", "MRO02", "1", "UN", "", "Transmissão"},
		{"4500124", "10", "100400", "", "Gates", "MRO02", "1", "UN", "", "Transmissão"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestServiceImport(t *testing.T) {
	repo := newMemoryRepo()
	obs := &countingObserver{}
	svc := NewService(repo, obs)

	report, err := svc.Import(context.Background(), []spreadsheet.File{{Name: "rc.xlsx", Data: rcWorkbook(t)}})
	require.NoError(t, err)
	require.Equal(t, 2, report.Accepted)
	require.Len(t, report.Rejected, 1)
	require.Equal(t, 4, report.Rejected[0].Row)
	require.Len(t, repo.items, 2)
	require.Equal(t, 1, repo.commits)
	require.Equal(t, 2, obs.accepted)
	require.Equal(t, 1, obs.rejected)
}

func TestServiceImportRollsBackOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.failTx = context.DeadlineExceeded
	svc := NewService(repo, nil)

	_, err := svc.Import(context.Background(), []spreadsheet.File{{Name: "rc.xlsx", Data: rcWorkbook(t)}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, repo.items)
}

func TestServicePreviewGroups(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	preview, err := svc.Preview(context.Background(), []spreadsheet.File{{Name: "rc.xlsx", Data: rcWorkbook(t)}})
	require.NoError(t, err)
	require.Len(t, preview.Rows, 2)
	require.Len(t, preview.Groups, 2)
	require.Equal(t, "MRO01", preview.Groups[0].Key)

	_, err = svc.Preview(context.Background(), nil)
	require.ErrorIs(t, err, shared.ErrValidation)
}
