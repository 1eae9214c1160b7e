package quotations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cota-system/cota/internal/access"
	"github.com/cota-system/cota/internal/mail"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/suppliers"
)

type memoryRepo struct {
	mu           sync.Mutex
	quotations   map[uuid.UUID]Quotation
	items        map[uuid.UUID]Item
	links        map[uuid.UUID]SupplierLink
	responses    []Response
	requisitions map[uuid.UUID]requisitions.Requisition
	keys         map[string]bool
	failLinks    error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		quotations:   map[uuid.UUID]Quotation{},
		items:        map[uuid.UUID]Item{},
		links:        map[uuid.UUID]SupplierLink{},
		requisitions: map[uuid.UUID]requisitions.Requisition{},
		keys:         map[string]bool{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	quotations, items, links := cloneMap(r.quotations), cloneMap(r.items), cloneMap(r.links)
	reqs, keys := cloneMap(r.requisitions), cloneMap(r.keys)
	responses := append([]Response(nil), r.responses...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.quotations, r.items, r.links = quotations, items, links
		r.requisitions, r.keys, r.responses = reqs, keys, responses
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotations[id]
	if !ok {
		return Quotation{}, ErrNotFound
	}
	return q, nil
}

func (r *memoryRepo) itemsOf(id uuid.UUID) []Item {
	var out []Item
	for _, it := range r.items {
		if it.QuotationID == id {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Requisition, out[j].Requisition
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.ItemNumber < b.ItemNumber
	})
	return out
}

func (r *memoryRepo) linksOf(id uuid.UUID) []SupplierLink {
	var out []SupplierLink
	for _, l := range r.links {
		if l.QuotationID == id {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Supplier.LegalName < out[j].Supplier.LegalName })
	return out
}

func (r *memoryRepo) detail(id uuid.UUID) (Detail, error) {
	q, ok := r.quotations[id]
	if !ok {
		return Detail{}, ErrNotFound
	}
	d := Detail{Quotation: q, Items: r.itemsOf(id), Links: r.linksOf(id)}
	for _, resp := range r.responses {
		if l, ok := r.links[resp.LinkID]; ok && l.QuotationID == id {
			d.Responses = append(d.Responses, resp)
		}
	}
	return d, nil
}

func (r *memoryRepo) Detail(ctx context.Context, id uuid.UUID) (Detail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detail(id)
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]ListRow, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []ListRow
	for _, q := range r.quotations {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		c := Counts{Items: len(r.itemsOf(q.ID))}
		for _, l := range r.linksOf(q.ID) {
			c.Invited++
			if l.ResponseStatus == ResponseResponded {
				c.Responded++
			}
		}
		rows = append(rows, ListRow{Quotation: q, Counts: c})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Quotation.CreatedAt.After(rows[j].Quotation.CreatedAt) })
	return rows, len(rows), nil
}

func (r *memoryRepo) GetLink(ctx context.Context, id uuid.UUID) (SupplierLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return SupplierLink{}, ErrNotFound
	}
	return l, nil
}

func (r *memoryRepo) Items(ctx context.Context, quotationID uuid.UUID) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.itemsOf(quotationID), nil
}

func (r *memoryRepo) LinkResponses(ctx context.Context, linkID uuid.UUID) ([]Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Response
	for _, resp := range r.responses {
		if resp.LinkID == linkID {
			out = append(out, resp)
		}
	}
	return out, nil
}

func (r *memoryRepo) StatusCounts(ctx context.Context) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, q := range r.quotations {
		out[q.Status]++
	}
	return out, nil
}

func (r *memoryRepo) AverageSavings(ctx context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum, n := decimal.Zero, 0
	for id := range r.quotations {
		d, _ := r.detail(id)
		c := Compare(d)
		for _, it := range c.Items {
			if it.Savings != nil {
				sum = sum.Add(c.SavingsPercent)
				n++
				break
			}
		}
	}
	if n == 0 {
		return decimal.Zero, nil
	}
	return sum.Div(decimal.NewFromInt(int64(n))).Round(2), nil
}

func (r *memoryRepo) MarkViewed(ctx context.Context, linkID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.links[linkID]
	if l.ViewedAt == nil {
		l.ViewedAt = &at
		r.links[linkID] = l
	}
	return nil
}

func (r *memoryRepo) MarkEmailSent(ctx context.Context, linkID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.links[linkID]
	l.EmailSentAt = &at
	r.links[linkID] = l
	return nil
}

func (t *memoryTx) InsertRequisition(ctx context.Context, req requisitions.Requisition) error {
	t.repo.requisitions[req.ID] = req
	return nil
}

func (t *memoryTx) InsertQuotation(ctx context.Context, q Quotation) error {
	for _, existing := range t.repo.quotations {
		if existing.Number == q.Number {
			return shared.ErrDuplicate
		}
	}
	t.repo.quotations[q.ID] = q
	return nil
}

func (t *memoryTx) LockQuotation(ctx context.Context, id uuid.UUID) (Quotation, error) {
	q, ok := t.repo.quotations[id]
	if !ok {
		return Quotation{}, ErrNotFound
	}
	return q, nil
}

func (t *memoryTx) UpdateQuotation(ctx context.Context, q Quotation) error {
	if _, ok := t.repo.quotations[q.ID]; !ok {
		return ErrNotFound
	}
	t.repo.quotations[q.ID] = q
	return nil
}

func (t *memoryTx) Items(ctx context.Context, quotationID uuid.UUID) ([]Item, error) {
	return t.repo.itemsOf(quotationID), nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item Item) error {
	for _, existing := range t.repo.items {
		if existing.QuotationID == item.QuotationID && existing.RequisitionID == item.RequisitionID {
			return shared.ErrDuplicate
		}
	}
	t.repo.items[item.ID] = item
	return nil
}

func (t *memoryTx) DeleteItem(ctx context.Context, quotationID, itemID uuid.UUID) error {
	it, ok := t.repo.items[itemID]
	if !ok || it.QuotationID != quotationID {
		return ErrNotFound
	}
	delete(t.repo.items, itemID)
	return nil
}

func (t *memoryTx) Links(ctx context.Context, quotationID uuid.UUID) ([]SupplierLink, error) {
	return t.repo.linksOf(quotationID), nil
}

func (t *memoryTx) InsertLink(ctx context.Context, link SupplierLink) error {
	if t.repo.failLinks != nil {
		return t.repo.failLinks
	}
	for _, existing := range t.repo.links {
		if existing.QuotationID == link.QuotationID && existing.SupplierID == link.SupplierID &&
			existing.CategoryCode == link.CategoryCode {
			return shared.ErrDuplicate
		}
	}
	t.repo.links[link.ID] = link
	return nil
}

func (t *memoryTx) DeleteLink(ctx context.Context, quotationID, linkID uuid.UUID) error {
	l, ok := t.repo.links[linkID]
	if !ok || l.QuotationID != quotationID {
		return ErrNotFound
	}
	delete(t.repo.links, linkID)
	return nil
}

func (t *memoryTx) LockLink(ctx context.Context, id uuid.UUID) (SupplierLink, error) {
	l, ok := t.repo.links[id]
	if !ok {
		return SupplierLink{}, ErrNotFound
	}
	return l, nil
}

func (t *memoryTx) RotateToken(ctx context.Context, linkID uuid.UUID, hash string, at time.Time) error {
	l := t.repo.links[linkID]
	l.TokenHash = hash
	l.InvitedAt = at
	l.EmailSentAt = nil
	t.repo.links[linkID] = l
	return nil
}

func (t *memoryTx) MarkResponded(ctx context.Context, linkID uuid.UUID, at time.Time) error {
	l := t.repo.links[linkID]
	l.ResponseStatus = ResponseResponded
	l.RespondedAt = &at
	t.repo.links[linkID] = l
	return nil
}

func (t *memoryTx) InsertResponse(ctx context.Context, r Response) error {
	t.repo.responses = append(t.repo.responses, r)
	return nil
}

func (t *memoryTx) ClaimKey(ctx context.Context, key string, at time.Time) error {
	if t.repo.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	t.repo.keys[key] = true
	return nil
}

func (t *memoryTx) ExpireOverdue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, q := range t.repo.quotations {
		if q.Status.AcceptsResponses() && q.Deadline.Before(asOf) {
			q.Status = StatusExpired
			q.UpdatedAt = asOf
			t.repo.quotations[id] = q
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeDirectory struct {
	suppliers []suppliers.Supplier
}

func (d *fakeDirectory) MatchByCategories(ctx context.Context, codes []string) (map[string][]suppliers.Supplier, error) {
	out := make(map[string][]suppliers.Supplier, len(codes))
	for _, c := range codes {
		out[c] = []suppliers.Supplier{}
	}
	for _, s := range d.suppliers {
		if s.Status == suppliers.StatusInactive {
			continue
		}
		if list, ok := out[s.CategoryCode]; ok {
			out[s.CategoryCode] = append(list, s)
		}
	}
	return out, nil
}

func (d *fakeDirectory) Get(ctx context.Context, id uuid.UUID) (suppliers.Supplier, error) {
	for _, s := range d.suppliers {
		if s.ID == id {
			return s, nil
		}
	}
	return suppliers.Supplier{}, suppliers.ErrNotFound
}

type requisitionStore struct {
	repo *memoryRepo
}

func (s requisitionStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]requisitions.Requisition, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	var out []requisitions.Requisition
	for _, id := range ids {
		if r, ok := s.repo.requisitions[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type queued struct {
	linkID uuid.UUID
	token  string
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queued
	err  error
}

func (q *fakeQueue) EnqueueInvitation(ctx context.Context, linkID uuid.UUID, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, queued{linkID: linkID, token: token})
	return nil
}

func (q *fakeQueue) last(linkID uuid.UUID) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.jobs) - 1; i >= 0; i-- {
		if q.jobs[i].linkID == linkID {
			return q.jobs[i].token
		}
	}
	return ""
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *fakeAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

type countingObserver struct {
	mu          sync.Mutex
	invitations map[string]int
	responses   int
}

func (o *countingObserver) ObserveInvitation(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.invitations == nil {
		o.invitations = map[string]int{}
	}
	o.invitations[result]++
}

func (o *countingObserver) ObserveResponse() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses++
}

type fixture struct {
	repo     *memoryRepo
	dir      *fakeDirectory
	queue    *fakeQueue
	audit    *fakeAudit
	observer *countingObserver
	issuer   *access.Issuer
	service  *Service
	now      time.Time
}

const testTTL = 15 * 24 * time.Hour

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemoryRepo(),
		dir:      &fakeDirectory{},
		queue:    &fakeQueue{},
		audit:    &fakeAudit{},
		observer: &countingObserver{},
		issuer:   access.NewIssuer("test-secret", 72*time.Hour),
		now:      time.Now().UTC().Truncate(time.Second),
	}
	f.service = NewService(f.repo, Deps{
		Suppliers:    f.dir,
		Requisitions: requisitionStore{repo: f.repo},
		Issuer:       f.issuer,
		Queue:        f.queue,
		Audit:        f.audit,
		Observer:     f.observer,
	}, Config{
		TTL:      testTTL,
		Branding: mail.Branding{CompanyName: "Cota S.A.", BaseURL: "https://cota.example.com"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.service.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addSupplier(name, category string, status suppliers.Status) suppliers.Supplier {
	s := suppliers.Supplier{
		ID:           uuid.New(),
		LegalName:    name,
		CNPJ:         "11.222.333/0001-81",
		Email:        "contato@" + category + ".example.com",
		CategoryCode: category,
		Status:       status,
	}
	f.dir.suppliers = append(f.dir.suppliers, s)
	return s
}

func row(number, item, category string, qty, ref int64) requisitions.Input {
	in := requisitions.Input{
		Number:       number,
		ItemNumber:   item,
		MaterialCode: "MAT-" + number + "-" + item,
		Description:  "Item " + item + " da " + number,
		Manufacturer: "ACME",
		CategoryCode: category,
		Family:       "Familia " + category,
		Unit:         "UN",
		Quantity:     decimal.NewFromInt(qty),
	}
	if ref > 0 {
		price := decimal.NewFromInt(ref)
		in.ReferencePrice = &price
	}
	return in
}

// dispatched opens a quotation with RC-1 (two G1 items) and RC-2 (one G2
// item), inviting one supplier per category.
func (f *fixture) dispatched(t *testing.T) (DispatchResult, suppliers.Supplier, suppliers.Supplier) {
	t.Helper()
	g1 := f.addSupplier("Alfa Ltda", "G1", suppliers.StatusActive)
	g2 := f.addSupplier("Beta Ltda", "G2", suppliers.StatusActive)
	res, err := f.service.Dispatch(context.Background(), DispatchInput{
		Requester: "compras",
		Rows: []requisitions.Input{
			row("RC-1", "10", "G1", 10, 5),
			row("RC-1", "20", "G1", 4, 0),
			row("RC-2", "10", "G2", 2, 100),
		},
		SupplierIDs: []uuid.UUID{g1.ID, g2.ID},
	})
	require.NoError(t, err)
	return res, g1, g2
}

func (f *fixture) linkFor(t *testing.T, quotationID, supplierID uuid.UUID) SupplierLink {
	t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	for _, l := range f.repo.links {
		if l.QuotationID == quotationID && l.SupplierID == supplierID {
			return l
		}
	}
	t.Fatalf("no link for supplier %s", supplierID)
	return SupplierLink{}
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func days(n int) *int {
	return &n
}

var errBoom = errors.New("boom")
