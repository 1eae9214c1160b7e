package quotations

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cota-system/cota/internal/access"
	"github.com/cota-system/cota/internal/mail"
	"github.com/cota-system/cota/internal/platform/locale"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
	"github.com/cota-system/cota/internal/suppliers"
)

func TestDispatchOpensQuotationAndQueuesInvitations(t *testing.T) {
	f := newFixture(t)
	res, g1, g2 := f.dispatched(t)

	q := res.Quotation
	assert.True(t, strings.HasPrefix(q.Number, "COT-"))
	assert.Equal(t, StatusOpen, q.Status)
	assert.Equal(t, DefaultTitle, q.Title)
	assert.Equal(t, "Cotação incluindo as RCs: RC-1, RC-2", q.Description)
	assert.Equal(t, f.now.Add(testTTL), q.Deadline)
	require.NotNil(t, q.SentAt)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 2, res.Queued)
	require.Len(t, res.Invitees, 2)

	assert.Len(t, f.repo.requisitions, 3)
	assert.Len(t, f.repo.items, 3)
	for _, sup := range []suppliers.Supplier{g1, g2} {
		link := f.linkFor(t, q.ID, sup.ID)
		assert.Equal(t, sup.CategoryCode, link.CategoryCode)
		assert.Equal(t, ResponsePending, link.ResponseStatus)
		token := f.queue.last(link.ID)
		require.NotEmpty(t, token)
		assert.True(t, access.Matches(token, link.TokenHash))
	}
	assert.Equal(t, mail.Link("https://cota.example.com", f.queue.last(res.Invitees[0].LinkID)), res.Invitees[0].Link)
	assert.Equal(t, 2, f.observer.invitations["queued"])
	assert.Contains(t, f.audit.actions, "QUOTATION_DISPATCH")
}

func TestDispatchValidation(t *testing.T) {
	f := newFixture(t)
	g1 := f.addSupplier("Alfa Ltda", "G1", suppliers.StatusActive)
	inactive := f.addSupplier("Inativa Ltda", "G1", suppliers.StatusInactive)
	other := f.addSupplier("Outra Ltda", "G9", suppliers.StatusActive)
	ctx := context.Background()

	_, err := f.service.Dispatch(ctx, DispatchInput{SupplierIDs: []uuid.UUID{g1.ID}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.Dispatch(ctx, DispatchInput{Rows: []requisitions.Input{row("RC-1", "10", "G1", 1, 0)}})
	require.ErrorIs(t, err, shared.ErrValidation)

	bad := row("RC-1", "10", "G1", 0, 0)
	_, err = f.service.Dispatch(ctx, DispatchInput{Rows: []requisitions.Input{bad}, SupplierIDs: []uuid.UUID{g1.ID}})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["rows[0]"], "quantity")

	for _, id := range []uuid.UUID{inactive.ID, other.ID} {
		_, err = f.service.Dispatch(ctx, DispatchInput{
			Rows:        []requisitions.Input{row("RC-1", "10", "G1", 1, 0)},
			SupplierIDs: []uuid.UUID{g1.ID, id},
		})
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	assert.Empty(t, f.repo.quotations)
	assert.Empty(t, f.repo.requisitions)
	assert.Empty(t, f.queue.jobs)
}

func TestDispatchRollsBackWhenALinkFails(t *testing.T) {
	f := newFixture(t)
	g1 := f.addSupplier("Alfa Ltda", "G1", suppliers.StatusActive)
	f.repo.failLinks = errBoom

	_, err := f.service.Dispatch(context.Background(), DispatchInput{
		Rows:        []requisitions.Input{row("RC-1", "10", "G1", 1, 0)},
		SupplierIDs: []uuid.UUID{g1.ID},
	})
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.repo.quotations)
	assert.Empty(t, f.repo.requisitions)
	assert.Empty(t, f.repo.items)
	assert.Empty(t, f.queue.jobs)
}

func TestDispatchKeepsQuotationWhenQueueFails(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errBoom
	res, _, _ := f.dispatched(t)

	assert.Equal(t, 0, res.Queued)
	for _, inv := range res.Invitees {
		assert.False(t, inv.Queued)
		assert.NotEmpty(t, inv.Link)
	}
	_, err := f.service.Get(context.Background(), res.Quotation.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.observer.invitations["enqueue_failed"])
}

func TestPlanSelectsEveryMatchedSupplier(t *testing.T) {
	f := newFixture(t)
	a := f.addSupplier("Alfa Ltda", "G1", suppliers.StatusActive)
	b := f.addSupplier("Beta Ltda", "G1", suppliers.StatusPending)
	f.addSupplier("Inativa Ltda", "G1", suppliers.StatusInactive)

	plan, err := f.service.Plan(context.Background(), requisitions.Parsed{
		Rows: []requisitions.Input{
			row("RC-1", "10", "G1", 1, 0),
			row("RC-2", "10", "G2", 1, 0),
			row("RC-1", "20", "G1", 1, 0),
		},
		Rejected: []spreadsheet.RowError{{File: "rc.xlsx", Row: 5, Reason: "QUANTIDADE is required"}},
	})
	require.NoError(t, err)
	require.Len(t, plan.Groups, 2)

	g1 := plan.Groups[0]
	assert.Equal(t, "G1", g1.CategoryCode)
	assert.Equal(t, "Familia G1", g1.Family)
	assert.Equal(t, 2, g1.ItemCount)
	assert.Equal(t, []string{"RC-1"}, g1.Numbers)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, g1.Selected)

	g2 := plan.Groups[1]
	assert.Equal(t, "G2", g2.CategoryCode)
	assert.Empty(t, g2.Suppliers)
	assert.Empty(t, g2.Selected)
	assert.Len(t, plan.Rejected, 1)
}

func TestOpenLinkShowsOnlyTheLinkCategory(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	link := f.linkFor(t, res.Quotation.ID, g1.ID)

	view, err := f.service.OpenLink(context.Background(), f.queue.last(link.ID))
	require.NoError(t, err)
	assert.Equal(t, res.Quotation.Number, view.Number)
	assert.Equal(t, "G1", view.CategoryCode)
	assert.True(t, view.CanRespond)
	assert.Equal(t, "Alfa Ltda", view.Supplier.LegalName)
	assert.Equal(t, 15, view.DaysRemaining)
	assert.Nil(t, view.Total)
	require.Len(t, view.Items, 2)
	for _, it := range view.Items {
		assert.Equal(t, "RC-1", it.Number)
	}

	require.NotNil(t, f.linkFor(t, res.Quotation.ID, g1.ID).ViewedAt)
}

func TestOpenLinkRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	ctx := context.Background()
	link := f.linkFor(t, res.Quotation.ID, g1.ID)

	_, err := f.service.OpenLink(ctx, "not-a-token")
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	other := access.NewIssuer("other-secret", time.Hour)
	forged, _, err := other.Issue(link.ID, res.Quotation.ID, f.now.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.service.OpenLink(ctx, forged)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	expired, hash, err := f.issuer.Issue(link.ID, res.Quotation.ID, time.Now().Add(-100*time.Hour))
	require.NoError(t, err)
	f.repo.mu.Lock()
	l := f.repo.links[link.ID]
	l.TokenHash = hash
	f.repo.links[link.ID] = l
	f.repo.mu.Unlock()
	_, err = f.service.OpenLink(ctx, expired)
	require.ErrorIs(t, err, shared.ErrGone)
}

func pricedLines(t *testing.T, f *fixture, token string, prices map[string]string) []LineInput {
	t.Helper()
	view, err := f.service.OpenLink(context.Background(), token)
	require.NoError(t, err)
	lines := make([]LineInput, 0, len(view.Items))
	for _, it := range view.Items {
		lines = append(lines, LineInput{ItemID: it.ItemID, UnitPrice: price(prices[it.ItemNumber]), LeadTimeDays: days(7)})
	}
	return lines
}

func TestSubmitResponseTotalsAndClosesLink(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	ctx := context.Background()
	link := f.linkFor(t, res.Quotation.ID, g1.ID)
	token := f.queue.last(link.ID)

	lines := pricedLines(t, f, token, map[string]string{"10": "4.50", "20": "2"})
	out, err := f.service.SubmitResponse(ctx, token, SubmitInput{Lines: lines})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Lines)
	assert.Equal(t, "53", out.Total.String())

	link = f.linkFor(t, res.Quotation.ID, g1.ID)
	assert.Equal(t, ResponseResponded, link.ResponseStatus)
	require.NotNil(t, link.RespondedAt)
	assert.Len(t, f.repo.responses, 2)
	assert.Equal(t, 1, f.observer.responses)

	view, err := f.service.OpenLink(ctx, token)
	require.NoError(t, err)
	assert.False(t, view.CanRespond)
	require.NotNil(t, view.Total)
	assert.Equal(t, "53", view.Total.String())

	_, err = f.service.SubmitResponse(ctx, token, SubmitInput{Lines: lines})
	require.ErrorIs(t, err, shared.ErrConflict)
	assert.Len(t, f.repo.responses, 2)
}

func TestSubmitResponseValidation(t *testing.T) {
	f := newFixture(t)
	res, g1, g2 := f.dispatched(t)
	ctx := context.Background()
	token := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)
	lines := pricedLines(t, f, token, map[string]string{"10": "1", "20": "1"})

	cases := map[string][]LineInput{
		"empty":        nil,
		"missing item": lines[:1],
		"negative": {
			lines[0],
			{ItemID: lines[1].ItemID, UnitPrice: price("-1"), LeadTimeDays: days(1)},
		},
		"no lead time": {
			lines[0],
			{ItemID: lines[1].ItemID, UnitPrice: price("1")},
		},
		"twice": {lines[0], lines[0], lines[1]},
	}
	otherView, err := f.service.OpenLink(ctx, f.queue.last(f.linkFor(t, res.Quotation.ID, g2.ID).ID))
	require.NoError(t, err)
	cases["other category"] = append([]LineInput{}, lines[0], lines[1],
		LineInput{ItemID: otherView.Items[0].ItemID, UnitPrice: price("1"), LeadTimeDays: days(1)})

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.SubmitResponse(ctx, token, SubmitInput{Lines: tc})
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	assert.Empty(t, f.repo.responses)
	assert.Equal(t, ResponsePending, f.linkFor(t, res.Quotation.ID, g1.ID).ResponseStatus)
}

func TestSubmitResponseAfterDeadlineOrClose(t *testing.T) {
	f := newFixture(t)
	res, g1, g2 := f.dispatched(t)
	ctx := context.Background()
	token1 := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)
	token2 := f.queue.last(f.linkFor(t, res.Quotation.ID, g2.ID).ID)
	lines1 := pricedLines(t, f, token1, map[string]string{"10": "1", "20": "1"})
	lines2 := pricedLines(t, f, token2, map[string]string{"10": "1"})

	_, err := f.service.UpdateStatus(ctx, res.Quotation.ID, UpdateStatusInput{Status: StatusAnalysis})
	require.NoError(t, err)
	_, err = f.service.SubmitResponse(ctx, token1, SubmitInput{Lines: lines1})
	require.ErrorIs(t, err, shared.ErrGone)

	_, err = f.service.UpdateStatus(ctx, res.Quotation.ID, UpdateStatusInput{Status: StatusOpen})
	require.NoError(t, err)
	f.now = f.now.Add(testTTL + time.Hour)
	_, err = f.service.SubmitResponse(ctx, token2, SubmitInput{Lines: lines2})
	require.ErrorIs(t, err, shared.ErrGone)
	assert.Empty(t, f.repo.responses)
}

func TestSubmitResponseIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	res, g1, g2 := f.dispatched(t)
	ctx := context.Background()
	token1 := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)
	token2 := f.queue.last(f.linkFor(t, res.Quotation.ID, g2.ID).ID)

	_, err := f.service.SubmitResponse(ctx, token1, SubmitInput{
		Lines:          pricedLines(t, f, token1, map[string]string{"10": "1", "20": "1"}),
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	_, err = f.service.SubmitResponse(ctx, token2, SubmitInput{
		Lines:          pricedLines(t, f, token2, map[string]string{"10": "1"}),
		IdempotencyKey: "key-1",
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	assert.Equal(t, ResponsePending, f.linkFor(t, res.Quotation.ID, g2.ID).ResponseStatus)
}

func TestConcurrentSubmissionsStoreOneAnswer(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	token := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)
	lines := pricedLines(t, f, token, map[string]string{"10": "3", "20": "4"})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.SubmitResponse(context.Background(), token, SubmitInput{Lines: lines})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, shared.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, f.repo.responses, 2)
}

func TestCreateDraftAndSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reqs := requisitions.Build([]requisitions.Input{
		row("RC-7", "10", "G1", 3, 0),
		row("RC-8", "10", "G1", 1, 0),
	}, f.now)
	for _, r := range reqs {
		f.repo.requisitions[r.ID] = r
	}
	sup := f.addSupplier("Alfa Ltda", "G1", suppliers.StatusActive)

	_, err := f.service.Create(ctx, CreateInput{Title: "Parafusos", RequisitionIDs: []uuid.UUID{uuid.New()}})
	require.ErrorIs(t, err, shared.ErrValidation)

	d, err := f.service.Create(ctx, CreateInput{Title: "Parafusos", RequisitionIDs: []uuid.UUID{reqs[0].ID, reqs[1].ID}})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, d.Status)
	assert.Equal(t, "Cotação incluindo as RCs: RC-7, RC-8", d.Description)
	assert.Len(t, d.Items, 2)
	assert.Nil(t, d.SentAt)

	invitees, err := f.service.AddSuppliers(ctx, d.ID, AddSuppliersInput{SupplierIDs: []uuid.UUID{sup.ID}})
	require.NoError(t, err)
	require.Len(t, invitees, 1)
	assert.False(t, invitees[0].Queued)
	assert.Empty(t, f.queue.jobs)

	_, err = f.service.UpdateStatus(ctx, d.ID, UpdateStatusInput{Status: StatusFinalized})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	q, err := f.service.UpdateStatus(ctx, d.ID, UpdateStatusInput{Status: StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, q.Status)
	require.NotNil(t, q.SentAt)
	token := f.queue.last(invitees[0].LinkID)
	require.NotEmpty(t, token)
	assert.True(t, access.Matches(token, f.linkFor(t, d.ID, sup.ID).TokenHash))
	assert.Contains(t, f.audit.actions, "QUOTATION_STATUS")
}

func TestStatusWorkflow(t *testing.T) {
	f := newFixture(t)
	res, _, _ := f.dispatched(t)
	ctx := context.Background()
	id := res.Quotation.ID

	for _, next := range []Status{StatusAnalysis, StatusFinalized} {
		q, err := f.service.UpdateStatus(ctx, id, UpdateStatusInput{Status: next})
		require.NoError(t, err)
		assert.Equal(t, next, q.Status)
	}
	_, err := f.service.UpdateStatus(ctx, id, UpdateStatusInput{Status: StatusOpen})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.service.UpdateStatus(ctx, id, UpdateStatusInput{Status: "arquivada"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.service.UpdateStatus(ctx, uuid.New(), UpdateStatusInput{Status: StatusOpen})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateStatusRejectsDeadlineWhenClosing(t *testing.T) {
	f := newFixture(t)
	res, _, _ := f.dispatched(t)
	ctx := context.Background()
	id := res.Quotation.ID
	before, err := f.service.Get(ctx, id)
	require.NoError(t, err)

	deadline := f.now.Add(72 * time.Hour)
	for _, next := range []Status{StatusAnalysis, StatusCancelled} {
		_, err := f.service.UpdateStatus(ctx, id, UpdateStatusInput{Status: next, Deadline: &deadline})
		require.ErrorIs(t, err, shared.ErrValidation, next)
		var verr *shared.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "deadline")
	}

	after, err := f.service.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Deadline, after.Deadline)
}

func TestExpireAndReopen(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	ctx := context.Background()
	oldToken := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)

	n, err := f.service.ExpireOverdue(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.now = f.now.Add(testTTL + time.Hour)
	n, err = f.service.ExpireOverdue(ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	d, err := f.service.Get(ctx, res.Quotation.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, d.Status)
	assert.Contains(t, f.audit.actions, "QUOTATION_EXPIRE")

	_, err = f.service.UpdateStatus(ctx, res.Quotation.ID, UpdateStatusInput{Status: StatusOpen})
	require.ErrorIs(t, err, shared.ErrValidation)

	deadline := f.now.Add(48 * time.Hour)
	q, err := f.service.UpdateStatus(ctx, res.Quotation.ID, UpdateStatusInput{Status: StatusOpen, Deadline: &deadline})
	require.NoError(t, err)
	assert.Equal(t, deadline, q.Deadline)

	newToken := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)
	assert.NotEqual(t, oldToken, newToken)
	_, err = f.service.OpenLink(ctx, oldToken)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
	view, err := f.service.OpenLink(ctx, newToken)
	require.NoError(t, err)
	assert.True(t, view.CanRespond)
}

func TestResendInvitationRotatesToken(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	ctx := context.Background()
	link := f.linkFor(t, res.Quotation.ID, g1.ID)
	oldToken := f.queue.last(link.ID)

	inv, err := f.service.ResendInvitation(ctx, res.Quotation.ID, link.ID)
	require.NoError(t, err)
	assert.True(t, inv.Queued)
	newToken := f.queue.last(link.ID)
	assert.NotEqual(t, oldToken, newToken)

	_, err = f.service.OpenLink(ctx, oldToken)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = f.service.Invitation(ctx, link.ID, oldToken)
	require.ErrorIs(t, err, ErrStaleInvitation)
	_, err = f.service.OpenLink(ctx, newToken)
	require.NoError(t, err)

	_, err = f.service.ResendInvitation(ctx, uuid.New(), link.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestInvitationParams(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	ctx := context.Background()
	link := f.linkFor(t, res.Quotation.ID, g1.ID)
	token := f.queue.last(link.ID)

	params, err := f.service.Invitation(ctx, link.ID, token)
	require.NoError(t, err)
	assert.Equal(t, "contato@G1.example.com", params.Recipient())
	assert.Equal(t, "Alfa Ltda", params["supplier_name"])
	assert.Equal(t, res.Quotation.Description, params["quote_description"])
	assert.Equal(t, "https://cota.example.com/cotacao/"+token, params["quote_link"])
	assert.Equal(t, locale.Money(decimal.NewFromInt(50)), params["estimated_value"])
	assert.Equal(t, locale.Date(res.Quotation.Deadline), params["estimated_deadline"])
	assert.Equal(t, locale.Date(f.now), params["quote_date"])
	assert.Equal(t, mail.NotInformed, params["notes"])
	assert.Equal(t, "Cota S.A.", params["company_name"])

	require.NoError(t, f.service.MarkEmailSent(ctx, link.ID))
	assert.NotNil(t, f.linkFor(t, res.Quotation.ID, g1.ID).EmailSentAt)
}

func TestAddAndRemoveSuppliers(t *testing.T) {
	f := newFixture(t)
	res, g1, _ := f.dispatched(t)
	ctx := context.Background()
	id := res.Quotation.ID

	noItems := f.addSupplier("Sem Itens Ltda", "G3", suppliers.StatusActive)
	_, err := f.service.AddSuppliers(ctx, id, AddSuppliersInput{SupplierIDs: []uuid.UUID{noItems.ID}})
	require.ErrorIs(t, err, shared.ErrValidation)

	inactive := f.addSupplier("Inativa Ltda", "G1", suppliers.StatusInactive)
	_, err = f.service.AddSuppliers(ctx, id, AddSuppliersInput{SupplierIDs: []uuid.UUID{inactive.ID}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.AddSuppliers(ctx, id, AddSuppliersInput{SupplierIDs: []uuid.UUID{g1.ID}})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	gama := f.addSupplier("Gama Ltda", "G1", suppliers.StatusActive)
	invitees, err := f.service.AddSuppliers(ctx, id, AddSuppliersInput{SupplierIDs: []uuid.UUID{gama.ID}})
	require.NoError(t, err)
	require.Len(t, invitees, 1)
	assert.True(t, invitees[0].Queued)

	token := f.queue.last(f.linkFor(t, id, g1.ID).ID)
	_, err = f.service.SubmitResponse(ctx, token, SubmitInput{Lines: pricedLines(t, f, token, map[string]string{"10": "1", "20": "1"})})
	require.NoError(t, err)
	require.ErrorIs(t, f.service.RemoveSupplier(ctx, id, f.linkFor(t, id, g1.ID).ID), shared.ErrConflict)

	require.NoError(t, f.service.RemoveSupplier(ctx, id, invitees[0].LinkID))
	d, err := f.service.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, d.Links, 2)
}

func TestAddAndRemoveItems(t *testing.T) {
	f := newFixture(t)
	res, _, _ := f.dispatched(t)
	ctx := context.Background()
	id := res.Quotation.ID

	extra := requisitions.Build([]requisitions.Input{row("RC-3", "10", "G1", 1, 0)}, f.now)[0]
	f.repo.requisitions[extra.ID] = extra
	items, err := f.service.AddItems(ctx, id, []uuid.UUID{extra.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = f.service.AddItems(ctx, id, []uuid.UUID{extra.ID})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	require.NoError(t, f.service.RemoveItem(ctx, id, items[0].ID))
	require.ErrorIs(t, f.service.RemoveItem(ctx, id, items[0].ID), shared.ErrNotFound)

	d, err := f.service.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, d.Items, 3)
}

func respondAll(t *testing.T, f *fixture, res DispatchResult, g1, g2 suppliers.Supplier) {
	t.Helper()
	ctx := context.Background()
	token1 := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)
	_, err := f.service.SubmitResponse(ctx, token1, SubmitInput{Lines: pricedLines(t, f, token1, map[string]string{"10": "4.5", "20": "2"})})
	require.NoError(t, err)
	token2 := f.queue.last(f.linkFor(t, res.Quotation.ID, g2.ID).ID)
	_, err = f.service.SubmitResponse(ctx, token2, SubmitInput{Lines: pricedLines(t, f, token2, map[string]string{"10": "90"})})
	require.NoError(t, err)
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t)
	res, g1, g2 := f.dispatched(t)
	ctx := context.Background()

	token1 := f.queue.last(f.linkFor(t, res.Quotation.ID, g1.ID).ID)
	_, err := f.service.SubmitResponse(ctx, token1, SubmitInput{Lines: pricedLines(t, f, token1, map[string]string{"10": "4.5", "20": "2"})})
	require.NoError(t, err)

	items, page, err := f.service.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 3, items[0].ItemCount)
	assert.Equal(t, 2, items[0].Invited)
	assert.Equal(t, 1, items[0].Responded)
	assert.Equal(t, 50, items[0].ResponsePercent)
	assert.Equal(t, 15, items[0].DaysRemaining)

	_, _, err = f.service.List(ctx, ListFilter{Status: "qualquer"})
	require.ErrorIs(t, err, shared.ErrValidation)

	token2 := f.queue.last(f.linkFor(t, res.Quotation.ID, g2.ID).ID)
	_, err = f.service.SubmitResponse(ctx, token2, SubmitInput{Lines: pricedLines(t, f, token2, map[string]string{"10": "90"})})
	require.NoError(t, err)

	st, err := f.service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Open)
	assert.Equal(t, 0, st.Finalized)
	assert.Equal(t, "10", st.AverageSavings.String())
}
