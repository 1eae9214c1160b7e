package quotations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cota-system/cota/internal/platform/db"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/suppliers"
)

// ListRow is a quotation with the counts List derives its figures from.
type ListRow struct {
	Quotation Quotation
	Counts    Counts
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Quotation, error)
	Detail(ctx context.Context, id uuid.UUID) (Detail, error)
	List(ctx context.Context, filter ListFilter) ([]ListRow, int, error)
	GetLink(ctx context.Context, id uuid.UUID) (SupplierLink, error)
	Items(ctx context.Context, quotationID uuid.UUID) ([]Item, error)
	LinkResponses(ctx context.Context, linkID uuid.UUID) ([]Response, error)
	StatusCounts(ctx context.Context) (map[Status]int, error)
	AverageSavings(ctx context.Context) (decimal.Decimal, error)
	MarkViewed(ctx context.Context, linkID uuid.UUID, at time.Time) error
	MarkEmailSent(ctx context.Context, linkID uuid.UUID, at time.Time) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertRequisition(ctx context.Context, r requisitions.Requisition) error
	InsertQuotation(ctx context.Context, q Quotation) error
	LockQuotation(ctx context.Context, id uuid.UUID) (Quotation, error)
	UpdateQuotation(ctx context.Context, q Quotation) error
	Items(ctx context.Context, quotationID uuid.UUID) ([]Item, error)
	InsertItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, quotationID, itemID uuid.UUID) error
	Links(ctx context.Context, quotationID uuid.UUID) ([]SupplierLink, error)
	InsertLink(ctx context.Context, link SupplierLink) error
	DeleteLink(ctx context.Context, quotationID, linkID uuid.UUID) error
	LockLink(ctx context.Context, id uuid.UUID) (SupplierLink, error)
	RotateToken(ctx context.Context, linkID uuid.UUID, hash string, at time.Time) error
	MarkResponded(ctx context.Context, linkID uuid.UUID, at time.Time) error
	InsertResponse(ctx context.Context, r Response) error
	ClaimKey(ctx context.Context, key string, at time.Time) error
	ExpireOverdue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const quotationColumns = `q.id, q.number, q.title, q.description, q.requester, q.status, q.notes,
	q.deadline, q.sent_at, q.created_at, q.updated_at`

func scanQuotation(row pgx.Row, extra ...any) (Quotation, error) {
	var q Quotation
	dest := []any{&q.ID, &q.Number, &q.Title, &q.Description, &q.Requester, &q.Status, &q.Notes,
		&q.Deadline, &q.SentAt, &q.CreatedAt, &q.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	return q, err
}

const linkColumns = `l.id, l.quotation_id, l.supplier_id, l.category_code, l.token_hash, l.response_status,
	l.invited_at, l.email_sent_at, l.viewed_at, l.responded_at`

func scanLink(row pgx.Row) (SupplierLink, error) {
	var l SupplierLink
	sup, err := suppliers.ScanRow(row, &l.ID, &l.QuotationID, &l.SupplierID, &l.CategoryCode, &l.TokenHash,
		&l.ResponseStatus, &l.InvitedAt, &l.EmailSentAt, &l.ViewedAt, &l.RespondedAt)
	if err != nil {
		return SupplierLink{}, err
	}
	l.Supplier = sup
	return l, nil
}

const responseColumns = `rs.id, rs.link_id, rs.requisition_id, rs.unit_price::text, rs.lead_time_days,
	rs.available_qty::text, rs.notes, rs.submitted_at`

func scanResponse(row pgx.Row) (Response, error) {
	var (
		r         Response
		price     string
		available *string
	)
	if err := row.Scan(&r.ID, &r.LinkID, &r.RequisitionID, &price, &r.LeadTimeDays, &available, &r.Notes, &r.SubmittedAt); err != nil {
		return Response{}, err
	}
	var err error
	if r.UnitPrice, err = db.ParseNumeric(price); err != nil {
		return Response{}, err
	}
	if r.AvailableQty, err = db.ParseNullNumeric(available); err != nil {
		return Response{}, err
	}
	return r, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func queryItems(ctx context.Context, q db.Querier, quotationID uuid.UUID) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+requisitions.Columns+`, i.id, i.quotation_id, i.requested_qty::text
		FROM quotation_items i JOIN requisitions r ON r.id = i.requisition_id
		WHERE i.quotation_id = $1 ORDER BY r.number, r.item_number`, quotationID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (Item, error) {
		var (
			it  Item
			qty string
		)
		req, err := requisitions.ScanRow(row, &it.ID, &it.QuotationID, &qty)
		if err != nil {
			return Item{}, err
		}
		it.Requisition = req
		it.RequisitionID = req.ID
		if it.RequestedQty, err = db.ParseNumeric(qty); err != nil {
			return Item{}, err
		}
		return it, nil
	})
}

func queryLinks(ctx context.Context, q db.Querier, quotationID uuid.UUID) ([]SupplierLink, error) {
	rows, err := q.Query(ctx, `SELECT `+suppliers.Columns+`, `+linkColumns+`
		FROM supplier_links l JOIN suppliers s ON s.id = l.supplier_id
		WHERE l.quotation_id = $1 ORDER BY l.category_code, s.legal_name`, quotationID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLink)
}

// Get loads a quotation header.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Quotation, error) {
	q, err := scanQuotation(r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations q WHERE q.id = $1`, id))
	return q, notFound(err, "quotation "+id.String())
}

// Detail loads a quotation with items, links and responses.
func (r *Repository) Detail(ctx context.Context, id uuid.UUID) (Detail, error) {
	q, err := r.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Quotation: q}
	if d.Items, err = queryItems(ctx, r.pool, id); err != nil {
		return Detail{}, err
	}
	if d.Links, err = queryLinks(ctx, r.pool, id); err != nil {
		return Detail{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+responseColumns+`
		FROM responses rs JOIN supplier_links l ON l.id = rs.link_id
		WHERE l.quotation_id = $1 ORDER BY rs.submitted_at`, id)
	if err != nil {
		return Detail{}, err
	}
	if d.Responses, err = collect(rows, scanResponse); err != nil {
		return Detail{}, err
	}
	return d, nil
}

// List returns quotations newest first with their counts.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]ListRow, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, db.ContainsPattern(filter.Search))
		where += ` AND (q.number ILIKE $1 ESCAPE '\' OR q.title ILIKE $1 ESCAPE '\' OR q.description ILIKE $1 ESCAPE '\')`
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += ` AND q.status = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quotations q`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, `SELECT `+quotationColumns+`,
		(SELECT COUNT(*) FROM quotation_items i WHERE i.quotation_id = q.id),
		(SELECT COUNT(*) FROM supplier_links l WHERE l.quotation_id = q.id),
		(SELECT COUNT(*) FROM supplier_links l WHERE l.quotation_id = q.id AND l.response_status = 'respondido')
		FROM quotations q`+where+`
		ORDER BY q.created_at DESC LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows, func(row pgx.Row) (ListRow, error) {
		var c Counts
		q, err := scanQuotation(row, &c.Items, &c.Invited, &c.Responded)
		return ListRow{Quotation: q, Counts: c}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetLink loads a supplier link with its supplier.
func (r *Repository) GetLink(ctx context.Context, id uuid.UUID) (SupplierLink, error) {
	l, err := scanLink(r.pool.QueryRow(ctx, `SELECT `+suppliers.Columns+`, `+linkColumns+`
		FROM supplier_links l JOIN suppliers s ON s.id = l.supplier_id WHERE l.id = $1`, id))
	return l, notFound(err, "supplier link "+id.String())
}

// Items lists the items of a quotation with their requisitions.
func (r *Repository) Items(ctx context.Context, quotationID uuid.UUID) ([]Item, error) {
	return queryItems(ctx, r.pool, quotationID)
}

// LinkResponses lists what one supplier link submitted.
func (r *Repository) LinkResponses(ctx context.Context, linkID uuid.UUID) ([]Response, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+responseColumns+` FROM responses rs WHERE rs.link_id = $1`, linkID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanResponse)
}

// StatusCounts counts quotations per status.
func (r *Repository) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM quotations GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// AverageSavings averages, over quotations with priced items that carry a
// reference price, the savings percentage of the best offers.
func (r *Repository) AverageSavings(ctx context.Context) (decimal.Decimal, error) {
	var avg string
	err := r.pool.QueryRow(ctx, `
		WITH best AS (
			SELECT i.quotation_id, i.requisition_id, i.requested_qty, MIN(rs.unit_price) AS price
			FROM quotation_items i
			JOIN supplier_links l ON l.quotation_id = i.quotation_id
			JOIN responses rs ON rs.link_id = l.id AND rs.requisition_id = i.requisition_id
			GROUP BY i.quotation_id, i.requisition_id, i.requested_qty
		), priced AS (
			SELECT b.quotation_id,
				SUM(ROUND(rq.reference_price / COALESCE(NULLIF(rq.price_unit, 0), 1) * b.requested_qty, 2)) AS reference,
				SUM(ROUND(b.price * b.requested_qty, 2)) AS best
			FROM best b JOIN requisitions rq ON rq.id = b.requisition_id
			WHERE rq.reference_price IS NOT NULL
			GROUP BY b.quotation_id
		)
		SELECT COALESCE(ROUND(AVG((reference - best) / reference * 100), 2), 0)::text
		FROM priced WHERE reference > 0`).Scan(&avg)
	if err != nil {
		return decimal.Zero, err
	}
	return db.ParseNumeric(avg)
}

// MarkViewed stores the first time a supplier opened the link.
func (r *Repository) MarkViewed(ctx context.Context, linkID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE supplier_links SET viewed_at = $2 WHERE id = $1 AND viewed_at IS NULL`, linkID, at)
	return err
}

// MarkEmailSent stores the delivery time of the invitation email.
func (r *Repository) MarkEmailSent(ctx context.Context, linkID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE supplier_links SET email_sent_at = $2 WHERE id = $1`, linkID, at)
	return err
}

func (t *txRepo) InsertRequisition(ctx context.Context, r requisitions.Requisition) error {
	return requisitions.Insert(ctx, t.tx, r)
}

func (t *txRepo) InsertQuotation(ctx context.Context, q Quotation) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO quotations (id, number, title, description, requester, status, notes,
		deadline, sent_at, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		q.ID, q.Number, q.Title, q.Description, q.Requester, string(q.Status), q.Notes,
		q.Deadline, q.SentAt, q.CreatedAt, q.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("quotation %s: %w", q.Number, shared.ErrDuplicate)
	}
	return err
}

func (t *txRepo) LockQuotation(ctx context.Context, id uuid.UUID) (Quotation, error) {
	q, err := scanQuotation(t.tx.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations q WHERE q.id = $1 FOR UPDATE`, id))
	return q, notFound(err, "quotation "+id.String())
}

func (t *txRepo) UpdateQuotation(ctx context.Context, q Quotation) error {
	tag, err := t.tx.Exec(ctx, `UPDATE quotations SET title=$2, description=$3, requester=$4, status=$5, notes=$6,
		deadline=$7, sent_at=$8, updated_at=$9 WHERE id=$1`,
		q.ID, q.Title, q.Description, q.Requester, string(q.Status), q.Notes, q.Deadline, q.SentAt, q.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quotation %s: %w", q.ID, ErrNotFound)
	}
	return nil
}

func (t *txRepo) Items(ctx context.Context, quotationID uuid.UUID) ([]Item, error) {
	return queryItems(ctx, t.tx, quotationID)
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO quotation_items (id, quotation_id, requisition_id, requested_qty)
		VALUES ($1,$2,$3,$4::numeric)`, item.ID, item.QuotationID, item.RequisitionID, item.RequestedQty.String())
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("requisition %s already in quotation: %w", item.RequisitionID, shared.ErrDuplicate)
	}
	return err
}

func (t *txRepo) DeleteItem(ctx context.Context, quotationID, itemID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM quotation_items WHERE id = $1 AND quotation_id = $2`, itemID, quotationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return nil
}

func (t *txRepo) Links(ctx context.Context, quotationID uuid.UUID) ([]SupplierLink, error) {
	return queryLinks(ctx, t.tx, quotationID)
}

func (t *txRepo) InsertLink(ctx context.Context, l SupplierLink) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO supplier_links (id, quotation_id, supplier_id, category_code, token_hash,
		response_status, invited_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.ID, l.QuotationID, l.SupplierID, l.CategoryCode, l.TokenHash, string(l.ResponseStatus), l.InvitedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("supplier %s already invited for %s: %w", l.SupplierID, l.CategoryCode, shared.ErrDuplicate)
	}
	return err
}

func (t *txRepo) DeleteLink(ctx context.Context, quotationID, linkID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM supplier_links WHERE id = $1 AND quotation_id = $2`, linkID, quotationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("supplier link %s: %w", linkID, ErrNotFound)
	}
	return nil
}

func (t *txRepo) LockLink(ctx context.Context, id uuid.UUID) (SupplierLink, error) {
	l, err := scanLink(t.tx.QueryRow(ctx, `SELECT `+suppliers.Columns+`, `+linkColumns+`
		FROM supplier_links l JOIN suppliers s ON s.id = l.supplier_id WHERE l.id = $1 FOR UPDATE OF l`, id))
	return l, notFound(err, "supplier link "+id.String())
}

func (t *txRepo) RotateToken(ctx context.Context, linkID uuid.UUID, hash string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE supplier_links SET token_hash = $2, invited_at = $3, email_sent_at = NULL
		WHERE id = $1`, linkID, hash, at)
	return err
}

func (t *txRepo) MarkResponded(ctx context.Context, linkID uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE supplier_links SET response_status = 'respondido', responded_at = $2
		WHERE id = $1`, linkID, at)
	return err
}

func (t *txRepo) InsertResponse(ctx context.Context, r Response) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO responses (id, link_id, requisition_id, unit_price, lead_time_days,
		available_qty, notes, submitted_at) VALUES ($1,$2,$3,$4::numeric,$5,$6::numeric,$7,$8)`,
		r.ID, r.LinkID, r.RequisitionID, r.UnitPrice.String(), r.LeadTimeDays,
		db.NullNumeric(r.AvailableQty), r.Notes, r.SubmittedAt)
	return err
}

func (t *txRepo) ClaimKey(ctx context.Context, key string, at time.Time) error {
	return shared.ClaimKey(ctx, t.tx, key, "portal.response", at)
}

func (t *txRepo) ExpireOverdue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `UPDATE quotations SET status = 'vencida', updated_at = $1
		WHERE status IN ('aberta', 'enviada') AND deadline < $1 RETURNING id`, asOf)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
}
