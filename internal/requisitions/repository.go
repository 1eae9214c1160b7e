package requisitions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cota-system/cota/internal/platform/db"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Requisition, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]Requisition, error)
	List(ctx context.Context, filter ListFilter) ([]Requisition, int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, r Requisition) error
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

func (t *txRepo) Insert(ctx context.Context, r Requisition) error {
	return Insert(ctx, t.tx, r)
}

// Columns lists the requisition columns in the order ScanRow expects. Numeric
// columns are selected as text.
const Columns = `r.id, r.number, r.item_number, r.material_code, r.description, r.manufacturer,
	r.manufacturer_part_number, r.category_code, r.family, r.buyer_group, r.quantity::text, r.unit,
	r.reference_price::text, r.price_unit::text, r.plant, r.address, r.postal_code, r.city, r.state,
	r.extra, r.created_at, r.updated_at`

// Insert writes one requisition through q, which may be a pool or a transaction.
func Insert(ctx context.Context, q db.Querier, r Requisition) error {
	extra, err := json.Marshal(r.Extra)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO requisitions (id, number, item_number, material_code, description, manufacturer,
		manufacturer_part_number, category_code, family, buyer_group, quantity, unit, reference_price, price_unit,
		plant, address, postal_code, city, state, extra, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12,$13::numeric,$14::numeric,$15,$16,$17,$18,$19,$20::jsonb,$21,$22)`,
		r.ID, r.Number, r.ItemNumber, r.MaterialCode, r.Description, r.Manufacturer,
		r.ManufacturerPartNumber, r.CategoryCode, r.Family, r.BuyerGroup, r.Quantity.String(), r.Unit,
		db.NullNumeric(r.ReferencePrice), db.NullNumeric(r.PriceUnit),
		r.Plant, r.Address, r.PostalCode, r.City, r.State, extra, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert requisition %s/%s: %w", r.Number, r.ItemNumber, err)
	}
	return nil
}

// ScanRow reads the columns listed in Columns, followed by any extra destinations.
func ScanRow(row pgx.Row, extra ...any) (Requisition, error) {
	var (
		r                   Requisition
		qty                 string
		refPrice, priceUnit *string
		extraJSON           []byte
	)
	dest := []any{&r.ID, &r.Number, &r.ItemNumber, &r.MaterialCode, &r.Description, &r.Manufacturer,
		&r.ManufacturerPartNumber, &r.CategoryCode, &r.Family, &r.BuyerGroup, &qty, &r.Unit,
		&refPrice, &priceUnit, &r.Plant, &r.Address, &r.PostalCode, &r.City, &r.State,
		&extraJSON, &r.CreatedAt, &r.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Requisition{}, err
	}
	var err error
	if r.Quantity, err = db.ParseNumeric(qty); err != nil {
		return Requisition{}, err
	}
	if r.ReferencePrice, err = db.ParseNullNumeric(refPrice); err != nil {
		return Requisition{}, err
	}
	if r.PriceUnit, err = db.ParseNullNumeric(priceUnit); err != nil {
		return Requisition{}, err
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &r.Extra); err != nil {
			return Requisition{}, err
		}
	}
	return r, nil
}

// Get loads a requisition by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Requisition, error) {
	req, err := ScanRow(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM requisitions r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	return req, err
}

// GetMany loads requisitions by id; unknown ids are skipped.
func (r *Repository) GetMany(ctx context.Context, ids []uuid.UUID) ([]Requisition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+Columns+` FROM requisitions r WHERE r.id = ANY($1) ORDER BY r.number, r.item_number`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Requisition
	for rows.Next() {
		req, err := ScanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// List returns requisitions newest first with the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Requisition, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, db.ContainsPattern(filter.Search))
		where += ` AND (r.number ILIKE $1 ESCAPE '\' OR r.description ILIKE $1 ESCAPE '\'
			OR r.manufacturer ILIKE $1 ESCAPE '\' OR r.category_code ILIKE $1 ESCAPE '\'
			OR r.material_code ILIKE $1 ESCAPE '\')`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM requisitions r`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := filter.Page, filter.PerPage
	n := len(args)
	dataSQL := `SELECT ` + Columns + ` FROM requisitions r` + where +
		` ORDER BY r.created_at DESC, r.number, r.item_number LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Requisition
	for rows.Next() {
		req, err := ScanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
