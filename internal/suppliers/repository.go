package suppliers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cota-system/cota/internal/platform/db"
	"github.com/cota-system/cota/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Supplier, error)
	List(ctx context.Context, filter ListFilter) ([]Supplier, int, error)
	ListAll(ctx context.Context) ([]Supplier, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, s Supplier) error
	Update(ctx context.Context, s Supplier) error
	Delete(ctx context.Context, id uuid.UUID) error
	Upsert(ctx context.Context, s Supplier) error
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

// Columns lists supplier columns in the order ScanRow expects.
const Columns = `s.id, s.legal_name, s.cnpj, s.email, s.phone, s.address, s.city, s.state, s.postal_code,
	s.rating, s.status, s.notes, s.category_code, s.category_name, s.sap_code, s.family, s.created_at, s.updated_at`

// ScanRow reads the columns listed in Columns, followed by any extra destinations.
func ScanRow(row pgx.Row, extra ...any) (Supplier, error) {
	var s Supplier
	dest := []any{&s.ID, &s.LegalName, &s.CNPJ, &s.Email, &s.Phone, &s.Address, &s.City, &s.State,
		&s.PostalCode, &s.Rating, &s.Status, &s.Notes, &s.CategoryCode, &s.CategoryName, &s.SAPCode,
		&s.Family, &s.CreatedAt, &s.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	return s, err
}

func args(s Supplier) []any {
	return []any{s.ID, s.LegalName, s.CNPJ, s.Email, s.Phone, s.Address, s.City, s.State, s.PostalCode,
		s.Rating, string(s.Status), s.Notes, s.CategoryCode, s.CategoryName, s.SAPCode, s.Family, s.CreatedAt, s.UpdatedAt}
}

func mapWriteErr(err error, s Supplier) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("supplier %s already registered for category %s: %w", s.CNPJ, s.CategoryCode, shared.ErrDuplicate)
	}
	return err
}

func (t *txRepo) Insert(ctx context.Context, s Supplier) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO suppliers (id, legal_name, cnpj, email, phone, address, city, state, postal_code,
		rating, status, notes, category_code, category_name, sap_code, family, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`, args(s)...)
	return mapWriteErr(err, s)
}

func (t *txRepo) Update(ctx context.Context, s Supplier) error {
	tag, err := t.tx.Exec(ctx, `UPDATE suppliers SET legal_name=$2, cnpj=$3, email=$4, phone=$5, address=$6, city=$7,
		state=$8, postal_code=$9, rating=$10, status=$11, notes=$12, category_code=$13, category_name=$14, sap_code=$15,
		family=$16, updated_at=$17 WHERE id=$1`,
		s.ID, s.LegalName, s.CNPJ, s.Email, s.Phone, s.Address, s.City, s.State, s.PostalCode,
		s.Rating, string(s.Status), s.Notes, s.CategoryCode, s.CategoryName, s.SAPCode, s.Family, s.UpdatedAt)
	if err != nil {
		return mapWriteErr(err, s)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts or refreshes the row keyed by CNPJ and category.
func (t *txRepo) Upsert(ctx context.Context, s Supplier) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO suppliers (id, legal_name, cnpj, email, phone, address, city, state, postal_code,
		rating, status, notes, category_code, category_name, sap_code, family, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (cnpj, category_code) DO UPDATE SET legal_name=EXCLUDED.legal_name, email=EXCLUDED.email,
		phone=EXCLUDED.phone, address=EXCLUDED.address, city=EXCLUDED.city, state=EXCLUDED.state,
		postal_code=EXCLUDED.postal_code, category_name=EXCLUDED.category_name, sap_code=EXCLUDED.sap_code,
		family=EXCLUDED.family, updated_at=EXCLUDED.updated_at`, args(s)...)
	return err
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM suppliers WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("supplier has quotation invitations: %w", shared.ErrConflict)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads a supplier by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Supplier, error) {
	s, err := ScanRow(r.pool.QueryRow(ctx, `SELECT `+Columns+` FROM suppliers s WHERE s.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	return s, err
}

// ListAll returns the whole catalog ordered by legal name.
func (r *Repository) ListAll(ctx context.Context) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+Columns+` FROM suppliers s ORDER BY s.legal_name, s.category_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Supplier
	for rows.Next() {
		s, err := ScanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// List returns a page of suppliers ordered by legal name.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Supplier, int, error) {
	where := ` WHERE 1=1`
	params := []any{}
	if filter.Status != "" {
		params = append(params, string(filter.Status))
		where += ` AND s.status = $` + strconv.Itoa(len(params))
	}
	if filter.Search != "" {
		params = append(params, db.ContainsPattern(filter.Search))
		like := ` ILIKE $` + strconv.Itoa(len(params)) + ` ESCAPE '\'`
		where += ` AND (s.legal_name` + like + ` OR s.cnpj` + like + ` OR s.email` + like +
			` OR s.category_code` + like + ` OR s.category_name` + like + `)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers s`+where, params...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(params)
	dataSQL := `SELECT ` + Columns + ` FROM suppliers s` + where +
		` ORDER BY s.legal_name, s.category_code LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	params = append(params, filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, dataSQL, params...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Supplier
	for rows.Next() {
		s, err := ScanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
