package suppliers

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cota-system/cota/internal/platform/validate"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// ErrNotFound indicates the supplier does not exist.
var ErrNotFound = shared.ErrNotFound

// Status of a supplier in the approved vendor list.
type Status string

const (
	StatusActive   Status = "ativo"
	StatusPending  Status = "pendente"
	StatusInactive Status = "inativo"
)

// Supplier is one vendor registered for one commodity category.
type Supplier struct {
	ID           uuid.UUID `json:"id"`
	LegalName    string    `json:"legal_name"`
	CNPJ         string    `json:"cnpj"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	PostalCode   string    `json:"postal_code"`
	Rating       *float64  `json:"rating,omitempty"`
	Status       Status    `json:"status"`
	Notes        string    `json:"notes"`
	CategoryCode string    `json:"category_code"`
	CategoryName string    `json:"category_name"`
	SAPCode      string    `json:"sap_code"`
	Family       string    `json:"family"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Input carries writable supplier fields.
type Input struct {
	LegalName    string   `json:"legal_name" validate:"required,min=2"`
	CNPJ         string   `json:"cnpj" validate:"required,cnpj"`
	Email        string   `json:"email" validate:"required,email"`
	Phone        string   `json:"phone"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state" validate:"required,uf"`
	PostalCode   string   `json:"postal_code" validate:"omitempty,cep"`
	Rating       *float64 `json:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	Status       Status   `json:"status" validate:"omitempty,oneof=ativo pendente inativo"`
	Notes        string   `json:"notes"`
	CategoryCode string   `json:"category_code" validate:"required"`
	CategoryName string   `json:"category_name"`
	SAPCode      string   `json:"sap_code" validate:"required"`
	Family       string   `json:"family"`
}

// Normalize trims every field, lower-cases the email, upper-cases the state
// and masks a bare 14 digit CNPJ.
func (in Input) Normalize() Input {
	for _, f := range []*string{&in.LegalName, &in.CNPJ, &in.Phone, &in.Address, &in.City,
		&in.PostalCode, &in.Notes, &in.CategoryCode, &in.CategoryName, &in.SAPCode, &in.Family} {
		*f = strings.TrimSpace(*f)
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.State = strings.ToUpper(strings.TrimSpace(in.State))
	if masked := validate.FormatCNPJ(in.CNPJ); len(masked) == 18 {
		in.CNPJ = masked
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	return in
}

// Validate checks the normalised input.
func (in Input) Validate() error {
	return validate.Struct(in)
}

func (in Input) apply(s *Supplier) {
	s.LegalName = in.LegalName
	s.CNPJ = in.CNPJ
	s.Email = in.Email
	s.Phone = in.Phone
	s.Address = in.Address
	s.City = in.City
	s.State = in.State
	s.PostalCode = in.PostalCode
	s.Rating = in.Rating
	s.Status = in.Status
	s.Notes = in.Notes
	s.CategoryCode = in.CategoryCode
	s.CategoryName = in.CategoryName
	s.SAPCode = in.SAPCode
	s.Family = in.Family
}

// ListFilter narrows List results.
type ListFilter struct {
	Search  string
	Status  Status
	Page    int
	PerPage int
}

// ImportReport summarises a supplier import.
type ImportReport struct {
	Imported int                    `json:"imported"`
	Rejected []spreadsheet.RowError `json:"rejected"`
}
