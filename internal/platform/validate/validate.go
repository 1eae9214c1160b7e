// Package validate wires go-playground/validator with Brazilian document rules.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/cota-system/cota/internal/shared"
)

var (
	cnpjPattern = regexp.MustCompile(`^\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}$`)
	cepPattern  = regexp.MustCompile(`^\d{5}-?\d{3}$`)
	nonDigit    = regexp.MustCompile(`\D`)
)

// States lists the 27 Brazilian federative unit codes.
var States = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO", "MA", "MT", "MS", "MG", "PA",
	"PB", "PR", "PE", "PI", "RJ", "RN", "RS", "RO", "RR", "SC", "SP", "SE", "TO",
}

var stateSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(States))
	for _, s := range States {
		m[s] = struct{}{}
	}
	return m
}()

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator with custom tags registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
			return CNPJ(fl.Field().String())
		})
		_ = v.RegisterValidation("uf", func(fl validator.FieldLevel) bool {
			return UF(fl.Field().String())
		})
		_ = v.RegisterValidation("cep", func(fl validator.FieldLevel) bool {
			return CEP(fl.Field().String())
		})
		instance = v
	})
	return instance
}

// Struct validates s and converts failures into a shared.ValidationError.
func Struct(s any) error {
	fields := Collect(s)
	if len(fields) == 0 {
		return nil
	}
	return shared.NewValidationError(fields)
}

// Collect validates s and returns the failing fields keyed by json name.
// The map is never nil so callers can add their own checks before deciding.
func Collect(s any) shared.FieldErrors {
	fields := shared.FieldErrors{}
	err := Validator().Struct(s)
	if err == nil {
		return fields
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = err.Error()
		return fields
	}
	for _, fe := range verrs {
		fields[fieldPath(fe)] = message(fe)
	}
	return fields
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid e-mail address"
	case "cnpj":
		return "must be a valid CNPJ in the format XX.XXX.XXX/XXXX-XX"
	case "uf":
		return "must be a Brazilian state code"
	case "cep":
		return "must be a postal code like 01310-100"
	case "min":
		return "must have at least " + fe.Param() + " characters or items"
	case "max":
		return "must have at most " + fe.Param() + " characters or items"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// CNPJ reports whether s is a masked CNPJ with valid check digits.
func CNPJ(s string) bool {
	if !cnpjPattern.MatchString(s) {
		return false
	}
	return cnpjDigits(nonDigit.ReplaceAllString(s, ""))
}

func cnpjDigits(d string) bool {
	if len(d) != 14 {
		return false
	}
	if strings.Count(d, d[:1]) == 14 {
		return false
	}
	weights := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	check := func(n int) byte {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(d[i]-'0') * weights[len(weights)-n+i]
		}
		r := sum % 11
		if r < 2 {
			return '0'
		}
		return byte('0' + 11 - r)
	}
	return check(12) == d[12] && check(13) == d[13]
}

// FormatCNPJ masks a 14 digit CNPJ; other inputs are returned with non-digits removed.
func FormatCNPJ(s string) string {
	d := nonDigit.ReplaceAllString(s, "")
	if len(d) != 14 {
		return d
	}
	return d[0:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:14]
}

// UF reports whether s is one of the Brazilian state codes.
func UF(s string) bool {
	_, ok := stateSet[s]
	return ok
}

// CEP reports whether s looks like a Brazilian postal code.
func CEP(s string) bool {
	return cepPattern.MatchString(s)
}

// Email validates an address with the same rule used by struct tags.
func Email(s string) bool {
	return Validator().Var(s, "required,email") == nil
}
