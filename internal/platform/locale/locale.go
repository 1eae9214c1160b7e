// Package locale formats values for Brazilian Portuguese readers.
package locale

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Brasilia has had no daylight saving time since 2019.
var Brasilia = time.FixedZone("BRT", -3*60*60)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// Money renders an amount as "R$ 1.234,50".
func Money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return printer.Sprintf("R$ %.2f", f)
}

// Number renders a quantity with pt-BR separators, keeping up to three decimals.
func Number(d decimal.Decimal) string {
	f, _ := d.Round(3).Float64()
	return printer.Sprintf("%g", f)
}

// Percent renders a percentage with one decimal, such as "8,3%".
func Percent(d decimal.Decimal) string {
	f, _ := d.Round(1).Float64()
	return printer.Sprintf("%.1f%%", f)
}

// Date renders t as dd/mm/yyyy in Brasília time. The zero time renders empty.
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(Brasilia).Format("02/01/2006")
}

// DateTime renders t as dd/mm/yyyy hh:mm in Brasília time.
func DateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(Brasilia).Format("02/01/2006 15:04")
}
