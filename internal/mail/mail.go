// Package mail builds and delivers quotation invitation emails.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cota-system/cota/internal/platform/locale"
)

// NotInformed replaces empty template values.
const NotInformed = "Não informado"

// ErrPermanent marks delivery failures that retrying cannot fix.
var ErrPermanent = errors.New("mail: permanent failure")

// Params is the flat parameter map handed to email templates.
type Params map[string]string

// Recipient returns the destination address.
func (p Params) Recipient() string {
	return p["email"]
}

// Mailer delivers invitation emails.
type Mailer interface {
	SendInvitation(ctx context.Context, params Params) error
}

// Branding identifies the sending company.
type Branding struct {
	CompanyName string
	CompanyLogo string
	BaseURL     string
}

// Invitation carries the data of one supplier invitation.
type Invitation struct {
	Email             string
	SupplierName      string
	Description       string
	Date              time.Time
	Token             string
	EstimatedValue    string
	EstimatedDeadline string
	Notes             string
}

// Link returns the public portal address for a token.
func Link(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/cotacao/" + url.PathEscape(token)
}

// InvitationParams flattens an invitation into template parameters. Empty
// values become NotInformed, except the recipient address.
func InvitationParams(inv Invitation, brand Branding) Params {
	link := ""
	if inv.Token != "" {
		link = Link(brand.BaseURL, inv.Token)
	}
	params := Params{
		"supplier_name":      inv.SupplierName,
		"quote_description":  inv.Description,
		"quote_date":         locale.Date(inv.Date),
		"quote_link":         link,
		"estimated_value":    inv.EstimatedValue,
		"estimated_deadline": inv.EstimatedDeadline,
		"notes":              inv.Notes,
		"header_style":       "style='background-color: #1e3a8a; color: white; padding: 20px; text-align: center;'",
		"footer_style":       "style='background-color: #1e3a8a; color: white; padding: 20px; text-align: center; font-size: 14px;'",
		"company_name":       brand.CompanyName,
		"company_logo":       brand.CompanyLogo,
	}
	for k, v := range params {
		if strings.TrimSpace(v) == "" {
			params[k] = NotInformed
		}
	}
	params["email"] = inv.Email
	return params
}

// LogMailer only logs invitations. It is the default outside production.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendInvitation logs the recipient and link.
func (m *LogMailer) SendInvitation(ctx context.Context, params Params) error {
	if params.Recipient() == "" {
		return errors.Join(ErrPermanent, errors.New("recipient is empty"))
	}
	m.logger.InfoContext(ctx, "invitation email",
		slog.String("to", params.Recipient()),
		slog.String("supplier", params["supplier_name"]),
		slog.String("link", params["quote_link"]))
	return nil
}
