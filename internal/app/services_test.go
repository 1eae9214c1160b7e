package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cota-system/cota/internal/mail"
	"github.com/cota-system/cota/internal/view"
)

func TestNewMailerSelectsProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m, err := NewMailer(&Config{MailProvider: "log"}, logger, nil)
	require.NoError(t, err)
	assert.IsType(t, &mail.LogMailer{}, m)

	m, err = NewMailer(&Config{
		MailProvider:      "emailjs",
		EmailJSEndpoint:   "https://api.emailjs.com/api/v1.0/email/send",
		EmailJSServiceID:  "svc",
		EmailJSTemplateID: "tpl",
		EmailJSPublicKey:  "pub",
	}, logger, nil)
	require.NoError(t, err)
	assert.IsType(t, &mail.EmailJS{}, m)

	_, err = NewMailer(&Config{MailProvider: "smtp"}, logger, nil)
	assert.Error(t, err)

	engine, err := view.NewEngine()
	require.NoError(t, err)
	m, err = NewMailer(&Config{MailProvider: "smtp", SMTPHost: "127.0.0.1", SMTPPort: 1025}, logger, engine)
	require.NoError(t, err)
	assert.IsType(t, &mail.SMTP{}, m)

	_, err = NewMailer(&Config{MailProvider: "fax"}, logger, nil)
	assert.Error(t, err)
}

func TestNewServicesRequiresPool(t *testing.T) {
	_, err := NewServices(ServiceParams{Config: &Config{}})
	assert.Error(t, err)
}

func TestConfigBranding(t *testing.T) {
	b := (&Config{CompanyName: "Cota S.A.", PublicBaseURL: "https://cota.example"}).Branding()
	assert.Equal(t, "Cota S.A.", b.CompanyName)
	assert.Equal(t, "https://cota.example", b.BaseURL)
}
