package app

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cota-system/cota/internal/access"
	"github.com/cota-system/cota/internal/mail"
	"github.com/cota-system/cota/internal/observability"
	"github.com/cota-system/cota/internal/quotations"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/shared"
	"github.com/cota-system/cota/internal/suppliers"
	"github.com/cota-system/cota/internal/view"
)

// ServiceParams groups the infrastructure the domain services are built on.
// Queue, PDF and Templates are optional.
type ServiceParams struct {
	Config    *Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Queue     quotations.InvitationQueue
	PDF       quotations.PDFRenderer
	Templates *view.Engine
}

// Services holds the domain services shared by the API server, the worker and the CLI.
type Services struct {
	Requisitions *requisitions.Service
	Suppliers    *suppliers.Service
	Quotations   *quotations.Service
	Idempotency  *shared.IdempotencyStore
}

// NewServices wires repositories and services over the given pool.
func NewServices(p ServiceParams) (*Services, error) {
	if p.Config == nil || p.Pool == nil {
		return nil, errors.New("app: config and pool are required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	requisitionService := requisitions.NewService(requisitions.NewRepository(p.Pool), p.Metrics)
	supplierService := suppliers.NewService(
		suppliers.NewRepository(p.Pool),
		suppliers.NewCache(p.Redis, p.Config.CatalogCacheTTL),
		p.Metrics,
		logger,
	)

	deps := quotations.Deps{
		Suppliers:    supplierService,
		Requisitions: requisitionService,
		Issuer:       access.NewIssuer(p.Config.LinkSecret, p.Config.LinkGrace),
		Queue:        p.Queue,
		Audit:        shared.NewAuditLogger(p.Pool),
		Observer:     p.Metrics,
		PDF:          p.PDF,
	}
	if p.Templates != nil {
		deps.Templates = p.Templates
	}
	quotationService := quotations.NewService(quotations.NewRepository(p.Pool), deps, quotations.Config{
		TTL:      p.Config.QuotationTTL,
		Branding: p.Config.Branding(),
	}, logger)

	return &Services{
		Requisitions: requisitionService,
		Suppliers:    supplierService,
		Quotations:   quotationService,
		Idempotency:  shared.NewIdempotencyStore(p.Pool),
	}, nil
}

// Branding returns the sender identity used in emails and reports.
func (c *Config) Branding() mail.Branding {
	return mail.Branding{
		CompanyName: c.CompanyName,
		CompanyLogo: c.CompanyLogo,
		BaseURL:     c.PublicBaseURL,
	}
}

// NewMailer selects the invitation transport named by MAIL_PROVIDER.
func NewMailer(cfg *Config, logger *slog.Logger, renderer mail.Renderer) (mail.Mailer, error) {
	switch cfg.MailProvider {
	case "emailjs":
		m, err := mail.NewEmailJS(mail.EmailJSConfig{
			Endpoint:   cfg.EmailJSEndpoint,
			ServiceID:  cfg.EmailJSServiceID,
			TemplateID: cfg.EmailJSTemplateID,
			PublicKey:  cfg.EmailJSPublicKey,
			PrivateKey: cfg.EmailJSPrivateKey,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case "smtp":
		if renderer == nil {
			return nil, errors.New("app: smtp mailer needs a template renderer")
		}
		return mail.NewSMTP(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Template: view.InvitationEmail,
			Timeout:  cfg.SMTPTimeout,
		}, renderer), nil
	case "log", "":
		return mail.NewLogMailer(logger), nil
	default:
		return nil, errors.New("app: unknown mail provider " + cfg.MailProvider)
	}
}
