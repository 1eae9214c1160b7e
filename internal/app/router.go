package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cota-system/cota/internal/observability"
	"github.com/cota-system/cota/internal/quotations"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/suppliers"
	"github.com/cota-system/cota/jobs"
	"github.com/cota-system/cota/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RequisitionHandler *requisitions.Handler
	SupplierHandler    *suppliers.Handler
	QuotationHandler   *quotations.Handler
	PortalHandler      *quotations.PortalHandler
	ReportHandler      *report.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Cota defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.RequisitionHandler != nil {
			r.Route("/requisitions", params.RequisitionHandler.MountRoutes)
		}
		if params.SupplierHandler != nil {
			r.Route("/suppliers", params.SupplierHandler.MountRoutes)
		}
		if params.QuotationHandler != nil {
			r.Route("/quotations", params.QuotationHandler.MountRoutes)
		}
	})

	// Supplier links are public and throttled per client address.
	if params.PortalHandler != nil {
		r.Route("/cotacao", func(r chi.Router) {
			r.Use(PortalRateLimit())
			params.PortalHandler.MountRoutes(r)
		})
	}
	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
