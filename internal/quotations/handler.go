package quotations

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cota-system/cota/internal/platform/httpx"
	"github.com/cota-system/cota/internal/requisitions"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// RowParser turns uploaded RC spreadsheets into requisition rows.
type RowParser interface {
	Parse(ctx context.Context, files []spreadsheet.File) (requisitions.Parsed, error)
}

// Handler exposes quotation endpoints for the back office.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	parser    RowParser
	maxUpload int64
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, parser RowParser, maxUpload int64) *Handler {
	return &Handler{logger: logger, service: service, parser: parser, maxUpload: maxUpload}
}

// MountRoutes registers quotation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/stats", h.stats)
	r.Post("/plan", h.plan)
	r.Post("/dispatch", h.dispatch)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/status", h.updateStatus)
		r.Post("/items", h.addItems)
		r.Delete("/items/{itemID}", h.removeItem)
		r.Post("/suppliers", h.addSuppliers)
		r.Delete("/suppliers/{linkID}", h.removeSupplier)
		r.Post("/suppliers/{linkID}/resend", h.resend)
		r.Get("/comparison", h.comparison)
		r.Get("/comparison.csv", h.comparisonCSV)
		r.Get("/comparison.pdf", h.comparisonPDF)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, page, err := h.service.List(r.Context(), ListFilter{
		Search:  q.Get("search"),
		Status:  Status(q.Get("status")),
		Page:    httpx.QueryInt(r, "page", 1),
		PerPage: httpx.QueryInt(r, "per_page", 20),
	})
	if err != nil {
		h.respond(w, "list quotations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if !decode(w, r, &in) {
		return
	}
	d, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respond(w, "create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.respond(w, "quotation stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	files, err := httpx.ReadUploads(r, "files", h.maxUpload)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return
	}
	parsed, err := h.parser.Parse(r.Context(), files)
	if err != nil {
		h.respond(w, "parse requisitions", err)
		return
	}
	plan, err := h.service.Plan(r.Context(), parsed)
	if err != nil {
		h.respond(w, "plan quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	var in DispatchInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.service.Dispatch(r.Context(), in)
	if err != nil {
		h.respond(w, "dispatch quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respond(w, "get quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var in UpdateStatusInput
	if !decode(w, r, &in) {
		return
	}
	q, err := h.service.UpdateStatus(r.Context(), id, in)
	if err != nil {
		h.respond(w, "update quotation status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) addItems(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var in struct {
		RequisitionIDs []uuid.UUID `json:"requisition_ids"`
	}
	if !decode(w, r, &in) {
		return
	}
	items, err := h.service.AddItems(r.Context(), id, in.RequisitionIDs)
	if err != nil {
		h.respond(w, "add quotation items", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, items)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := parseID(w, r, "itemID")
	if !ok {
		return
	}
	if err := h.service.RemoveItem(r.Context(), id, itemID); err != nil {
		h.respond(w, "remove quotation item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addSuppliers(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var in AddSuppliersInput
	if !decode(w, r, &in) {
		return
	}
	invitees, err := h.service.AddSuppliers(r.Context(), id, in)
	if err != nil {
		h.respond(w, "add quotation suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invitees)
}

func (h *Handler) removeSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	linkID, ok := parseID(w, r, "linkID")
	if !ok {
		return
	}
	if err := h.service.RemoveSupplier(r.Context(), id, linkID); err != nil {
		h.respond(w, "remove quotation supplier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resend(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	linkID, ok := parseID(w, r, "linkID")
	if !ok {
		return
	}
	inv, err := h.service.ResendInvitation(r.Context(), id, linkID)
	if err != nil {
		h.respond(w, "resend invitation", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, inv)
}

func (h *Handler) comparison(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.service.Compare(r.Context(), id)
	if err != nil {
		h.respond(w, "compare quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) comparisonCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respond(w, "export quotation csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+d.Number+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := WriteComparisonCSV(w, d.Quotation, Compare(d)); err != nil {
		h.logger.Error("write quotation csv", slog.String("quotation", d.Number), slog.Any("error", err))
	}
}

func (h *Handler) comparisonPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	pdf, err := h.service.ExportPDF(r.Context(), id)
	if errors.Is(err, ErrExportUnavailable) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Export Unavailable", err.Error())
		return
	}
	if err != nil {
		h.respond(w, "export quotation pdf", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="comparativo-`+id.String()+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", param+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// PortalHandler serves the public supplier pages behind /cotacao/{token}.
type PortalHandler struct {
	logger  *slog.Logger
	service *Service
}

// NewPortalHandler builds PortalHandler instance.
func NewPortalHandler(logger *slog.Logger, service *Service) *PortalHandler {
	return &PortalHandler{logger: logger, service: service}
}

// MountRoutes registers portal routes.
func (h *PortalHandler) MountRoutes(r chi.Router) {
	r.Get("/{token}", h.open)
	r.Post("/{token}", h.submit)
}

func (h *PortalHandler) open(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.OpenLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.respond(w, "open supplier link", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *PortalHandler) submit(w http.ResponseWriter, r *http.Request) {
	var in SubmitInput
	if !decode(w, r, &in) {
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	res, err := h.service.SubmitResponse(r.Context(), chi.URLParam(r, "token"), in)
	if err != nil {
		h.respond(w, "submit supplier response", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *PortalHandler) respond(w http.ResponseWriter, op string, err error) {
	h.logger.Info(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
