package requisitions

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cota-system/cota/internal/platform/httpx"
	"github.com/cota-system/cota/internal/spreadsheet"
)

// Handler exposes requisition endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	maxUpload int64
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, maxUpload int64) *Handler {
	return &Handler{logger: logger, service: service, maxUpload: maxUpload}
}

// MountRoutes registers requisition routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/import", h.importFiles)
	r.Post("/preview", h.preview)
	r.Get("/{id}", h.get)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, page, err := h.service.List(r.Context(), ListFilter{
		Search:  r.URL.Query().Get("search"),
		Page:    httpx.QueryInt(r, "page", 1),
		PerPage: httpx.QueryInt(r, "per_page", 20),
	})
	if err != nil {
		h.logger.Error("list requisitions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	req, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respond(w, "create requisition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a UUID")
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respond(w, "get requisition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) importFiles(w http.ResponseWriter, r *http.Request) {
	files, ok := h.uploads(w, r)
	if !ok {
		return
	}
	report, err := h.service.Import(r.Context(), files)
	if err != nil {
		h.respond(w, "import requisitions", err)
		return
	}
	status := http.StatusCreated
	if report.Accepted == 0 {
		status = http.StatusOK
	}
	httpx.JSON(w, status, report)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	files, ok := h.uploads(w, r)
	if !ok {
		return
	}
	preview, err := h.service.Preview(r.Context(), files)
	if err != nil {
		h.respond(w, "preview requisitions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) uploads(w http.ResponseWriter, r *http.Request) ([]spreadsheet.File, bool) {
	files, err := httpx.ReadUploads(r, "files", h.maxUpload)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return nil, false
	}
	return files, true
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
