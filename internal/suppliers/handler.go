package suppliers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cota-system/cota/internal/platform/httpx"
)

// Handler exposes supplier endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	maxUpload int64
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, maxUpload int64) *Handler {
	return &Handler{logger: logger, service: service, maxUpload: maxUpload}
}

// MountRoutes registers supplier routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/import", h.importFiles)
	r.Get("/match", h.match)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.delete)
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
		h.respond(w, "list suppliers", err)
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
	sup, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.respond(w, "create supplier", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sup)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sup, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respond(w, "get supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sup)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	sup, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.respond(w, "update supplier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sup)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respond(w, "delete supplier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) importFiles(w http.ResponseWriter, r *http.Request) {
	files, err := httpx.ReadUploads(r, "files", h.maxUpload)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return
	}
	report, err := h.service.Import(r.Context(), files)
	if err != nil {
		h.respond(w, "import suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	var codes []string
	for _, c := range strings.Split(r.URL.Query().Get("categories"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	matched, err := h.service.MatchByCategories(r.Context(), codes)
	if err != nil {
		h.respond(w, "match suppliers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, matched)
}

func (h *Handler) respond(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
