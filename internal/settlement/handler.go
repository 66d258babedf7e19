package settlement

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
	"github.com/zbnerd/TutorFlow/pkg/response"
)

// Handler handles HTTP requests for settlement operations
type Handler struct {
	service *Service
}

// NewHandler creates a new settlement handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for settlement endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.With(middleware.RequireRole(string(domain.RoleAdmin))).Post("/run", h.Run)

	return r
}

// Run handles POST /settlements/run
// @Summary Run the monthly settlement batch
// @Tags settlements
// @Produce json
// @Param month query string false "YYYY-MM, defaults to the previous month"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.APIResponse
// @Router /settlements/run [post]
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	month := h.service.DefaultMonth()
	if q := r.URL.Query().Get("month"); q != "" {
		var err error
		if month, err = domain.ParseYearMonth(q); err != nil {
			response.FromError(w, ErrInvalidMonth)
			return
		}
	}

	report, err := h.service.Run(r.Context(), month)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, report)
}

// GetByID handles GET /settlements/{id}
// @Summary Get a settlement
// @Tags settlements
// @Produce json
// @Param id path int true "Settlement ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.APIResponse
// @Router /settlements/{id} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid settlement ID")
		return
	}

	st, err := h.service.Get(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, st)
}

// List handles GET /settlements
// @Summary List settlements
// @Tags settlements
// @Produce json
// @Param month query string false "YYYY-MM"
// @Param tutor_id query int false "Tutor (admins only)"
// @Success 200 {object} response.APIResponse
// @Router /settlements [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.SettlementFilter{YearMonth: q.Get("month")}
	f.TutorID, _ = strconv.ParseInt(q.Get("tutor_id"), 10, 64)

	settlements, err := h.service.List(r.Context(), actor(r), f)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, settlements)
}

func actor(r *http.Request) domain.Actor {
	id, _ := middleware.GetUserID(r.Context())
	return domain.Actor{ID: id, Role: domain.Role(middleware.GetRole(r.Context()))}
}
