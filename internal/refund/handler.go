package refund

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
	"github.com/zbnerd/TutorFlow/pkg/response"
)

// Handler handles HTTP requests for refunds
type Handler struct {
	service *Service
}

// NewHandler creates a new refund handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for refund endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{id}", h.GetByID)
	r.With(middleware.RequireRole(string(domain.RoleAdmin))).Post("/{id}/retry", h.Retry)
	r.With(middleware.RequireRole(string(domain.RoleAdmin))).Post("/retry-failed", h.RetryFailed)

	return r
}

// GetByID handles GET /refunds/{id}
// @Summary Get a refund
// @Tags refunds
// @Produce json
// @Param id path int true "Refund ID"
// @Success 200 {object} response.APIResponse
// @Router /refunds/{id} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid refund ID")
		return
	}

	refund, err := h.service.GetByID(r.Context(), id, actor(r))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, refund)
}

// Retry handles POST /refunds/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid refund ID")
		return
	}

	a := actor(r)
	refund, err := h.service.Issue(r.Context(), id, &a.ID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, refund)
}

// RetryFailed handles POST /refunds/retry-failed
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RetryFailed(r.Context(), 100)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, report)
}

func actor(r *http.Request) domain.Actor {
	id, _ := middleware.GetUserID(r.Context())
	return domain.Actor{ID: id, Role: domain.Role(middleware.GetRole(r.Context()))}
}
