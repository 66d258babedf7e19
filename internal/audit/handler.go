package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/pkg/response"
)

// Handler handles HTTP requests for the audit log
type Handler struct {
	service *Service
}

// NewHandler creates a new audit handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for audit endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)

	return r
}

// List handles GET /audit?entity_type=booking&entity_id=1
// @Summary List audit entries
// @Tags audit
// @Produce json
// @Param entity_type query string true "Entity type"
// @Param entity_id query int false "Entity ID"
// @Success 200 {object} response.APIResponse
// @Router /audit [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var entityID int64
	if raw := r.URL.Query().Get("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			response.BadRequest(w, "Invalid entity ID")
			return
		}
		entityID = id
	}

	entries, err := h.service.List(r.Context(), r.URL.Query().Get("entity_type"), entityID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, entries)
}
