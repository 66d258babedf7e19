package attendance

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
	"github.com/zbnerd/TutorFlow/pkg/response"
)

// Handler handles HTTP requests for session attendance
type Handler struct {
	service *Service
}

// NewHandler creates a new attendance handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for session endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{id}", h.Get)
	r.Post("/{id}/attendance", h.Mark)
	r.Put("/{id}/attendance", h.Correct)
	r.With(middleware.RequireRole(string(domain.RoleAdmin))).Post("/{id}/resolve", h.Resolve)

	return r
}

// AdminRoutes returns the router for the attendance jobs
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/sweep", h.Sweep)
	r.Post("/remind", h.Remind)

	return r
}

// Get handles GET /sessions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Get(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, sess)
}

// Mark handles POST /sessions/{id}/attendance
// @Summary Mark a session ATTENDED or NO_SHOW
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path int true "Session ID"
// @Param request body MarkRequest true "Attendance"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.APIResponse
// @Failure 409 {object} response.APIResponse
// @Router /sessions/{id}/attendance [post]
func (h *Handler) Mark(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	res, err := h.service.Mark(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// Correct handles PUT /sessions/{id}/attendance
// @Summary Correct a mark before the deadline
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path int true "Session ID"
// @Param request body MarkRequest true "Attendance"
// @Success 200 {object} response.APIResponse
// @Router /sessions/{id}/attendance [put]
func (h *Handler) Correct(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	res, err := h.service.Correct(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// Resolve handles POST /sessions/{id}/resolve
// @Summary Resolve a no-show awaiting an administrator
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path int true "Session ID"
// @Param request body ResolveRequest true "Decision"
// @Success 200 {object} response.APIResponse
// @Router /sessions/{id}/resolve [post]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	res, err := h.service.ResolveNoShow(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// Sweep handles POST /admin/attendance/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Sweep(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, report)
}

// Remind handles POST /admin/attendance/remind
func (h *Handler) Remind(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RemindUnmarked(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]int{"reminders": n})
}

func sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid session ID")
		return 0, false
	}
	return id, true
}

func actor(r *http.Request) domain.Actor {
	id, _ := middleware.GetUserID(r.Context())
	return domain.Actor{ID: id, Role: domain.Role(middleware.GetRole(r.Context()))}
}
