package review

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
	"github.com/zbnerd/TutorFlow/pkg/response"
)

// Handler handles HTTP requests for reviews
type Handler struct {
	service *Service
}

// NewHandler creates a new review handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for review endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	admin := middleware.RequireRole(string(domain.RoleAdmin))

	r.Post("/", h.Create)
	r.Get("/eligibility", h.Eligibility)
	r.Get("/ratings/{tutorID}", h.Rating)
	r.With(admin).Get("/reports", h.ListReports)
	r.With(admin).Post("/reports/{id}/resolve", h.ResolveReport)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		r.Post("/reply", h.Reply)
		r.Post("/report", h.Report)
		r.With(admin).Put("/status", h.Moderate)
	})

	return r
}

// Create handles POST /reviews
// @Summary Review a booking
// @Description Only the paying student of a booking with at least one completed session may review it, once
// @Tags reviews
// @Accept json
// @Produce json
// @Param request body CreateReviewRequest true "Review"
// @Success 201 {object} response.APIResponse
// @Failure 403 {object} response.APIResponse
// @Failure 409 {object} response.APIResponse
// @Router /reviews [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	rv, err := h.service.Create(r.Context(), actor(r), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, rv)
}

// Eligibility handles GET /reviews/eligibility?booking_id=
// @Summary Check whether the caller may review a booking
// @Tags reviews
// @Produce json
// @Param booking_id query int true "Booking ID"
// @Success 200 {object} response.APIResponse
// @Router /reviews/eligibility [get]
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(r.URL.Query().Get("booking_id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return
	}

	res, err := h.service.CanReview(r.Context(), actor(r), bookingID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// Get handles GET /reviews/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rv, err := h.service.Get(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rv)
}

// Update handles PATCH /reviews/{id}
// @Summary Edit a review within the edit window
// @Tags reviews
// @Accept json
// @Produce json
// @Param id path int true "Review ID"
// @Param request body UpdateReviewRequest true "Changes"
// @Success 200 {object} response.APIResponse
// @Failure 409 {object} response.APIResponse
// @Router /reviews/{id} [patch]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	rv, err := h.service.Update(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rv)
}

// Delete handles DELETE /reviews/{id}
// @Summary Delete a review within the edit window
// @Tags reviews
// @Param id path int true "Review ID"
// @Success 204
// @Router /reviews/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor(r), id); err != nil {
		response.FromError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reply handles POST /reviews/{id}/reply
// @Summary Reply to a review as its tutor
// @Tags reviews
// @Accept json
// @Produce json
// @Param id path int true "Review ID"
// @Param request body ReplyRequest true "Reply"
// @Success 200 {object} response.APIResponse
// @Failure 409 {object} response.APIResponse
// @Router /reviews/{id}/reply [post]
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	rv, err := h.service.Reply(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rv)
}

// Report handles POST /reviews/{id}/report
// @Summary Report a review
// @Tags reviews
// @Accept json
// @Produce json
// @Param id path int true "Review ID"
// @Param request body ReportRequest true "Report"
// @Success 201 {object} response.APIResponse
// @Router /reviews/{id}/report [post]
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	rep, err := h.service.Report(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, rep)
}

// Moderate handles PUT /reviews/{id}/status
func (h *Handler) Moderate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ModerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	rv, err := h.service.Moderate(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rv)
}

// ListReports handles GET /reviews/reports?status=
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	status := domain.ReportStatus(r.URL.Query().Get("status"))

	reports, err := h.service.ListReports(r.Context(), actor(r), status)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, reports)
}

// ResolveReport handles POST /reviews/reports/{id}/resolve
func (h *Handler) ResolveReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ResolveReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	rep, err := h.service.ResolveReport(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rep)
}

// Rating handles GET /reviews/ratings/{tutorID}
// @Summary Get a tutor's rating and badge tier
// @Tags reviews
// @Produce json
// @Param tutorID path int true "Tutor ID"
// @Success 200 {object} response.APIResponse
// @Router /reviews/ratings/{tutorID} [get]
func (h *Handler) Rating(w http.ResponseWriter, r *http.Request) {
	tutorID, ok := pathID(w, r, "tutorID")
	if !ok {
		return
	}

	rating, err := h.service.Rating(r.Context(), tutorID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rating)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid ID")
		return 0, false
	}
	return id, true
}

func actor(r *http.Request) domain.Actor {
	id, _ := middleware.GetUserID(r.Context())
	return domain.Actor{ID: id, Role: domain.Role(middleware.GetRole(r.Context()))}
}
