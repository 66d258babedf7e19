package booking

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/store"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
	"github.com/zbnerd/TutorFlow/pkg/response"
)

// Handler handles HTTP requests for booking operations
type Handler struct {
	service *Service
}

// NewHandler creates a new booking handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for booking endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.Get("/{id}/sessions", h.Sessions)
	r.Get("/{id}/refund-estimate", h.RefundEstimate)
	r.Post("/{id}/checkout", h.Checkout)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/cancel", h.Cancel)

	return r
}

// Create handles POST /bookings
// @Summary Request a booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param request body CreateBookingRequest true "Booking request"
// @Success 201 {object} response.APIResponse
// @Failure 400 {object} response.APIResponse
// @Failure 409 {object} response.APIResponse
// @Router /bookings [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	b, err := h.service.Create(r.Context(), actor(r), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, b)
}

// List handles GET /bookings
// @Summary List my bookings
// @Tags bookings
// @Produce json
// @Param status query string false "Booking status"
// @Param page query int false "Page"
// @Param per_page query int false "Page size"
// @Success 200 {object} response.APIResponse
// @Router /bookings [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	f := store.BookingFilter{Status: domain.BookingStatus(q.Get("status"))}
	f.TutorID, _ = strconv.ParseInt(q.Get("tutor_id"), 10, 64)
	f.StudentID, _ = strconv.ParseInt(q.Get("student_id"), 10, 64)

	bookings, total, err := h.service.List(r.Context(), actor(r), f, page, perPage)
	if err != nil {
		response.FromError(w, err)
		return
	}

	totalPages := (total + perPage - 1) / perPage
	response.JSONWithMeta(w, http.StatusOK, bookings, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// GetByID handles GET /bookings/{id}
// @Summary Get a booking
// @Tags bookings
// @Produce json
// @Param id path int true "Booking ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.APIResponse
// @Router /bookings/{id} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	b, err := h.service.GetByID(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, b)
}

// Sessions handles GET /bookings/{id}/sessions
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.Sessions(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, sessions)
}

// RefundEstimate handles GET /bookings/{id}/refund-estimate
// @Summary Price a cancellation without performing it
// @Tags bookings
// @Produce json
// @Param id path int true "Booking ID"
// @Success 200 {object} response.APIResponse
// @Router /bookings/{id}/refund-estimate [get]
func (h *Handler) RefundEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	breakdown, err := h.service.RefundEstimate(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, breakdown)
}

// Checkout handles POST /bookings/{id}/checkout
// @Summary Open the booking's payment
// @Tags bookings
// @Produce json
// @Param id path int true "Booking ID"
// @Success 200 {object} response.APIResponse
// @Router /bookings/{id}/checkout [post]
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	p, err := h.service.Checkout(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, p)
}

// Approve handles POST /bookings/{id}/approve
// @Summary Approve a paid booking
// @Tags bookings
// @Produce json
// @Param id path int true "Booking ID"
// @Success 200 {object} response.APIResponse
// @Failure 409 {object} response.APIResponse
// @Router /bookings/{id}/approve [post]
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	b, err := h.service.Approve(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, b)
}

// Reject handles POST /bookings/{id}/reject
// @Summary Reject a pending booking
// @Tags bookings
// @Accept json
// @Produce json
// @Param id path int true "Booking ID"
// @Param request body ReasonRequest false "Reason"
// @Success 200 {object} response.APIResponse
// @Router /bookings/{id}/reject [post]
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	req, ok := reason(w, r)
	if !ok {
		return
	}

	res, err := h.service.Reject(r.Context(), actor(r), id, req.Reason)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// Cancel handles POST /bookings/{id}/cancel
// @Summary Cancel a booking and refund unconsumed sessions
// @Tags bookings
// @Accept json
// @Produce json
// @Param id path int true "Booking ID"
// @Param request body ReasonRequest false "Reason"
// @Success 200 {object} response.APIResponse
// @Router /bookings/{id}/cancel [post]
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	req, ok := reason(w, r)
	if !ok {
		return
	}

	res, err := h.service.Cancel(r.Context(), actor(r), id, req.Reason)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return 0, false
	}
	return id, true
}

// reason decodes an optional reason body
func reason(w http.ResponseWriter, r *http.Request) (ReasonRequest, bool) {
	var req ReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid request body")
		return req, false
	}
	return req, true
}

func actor(r *http.Request) domain.Actor {
	id, _ := middleware.GetUserID(r.Context())
	return domain.Actor{ID: id, Role: domain.Role(middleware.GetRole(r.Context()))}
}
