package user

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
	"github.com/zbnerd/TutorFlow/pkg/response"
)

// Handler handles HTTP requests for user operations
type Handler struct {
	service *Service
}

// NewHandler creates a new user handler with service dependency injected
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for user endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/me", h.Me)
	r.Put("/me/tutor-profile", h.UpdateTutorSettings)
	r.Post("/me/availability", h.CreateSlot)
	r.Patch("/me/availability/{slotID}", h.UpdateSlot)
	r.Delete("/me/availability/{slotID}", h.DeleteSlot)
	r.Get("/{id}", h.GetByID)
	r.Get("/{id}/tutor-profile", h.TutorProfile)
	r.Get("/{id}/availability", h.ListSlots)
	r.Get("/{id}/availability/check", h.CheckAvailability)
	r.With(middleware.RequireRole(string(domain.RoleAdmin))).Put("/{id}/approval", h.SetApproval)

	return r
}

// Create handles POST /users
// @Summary      Create a new user
// @Description  Register a local identity with a role
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body CreateUserRequest true "User creation request"
// @Success      201 {object} response.APIResponse
// @Failure      400 {object} response.APIResponse
// @Router       /users [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	user, err := h.service.Create(r.Context(), actor(r), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, user)
}

// Me handles GET /users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetByID(r.Context(), actor(r).ID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, user)
}

// GetByID handles GET /users/{id}
// @Summary      Get user by ID
// @Tags         users
// @Produce      json
// @Param        id path int true "User ID"
// @Success      200 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /users/{id} [get]
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, user)
}

// TutorProfile handles GET /users/{id}/tutor-profile
// @Summary      Get a tutor's settings
// @Tags         users
// @Produce      json
// @Param        id path int true "Tutor ID"
// @Success      200 {object} response.APIResponse
// @Router       /users/{id}/tutor-profile [get]
func (h *Handler) TutorProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	p, err := h.service.TutorProfile(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, p)
}

// UpdateTutorSettings handles PUT /users/me/tutor-profile
// @Summary      Update the caller's tutor settings
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body TutorSettingsRequest true "Settings"
// @Success      200 {object} response.APIResponse
// @Failure      400 {object} response.APIResponse
// @Router       /users/me/tutor-profile [put]
func (h *Handler) UpdateTutorSettings(w http.ResponseWriter, r *http.Request) {
	var req TutorSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	p, err := h.service.UpdateTutorSettings(r.Context(), actor(r), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, p)
}

// SetApproval handles PUT /users/{id}/approval
func (h *Handler) SetApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	p, err := h.service.SetApproval(r.Context(), actor(r), id, req.Approved)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, p)
}

// CreateSlot handles POST /users/me/availability
// @Summary      Add a weekly availability window
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request body CreateSlotRequest true "Window"
// @Success      201 {object} response.APIResponse
// @Failure      400 {object} response.APIResponse
// @Router       /users/me/availability [post]
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	slot, err := h.service.CreateSlot(r.Context(), actor(r), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, slot)
}

// ListSlots handles GET /users/{id}/availability
// @Summary      List a tutor's availability
// @Tags         users
// @Produce      json
// @Param        id path int true "Tutor ID"
// @Success      200 {object} response.APIResponse
// @Router       /users/{id}/availability [get]
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	slots, err := h.service.ListSlots(r.Context(), actor(r), id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, slots)
}

// CheckAvailability handles GET /users/{id}/availability/check?day=0&time=14:00
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	day, err := strconv.Atoi(r.URL.Query().Get("day"))
	if err != nil {
		response.BadRequest(w, "Invalid day")
		return
	}

	available, err := h.service.CheckAvailability(r.Context(), id, day, r.URL.Query().Get("time"))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]bool{"available": available})
}

// UpdateSlot handles PATCH /users/me/availability/{slotID}
func (h *Handler) UpdateSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}
	var req UpdateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	slot, err := h.service.UpdateSlot(r.Context(), actor(r), id, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, slot)
}

// DeleteSlot handles DELETE /users/me/availability/{slotID}
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteSlot(r.Context(), actor(r), id); err != nil {
		response.FromError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func slotID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "slotID"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid slot ID")
		return 0, false
	}
	return id, true
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid user ID")
		return 0, false
	}
	return id, true
}

func actor(r *http.Request) domain.Actor {
	id, _ := middleware.GetUserID(r.Context())
	return domain.Actor{ID: id, Role: domain.Role(middleware.GetRole(r.Context()))}
}
