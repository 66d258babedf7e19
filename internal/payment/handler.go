package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/gateway"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
	"github.com/zbnerd/TutorFlow/pkg/response"
)

const maxWebhookBody = 1 << 20

// Handler handles HTTP requests for payment operations
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for authenticated payment endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/confirm", h.Confirm)
	r.Get("/orders/{orderId}", h.GetByOrderID)

	return r
}

// WebhookRoutes returns the router for gateway callbacks; they authenticate by signature
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Webhook)

	return r
}

// Confirm handles POST /payments/confirm
// @Summary Confirm a payment after the gateway redirect
// @Tags payments
// @Accept json
// @Produce json
// @Param request body ConfirmRequest true "Confirmation"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.APIResponse
// @Failure 502 {object} response.APIResponse
// @Router /payments/confirm [post]
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	res, err := h.service.Confirm(r.Context(), actor(r), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}

// GetByOrderID handles GET /payments/orders/{orderId}
func (h *Handler) GetByOrderID(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetByOrderID(r.Context(), actor(r), chi.URLParam(r, "orderId"))
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, p)
}

// Webhook handles POST /webhooks/payments
// @Summary Payment gateway status callback
// @Tags payments
// @Accept json
// @Produce json
// @Param Toss-Signature header string true "base64 HMAC-SHA256 of the body"
// @Success 200 {object} response.APIResponse
// @Failure 401 {object} response.APIResponse
// @Router /webhooks/payments [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	res, err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			response.Error(w, http.StatusUnauthorized, ErrInvalidSignature.Code, ErrInvalidSignature.Message)
			return
		}
		response.FromError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"processed": res != nil,
		"result":    res,
	})
}

func actor(r *http.Request) domain.Actor {
	id, _ := middleware.GetUserID(r.Context())
	return domain.Actor{ID: id, Role: domain.Role(middleware.GetRole(r.Context()))}
}
