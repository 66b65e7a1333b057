package handlers

import (
	"io"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/services"
	"ticket-engine/internal/services/provider"
)

type PaymentHandler struct {
	payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// ConfirmWebhook - Provider payment confirmation callback
func (h *PaymentHandler) ConfirmWebhook(e *core.RequestEvent) error {
	providerName := provider.Name(e.Request.PathValue("provider"))

	signature := e.Request.Header.Get("X-Signature")
	if signature == "" {
		return apis.NewUnauthorizedError("Missing signature", nil)
	}

	payload, err := io.ReadAll(io.LimitReader(e.Request.Body, 1<<20))
	if err != nil {
		return apis.NewBadRequestError("Unreadable body", err)
	}

	order, err := h.payments.ConfirmWebhook(e.Request.Context(), providerName, payload, signature)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, order)
}

// ConfirmCash - Operator confirms a box-office cash payment
func (h *PaymentHandler) ConfirmCash(e *core.RequestEvent) error {
	if err := requireRole(e, "operator", "admin"); err != nil {
		return err
	}

	req := struct {
		OrderID string `json:"order_id" validate:"required"`
	}{}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return apis.NewBadRequestError("Validation failed", err)
	}

	order, err := h.payments.ConfirmCash(e.Request.Context(), req.OrderID, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, order)
}
