package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/services"
)

type RefundHandler struct {
	refunds *services.RefundService
	orders  *services.OrderService
}

func NewRefundHandler(refunds *services.RefundService, orders *services.OrderService) *RefundHandler {
	return &RefundHandler{refunds: refunds, orders: orders}
}

type refundRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	Reason      string `json:"reason"`
}

// RequestRefund - Open a refund against a paid order
func (h *RefundHandler) RequestRefund(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	req := refundRequest{}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return apis.NewBadRequestError("Validation failed", err)
	}

	ctx := e.Request.Context()
	order, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return apiError(err)
	}
	if order.UserID != e.Auth.Id && e.Auth.GetString("role") != "admin" {
		return apis.NewForbiddenError("Not your order", nil)
	}

	refund, err := h.refunds.Request(ctx, req.OrderID, req.AmountMinor, req.Reason, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusCreated, refund)
}

// ApproveRefund - Admin approves a requested refund
func (h *RefundHandler) ApproveRefund(e *core.RequestEvent) error {
	if err := requireRole(e, "admin"); err != nil {
		return err
	}

	refundID := e.Request.PathValue("refundId")

	refund, err := h.refunds.Approve(e.Request.Context(), refundID, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, refund)
}

// ProcessRefund - Execute a refund through the payment provider
func (h *RefundHandler) ProcessRefund(e *core.RequestEvent) error {
	if err := requireRole(e, "admin"); err != nil {
		return err
	}

	refundID := e.Request.PathValue("refundId")

	refund, err := h.refunds.Process(e.Request.Context(), refundID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, refund)
}

type forceRefundRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	AmountMinor int64  `json:"amount_minor" validate:"omitempty,gt=0"`
	Reason      string `json:"reason" validate:"required"`
}

// ForceRefund - Admin refunds without the approval step, e.g. a cancelled
// event. A zero amount refunds the order's full remaining balance.
func (h *RefundHandler) ForceRefund(e *core.RequestEvent) error {
	if err := requireRole(e, "admin"); err != nil {
		return err
	}

	req := forceRefundRequest{}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return apis.NewBadRequestError("Validation failed", err)
	}

	refund, err := h.refunds.ForceRefund(e.Request.Context(), req.OrderID, req.AmountMinor, req.Reason, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, refund)
}

// ListRefunds - List an order's refunds
func (h *RefundHandler) ListRefunds(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	orderID := e.Request.PathValue("orderId")
	ctx := e.Request.Context()

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		return apiError(err)
	}
	if order.UserID != e.Auth.Id && e.Auth.GetString("role") != "admin" {
		return apis.NewForbiddenError("Not your order", nil)
	}

	refunds, err := h.refunds.ListByOrder(ctx, orderID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, refunds)
}
