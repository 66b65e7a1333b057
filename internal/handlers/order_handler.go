package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/services"
	"ticket-engine/models"
)

var validate = validator.New()

type OrderHandler struct {
	orders *services.OrderService
}

func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createOrderRequest struct {
	EventID string            `json:"event_id" validate:"required"`
	Items   []createOrderItem `json:"items" validate:"required,min=1,dive"`
	Method  string            `json:"payment_method" validate:"omitempty,oneof=card cash"`
}

type createOrderItem struct {
	TicketTypeID string   `json:"ticket_type_id" validate:"required"`
	Quantity     int      `json:"quantity" validate:"omitempty,min=1"`
	UnitIDs      []string `json:"unit_ids" validate:"omitempty,dive,required"`
}

// CreateOrder - Place an order and hold its inventory
func (h *OrderHandler) CreateOrder(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	req := createOrderRequest{}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return apis.NewBadRequestError("Validation failed", err)
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.OrderItem{
			TicketTypeID: it.TicketTypeID,
			Quantity:     it.Quantity,
			UnitIDs:      it.UnitIDs,
		})
	}

	order, err := h.orders.CreateOrder(e.Request.Context(), services.CreateOrderInput{
		UserID:        e.Auth.Id,
		EventID:       req.EventID,
		Items:         items,
		PaymentMethod: req.Method,
	})
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusCreated, order)
}

// GetOrder - Fetch an order with its tickets
func (h *OrderHandler) GetOrder(e *core.RequestEvent) error {
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

	tickets, err := h.orders.ListTickets(ctx, orderID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"order":   order,
		"tickets": tickets,
	})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder - Abort a pending order and release its hold
func (h *OrderHandler) CancelOrder(e *core.RequestEvent) error {
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

	req := cancelOrderRequest{}
	_ = e.BindBody(&req)

	if err := h.orders.Cancel(ctx, orderID, req.Reason); err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"status": "cancelled"})
}
