package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/services"
)

type TicketHandler struct {
	tickets *services.TicketService
}

func NewTicketHandler(tickets *services.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// CheckIn - Gate scan of a ticket
func (h *TicketHandler) CheckIn(e *core.RequestEvent) error {
	if err := requireRole(e, "operator", "admin"); err != nil {
		return err
	}

	ticketID := e.Request.PathValue("ticketId")

	ticket, err := h.tickets.CheckIn(e.Request.Context(), ticketID)
	if err != nil {
		return apiError(err)
	}

	slog.Info("ticket checked in", "ticket_id", ticketID, "operator_id", e.Auth.Id)

	return e.JSON(http.StatusOK, ticket)
}

// CancelTicket - Void an unused ticket
func (h *TicketHandler) CancelTicket(e *core.RequestEvent) error {
	if err := requireRole(e, "admin"); err != nil {
		return err
	}

	ticketID := e.Request.PathValue("ticketId")

	if err := h.tickets.Cancel(e.Request.Context(), ticketID); err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"status": "cancelled"})
}

// ListMyTickets - The caller's tickets, optionally filtered by event
func (h *TicketHandler) ListMyTickets(e *core.RequestEvent) error {
	if err := requireAuth(e); err != nil {
		return err
	}

	eventID := e.Request.URL.Query().Get("event_id")

	tickets, err := h.tickets.ListByUser(e.Request.Context(), e.Auth.Id, eventID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, tickets)
}
