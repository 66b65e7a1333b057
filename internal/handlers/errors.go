package handlers

import (
	"errors"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-engine/internal/status"
)

// apiError maps service failures onto HTTP responses. Capacity and
// concurrency losses are client-visible conflicts, not server faults.
func apiError(err error) error {
	switch {
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("Not found", err)
	case errors.Is(err, status.ErrInsufficientStock),
		errors.Is(err, status.ErrUnitUnavailable),
		errors.Is(err, status.ErrReservationExpired),
		errors.Is(err, status.ErrAlreadyCommitted),
		errors.Is(err, status.ErrStatusConflict),
		errors.Is(err, status.ErrAlreadyCheckedIn),
		errors.Is(err, status.ErrAlreadyConfirmed),
		errors.Is(err, status.ErrInvalidTicketStatus):
		return apis.NewApiError(409, err.Error(), err)
	case errors.Is(err, status.ErrLimitExceeded),
		errors.Is(err, status.ErrSalesClosed),
		errors.Is(err, status.ErrRefundExceedsBalance),
		errors.Is(err, status.ErrInvalidAmount):
		return apis.NewBadRequestError(err.Error(), err)
	case errors.Is(err, status.ErrSignatureInvalid):
		return apis.NewUnauthorizedError("Invalid signature", err)
	case errors.Is(err, status.ErrProviderFailure):
		return apis.NewApiError(502, "Payment provider unavailable", err)
	default:
		return apis.NewApiError(500, "Internal error", err)
	}
}

func requireAuth(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Authentication required", nil)
	}
	return nil
}

func requireRole(e *core.RequestEvent, roles ...string) error {
	if err := requireAuth(e); err != nil {
		return err
	}
	got := e.Auth.GetString("role")
	for _, role := range roles {
		if got == role {
			return nil
		}
	}
	return apis.NewForbiddenError("Insufficient role", nil)
}
