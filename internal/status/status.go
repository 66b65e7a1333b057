package status

import "errors"

// Capacity errors. The caller can recover by picking different items;
// they are never retried automatically.
var (
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrUnitUnavailable   = errors.New("inventory: unit unavailable")
	ErrLimitExceeded     = errors.New("order: ticket limit exceeded")
)

// Concurrency errors. Another caller or the expiry sweep won the race.
var (
	ErrReservationExpired = errors.New("reservation: expired")
	ErrAlreadyCommitted   = errors.New("reservation: already committed")
	ErrStatusConflict     = errors.New("status precondition failed")
)

// Integrity errors. Always rejected, never coerced into a partial success.
var (
	ErrRefundExceedsBalance = errors.New("refund: amount exceeds refundable balance")
	ErrInvalidAmount        = errors.New("refund: amount must be positive")
	ErrInvalidTicketStatus  = errors.New("ticket: invalid status for operation")
	ErrAlreadyCheckedIn     = errors.New("ticket: already checked in")
	ErrAlreadyConfirmed     = errors.New("payment: already confirmed")
	ErrSignatureInvalid     = errors.New("payment: signature invalid")
	ErrSalesClosed          = errors.New("order: sales window closed")
)

// Lookup and external errors.
var (
	ErrNotFound        = errors.New("record not found")
	ErrProviderFailure = errors.New("payment provider call failed")
)
