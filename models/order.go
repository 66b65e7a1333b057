package models

import (
	"github.com/pocketbase/pocketbase/tools/types"
)

type OrderStatus string

const (
	OrderDraft             OrderStatus = "draft"
	OrderPendingPayment    OrderStatus = "pending_payment"
	OrderPaid              OrderStatus = "paid"
	OrderFailed            OrderStatus = "failed"
	OrderCancelled         OrderStatus = "cancelled"
	OrderRefunded          OrderStatus = "refunded"
	OrderPartiallyRefunded OrderStatus = "partially_refunded"
)

// orderTransitions lists the allowed next states per status. Anything not
// listed here is rejected; terminal states have no entries.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:             {OrderPendingPayment, OrderFailed},
	OrderPendingPayment:    {OrderPaid, OrderFailed, OrderCancelled},
	OrderPaid:              {OrderRefunded, OrderPartiallyRefunded},
	OrderPartiallyRefunded: {OrderRefunded, OrderPartiallyRefunded},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

type Order struct {
	ID                  string         `db:"id" json:"id"`
	UserID              string         `db:"user_id" json:"user_id"`
	EventID             string         `db:"event_id" json:"event_id"`
	Status              OrderStatus    `db:"status" json:"status"`
	TotalAmountMinor    int64          `db:"total_amount_minor" json:"total_amount_minor"`
	RefundedAmountMinor int64          `db:"refunded_amount_minor" json:"refunded_amount_minor"`
	RefundReservedMinor int64          `db:"refund_reserved_minor" json:"-"`
	PaymentMethod       string         `db:"payment_method" json:"payment_method"`
	ExternalRef         string         `db:"external_ref" json:"external_ref,omitempty"`
	ReservationID       string         `db:"reservation_id" json:"-"`
	Created             types.DateTime `db:"created" json:"created"`
	Updated             types.DateTime `db:"updated" json:"updated"`
}

// RefundableMinor is the amount still eligible for refund, net of completed
// refunds and amounts reserved by in-flight refund requests.
func (o *Order) RefundableMinor() int64 {
	return o.TotalAmountMinor - o.RefundedAmountMinor - o.RefundReservedMinor
}

// OrderItem is one cart line: a ticket type with a quantity, optionally
// pinned to specific inventory units (seats or tables). When UnitIDs is set
// the quantity is the number of units.
type OrderItem struct {
	TicketTypeID string   `json:"ticket_type_id"`
	Quantity     int      `json:"quantity"`
	UnitIDs      []string `json:"unit_ids,omitempty"`
}

// PaymentResult is a verified payment outcome applied to an order. Exactly
// one of ExternalRef (provider webhook) or OperatorID (cash confirmation)
// identifies where it came from.
type PaymentResult struct {
	ExternalRef string `json:"external_ref"`
	Method      string `json:"method"`
	OperatorID  string `json:"operator_id,omitempty"`
}
