package models

import (
	"github.com/pocketbase/pocketbase/tools/types"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketIssued    TicketStatus = "issued"
	TicketCheckedIn TicketStatus = "checked_in"
	TicketCancelled TicketStatus = "cancelled"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketPending: {TicketIssued, TicketCancelled},
	TicketIssued:  {TicketCheckedIn, TicketCancelled},
}

func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Ticket struct {
	ID           string         `db:"id" json:"id"`
	OrderID      string         `db:"order_id" json:"order_id"`
	EventID      string         `db:"event_id" json:"event_id"`
	TicketTypeID string         `db:"ticket_type_id" json:"ticket_type_id"`
	UnitID       string         `db:"unit_id" json:"unit_id,omitempty"`
	UserID       string         `db:"user_id" json:"user_id"`
	Status       TicketStatus   `db:"status" json:"status"`
	PriceMinor   int64          `db:"price_minor" json:"price_minor"`
	QRCode       string         `db:"qr_code" json:"qr_code,omitempty"`
	CheckedInAt  types.DateTime `db:"checked_in_at" json:"checked_in_at,omitempty"`
	Created      types.DateTime `db:"created" json:"created"`
}

// TicketType is the sellable stock line of an event. remaining_quantity is
// mutated only by the inventory ledger through conditional updates.
type TicketType struct {
	ID                string         `db:"id" json:"id"`
	EventID           string         `db:"event_id" json:"event_id"`
	Name              string         `db:"name" json:"name"`
	PriceMinor        int64          `db:"price_minor" json:"price_minor"`
	InitialQuantity   int            `db:"initial_quantity" json:"initial_quantity"`
	RemainingQuantity int            `db:"remaining_quantity" json:"remaining_quantity"`
	SalesStart        types.DateTime `db:"sales_start" json:"sales_start"`
	SalesEnd          types.DateTime `db:"sales_end" json:"sales_end"`
	MaxPerOrder       int            `db:"max_per_order" json:"max_per_order"`
	MaxPerUserPerEvt  int            `db:"max_per_user_per_event" json:"max_per_user_per_event"`
}
