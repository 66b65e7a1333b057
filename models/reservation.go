package models

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/tools/types"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// ReservationItem is one reserved line of a hold: a ticket-type quantity,
// optionally pinned to specific inventory units. When UnitIDs is set,
// Quantity equals len(UnitIDs).
type ReservationItem struct {
	TicketTypeID string   `json:"ticket_type_id"`
	Quantity     int      `json:"quantity"`
	UnitIDs      []string `json:"unit_ids,omitempty"`
}

// Reservation is a time-boxed hold on inventory, owned by exactly one order.
// It can be closed exactly once (committed on settlement or released on
// cancel/expiry); the status column carries the close CAS.
type Reservation struct {
	ID        string            `db:"id" json:"id"`
	OrderID   string            `db:"order_id" json:"order_id"`
	Status    ReservationStatus `db:"status" json:"status"`
	ItemsJSON string            `db:"items" json:"-"`
	ExpiresAt types.DateTime    `db:"expires_at" json:"expires_at"`
	Created   types.DateTime    `db:"created" json:"created"`
}

func (r *Reservation) Items() ([]ReservationItem, error) {
	if r.ItemsJSON == "" {
		return nil, nil
	}
	var items []ReservationItem
	if err := json.Unmarshal([]byte(r.ItemsJSON), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Reservation) SetItems(items []ReservationItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	r.ItemsJSON = string(data)
	return nil
}

// UnitIDs aggregates the unit ids across all items.
func (r *Reservation) UnitIDs() ([]string, error) {
	items, err := r.Items()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.UnitIDs...)
	}
	return ids, nil
}
