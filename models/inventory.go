package models

type UnitState string

const (
	UnitFree UnitState = "free"
	UnitHeld UnitState = "held"
	UnitSold UnitState = "sold"
)

// InventoryUnit is a seat or table in a seated venue. State changes go
// through the inventory ledger only: free -> held -> sold, or held -> free
// on release. reservation_id records the owner while held or sold.
type InventoryUnit struct {
	ID            string    `db:"id" json:"id"`
	EventID       string    `db:"event_id" json:"event_id"`
	VenueID       string    `db:"venue_id" json:"venue_id"`
	Label         string    `db:"label" json:"label"`
	Section       string    `db:"section" json:"section"`
	Capacity      int       `db:"capacity" json:"capacity"`
	State         UnitState `db:"state" json:"state"`
	ReservationID string    `db:"reservation_id" json:"-"`
}
