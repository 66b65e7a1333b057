package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(
			&core.TextField{Name: "order_id", Required: true},
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "ticket_type_id", Required: true},
			&core.TextField{Name: "unit_id"},
			&core.TextField{Name: "user_id", Required: true},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{
				"pending", "issued", "checked_in", "cancelled",
			}},
			&core.NumberField{Name: "price_minor", OnlyInt: true},
			&core.TextField{Name: "qr_code"},
			&core.DateField{Name: "checked_in_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_tickets_order", false, "order_id", "")
		collection.AddIndex("idx_tickets_user_event", false, "user_id, event_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
