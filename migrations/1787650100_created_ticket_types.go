package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("ticket_types")

		collection.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "name", Required: true},
			&core.NumberField{Name: "price_minor", Required: true, OnlyInt: true},
			&core.NumberField{Name: "initial_quantity", Required: true, OnlyInt: true},
			&core.NumberField{Name: "remaining_quantity", OnlyInt: true},
			&core.DateField{Name: "sales_start"},
			&core.DateField{Name: "sales_end"},
			&core.NumberField{Name: "max_per_order", OnlyInt: true},
			&core.NumberField{Name: "max_per_user_per_event", OnlyInt: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_ticket_types_event", false, "event_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("ticket_types")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
