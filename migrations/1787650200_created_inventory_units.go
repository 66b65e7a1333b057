package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("inventory_units")

		collection.Fields.Add(
			&core.TextField{Name: "event_id", Required: true},
			&core.TextField{Name: "venue_id"},
			&core.TextField{Name: "label", Required: true},
			&core.TextField{Name: "section"},
			&core.NumberField{Name: "capacity", OnlyInt: true},
			&core.SelectField{Name: "state", Required: true, MaxSelect: 1, Values: []string{"free", "held", "sold"}},
			&core.TextField{Name: "reservation_id"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_inventory_units_event", false, "event_id", "")
		collection.AddIndex("idx_inventory_units_event_label", true, "event_id, label", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("inventory_units")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
