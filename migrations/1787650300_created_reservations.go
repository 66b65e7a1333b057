package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("reservations")

		collection.Fields.Add(
			&core.TextField{Name: "order_id", Required: true},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{"active", "committed", "released"}},
			&core.JSONField{Name: "items"},
			&core.DateField{Name: "expires_at", Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		// The sweep scans for active reservations past their TTL.
		collection.AddIndex("idx_reservations_status_expiry", false, "status, expires_at", "")
		collection.AddIndex("idx_reservations_order", false, "order_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("reservations")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
