package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("refunds")

		collection.Fields.Add(
			&core.TextField{Name: "order_id", Required: true},
			&core.NumberField{Name: "amount_minor", Required: true, OnlyInt: true},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{
				"requested", "approved", "processing", "completed", "failed",
			}},
			&core.TextField{Name: "reason"},
			&core.TextField{Name: "requested_by"},
			&core.TextField{Name: "approved_by"},
			&core.TextField{Name: "provider_ref"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_refunds_order", false, "order_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("refunds")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
