package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("orders")

		collection.Fields.Add(
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "event_id", Required: true},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{
				"draft", "pending_payment", "paid", "failed", "cancelled", "refunded", "partially_refunded",
			}},
			&core.NumberField{Name: "total_amount_minor", OnlyInt: true},
			&core.NumberField{Name: "refunded_amount_minor", OnlyInt: true},
			&core.NumberField{Name: "refund_reserved_minor", OnlyInt: true},
			&core.SelectField{Name: "payment_method", MaxSelect: 1, Values: []string{"card", "cash"}},
			&core.TextField{Name: "external_ref"},
			&core.TextField{Name: "reservation_id"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_orders_user", false, "user_id", "")
		// Webhook redeliveries look up by the provider reference.
		collection.AddIndex("idx_orders_external_ref", false, "external_ref", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("orders")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
