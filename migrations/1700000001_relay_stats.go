package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		col := core.NewBaseCollection("relay_stats")
		col.Fields.Add(
			&core.TextField{Name: "bucket", Required: true, Max: 64, Presentable: true},
			&core.NumberField{Name: "eventsSent"},
			&core.NumberField{Name: "eventsDeduped"},
			&core.NumberField{Name: "sendErrors"},
			&core.NumberField{Name: "requests"},
			&core.NumberField{Name: "requestErrors"},
			&core.NumberField{Name: "connects"},
			&core.NumberField{Name: "reconnects"},
			&core.AutodateField{Name: "lastUpdated", OnCreate: true, OnUpdate: true},
		)
		col.AddIndex("ux_relay_stats_bucket", true, "bucket", "")
		col.ListRule = types.Pointer("")
		col.ViewRule = types.Pointer("")
		return app.Save(col)
	}, func(app core.App) error {
		_ = app.DeleteTable("relay_stats")
		return nil
	})
}
