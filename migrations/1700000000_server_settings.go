package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// server_settings holds runtime key/value settings: relay credentials
// (cloud.*), device identity (device.*) and poller cadences (poller.*).
func init() {
	m.Register(func(app core.App) error {
		col := core.NewBaseCollection("server_settings")
		col.Fields.Add(
			&core.TextField{Name: "key", Required: true, Max: 128, Presentable: true},
			&core.TextField{Name: "value", Max: 8192}, // allow JSON
			&core.AutodateField{Name: "lastUpdated", OnCreate: true, OnUpdate: true},
		)
		col.AddIndex("ux_server_settings_key", true, "key", "")
		// Superuser only: the collection stores the device key pair.
		col.ListRule = nil
		col.ViewRule = nil
		return app.Save(col)
	}, func(app core.App) error {
		_ = app.DeleteTable("server_settings")
		return nil
	})
}
