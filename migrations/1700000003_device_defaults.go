package migrations

import (
	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Seeds the device id and poller cadences. Existing keys are left alone.
func init() {
	m.Register(func(app core.App) error {
		col, err := app.FindCollectionByNameOrId("server_settings")
		if err != nil {
			return err
		}
		defaults := map[string]string{
			"device.boxId":         uuid.NewString(),
			"poller.enabled":       "true",
			"poller.temperatureMs": "2000",
			"poller.stateMs":       "1000",
			"poller.progressMs":    "5000",
		}
		for key, value := range defaults {
			rec, _ := app.FindFirstRecordByFilter("server_settings", "key = {:k}", dbx.Params{"k": key})
			if rec != nil {
				continue
			}
			rec = core.NewRecord(col)
			rec.Set("key", key)
			rec.Set("value", value)
			if err := app.Save(rec); err != nil {
				return err
			}
		}
		return nil
	}, nil)
}
