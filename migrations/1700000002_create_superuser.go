package migrations

import (
	"log/slog"
	"os"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// Creates the admin account for the local dashboard when SUPERUSER_EMAIL and
// SUPERUSER_PASSWORD are both set.
func init() {
	m.Register(func(app core.App) error {
		email := os.Getenv("SUPERUSER_EMAIL")
		password := os.Getenv("SUPERUSER_PASSWORD")
		if email == "" || password == "" {
			slog.Info("migration.superuser.skipped", "reason", "env not set")
			return nil
		}
		if existing, _ := app.FindAuthRecordByEmail(core.CollectionNameSuperusers, email); existing != nil {
			slog.Info("migration.superuser.skipped", "reason", "exists", "email", email)
			return nil
		}
		col, err := app.FindCollectionByNameOrId(core.CollectionNameSuperusers)
		if err != nil {
			return err
		}
		rec := core.NewRecord(col)
		rec.Set("email", email)
		rec.Set("password", password)
		if err := app.Save(rec); err != nil {
			return err
		}
		slog.Info("migration.superuser.created", "email", email)
		return nil
	}, func(app core.App) error {
		email := os.Getenv("SUPERUSER_EMAIL")
		if email == "" {
			return nil
		}
		rec, _ := app.FindAuthRecordByEmail(core.CollectionNameSuperusers, email)
		if rec == nil {
			return nil
		}
		return app.Delete(rec)
	})
}
