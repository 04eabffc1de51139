package control

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

const relayStatsCollection = "relay_stats"

// NewPocketBaseStatsStore returns a StatsStore backed by the relay_stats collection.
func NewPocketBaseStatsStore(app core.App) StatsStore {
	if app == nil {
		return nil
	}
	return &pocketBaseStatsStore{app: app}
}

type pocketBaseStatsStore struct {
	app core.App
}

func (s *pocketBaseStatsStore) UpsertStats(ctx context.Context, bucket string, stats StatsSnapshot) error {
	rec, err := s.app.FindFirstRecordByFilter(relayStatsCollection, "bucket = {:bucket}", dbx.Params{"bucket": bucket})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		col, err := s.app.FindCollectionByNameOrId(relayStatsCollection)
		if err != nil {
			return err
		}
		rec = core.NewRecord(col)
		rec.Set("bucket", bucket)
	}
	rec.Set("eventsSent", stats.EventsSent)
	rec.Set("eventsDeduped", stats.EventsDeduped)
	rec.Set("sendErrors", stats.SendErrors)
	rec.Set("requests", stats.Requests)
	rec.Set("requestErrors", stats.RequestErrors)
	rec.Set("connects", stats.Connects)
	rec.Set("reconnects", stats.Reconnects)
	return s.app.SaveWithContext(ctx, rec)
}
