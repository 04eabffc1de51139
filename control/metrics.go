package control

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type metrics struct {
	eventsSent    atomic.Int64
	eventsDeduped atomic.Int64
	sendErrors    atomic.Int64
	requests      atomic.Int64
	requestErrors atomic.Int64
	connects      atomic.Int64
	reconnects    atomic.Int64
}

// StatsSnapshot captures gateway counters for reporting.
type StatsSnapshot struct {
	EventsSent    int64 `json:"eventsSent"`
	EventsDeduped int64 `json:"eventsDeduped"`
	SendErrors    int64 `json:"sendErrors"`
	Requests      int64 `json:"requests"`
	RequestErrors int64 `json:"requestErrors"`
	Connects      int64 `json:"connects"`
	Reconnects    int64 `json:"reconnects"`
}

// StatsStore persists gateway counters for external consumers.
type StatsStore interface {
	UpsertStats(ctx context.Context, bucket string, stats StatsSnapshot) error
}

const overallStatsKey = "overall"

func (m *metrics) snapshot() StatsSnapshot {
	return StatsSnapshot{
		EventsSent:    m.eventsSent.Load(),
		EventsDeduped: m.eventsDeduped.Load(),
		SendErrors:    m.sendErrors.Load(),
		Requests:      m.requests.Load(),
		RequestErrors: m.requestErrors.Load(),
		Connects:      m.connects.Load(),
		Reconnects:    m.reconnects.Load(),
	}
}

func (m *metrics) persist(store StatsStore) {
	if store == nil {
		return
	}
	if err := store.UpsertStats(context.Background(), overallStatsKey, m.snapshot()); err != nil {
		slog.Warn("control.stats.persist.error", "bucket", overallStatsKey, "err", err)
	}
}
