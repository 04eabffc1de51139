// Package realtime pushes local state to PocketBase realtime (SSE) clients.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/subscriptions"
	"golang.org/x/sync/errgroup"
)

const (
	// PingTopic carries the SSE heartbeat.
	PingTopic = "pb_ping"

	defaultPingInterval = 10 * time.Second

	// same chunk size PocketBase uses for its own record events
	clientsChunkSize = 300
)

// StartPingLoop broadcasts a heartbeat on PingTopic until ctx is cancelled.
func StartPingLoop(ctx context.Context, app core.App, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		broadcastPing(app)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcastPing(app)
			}
		}
	}()
}

func broadcastPing(app core.App) {
	payload := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339Nano)}
	if err := Notify(app, PingTopic, payload); err != nil {
		slog.Warn("realtime.ping.error", "err", err)
	}
}

// Notify sends data as JSON to every realtime client subscribed to
// subscription.
func Notify(app core.App, subscription string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	message := subscriptions.Message{Name: subscription, Data: raw}

	group := new(errgroup.Group)
	for _, chunk := range app.SubscriptionsBroker().ChunkedClients(clientsChunkSize) {
		group.Go(func() error {
			for _, client := range chunk {
				if client.HasSubscription(subscription) {
					client.Send(message)
				}
			}
			return nil
		})
	}
	return group.Wait()
}
