package mode

import (
	"context"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/tests"

	"print-host/bootstrap/config"
	"print-host/control"
	"print-host/control/relaytest"
	"print-host/settings"

	_ "print-host/migrations"
)

func newServices(t *testing.T, relay string) *Services {
	t.Helper()
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("new test app: %v", err)
	}
	t.Cleanup(app.Cleanup)
	s := Build(app, config.Flags{
		Relay:       relay,
		RetryDelay:  20 * time.Millisecond,
		SWVersion:   "test",
		CaptureDir:  t.TempDir(),
		DownloadDir: t.TempDir(),
	})
	t.Cleanup(s.Stop)
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartWithoutRelayLeavesGatewayOff(t *testing.T) {
	s := newServices(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Gateway() != nil {
		t.Fatalf("gateway created without a relay")
	}
	s.SyncCredentials()
}

func TestStartConnectsWithStoredCredentials(t *testing.T) {
	relay := relaytest.New()
	t.Cleanup(relay.Close)
	s := newServices(t, relay.Addr())
	if err := s.Settings.SetCredentials("pub", "priv"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	boxID := s.Settings.GetString(settings.KeyBoxID, "")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	gw := s.Gateway()
	if gw == nil {
		t.Fatalf("gateway not created")
	}
	eventually(t, "connected", func() bool { return gw.Status() == control.StatusConnected })

	auths := relay.Auths()
	if len(auths) == 0 {
		t.Fatalf("relay saw no auth frame")
	}
	if a := auths[0]; a.BoxID != boxID || a.BoxName != "Virtual Printer" || a.PublicKey != "pub" || a.SWVersion != "test" {
		t.Fatalf("auth = %+v", a)
	}

	if err := s.Settings.ClearCredentials(); err != nil {
		t.Fatalf("clear credentials: %v", err)
	}
	eventually(t, "disconnected", func() bool { return gw.Status() == control.StatusDisconnected })
}

func TestCredentialChangeReconnects(t *testing.T) {
	relay := relaytest.New()
	t.Cleanup(relay.Close)
	s := newServices(t, relay.Addr())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	gw := s.Gateway()
	if gw.Status() != control.StatusDisconnected {
		t.Fatalf("connected without credentials")
	}

	if err := s.Settings.SetCredentials("pub", "priv"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	eventually(t, "connected", func() bool { return gw.Status() == control.StatusConnected })
	eventually(t, "credentials", func() bool { return gw.Connection().Credentials().PrivateKey == "priv" })

	if err := s.Settings.SetCredentials("pub2", "priv2"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	eventually(t, "reconnect with new keys", func() bool {
		auths := relay.Auths()
		last := auths[len(auths)-1]
		return last.PublicKey == "pub2" && last.PrivateKey == "priv2" && gw.Status() == control.StatusConnected
	})
}
