package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	"print-host/bootstrap/config"
	"print-host/bootstrap/mode"
	"print-host/control"
	"print-host/realtime"
)

// RegisterServe hooks the printer host into PocketBase's serve lifecycle.
func RegisterServe(app *pocketbase.PocketBase, svc *mode.Services, flags config.Flags) {
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		if err := ensureSuperuser(app); err != nil {
			return fmt.Errorf("failed to ensure superuser: %w", err)
		}
		if err := svc.Start(context.Background()); err != nil {
			return fmt.Errorf("start services: %w", err)
		}

		pingCtx, cancelPing := context.WithCancel(context.Background())
		if se.Server != nil {
			se.Server.RegisterOnShutdown(cancelPing)
		} else {
			defer cancelPing()
		}
		realtime.StartPingLoop(pingCtx, app, 10*time.Second)

		RegisterRoutes(se.Router, svc)
		printBanner(flags, svc)
		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		svc.Stop()
		return e.Next()
	})
}

type connectBody struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

type disabledStatus struct {
	Status string `json:"status"`
}

// RegisterRoutes adds the local health and gateway endpoints.
func RegisterRoutes(r *router.Router[*core.RequestEvent], svc *mode.Services) {
	r.GET("/health", func(c *core.RequestEvent) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
		})
	})

	g := r.Group("/api/gateway")
	g.GET("/status", func(c *core.RequestEvent) error {
		gw := svc.Gateway()
		if gw == nil {
			return c.JSON(http.StatusOK, disabledStatus{Status: "disabled"})
		}
		return c.JSON(http.StatusOK, gw.Snapshot())
	})

	g.POST("/connect", func(c *core.RequestEvent) error {
		gw := svc.Gateway()
		if gw == nil {
			return c.Error(http.StatusServiceUnavailable, "no relay configured", nil)
		}
		var body connectBody
		if err := c.BindBody(&body); err != nil {
			return c.BadRequestError("invalid body", err)
		}
		body.PublicKey = strings.TrimSpace(body.PublicKey)
		body.PrivateKey = strings.TrimSpace(body.PrivateKey)
		if body.PublicKey != "" || body.PrivateKey != "" {
			if err := svc.Settings.SetCredentials(body.PublicKey, body.PrivateKey); err != nil {
				return c.InternalServerError("save credentials", err)
			}
		}
		pub, priv := svc.Settings.Credentials()
		err := gw.Connect(control.Credentials{PublicKey: pub, PrivateKey: priv})
		if errors.Is(err, control.ErrNoCredentials) {
			return c.BadRequestError("publicKey and privateKey are required", err)
		}
		if err != nil {
			return c.InternalServerError("connect", err)
		}
		slog.Info("http.gateway.connect", "url", gw.Connection().URL())
		return c.JSON(http.StatusAccepted, gw.Snapshot())
	}).Bind(apis.RequireSuperuserAuth())

	g.POST("/disconnect", func(c *core.RequestEvent) error {
		gw := svc.Gateway()
		if gw == nil {
			return c.Error(http.StatusServiceUnavailable, "no relay configured", nil)
		}
		gw.Close()
		if c.Request.URL.Query().Get("forget") == "true" {
			if err := svc.Settings.ClearCredentials(); err != nil {
				return c.InternalServerError("clear credentials", err)
			}
		}
		slog.Info("http.gateway.disconnect")
		return c.JSON(http.StatusOK, gw.Snapshot())
	}).Bind(apis.RequireSuperuserAuth())
}

func printBanner(flags config.Flags, svc *mode.Services) {
	const contentWidth = 57

	line := func(label, value string) string {
		content := fmt.Sprintf("  %-15s: %s", label, value)
		if len(content) < contentWidth {
			content += strings.Repeat(" ", contentWidth-len(content))
		}
		return "║" + content + "║"
	}

	relay := "disabled"
	if gw := svc.Gateway(); gw != nil {
		relay = gw.Connection().URL()
	}
	camera := "none"
	if flags.SnapshotURL != "" {
		camera = flags.SnapshotURL
	}

	fmt.Printf("\n╔%s╗\n", strings.Repeat("═", contentWidth))
	fmt.Println(line("Print host", svc.Printer.Profile().Name))
	fmt.Printf("╠%s╣\n", strings.Repeat("═", contentWidth))
	fmt.Println(line("Local API", fmt.Sprintf("http://0.0.0.0:%d/api/gateway/status", flags.Port)))
	fmt.Println(line("DB Admin Panel", fmt.Sprintf("http://0.0.0.0:%d/_/", flags.Port)))
	fmt.Println(line("Relay", relay))
	fmt.Println(line("Camera", camera))
	if flags.MQTTBroker != "" {
		fmt.Println(line("MQTT", flags.MQTTBroker))
	}
	fmt.Printf("╚%s╝\n\n", strings.Repeat("═", contentWidth))
}

func ensureSuperuser(app core.App) error {
	email := os.Getenv("SUPERUSER_EMAIL")
	if email == "" {
		email = "admin@example.com"
	}
	if existing, _ := app.FindAuthRecordByEmail(core.CollectionNameSuperusers, email); existing != nil {
		slog.Debug("superuser.ensure.skipped", "email", email)
		return nil
	}

	password := os.Getenv("SUPERUSER_PASSWORD")
	generated := password == ""
	if generated {
		p, err := generatePassword(24)
		if err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		password = p
	}

	superusers, err := app.FindCollectionByNameOrId(core.CollectionNameSuperusers)
	if err != nil {
		return fmt.Errorf("find superusers collection: %w", err)
	}
	record := core.NewRecord(superusers)
	record.SetEmail(email)
	record.SetPassword(password)
	if err := app.Save(record); err != nil {
		return fmt.Errorf("save superuser: %w", err)
	}

	if generated {
		slog.Info("superuser.ensure.created", "email", email, "password", password,
			"note", "password generated because SUPERUSER_PASSWORD was not set")
	} else {
		slog.Info("superuser.ensure.created", "email", email)
	}
	return nil
}

func generatePassword(length int) (string, error) {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789_"
	limit := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}
