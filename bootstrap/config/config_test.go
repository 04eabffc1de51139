package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv(EnvRelay, "")
	t.Setenv(EnvPublicKey, "")
	t.Setenv(EnvPrivateKey, "")

	f, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Port != 8090 || f.MaxRetries != 5 || f.RetryDelay != 5*time.Second || f.MQTTPrefix != "print-host" {
		t.Fatalf("defaults = %+v", f)
	}
	if got := PreparePocketBaseArgs(f); len(got) != 3 || got[2] != "0.0.0.0:8090" {
		t.Fatalf("pocketbase args = %v", got)
	}
}

func TestParseToleratesUnknownFlags(t *testing.T) {
	f, err := Parse([]string{"--relay", "relay.example.com", "--dev", "--retry-delay=2s"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Relay != "relay.example.com" || f.RetryDelay != 2*time.Second {
		t.Fatalf("flags = %+v", f)
	}
}

func TestParseHelp(t *testing.T) {
	if _, err := Parse([]string{"--help"}); !errors.Is(err, ErrHelp) {
		t.Fatalf("err = %v, want ErrHelp", err)
	}
}

func TestFileAndEnvironmentPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	body := []byte("relay: file.example.com\nport: 9000\nretryDelay: 3s\nboxName: Shop Printer\nmqttBroker: tcp://broker:1883\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvRelay, "env.example.com")
	t.Setenv(EnvPublicKey, "env-pub")
	t.Setenv(EnvPrivateKey, "")

	f, err := Parse([]string{"--config", path, "--port", "7000"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Port != 7000 {
		t.Fatalf("explicit flag should win over file, port = %d", f.Port)
	}
	if f.Relay != "file.example.com" || f.RetryDelay != 3*time.Second || f.BoxName != "Shop Printer" {
		t.Fatalf("file values not applied: %+v", f)
	}
	if f.MQTTBroker != "tcp://broker:1883" {
		t.Fatalf("mqtt broker = %q", f.MQTTBroker)
	}
	if f.PublicKey != "env-pub" {
		t.Fatalf("env fallback not applied: %q", f.PublicKey)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
