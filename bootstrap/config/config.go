package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ErrHelp is returned by Parse when --help was given.
var ErrHelp = errors.New("config: help requested")

// Environment fallbacks for values usually kept out of the command line.
const (
	EnvPublicKey  = "PRINTHOST_PUBLIC_KEY"
	EnvPrivateKey = "PRINTHOST_PRIVATE_KEY"
	EnvRelay      = "PRINTHOST_RELAY"
)

type Flags struct {
	Port       int    `yaml:"port"`
	LogLevel   string `yaml:"logLevel"`
	LogFile    string `yaml:"logFile"`
	ConfigFile string `yaml:"-"`
	DBDir      string `yaml:"dbDir"`

	Relay       string        `yaml:"relay"`
	MaxRetries  int           `yaml:"maxRetries"`
	RetryDelay  time.Duration `yaml:"retryDelay"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	BoxName     string        `yaml:"boxName"`
	SWVersion   string        `yaml:"swVersion"`
	PublicKey   string        `yaml:"publicKey"`
	PrivateKey  string        `yaml:"privateKey"`

	PrinterName    string `yaml:"printerName"`
	DownloadDir    string `yaml:"downloadDir"`
	CaptureDir     string `yaml:"captureDir"`
	SnapshotURL    string `yaml:"snapshotUrl"`
	StreamStartURL string `yaml:"streamStartUrl"`
	StreamStopURL  string `yaml:"streamStopUrl"`

	MQTTBroker string `yaml:"mqttBroker"`
	MQTTPrefix string `yaml:"mqttPrefix"`
}

// ParseFlags reads os.Args, printing usage and exiting on --help.
func ParseFlags() Flags {
	out, err := Parse(os.Args[1:])
	if errors.Is(err, ErrHelp) {
		fmt.Printf(helpText, filepath.Base(os.Args[0]))
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return out
}

// Parse reads args, then the optional YAML file, then the environment.
// Flags given explicitly win over the file; the environment only fills
// values that are still empty.
func Parse(args []string) (Flags, error) {
	var out Flags
	fs := pflag.NewFlagSet("print-host", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}

	fs.IntVar(&out.Port, "port", 8090, "Local HTTP port")
	fs.StringVar(&out.LogLevel, "log-level", "info", "Log level: error|warn|info|debug|trace")
	fs.StringVar(&out.LogFile, "log-file", os.Getenv("LOG_FILE"), "Also write logs to this file")
	fs.StringVar(&out.ConfigFile, "config", "", "YAML config file")
	fs.StringVar(&out.DBDir, "db-dir", "", "Directory for SQLite database files (empty = in-memory)")

	fs.StringVar(&out.Relay, "relay", "", "Relay address, host[:port]")
	fs.IntVar(&out.MaxRetries, "max-retries", 5, "Reconnect attempts before giving up")
	fs.DurationVar(&out.RetryDelay, "retry-delay", 5*time.Second, "Delay between reconnect attempts")
	fs.DurationVar(&out.IdleTimeout, "idle-timeout", 0, "Drop the relay link after this long without traffic (0 = off)")
	fs.StringVar(&out.BoxName, "box-name", "", "Name this host reports to the relay")
	fs.StringVar(&out.SWVersion, "sw-version", "dev", "Software version reported to the relay")
	fs.StringVar(&out.PublicKey, "public-key", "", "Cloud public key")
	fs.StringVar(&out.PrivateKey, "private-key", "", "Cloud private key")

	fs.StringVar(&out.PrinterName, "printer-name", "Virtual Printer", "Name of the simulated printer")
	fs.StringVar(&out.DownloadDir, "download-dir", "downloads", "Where cloud print files are stored")
	fs.StringVar(&out.CaptureDir, "capture-dir", "captures", "Where timelapse frames are stored")
	fs.StringVar(&out.SnapshotURL, "snapshot-url", "", "Webcam snapshot URL")
	fs.StringVar(&out.StreamStartURL, "stream-start-url", "", "URL posted to start the video stream")
	fs.StringVar(&out.StreamStopURL, "stream-stop-url", "", "URL posted to stop the video stream")

	fs.StringVar(&out.MQTTBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty = off)")
	fs.StringVar(&out.MQTTPrefix, "mqtt-prefix", "print-host", "MQTT topic prefix")

	showHelp := fs.Bool("help", false, "Show help message")
	if err := fs.Parse(args); err != nil {
		return out, fmt.Errorf("config: %w", err)
	}
	if *showHelp {
		return out, ErrHelp
	}

	if out.ConfigFile != "" {
		if err := mergeFile(fs, &out, out.ConfigFile); err != nil {
			return out, err
		}
	}

	if out.Relay == "" {
		out.Relay = os.Getenv(EnvRelay)
	}
	if out.PublicKey == "" {
		out.PublicKey = os.Getenv(EnvPublicKey)
	}
	if out.PrivateKey == "" {
		out.PrivateKey = os.Getenv(EnvPrivateKey)
	}
	out.BoxName = strings.TrimSpace(out.BoxName)
	return out, nil
}

func mergeFile(fs *pflag.FlagSet, out *Flags, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var file Flags
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	pick(fs, "port", &out.Port, file.Port)
	pick(fs, "log-level", &out.LogLevel, file.LogLevel)
	pick(fs, "log-file", &out.LogFile, file.LogFile)
	pick(fs, "db-dir", &out.DBDir, file.DBDir)
	pick(fs, "relay", &out.Relay, file.Relay)
	pick(fs, "max-retries", &out.MaxRetries, file.MaxRetries)
	pick(fs, "retry-delay", &out.RetryDelay, file.RetryDelay)
	pick(fs, "idle-timeout", &out.IdleTimeout, file.IdleTimeout)
	pick(fs, "box-name", &out.BoxName, file.BoxName)
	pick(fs, "sw-version", &out.SWVersion, file.SWVersion)
	pick(fs, "public-key", &out.PublicKey, file.PublicKey)
	pick(fs, "private-key", &out.PrivateKey, file.PrivateKey)
	pick(fs, "printer-name", &out.PrinterName, file.PrinterName)
	pick(fs, "download-dir", &out.DownloadDir, file.DownloadDir)
	pick(fs, "capture-dir", &out.CaptureDir, file.CaptureDir)
	pick(fs, "snapshot-url", &out.SnapshotURL, file.SnapshotURL)
	pick(fs, "stream-start-url", &out.StreamStartURL, file.StreamStartURL)
	pick(fs, "stream-stop-url", &out.StreamStopURL, file.StreamStopURL)
	pick(fs, "mqtt-broker", &out.MQTTBroker, file.MQTTBroker)
	pick(fs, "mqtt-prefix", &out.MQTTPrefix, file.MQTTPrefix)
	return nil
}

// pick copies a non-zero file value unless the flag was set explicitly.
func pick[T comparable](fs *pflag.FlagSet, name string, dst *T, v T) {
	var zero T
	if fs.Changed(name) || v == zero {
		return
	}
	*dst = v
}

// PreparePocketBaseArgs is the argument list handed to PocketBase's root command.
func PreparePocketBaseArgs(flags Flags) []string {
	return []string{"serve", "--http", fmt.Sprintf("0.0.0.0:%d", flags.Port)}
}

func NewPocketBaseApp(flags Flags) *pocketbase.PocketBase {
	var app *pocketbase.PocketBase
	if flags.DBDir == "" {
		app = pocketbase.NewWithConfig(pocketbase.Config{
			HideStartBanner: true,
			DefaultDataDir:  ".",
			DBConnect: func(dbPath string) (*dbx.DB, error) {
				dsn := "file:" + filepath.Base(dbPath) + "?mode=memory&cache=shared"
				db, err := dbx.Open("sqlite", dsn)
				if err != nil {
					return nil, err
				}
				for _, pragma := range []string{"PRAGMA foreign_keys=ON;", "PRAGMA busy_timeout=1000;"} {
					if _, err := db.NewQuery(pragma).Execute(); err != nil {
						return nil, err
					}
				}
				return db, nil
			},
		})
	} else {
		app = pocketbase.NewWithConfig(pocketbase.Config{
			HideStartBanner: true,
			DefaultDataDir:  flags.DBDir,
		})
	}
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{Automigrate: true})
	return app
}

const helpText = `
Usage: %s [OPTIONS]

Options:
  --port int                 Local HTTP port (default: 8090)
  --log-level string         error|warn|info|debug|trace (default: info)
  --log-file string          Also write logs to this file (env LOG_FILE)
  --config string            YAML config file; keys match the long flag names in camelCase
  --db-dir string            Directory for SQLite database files (empty = in-memory)

  --relay string             Relay address, host[:port]
  --max-retries int          Reconnect attempts before giving up (default: 5)
  --retry-delay duration     Delay between reconnect attempts (default: 5s)
  --idle-timeout duration    Drop the relay link after this long without traffic
  --box-name string          Name this host reports to the relay
  --sw-version string        Software version reported to the relay
  --public-key string        Cloud public key
  --private-key string       Cloud private key

  --printer-name string      Name of the simulated printer
  --download-dir string      Where cloud print files are stored (default: downloads)
  --capture-dir string       Where timelapse frames are stored (default: captures)
  --snapshot-url string      Webcam snapshot URL
  --stream-start-url string  URL posted to start the video stream
  --stream-stop-url string   URL posted to stop the video stream

  --mqtt-broker string       Mirror local events to this MQTT broker
  --mqtt-prefix string       MQTT topic prefix (default: print-host)
  --help                     Show this help message

Environment Variables:
  PRINTHOST_RELAY            Relay address (alternative to --relay)
  PRINTHOST_PUBLIC_KEY       Cloud public key (alternative to --public-key)
  PRINTHOST_PRIVATE_KEY      Cloud private key (alternative to --private-key)
  SUPERUSER_EMAIL            Admin account created on first start
  SUPERUSER_PASSWORD         Its password (generated and logged when unset)

Credentials saved through the local API (POST /api/gateway/connect) are kept
in the server_settings collection and reused on the next start.
`
