// Package logger installs the process-wide slog handler: a colored
// "time LEVEL event" prefix followed by key=value attrs, optionally mirrored
// to a plain log file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// LevelTrace sits below debug.
const LevelTrace = slog.Level(-8)

var (
	levelVar slog.LevelVar

	mu      sync.Mutex
	logFile *os.File
)

// Options control Setup. File, when set, receives an uncolored copy.
type Options struct {
	Level  string
	File   string
	Color  bool
	Output io.Writer
}

// ColorHandler prints its own prefix then delegates attrs to a text handler.
type ColorHandler struct {
	next   slog.Handler
	w      io.Writer
	colors bool
}

func newColorHandler(w io.Writer, colors bool) *ColorHandler {
	h := &ColorHandler{w: w, colors: colors}
	h.next = slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       &levelVar,
		ReplaceAttr: replaceAttr,
	})
	return h
}

func (h *ColorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	label, color := levelLabel(r.Level)
	ts := r.Time.Format(timeLayout)
	if h.colors {
		fmt.Fprintf(h.w, "%s%s%s %s%s%s %s%s%s ",
			colorGray, ts, colorReset,
			color, label, colorReset,
			colorCyan, r.Message, colorReset,
		)
	} else {
		fmt.Fprintf(h.w, "%s %s %s ", ts, label, r.Message)
	}
	return h.next.Handle(ctx, r)
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorHandler{next: h.next.WithAttrs(attrs), w: h.w, colors: h.colors}
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	return &ColorHandler{next: h.next.WithGroup(name), w: h.w, colors: h.colors}
}

// replaceAttr drops time, level and message, which the prefix already shows.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey, slog.LevelKey, slog.MessageKey:
		return slog.Attr{}
	}
	return a
}

func levelLabel(l slog.Level) (string, string) {
	switch {
	case l >= slog.LevelError:
		return "ERROR", colorRed + colorBold
	case l >= slog.LevelWarn:
		return "WARN", colorYellow + colorBold
	case l >= slog.LevelInfo:
		return "INFO", colorBlue
	case l >= slog.LevelDebug:
		return "DEBUG", colorGray
	default:
		return "TRACE", colorGray
	}
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripWriter forwards to plain with ANSI escapes removed.
type stripWriter struct {
	console io.Writer
	plain   io.Writer
}

func (w stripWriter) Write(p []byte) (int, error) {
	if _, err := w.console.Write(p); err != nil {
		return 0, err
	}
	if _, err := w.plain.Write(ansiRegex.ReplaceAll(p, nil)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Setup installs the default logger. It is safe to call again; a previously
// opened log file is closed.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if path := strings.TrimSpace(opts.File); path != "" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("logger: create %s: %w", dir, err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("logger: open %s: %w", path, err)
		}
		logFile = f
		out = stripWriter{console: out, plain: f}
	}

	Configure(opts.Level)
	slog.SetDefault(slog.New(newColorHandler(out, opts.Color)))
	return nil
}

// UseColors reports whether the console should get ANSI colors.
func UseColors() bool {
	return os.Getenv("NO_COLOR") == ""
}

// Configure sets the level: error, warn, info, debug or trace.
func Configure(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		levelVar.Set(slog.LevelError)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "trace":
		levelVar.Set(LevelTrace)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}
