package control

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"print-host/capture"
	"print-host/download"
	"print-host/printer"
)

// Top-level request names.
const (
	CmdInitialState   = "initial_state"
	CmdJobInfo        = "job_info"
	CmdPrintCapture   = "print_capture"
	CmdSignoff        = "signoff"
	CmdPrintFile      = "print_file"
	CmdCancelDownload = "cancel_download"
)

var (
	errCameraUnavailable    = errors.New("camera is not available")
	errCaptureUnavailable   = errors.New("capture is not available")
	errDownloadsUnavailable = errors.New("downloads are not available")
)

// InitialState is the snapshot a relay client receives on attach.
type InitialState struct {
	StatusUpdate
	Capture        capture.Info    `json:"capture"`
	PrinterProfile printer.Profile `json:"printerProfile"`
}

// PrintFileResult acknowledges a started download.
type PrintFileResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

func (g *Gateway) registerCommands() {
	d := g.dispatcher
	g.groups = []*Group{g.printerGroup(), g.cameraGroup()}
	for _, grp := range g.groups {
		d.Register(grp.Name(), grp.Run)
	}
	d.Register(CmdInitialState, g.initialState)
	d.Register(CmdJobInfo, g.jobInfo)
	d.Register(CmdPrintCapture, g.printCapture)
	d.Register(CmdSignoff, g.signoff)
	d.Register(CmdPrintFile, g.printFile)
	d.Register(CmdCancelDownload, g.cancelDownload)
}

func (g *Gateway) requireOperational() error {
	if !g.printer.State().Operational {
		return ErrPrinterNotOperational
	}
	return nil
}

// operational wraps an action that needs a live printer.
func (g *Gateway) operational(fn GroupCommand) GroupCommand {
	return func(ctx context.Context, options json.RawMessage) (any, error) {
		if err := g.requireOperational(); err != nil {
			return nil, err
		}
		return fn(ctx, options)
	}
}

func (g *Gateway) printerGroup() *Group {
	p := g.printer
	togglePause := func(context.Context, json.RawMessage) (any, error) {
		return nil, p.TogglePause()
	}
	return NewGroup(GroupPrinter).
		Handle(CmdPause, g.operational(togglePause)).
		Handle(CmdResume, g.operational(togglePause)).
		Handle(CmdCancel, g.operational(func(context.Context, json.RawMessage) (any, error) {
			return nil, p.Cancel()
		})).
		Handle(CmdPhoto, g.photo).
		Handle(CmdJog, g.operational(func(_ context.Context, raw json.RawMessage) (any, error) {
			var j printer.Jog
			if err := decodeOptions(raw, &j); err != nil {
				return nil, err
			}
			if len(j.Axes) == 0 {
				return nil, errors.New("jog: no axes given")
			}
			return nil, p.Jog(j)
		})).
		Handle(CmdHome, g.operational(func(_ context.Context, raw json.RawMessage) (any, error) {
			var opts struct {
				Axes []string `json:"axes"`
			}
			if err := decodeOptions(raw, &opts); err != nil {
				return nil, err
			}
			return nil, p.Home(opts.Axes)
		})).
		Handle(CmdExtrude, g.operational(func(_ context.Context, raw json.RawMessage) (any, error) {
			var opts struct {
				Amount float64 `json:"amount"`
				Speed  float64 `json:"speed"`
			}
			if err := decodeOptions(raw, &opts); err != nil {
				return nil, err
			}
			if opts.Amount == 0 {
				return nil, errors.New("extrude: amount is required")
			}
			return nil, p.Extrude(opts.Amount, opts.Speed)
		})).
		Handle(CmdChangeTool, func(_ context.Context, raw json.RawMessage) (any, error) {
			var opts struct {
				Tool string `json:"tool"`
			}
			if err := decodeOptions(raw, &opts); err != nil {
				return nil, err
			}
			if opts.Tool == "" {
				return nil, errors.New("change_tool: tool is required")
			}
			return nil, p.ChangeTool(opts.Tool)
		}).
		Handle(CmdSetTemperature, func(_ context.Context, raw json.RawMessage) (any, error) {
			var opts struct {
				Heater string   `json:"heater"`
				Target *float64 `json:"target"`
			}
			if err := decodeOptions(raw, &opts); err != nil {
				return nil, err
			}
			if opts.Heater == "" || opts.Target == nil {
				return nil, errors.New("set_temperature: heater and target are required")
			}
			return nil, p.SetTemperature(opts.Heater, *opts.Target)
		}).
		Handle(CmdFan, func(_ context.Context, raw json.RawMessage) (any, error) {
			var opts struct {
				Speed float64 `json:"speed"`
			}
			if err := decodeOptions(raw, &opts); err != nil {
				return nil, err
			}
			return nil, p.SetFanSpeed(opts.Speed)
		}).
		Handle(CmdSendCommand, func(_ context.Context, raw json.RawMessage) (any, error) {
			var opts struct {
				Command  string   `json:"command"`
				Commands []string `json:"commands"`
			}
			if err := decodeOptions(raw, &opts); err != nil {
				return nil, err
			}
			cmds := opts.Commands
			if opts.Command != "" {
				cmds = append([]string{opts.Command}, cmds...)
			}
			out := cmds[:0]
			for _, c := range cmds {
				if c = strings.TrimSpace(c); c != "" {
					out = append(out, c)
				}
			}
			if len(out) == 0 {
				return nil, errors.New("send_command: no commands given")
			}
			return nil, p.SendCommands(out...)
		})
}

func (g *Gateway) photo(ctx context.Context, _ json.RawMessage) (any, error) {
	if g.camera == nil || !g.camera.Available() {
		return nil, errCameraUnavailable
	}
	img, err := g.camera.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return PhotoResult{Success: true, ImageData: base64.StdEncoding.EncodeToString(img)}, nil
}

func (g *Gateway) cameraGroup() *Group {
	return NewGroup(GroupCamera).
		Handle(CmdStartVideoStream, func(ctx context.Context, _ json.RawMessage) (any, error) {
			if g.camera == nil {
				return nil, errCameraUnavailable
			}
			return nil, g.camera.StartVideoStream(ctx)
		}).
		Handle(CmdStopVideoStream, func(ctx context.Context, _ json.RawMessage) (any, error) {
			if g.camera == nil {
				return nil, errCameraUnavailable
			}
			return nil, g.camera.StopVideoStream(ctx)
		})
}

func (g *Gateway) initialState(context.Context, json.RawMessage, string) (any, error) {
	st := InitialState{
		StatusUpdate:   g.broadcaster.StatusFrom(g.printer.State()),
		PrinterProfile: g.printer.Profile(),
	}
	if g.capture != nil {
		st.Capture = g.capture.Info()
	}
	return st, nil
}

func (g *Gateway) jobInfo(context.Context, json.RawMessage, string) (any, error) {
	return g.printer.Job(), nil
}

func (g *Gateway) printCapture(_ context.Context, payload json.RawMessage, _ string) (any, error) {
	if g.capture == nil {
		return nil, errCaptureUnavailable
	}
	var opts struct {
		Freq *int `json:"freq"`
	}
	if err := decodeOptions(payload, &opts); err != nil {
		return nil, err
	}
	if opts.Freq == nil {
		return nil, errors.New("freq is required")
	}
	if _, err := g.capture.SetCadence(*opts.Freq); err != nil {
		return nil, err
	}
	return nil, nil
}

func (g *Gateway) signoff(ctx context.Context, _ json.RawMessage, _ string) (any, error) {
	info, _ := RequestFromContext(ctx)
	slog.Info("control.gateway.signoff.scheduled", "reqId", info.ReqID, "clientId", info.ClientID, "delay", g.signoffDelay)
	g.schedule(g.signoffDelay, g.runSignoff)
	return nil, nil
}

func (g *Gateway) printFile(_ context.Context, payload json.RawMessage, _ string) (any, error) {
	if g.downloads == nil {
		return nil, errDownloadsUnavailable
	}
	var req struct {
		download.Item
		Print bool `json:"print"`
	}
	if err := decodeOptions(payload, &req); err != nil {
		return nil, err
	}
	item := req.Item
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	id := item.ID
	cb := download.Callbacks{
		Progress: func(pct int) {
			g.broadcaster.PrintFileDownload(DownloadEvent{Kind: DownloadProgress, Progress: pct})
		},
		Success: func(path string) {
			g.clearDownload(id)
			err := g.printer.SelectFile(path, req.Print)
			if err != nil {
				slog.Warn("control.gateway.print_file.select.error", "id", id, "path", path, "err", err)
			}
			g.broadcaster.PrintFileDownload(DownloadEvent{Kind: DownloadSuccess, Selected: err == nil})
		},
		Cancelled: func() {
			g.clearDownload(id)
			g.broadcaster.PrintFileDownload(DownloadEvent{Kind: DownloadCancelled})
		},
		Error: func(err error) {
			g.clearDownload(id)
			g.broadcaster.PrintFileDownload(DownloadEvent{Kind: DownloadError, Err: err})
		},
	}

	g.mu.Lock()
	g.activeDownload = id
	g.mu.Unlock()
	if _, err := g.downloads.Start(item, cb); err != nil {
		g.clearDownload(id)
		return nil, err
	}
	return PrintFileResult{Success: true, ID: id}, nil
}

func (g *Gateway) cancelDownload(_ context.Context, payload json.RawMessage, _ string) (any, error) {
	if g.downloads == nil {
		return nil, errDownloadsUnavailable
	}
	var opts struct {
		ID string `json:"id"`
	}
	if err := decodeOptions(payload, &opts); err != nil {
		return nil, err
	}
	id := opts.ID
	if id == "" {
		id = g.ActiveDownload()
	}
	if id == "" {
		return nil, ErrNoActiveDownload
	}
	return nil, g.downloads.Cancel(id)
}

// ActiveDownload returns the id of the download started last, if still running.
func (g *Gateway) ActiveDownload() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeDownload
}

func (g *Gateway) clearDownload(id string) {
	g.mu.Lock()
	if g.activeDownload == id {
		g.activeDownload = ""
	}
	g.mu.Unlock()
}
