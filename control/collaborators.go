package control

import (
	"context"

	"print-host/capture"
	"print-host/download"
	"print-host/printer"
)

// Printer is the driver surface the gateway controls.
type Printer interface {
	State() printer.State
	ActiveTool() string
	Job() printer.Job
	Profile() printer.Profile

	TogglePause() error
	Cancel() error
	Jog(j printer.Jog) error
	Home(axes []string) error
	Extrude(amount, speed float64) error
	ChangeTool(tool string) error
	SetTemperature(heater string, target float64) error
	SetFanSpeed(percent float64) error
	SendCommands(cmds ...string) error
	SelectFile(path string, start bool) error
}

// Camera grabs stills and toggles the video stream.
type Camera interface {
	Available() bool
	Snapshot(ctx context.Context) ([]byte, error)
	StartVideoStream(ctx context.Context) error
	StopVideoStream(ctx context.Context) error
}

// Capture drives the timelapse cadence.
type Capture interface {
	Info() capture.Info
	SetCadence(freq int) (capture.Info, error)
}

// Downloads fetches cloud print files in the background.
type Downloads interface {
	Start(item download.Item, cb download.Callbacks) (string, error)
	Cancel(id string) error
}

// Bus is the local notification source the broadcaster listens on.
type Bus interface {
	Subscribe(topic string, fn func(payload any)) string
	Unsubscribe(topic string, id string)
}

// Publisher announces gateway status on the local bus.
type Publisher interface {
	Publish(topic string, payload any)
}
