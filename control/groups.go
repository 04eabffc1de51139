package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Command categories carrying a nested {command, options} payload.
const (
	GroupPrinter = "printerCommand"
	GroupCamera  = "cameraCommand"
)

// Printer group commands.
const (
	CmdPause          = "pause"
	CmdResume         = "resume"
	CmdCancel         = "cancel"
	CmdPhoto          = "photo"
	CmdJog            = "jog"
	CmdHome           = "home"
	CmdExtrude        = "extrude"
	CmdChangeTool     = "change_tool"
	CmdSetTemperature = "set_temperature"
	CmdFan            = "fan"
	CmdSendCommand    = "send_command"
)

// Camera group commands.
const (
	CmdStartVideoStream = "start_video_stream"
	CmdStopVideoStream  = "stop_video_stream"
)

// GroupCommand handles one operation inside a group.
type GroupCommand func(ctx context.Context, options json.RawMessage) (any, error)

// Group is a fixed table of named operations registered in the dispatcher
// under one category name.
type Group struct {
	name     string
	commands map[string]GroupCommand
}

func NewGroup(name string) *Group {
	return &Group{name: name, commands: make(map[string]GroupCommand)}
}

func (g *Group) Name() string { return g.name }

// Handle adds an operation. It is meant for construction time only.
func (g *Group) Handle(command string, fn GroupCommand) *Group {
	g.commands[command] = fn
	return g
}

func (g *Group) Names() []string {
	names := make([]string, 0, len(g.commands))
	for name := range g.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type groupPayload struct {
	Command string          `json:"command"`
	Options json.RawMessage `json:"options"`
}

// Run is the group's CommandFunc.
func (g *Group) Run(ctx context.Context, payload json.RawMessage, _ string) (any, error) {
	var p groupPayload
	if !isEmptyBody(payload) {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%s: invalid payload: %w", g.name, err)
		}
	}
	if p.Command == "" {
		return nil, fmt.Errorf("%s: missing command", g.name)
	}
	fn, ok := g.commands[p.Command]
	if !ok {
		return nil, &UnsupportedError{Name: p.Command}
	}
	return fn(ctx, p.Options)
}

// decodeOptions fills out from raw, leaving it untouched when raw is empty.
func decodeOptions(raw json.RawMessage, out any) error {
	if isEmptyBody(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
