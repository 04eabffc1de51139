package printer

import (
	"errors"
	"testing"
)

func TestVirtualHeatsTowardTarget(t *testing.T) {
	v := NewVirtual(Profile{Extruders: 2, HeatedBed: true})
	temps := v.Temperatures()
	if len(temps) != 3 {
		t.Fatalf("heaters = %v", temps)
	}
	if err := v.SetTemperature("tool0", 30); err != nil {
		t.Fatalf("set temperature: %v", err)
	}
	if got := v.Temperatures()["tool0"]; got.Actual != 26 || got.Target != 30 {
		t.Fatalf("tool0 = %+v", got)
	}
	if got := v.Temperatures()["tool0"]; got.Actual != 30 {
		t.Fatalf("tool0 should clamp at target, got %+v", got)
	}
	if err := v.SetTemperature("chamber", 40); err == nil {
		t.Fatalf("unknown heater accepted")
	}
	if err := v.SetTemperature("bed", -1); err == nil {
		t.Fatalf("negative target accepted")
	}
}

func TestVirtualJobLifecycle(t *testing.T) {
	v := NewVirtual(Profile{})
	if err := v.TogglePause(); !errors.Is(err, ErrNotPrinting) {
		t.Fatalf("pause idle = %v", err)
	}
	if err := v.SelectFile("benchy.gcode", true); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := v.SelectFile("other.gcode", true); err == nil {
		t.Fatalf("select while printing accepted")
	}
	if v.Job().File != "benchy.gcode" || !v.State().Printing {
		t.Fatalf("job = %+v state = %+v", v.Job(), v.State())
	}
	if p := v.Progress(); p.Completion != 1 {
		t.Fatalf("progress = %+v", p)
	}

	if err := v.TogglePause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if p := v.Progress(); p.Completion != 1 {
		t.Fatalf("paused job advanced: %+v", p)
	}
	_ = v.TogglePause()

	for i := 0; i < 200 && v.State().Printing; i++ {
		v.Progress()
	}
	if v.State().Printing || v.Progress().Completion != 100 {
		t.Fatalf("job did not finish: %+v", v.State())
	}
	if err := v.Cancel(); !errors.Is(err, ErrNotPrinting) {
		t.Fatalf("cancel idle = %v", err)
	}
}

func TestVirtualMotionAndTools(t *testing.T) {
	v := NewVirtual(Profile{Extruders: 2})
	if err := v.Jog(Jog{Axes: map[string]float64{"X": 10, "z": 2}}); err != nil {
		t.Fatalf("jog: %v", err)
	}
	if err := v.Jog(Jog{Axes: map[string]float64{"w": 1}}); err == nil {
		t.Fatalf("unknown axis accepted")
	}
	if err := v.Home(nil); err != nil {
		t.Fatalf("home: %v", err)
	}
	if err := v.ChangeTool("tool1"); err != nil || v.ActiveTool() != "tool1" {
		t.Fatalf("change tool: %v, active %q", err, v.ActiveTool())
	}
	if err := v.ChangeTool("bed"); err == nil {
		t.Fatalf("bed accepted as tool")
	}
	if err := v.SetFanSpeed(120); err == nil {
		t.Fatalf("fan speed out of range accepted")
	}
	if err := v.SendCommands("G28", "M105"); err != nil {
		t.Fatalf("send commands: %v", err)
	}
}
