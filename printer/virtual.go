package printer

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrNotPrinting is returned for job operations while nothing is printing.
var ErrNotPrinting = errors.New("printer: not printing")

const (
	heatStep     = 5.0
	progressStep = 1.0
)

// Virtual is an in-memory printer used when no hardware driver is attached.
// Heaters move toward their targets and jobs advance each time they are polled.
type Virtual struct {
	mu         sync.Mutex
	state      State
	temps      Temperatures
	activeTool string
	job        Job
	progress   Progress
	profile    Profile
	fanPercent float64
	position   map[string]float64
	sent       []string
}

func NewVirtual(profile Profile) *Virtual {
	if profile.Extruders <= 0 {
		profile.Extruders = 1
	}
	temps := Temperatures{}
	for i := 0; i < profile.Extruders; i++ {
		temps[fmt.Sprintf("tool%d", i)] = Temp{Actual: 21, Target: 0}
	}
	if profile.HeatedBed {
		temps["bed"] = Temp{Actual: 21, Target: 0}
	}
	return &Virtual{
		state:      State{Operational: true, Text: "Operational"},
		temps:      temps,
		activeTool: "tool0",
		profile:    profile,
		position:   map[string]float64{"x": 0, "y": 0, "z": 0, "e": 0},
	}
}

func (v *Virtual) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Temperatures returns a fresh copy of the heater readings, moving each
// heater one step toward its target.
func (v *Virtual) Temperatures() Temperatures {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(Temperatures, len(v.temps))
	for name, t := range v.temps {
		goal := t.Target
		if goal == 0 {
			goal = 21
		}
		switch {
		case t.Actual < goal:
			t.Actual = min(goal, t.Actual+heatStep)
		case t.Actual > goal:
			t.Actual = max(goal, t.Actual-heatStep)
		}
		v.temps[name] = t
		out[name] = t
	}
	return out
}

func (v *Virtual) ActiveTool() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activeTool
}

// Progress advances a running, unpaused job and finishes it at 100%.
func (v *Virtual) Progress() Progress {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.Printing && !v.state.Paused {
		v.progress.Completion = min(100, v.progress.Completion+progressStep)
		v.progress.PrintTime++
		v.progress.PrintTimeLeft = int(100 - v.progress.Completion)
		if v.progress.Completion >= 100 {
			v.state.Printing = false
			v.state.Text = "Operational"
			slog.Info("printer.virtual.job.done", "file", v.job.File)
		}
	}
	return v.progress
}

func (v *Virtual) Job() Job {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.job
}

func (v *Virtual) Profile() Profile {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.profile
}

func (v *Virtual) TogglePause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.state.Printing {
		return ErrNotPrinting
	}
	v.state.Paused = !v.state.Paused
	if v.state.Paused {
		v.state.Text = "Paused"
	} else {
		v.state.Text = "Printing"
	}
	return nil
}

func (v *Virtual) Cancel() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.state.Printing {
		return ErrNotPrinting
	}
	v.state.Printing = false
	v.state.Paused = false
	v.state.Text = "Operational"
	v.progress = Progress{}
	return nil
}

func (v *Virtual) Jog(j Jog) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for axis, d := range j.Axes {
		axis = strings.ToLower(axis)
		if _, ok := v.position[axis]; !ok {
			return fmt.Errorf("unknown axis %q", axis)
		}
		if j.Absolute {
			v.position[axis] = d
		} else {
			v.position[axis] += d
		}
	}
	return nil
}

func (v *Virtual) Home(axes []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(axes) == 0 {
		axes = []string{"x", "y", "z"}
	}
	for _, axis := range axes {
		axis = strings.ToLower(axis)
		if _, ok := v.position[axis]; !ok {
			return fmt.Errorf("unknown axis %q", axis)
		}
		v.position[axis] = 0
	}
	return nil
}

func (v *Virtual) Extrude(amount, speed float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position["e"] += amount
	return nil
}

func (v *Virtual) ChangeTool(tool string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.temps[tool]; !ok || !strings.HasPrefix(tool, "tool") {
		return fmt.Errorf("unknown tool %q", tool)
	}
	v.activeTool = tool
	return nil
}

func (v *Virtual) SetTemperature(heater string, target float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.temps[heater]
	if !ok {
		return fmt.Errorf("unknown heater %q", heater)
	}
	if target < 0 {
		return fmt.Errorf("invalid target %.1f for %s", target, heater)
	}
	t.Target = target
	v.temps[heater] = t
	return nil
}

func (v *Virtual) SetFanSpeed(percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("fan speed %.0f out of range", percent)
	}
	v.mu.Lock()
	v.fanPercent = percent
	v.mu.Unlock()
	return nil
}

func (v *Virtual) SendCommands(cmds ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sent = append(v.sent, cmds...)
	return nil
}

// SelectFile loads path as the current job and optionally starts it.
func (v *Virtual) SelectFile(path string, start bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.Printing {
		return errors.New("printer: busy printing")
	}
	v.job = Job{File: path}
	v.progress = Progress{}
	if start {
		v.state.Printing = true
		v.state.Text = "Printing"
	}
	return nil
}
