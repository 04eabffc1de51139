package printer

// Temp is one heater reading.
type Temp struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
}

// Temperatures maps heater names ("bed", "tool0", "tool1", ...) to readings.
type Temperatures map[string]Temp

// State holds the driver's status flags.
type State struct {
	Operational bool   `json:"operational"`
	Printing    bool   `json:"printing"`
	Paused      bool   `json:"paused"`
	Error       bool   `json:"error"`
	Text        string `json:"text"`
}

// Progress of the running job.
type Progress struct {
	Completion    float64 `json:"completion"`
	PrintTime     int     `json:"printTime"`
	PrintTimeLeft int     `json:"printTimeLeft"`
	Filepos       int64   `json:"filepos"`
}

// Job describes the selected print file.
type Job struct {
	File               string             `json:"file"`
	Size               int64              `json:"size"`
	EstimatedPrintTime float64            `json:"estimatedPrintTime"`
	Filament           map[string]float64 `json:"filament,omitempty"`
}

// Volume is the build volume in millimetres.
type Volume struct {
	Width  float64 `json:"width"`
	Depth  float64 `json:"depth"`
	Height float64 `json:"height"`
}

// Profile is the static printer description.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Model     string `json:"model"`
	Extruders int    `json:"extruders"`
	HeatedBed bool   `json:"heatedBed"`
	Volume    Volume `json:"volume"`
}

// Jog moves axes by the given distances.
type Jog struct {
	Axes     map[string]float64 `json:"axes"`
	Absolute bool               `json:"absolute"`
	Speed    float64            `json:"speed"`
}
