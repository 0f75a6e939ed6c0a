package location

// StageID names one step of the acquisition cascade.
type StageID string

const (
	StageNone    StageID = ""
	StageGPS     StageID = "gps"
	StageNetwork StageID = "network"
	StageCell    StageID = "cell_tower"
	StageIP      StageID = "ip_geolocation"
)

// Mode selects how a tracking session behaves after its first fix.
type Mode int

const (
	// OneShot ends the session at the first live fix (manual test tracking).
	OneShot Mode = iota
	// AutoEnable keeps tracking after the first fix (remote parent request).
	AutoEnable
)

func (m Mode) String() string {
	switch m {
	case OneShot:
		return "one_shot"
	case AutoEnable:
		return "auto_enable"
	default:
		return "unknown"
	}
}
