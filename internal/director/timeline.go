package director

import (
	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

// TimelineVersion is written into every plan file.
const TimelineVersion = "1.0"

// Timeline is a generated orbit persisted for offline inspection
type Timeline struct {
	Version  string             `yaml:"version"`
	Target   trajectory.Target  `yaml:"target"`
	Config   config.OrbitConfig `yaml:"config"`
	Messages []string           `yaml:"auto_fix,omitempty"` // Safety adjustments applied before generation
	Frames   []OrbitFrame       `yaml:"frames"`
}

// OrbitFrame is the camera pose at one instant of the orbit
type OrbitFrame struct {
	Index      int     `yaml:"index"`
	TimeMs     float64 `yaml:"time_ms"`     // Elapsed time since the first frame
	HeadingRad float64 `yaml:"heading_rad"` // Not normalized: a full turn ends at 2π
	PitchRad   float64 `yaml:"pitch_rad"`   // Negative looks down
	RangeM     float64 `yaml:"range_m"`     // Distance from camera to target

	// Camera position derived from the pose
	Longitude float64 `yaml:"lon"`
	Latitude  float64 `yaml:"lat"`
	AltitudeM float64 `yaml:"alt_m"`
}
