package config

import (
	"fmt"
	"math"
	"reflect"

	"github.com/InVisionApp/conjungo"
)

// Easing selects the reparameterization of orbit progress.
type Easing string

const (
	EaseLinear    Easing = "linear"
	EaseIn        Easing = "easeIn"
	EaseOut       Easing = "easeOut"
	EaseInOut     Easing = "easeInOut"
	DefaultEasing        = EaseLinear
)

// OrbitConfig describes one orbit run around a target.
type OrbitConfig struct {
	DurationSec        float64 `yaml:"duration_sec" koanf:"duration_sec" validate:"gt=0"`
	FPS                float64 `yaml:"fps" koanf:"fps" validate:"gt=0"`
	RadiusMeters       float64 `yaml:"radius_meters" koanf:"radius_meters" validate:"gt=0"`
	PitchDeg           float64 `yaml:"pitch_deg" koanf:"pitch_deg"`                   // negative looks down
	HeadingStartDeg    float64 `yaml:"heading_start_deg" koanf:"heading_start_deg"`   // compass, clockwise
	HeadingEndDeg      float64 `yaml:"heading_end_deg" koanf:"heading_end_deg"`       // may exceed 360 for more than one turn
	HeightOffsetMeters float64 `yaml:"height_offset_meters" koanf:"height_offset_meters"`
	Easing             Easing  `yaml:"easing" koanf:"easing" validate:"omitempty,oneof=linear easeIn easeOut easeInOut"`
}

// DefaultOrbit returns the configuration used for fields a caller leaves unset.
func DefaultOrbit() OrbitConfig {
	return OrbitConfig{
		DurationSec:        12,
		FPS:                30,
		RadiusMeters:       500,
		PitchDeg:           -35,
		HeadingStartDeg:    0,
		HeadingEndDeg:      360,
		HeightOffsetMeters: 0,
		Easing:             EaseLinear,
	}
}

// OrbitPatch is a partial OrbitConfig. Nil fields keep the value they are merged over.
type OrbitPatch struct {
	DurationSec        *float64 `yaml:"duration_sec,omitempty"`
	FPS                *float64 `yaml:"fps,omitempty"`
	RadiusMeters       *float64 `yaml:"radius_meters,omitempty"`
	PitchDeg           *float64 `yaml:"pitch_deg,omitempty"`
	HeadingStartDeg    *float64 `yaml:"heading_start_deg,omitempty"`
	HeadingEndDeg      *float64 `yaml:"heading_end_deg,omitempty"`
	HeightOffsetMeters *float64 `yaml:"height_offset_meters,omitempty"`
	Easing             *Easing  `yaml:"easing,omitempty"`
}

// Float is a helper for building patches inline.
func Float(v float64) *float64 { return &v }

// EasingPtr is a helper for building patches inline.
func EasingPtr(e Easing) *Easing { return &e }

// PatchOf turns a full config into a patch with every field set.
func PatchOf(c OrbitConfig) OrbitPatch {
	return OrbitPatch{
		DurationSec:        Float(c.DurationSec),
		FPS:                Float(c.FPS),
		RadiusMeters:       Float(c.RadiusMeters),
		PitchDeg:           Float(c.PitchDeg),
		HeadingStartDeg:    Float(c.HeadingStartDeg),
		HeadingEndDeg:      Float(c.HeadingEndDeg),
		HeightOffsetMeters: Float(c.HeightOffsetMeters),
		Easing:             EasingPtr(c.Easing),
	}
}

// keepUnset is the conjungo merge func for pointer fields: a nil source never
// overrides the target.
func keepUnset(t, s reflect.Value, _ *conjungo.Options) (reflect.Value, error) {
	if s.IsNil() {
		return t, nil
	}
	return s, nil
}

func patchMergeOptions() *conjungo.Options {
	opts := conjungo.NewOptions()
	opts.SetTypeMergeFunc(reflect.TypeOf((*float64)(nil)), keepUnset)
	opts.SetTypeMergeFunc(reflect.TypeOf((*Easing)(nil)), keepUnset)
	return opts
}

// Merge applies the set fields of patch over base.
func Merge(base OrbitConfig, patch OrbitPatch) (OrbitConfig, error) {
	merged := PatchOf(base)
	if err := conjungo.Merge(&merged, patch, patchMergeOptions()); err != nil {
		return base, fmt.Errorf("merge orbit config: %w", err)
	}
	return OrbitConfig{
		DurationSec:        *merged.DurationSec,
		FPS:                *merged.FPS,
		RadiusMeters:       *merged.RadiusMeters,
		PitchDeg:           *merged.PitchDeg,
		HeadingStartDeg:    *merged.HeadingStartDeg,
		HeadingEndDeg:      *merged.HeadingEndDeg,
		HeightOffsetMeters: *merged.HeightOffsetMeters,
		Easing:             *merged.Easing,
	}, nil
}

// SafetyLimits are the hard bounds every run is repaired against.
type SafetyLimits struct {
	MinRadiusMeters      float64 `yaml:"min_radius_meters" koanf:"min_radius_meters" validate:"gt=0"`
	MaxRadiusMeters      float64 `yaml:"max_radius_meters" koanf:"max_radius_meters" validate:"gtfield=MinRadiusMeters"`
	MinPitchDeg          float64 `yaml:"min_pitch_deg" koanf:"min_pitch_deg" validate:"gte=-90"`
	MaxPitchDeg          float64 `yaml:"max_pitch_deg" koanf:"max_pitch_deg" validate:"gtfield=MinPitchDeg,lt=0"`
	MinDurationSec       float64 `yaml:"min_duration_sec" koanf:"min_duration_sec" validate:"gt=0"`
	MaxDurationSec       float64 `yaml:"max_duration_sec" koanf:"max_duration_sec" validate:"gtefield=MinDurationSec"`
	MinFPS               float64 `yaml:"min_fps" koanf:"min_fps" validate:"gt=0"`
	MaxFPS               float64 `yaml:"max_fps" koanf:"max_fps" validate:"gtefield=MinFPS"`
	MinHeightAboveGround float64 `yaml:"min_height_above_ground" koanf:"min_height_above_ground" validate:"gte=0"`
}

// DefaultLimits returns the process-wide bounds.
func DefaultLimits() SafetyLimits {
	return SafetyLimits{
		MinRadiusMeters:      100,
		MaxRadiusMeters:      5000,
		MinPitchDeg:          -85,
		MaxPitchDeg:          -10,
		MinDurationSec:       3,
		MaxDurationSec:       120,
		MinFPS:               24,
		MaxFPS:               60,
		MinHeightAboveGround: 30,
	}
}

// Validate checks that the limits can be satisfied together. The clearance
// repair raises the radius, so the shallowest allowed pitch must still reach
// MinHeightAboveGround within MaxRadiusMeters.
func (l SafetyLimits) Validate() error {
	if l.MinRadiusMeters <= 0 || l.MaxRadiusMeters < l.MinRadiusMeters {
		return fmt.Errorf("radius bounds [%g, %g] are invalid", l.MinRadiusMeters, l.MaxRadiusMeters)
	}
	if l.MinPitchDeg < -90 || l.MaxPitchDeg >= 0 || l.MaxPitchDeg < l.MinPitchDeg {
		return fmt.Errorf("pitch bounds [%g, %g] must lie in [-90, 0)", l.MinPitchDeg, l.MaxPitchDeg)
	}
	if l.MinDurationSec <= 0 || l.MaxDurationSec < l.MinDurationSec {
		return fmt.Errorf("duration bounds [%g, %g] are invalid", l.MinDurationSec, l.MaxDurationSec)
	}
	if l.MinFPS <= 0 || l.MaxFPS < l.MinFPS {
		return fmt.Errorf("fps bounds [%g, %g] are invalid", l.MinFPS, l.MaxFPS)
	}
	if l.MinDurationSec*l.MinFPS < 1 {
		return fmt.Errorf("minimum duration %gs at %g fps yields no frames", l.MinDurationSec, l.MinFPS)
	}
	need := l.MinHeightAboveGround / math.Sin(-l.MaxPitchDeg*math.Pi/180)
	if need > l.MaxRadiusMeters {
		return fmt.Errorf("clearance of %gm at pitch %g° needs radius %.0fm, above max %gm",
			l.MinHeightAboveGround, l.MaxPitchDeg, need, l.MaxRadiusMeters)
	}
	return nil
}
