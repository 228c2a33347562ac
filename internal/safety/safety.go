// Package safety repairs orbit configurations against hard limits and
// ground clearance. It never fails: every input yields a usable config plus
// a human-readable note for each value it changed.
package safety

import (
	"fmt"
	"math"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

// Field names used in Fix records.
const (
	FieldDuration = "duration"
	FieldFPS      = "fps"
	FieldRadius   = "radius"
	FieldPitch    = "pitch"
	FieldHeight   = "clearance"
	FieldTerrain  = "terrain"
)

// Fix records one adjustment.
type Fix struct {
	Field   string
	From    float64
	To      float64
	Message string
}

// Result is the repaired configuration and what changed.
type Result struct {
	Config   config.OrbitConfig
	WasFixed bool
	Messages []string
	Fixes    []Fix
}

// Observer is notified once per applied fix. Used for metrics.
type Observer func(Fix)

func (r *Result) add(obs Observer, field string, from, to float64, format string, args ...any) {
	f := Fix{Field: field, From: from, To: to, Message: fmt.Sprintf(format, args...)}
	r.WasFixed = true
	r.Messages = append(r.Messages, f.Message)
	r.Fixes = append(r.Fixes, f)
	if obs != nil {
		obs(f)
	}
}

// Validate runs the config-only pass. Fixes apply in a fixed order:
// duration, fps, radius floor, radius ceiling, pitch, then clearance.
func Validate(cfg config.OrbitConfig, target trajectory.Target, limits config.SafetyLimits, obs ...Observer) Result {
	var o Observer
	if len(obs) > 0 {
		o = obs[0]
	}
	res := Result{Config: cfg}
	c := &res.Config

	if d := sanitize(c.DurationSec, limits.MinDurationSec); d != c.DurationSec || d < limits.MinDurationSec || d > limits.MaxDurationSec {
		to := trajectory.Clamp(d, limits.MinDurationSec, limits.MaxDurationSec)
		res.add(o, FieldDuration, c.DurationSec, to,
			"duration adjusted from %gs to %gs (allowed %gs to %gs)", c.DurationSec, to, limits.MinDurationSec, limits.MaxDurationSec)
		c.DurationSec = to
	}

	if f := sanitize(c.FPS, limits.MinFPS); f != c.FPS || f < limits.MinFPS || f > limits.MaxFPS {
		to := trajectory.Clamp(f, limits.MinFPS, limits.MaxFPS)
		res.add(o, FieldFPS, c.FPS, to,
			"frame rate adjusted from %g to %g fps (allowed %g to %g)", c.FPS, to, limits.MinFPS, limits.MaxFPS)
		c.FPS = to
	}

	floor := math.Max(limits.MinRadiusMeters, target.SuggestedRadius*0.5)
	if floor > limits.MaxRadiusMeters {
		floor = limits.MaxRadiusMeters
	}
	if r := sanitize(c.RadiusMeters, floor); r != c.RadiusMeters || r < floor {
		to := math.Max(r, floor)
		res.add(o, FieldRadius, c.RadiusMeters, to,
			"radius raised from %.0fm to %.0fm to keep the whole parcel in frame", c.RadiusMeters, to)
		c.RadiusMeters = to
	}
	if c.RadiusMeters > limits.MaxRadiusMeters {
		res.add(o, FieldRadius, c.RadiusMeters, limits.MaxRadiusMeters,
			"radius reduced from %.0fm to the maximum of %.0fm", c.RadiusMeters, limits.MaxRadiusMeters)
		c.RadiusMeters = limits.MaxRadiusMeters
	}

	if p := sanitize(c.PitchDeg, limits.MaxPitchDeg); p != c.PitchDeg || p < limits.MinPitchDeg || p > limits.MaxPitchDeg {
		to := trajectory.Clamp(p, limits.MinPitchDeg, limits.MaxPitchDeg)
		res.add(o, FieldPitch, c.PitchDeg, to,
			"camera tilt adjusted from %g° to %g° (allowed %g° to %g°)", c.PitchDeg, to, limits.MinPitchDeg, limits.MaxPitchDeg)
		c.PitchDeg = to
	}

	if h := trajectory.HeightAbove(c.RadiusMeters, c.PitchDeg); h < limits.MinHeightAboveGround-1e-9 {
		to := math.Min(trajectory.SafeRange(c.RadiusMeters, c.PitchDeg, limits.MinHeightAboveGround), limits.MaxRadiusMeters)
		res.add(o, FieldHeight, c.RadiusMeters, to,
			"radius raised from %.0fm to %.0fm so the camera stays %.0fm above ground (was %.0fm)",
			c.RadiusMeters, to, limits.MinHeightAboveGround, h)
		c.RadiusMeters = to
	}

	return res
}

// ValidateTerrain is the second pass once ground elevation under the target
// is known. It only ever raises the radius, capped at MaxRadiusMeters, and
// appends to the messages of res.
func ValidateTerrain(res Result, target trajectory.Target, groundHeight float64, limits config.SafetyLimits, obs ...Observer) Result {
	var o Observer
	if len(obs) > 0 {
		o = obs[0]
	}
	if math.IsNaN(groundHeight) || math.IsInf(groundHeight, 0) {
		return res
	}

	out := res
	out.Messages = append([]string(nil), res.Messages...)
	out.Fixes = append([]Fix(nil), res.Fixes...)
	c := &out.Config

	anchor := target.Height + c.HeightOffsetMeters
	need := groundHeight + limits.MinHeightAboveGround - anchor
	if need <= 0 {
		return out
	}
	if h := trajectory.HeightAbove(c.RadiusMeters, c.PitchDeg); h >= need-1e-9 {
		return out
	}

	to := math.Min(trajectory.SafeRange(c.RadiusMeters, c.PitchDeg, need), limits.MaxRadiusMeters)
	if to <= c.RadiusMeters {
		return out
	}
	out.add(o, FieldTerrain, c.RadiusMeters, to,
		"radius raised from %.0fm to %.0fm because the ground under the target is at %.0fm",
		c.RadiusMeters, to, groundHeight)
	c.RadiusMeters = to
	return out
}

// sanitize replaces NaN and infinities so the clamps produce a real number.
func sanitize(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
