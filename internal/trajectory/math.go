// Package trajectory holds the pure math behind an orbit: angle helpers,
// easing curves, heading over time, frame/time conversion and the
// clearance-aware range calculation.
package trajectory

import (
	"errors"
	"fmt"
	"math"

	"github.com/ivlev/orbitreel/internal/config"
)

// ErrUnknownEasing is reported by ParseEasing for tags outside the known set.
var ErrUnknownEasing = errors.New("unknown easing")

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Lerp performs linear interpolation between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeAngle maps degrees into [0, 360).
func NormalizeAngle(deg float64) float64 {
	a := math.Mod(deg, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}

// ParseEasing validates an easing tag. The empty tag selects the default.
func ParseEasing(s string) (config.Easing, error) {
	switch e := config.Easing(s); e {
	case "":
		return config.DefaultEasing, nil
	case config.EaseLinear, config.EaseIn, config.EaseOut, config.EaseInOut:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEasing, s)
}

// Ease reparameterizes t in [0, 1]. Input is clamped first.
// Unknown kinds behave as linear; use ParseEasing to reject them up front.
func Ease(kind config.Easing, t float64) float64 {
	t = Clamp(t, 0, 1)
	switch kind {
	case config.EaseIn:
		return t * t
	case config.EaseOut:
		return 1 - (1-t)*(1-t)
	case config.EaseInOut:
		if t < 0.5 {
			return 4 * t * t * t
		}
		return 1 - math.Pow(-2*t+2, 3)/2
	default:
		return t
	}
}

// HeadingAt returns the heading in degrees at progress t.
// The result is not normalized, so a full turn ends at HeadingEndDeg.
func HeadingAt(cfg config.OrbitConfig, t float64) float64 {
	return Lerp(cfg.HeadingStartDeg, cfg.HeadingEndDeg, Ease(cfg.Easing, t))
}

// FrameCount is floor(duration*fps), 0 for non-positive input.
func FrameCount(durationSec, fps float64) int {
	if durationSec <= 0 || fps <= 0 || math.IsNaN(durationSec) || math.IsNaN(fps) {
		return 0
	}
	return int(math.Floor(durationSec * fps))
}

// TimeForFrame returns the elapsed milliseconds at frame index.
func TimeForFrame(index int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(index) / fps * 1000
}

// ProgressForFrame is index/total, 0 when total is not positive.
func ProgressForFrame(index, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(index) / float64(total)
}

// SafeRange returns the larger of desired and the range that keeps a camera
// at pitchDeg at least clearance meters above the target
// (height = range*sin(-pitch)). A level or upward camera gains no height
// from range, so desired is returned unchanged.
func SafeRange(desired, pitchDeg, clearance float64) float64 {
	s := math.Sin(DegToRad(-pitchDeg))
	if s <= 0 || clearance <= 0 {
		return desired
	}
	return math.Max(desired, clearance/s)
}

// HeightAbove is the camera height over the target for a range and pitch.
func HeightAbove(rangeM, pitchDeg float64) float64 {
	return rangeM * math.Sin(DegToRad(-pitchDeg))
}
