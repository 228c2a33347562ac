package director

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/system"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

// ErrInvalidConfiguration is returned when a config cannot produce a timeline.
var ErrInvalidConfiguration = errors.New("invalid orbit configuration")

// parallelThreshold is the frame count above which frames are generated in chunks.
const parallelThreshold = 2048

// Generate maps a validated configuration to floor(duration*fps)+1 frames,
// both endpoints included. Frame i is computed from t = i/total alone, so the
// result does not depend on how the work is split.
func Generate(target trajectory.Target, cfg config.OrbitConfig) ([]OrbitFrame, error) {
	if !(cfg.DurationSec > 0) {
		return nil, fmt.Errorf("%w: duration %gs must be positive", ErrInvalidConfiguration, cfg.DurationSec)
	}
	if !(cfg.FPS > 0) {
		return nil, fmt.Errorf("%w: fps %g must be positive", ErrInvalidConfiguration, cfg.FPS)
	}
	total := trajectory.FrameCount(cfg.DurationSec, cfg.FPS)
	if total < 1 {
		return nil, fmt.Errorf("%w: %gs at %g fps yields no frames", ErrInvalidConfiguration, cfg.DurationSec, cfg.FPS)
	}
	if math.IsNaN(cfg.RadiusMeters) || math.IsNaN(cfg.PitchDeg) {
		return nil, fmt.Errorf("%w: radius and pitch must be numbers", ErrInvalidConfiguration)
	}

	frames := make([]OrbitFrame, total+1)

	if len(frames) < parallelThreshold {
		for i := range frames {
			frames[i] = FrameAt(target, cfg, i, total)
		}
		return frames, nil
	}

	workers := system.Workers()
	chunk := (len(frames) + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(frames); start += chunk {
		end := min(start+chunk, len(frames))
		g.Go(func() error {
			for i := start; i < end; i++ {
				frames[i] = FrameAt(target, cfg, i, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return frames, nil
}

// FrameAt computes frame index of a timeline with total intervals.
func FrameAt(target trajectory.Target, cfg config.OrbitConfig, index, total int) OrbitFrame {
	t := trajectory.ProgressForFrame(index, total)
	return Pose(target, cfg, index, trajectory.TimeForFrame(index, cfg.FPS), t)
}

// Pose is the camera pose at progress t. The live orbit loop and the
// offline generator both go through here.
func Pose(target trajectory.Target, cfg config.OrbitConfig, index int, timeMs, t float64) OrbitFrame {
	heading := trajectory.HeadingAt(cfg, t)
	pitch := trajectory.DegToRad(cfg.PitchDeg)

	// The camera sits behind the target along the view direction.
	horizontal := cfg.RadiusMeters * math.Cos(pitch)
	lon, lat := target.Offset(horizontal, trajectory.NormalizeAngle(heading+180))

	return OrbitFrame{
		Index:      index,
		TimeMs:     timeMs,
		HeadingRad: trajectory.DegToRad(heading),
		PitchRad:   pitch,
		RangeM:     cfg.RadiusMeters,
		Longitude:  lon,
		Latitude:   lat,
		AltitudeM:  target.Height + cfg.HeightOffsetMeters + trajectory.HeightAbove(cfg.RadiusMeters, cfg.PitchDeg),
	}
}
