package director

import (
	"math"
	"sort"

	"github.com/ivlev/orbitreel/internal/trajectory"
)

// NearestFrame returns the frame closest in time to timeMs. Times before the
// first frame or after the last clamp to the boundary frame. Ties go to the
// earlier frame. ok is false only for an empty timeline.
func NearestFrame(frames []OrbitFrame, timeMs float64) (OrbitFrame, bool) {
	if len(frames) == 0 {
		return OrbitFrame{}, false
	}
	// NaN clamps to the start
	if timeMs <= frames[0].TimeMs || math.IsNaN(timeMs) {
		return frames[0], true
	}
	last := frames[len(frames)-1]
	if timeMs >= last.TimeMs {
		return last, true
	}

	i := bracket(frames, timeMs)
	prev, next := frames[i], frames[i+1]
	if next.TimeMs-timeMs < timeMs-prev.TimeMs {
		return next, true
	}
	return prev, true
}

// InterpolatedFrame linearly blends the two frames bracketing timeMs.
// Times outside the timeline clamp to the boundary frame.
func InterpolatedFrame(frames []OrbitFrame, timeMs float64) (OrbitFrame, bool) {
	if len(frames) == 0 {
		return OrbitFrame{}, false
	}

	if timeMs <= frames[0].TimeMs || math.IsNaN(timeMs) {
		return frames[0], true
	}
	last := frames[len(frames)-1]
	if timeMs >= last.TimeMs {
		return last, true
	}

	i := bracket(frames, timeMs)
	prev, next := frames[i], frames[i+1]

	span := next.TimeMs - prev.TimeMs
	if span <= 0 {
		return prev, true
	}
	t := (timeMs - prev.TimeMs) / span

	return OrbitFrame{
		Index:      prev.Index,
		TimeMs:     timeMs,
		HeadingRad: trajectory.Lerp(prev.HeadingRad, next.HeadingRad, t),
		PitchRad:   trajectory.Lerp(prev.PitchRad, next.PitchRad, t),
		RangeM:     trajectory.Lerp(prev.RangeM, next.RangeM, t),
		Longitude:  trajectory.Lerp(prev.Longitude, next.Longitude, t),
		Latitude:   trajectory.Lerp(prev.Latitude, next.Latitude, t),
		AltitudeM:  trajectory.Lerp(prev.AltitudeM, next.AltitudeM, t),
	}, true
}

// bracket returns i such that frames[i].TimeMs <= timeMs < frames[i+1].TimeMs.
// The caller has already handled both boundaries.
func bracket(frames []OrbitFrame, timeMs float64) int {
	j := sort.Search(len(frames), func(k int) bool { return frames[k].TimeMs > timeMs })
	return min(max(j-1, 0), len(frames)-2)
}
