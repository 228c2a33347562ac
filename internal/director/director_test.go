package director

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

var origin = trajectory.Target{Longitude: 0, Latitude: 0, Height: 0, SuggestedRadius: 500}

func TestGenerateFullOrbit(t *testing.T) {
	cfg := config.DefaultOrbit()
	cfg.DurationSec = 12
	cfg.FPS = 30

	frames, err := Generate(origin, cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(frames) != 361 {
		t.Fatalf("expected 361 frames, got %d", len(frames))
	}
	if frames[0].HeadingRad != 0 {
		t.Errorf("frames[0].HeadingRad = %v", frames[0].HeadingRad)
	}
	if math.Abs(frames[360].HeadingRad-2*math.Pi) > 1e-9 {
		t.Errorf("frames[360].HeadingRad = %v, want 2π", frames[360].HeadingRad)
	}
	if math.Abs(frames[180].TimeMs-6000) > 1e-6 {
		t.Errorf("frames[180].TimeMs = %v, want 6000", frames[180].TimeMs)
	}
	for i, f := range frames {
		if f.Index != i {
			t.Fatalf("frame %d has index %d", i, f.Index)
		}
		if f.RangeM != cfg.RadiusMeters {
			t.Fatalf("frame %d range = %v", i, f.RangeM)
		}
	}

	// heading 0 looks north, so the camera sits south of the target
	if frames[0].Latitude >= 0 {
		t.Errorf("camera latitude = %v, want south of target", frames[0].Latitude)
	}
	wantAlt := cfg.RadiusMeters * math.Sin(trajectory.DegToRad(-cfg.PitchDeg))
	if math.Abs(frames[0].AltitudeM-wantAlt) > 1e-6 {
		t.Errorf("altitude = %v, want %v", frames[0].AltitudeM, wantAlt)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	cfg := config.DefaultOrbit()
	cfg.Easing = config.EaseInOut
	cfg.HeadingStartDeg = 45
	cfg.HeadingEndDeg = 45 + 720

	a, err := Generate(origin, cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(origin, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("two generations differ")
	}
}

func TestGenerateParallelMatchesSequential(t *testing.T) {
	cfg := config.DefaultOrbit()
	cfg.DurationSec = 120
	cfg.FPS = 60 // 7201 frames, above the parallel threshold
	cfg.Easing = config.EaseOut

	frames, err := Generate(origin, cfg)
	if err != nil {
		t.Fatal(err)
	}
	total := len(frames) - 1
	for _, i := range []int{0, 1, total / 3, total / 2, total - 1, total} {
		if want := FrameAt(origin, cfg, i, total); frames[i] != want {
			t.Errorf("frame %d = %+v, want %+v", i, frames[i], want)
		}
	}
}

func TestGenerateFrameCountLaw(t *testing.T) {
	tests := []struct {
		d, fps float64
	}{
		{3, 24}, {12, 30}, {7.5, 60}, {0.1, 10}, {100, 1}, {1.01, 25},
	}
	for _, tt := range tests {
		cfg := config.DefaultOrbit()
		cfg.DurationSec = tt.d
		cfg.FPS = tt.fps

		frames, err := Generate(origin, cfg)
		if err != nil {
			t.Fatalf("Generate(%v, %v) failed: %v", tt.d, tt.fps, err)
		}
		if want := trajectory.FrameCount(tt.d, tt.fps) + 1; len(frames) != want {
			t.Errorf("Generate(%v, %v) = %d frames, want %d", tt.d, tt.fps, len(frames), want)
		}
	}
}

func TestGenerateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		d    float64
		fps  float64
	}{
		{"zero duration", 0, 30},
		{"negative fps", 10, -1},
		{"no frames", 0.01, 30},
		{"nan", math.NaN(), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultOrbit()
			cfg.DurationSec = tt.d
			cfg.FPS = tt.fps
			frames, err := Generate(origin, cfg)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
			if frames != nil {
				t.Errorf("expected no frames, got %d", len(frames))
			}
		})
	}
}

func TestLookupsClampToBoundary(t *testing.T) {
	cfg := config.DefaultOrbit()
	cfg.DurationSec = 4
	cfg.FPS = 24
	frames, err := Generate(origin, cfg)
	if err != nil {
		t.Fatal(err)
	}
	first, last := frames[0], frames[len(frames)-1]

	for _, lookup := range []func([]OrbitFrame, float64) (OrbitFrame, bool){NearestFrame, InterpolatedFrame} {
		if f, _ := lookup(frames, -100); f != first {
			t.Errorf("before start = %+v", f)
		}
		if f, _ := lookup(frames, last.TimeMs+5000); f != last {
			t.Errorf("after end = %+v", f)
		}
		if f, ok := lookup(frames, math.NaN()); !ok || f != first {
			t.Errorf("NaN = %+v", f)
		}
		if _, ok := lookup(nil, 0); ok {
			t.Error("empty timeline should report !ok")
		}
	}
}

func TestInterpolatedFrame(t *testing.T) {
	frames := []OrbitFrame{
		{Index: 0, TimeMs: 0, HeadingRad: 0, RangeM: 100},
		{Index: 1, TimeMs: 100, HeadingRad: 1, RangeM: 200},
	}

	f, ok := InterpolatedFrame(frames, 25)
	if !ok {
		t.Fatal("expected ok")
	}
	if math.Abs(f.HeadingRad-0.25) > 1e-12 || math.Abs(f.RangeM-125) > 1e-12 {
		t.Errorf("blend = %+v", f)
	}
	if f.TimeMs != 25 {
		t.Errorf("time = %v", f.TimeMs)
	}

	if n, _ := NearestFrame(frames, 49); n.Index != 0 {
		t.Errorf("nearest(49) = %d", n.Index)
	}
	if n, _ := NearestFrame(frames, 51); n.Index != 1 {
		t.Errorf("nearest(51) = %d", n.Index)
	}
	if n, _ := NearestFrame(frames, 50); n.Index != 0 {
		t.Errorf("nearest(50) tie = %d, want earlier", n.Index)
	}
}

func TestTimelineWriteRead(t *testing.T) {
	cfg := config.DefaultOrbit()
	cfg.DurationSec = 3
	cfg.FPS = 24
	frames, err := Generate(origin, cfg)
	if err != nil {
		t.Fatal(err)
	}

	path := GenerateTimelinePath(filepath.Join(t.TempDir(), "plans"), time.Date(2026, 2, 13, 1, 0, 0, 0, time.UTC))
	if filepath.Base(path) != "orbit_2026-02-13_01-00-00.yaml" {
		t.Errorf("path = %s", path)
	}

	tl := &Timeline{Target: origin, Config: cfg, Messages: []string{"radius raised"}, Frames: frames}
	if err := WriteTimeline(tl, path); err != nil {
		t.Fatalf("WriteTimeline failed: %v", err)
	}

	read, err := ReadTimeline(path)
	if err != nil {
		t.Fatalf("ReadTimeline failed: %v", err)
	}
	if read.Version != TimelineVersion {
		t.Errorf("version = %q", read.Version)
	}
	if read.Config != cfg || read.Target != origin {
		t.Errorf("config/target mismatch: %+v %+v", read.Config, read.Target)
	}
	if len(read.Frames) != len(frames) {
		t.Fatalf("frame count = %d, want %d", len(read.Frames), len(frames))
	}

	latest, err := FindLatestTimeline(filepath.Dir(path))
	if err != nil || latest != path {
		t.Errorf("FindLatestTimeline = %q, %v", latest, err)
	}
}
