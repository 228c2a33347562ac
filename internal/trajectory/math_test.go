package trajectory

import (
	"errors"
	"math"
	"testing"

	"github.com/ivlev/orbitreel/internal/config"
)

const eps = 1e-9

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{720, 0},
		{-90, 270},
		{450, 90},
		{-360, 0},
		{359.5, 359.5},
	}

	for _, tt := range tests {
		got := NormalizeAngle(tt.in)
		if math.Abs(got-tt.want) > eps {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("NormalizeAngle(%v) = %v out of [0, 360)", tt.in, got)
		}
	}
}

func TestEase(t *testing.T) {
	kinds := []config.Easing{config.EaseLinear, config.EaseIn, config.EaseOut, config.EaseInOut}

	for _, k := range kinds {
		if got := Ease(k, 0); math.Abs(got) > eps {
			t.Errorf("%s: Ease(0) = %v, want 0", k, got)
		}
		if got := Ease(k, 1); math.Abs(got-1) > eps {
			t.Errorf("%s: Ease(1) = %v, want 1", k, got)
		}
		prev := -1.0
		for i := 0; i <= 100; i++ {
			v := Ease(k, float64(i)/100)
			if v < prev-eps {
				t.Errorf("%s: not monotonic at %d", k, i)
			}
			prev = v
		}
	}

	tests := []struct {
		kind config.Easing
		t    float64
		want float64
	}{
		{config.EaseLinear, 0.25, 0.25},
		{config.EaseIn, 0.5, 0.25},
		{config.EaseOut, 0.5, 0.75},
		{config.EaseInOut, 0.5, 0.5},
		{config.EaseInOut, 0.25, 0.0625},
		{"bogus", 0.3, 0.3},
		{config.EaseIn, 2, 1},
		{config.EaseIn, -1, 0},
	}
	for _, tt := range tests {
		if got := Ease(tt.kind, tt.t); math.Abs(got-tt.want) > eps {
			t.Errorf("Ease(%q, %v) = %v, want %v", tt.kind, tt.t, got, tt.want)
		}
	}
}

func TestParseEasing(t *testing.T) {
	if e, err := ParseEasing(""); err != nil || e != config.EaseLinear {
		t.Errorf("ParseEasing(\"\") = %q, %v", e, err)
	}
	if e, err := ParseEasing("easeInOut"); err != nil || e != config.EaseInOut {
		t.Errorf("ParseEasing(easeInOut) = %q, %v", e, err)
	}
	if _, err := ParseEasing("bounce"); !errors.Is(err, ErrUnknownEasing) {
		t.Errorf("expected ErrUnknownEasing, got %v", err)
	}
}

func TestHeadingAt(t *testing.T) {
	cfg := config.DefaultOrbit()
	cfg.HeadingStartDeg = 30
	cfg.HeadingEndDeg = 390

	if got := HeadingAt(cfg, 0); got != 30 {
		t.Errorf("start heading = %v", got)
	}
	if got := HeadingAt(cfg, 1); got != 390 {
		t.Errorf("end heading = %v, want 390 (not normalized)", got)
	}
	if got := HeadingAt(cfg, 0.5); math.Abs(got-210) > eps {
		t.Errorf("mid heading = %v", got)
	}
}

func TestFrameCountAndTime(t *testing.T) {
	tests := []struct {
		d, fps float64
		want   int
	}{
		{12, 30, 360},
		{1, 24, 24},
		{0.5, 1.5, 0},
		{0, 30, 0},
		{10, -1, 0},
		{2.5, 30, 75},
	}
	for _, tt := range tests {
		if got := FrameCount(tt.d, tt.fps); got != tt.want {
			t.Errorf("FrameCount(%v, %v) = %d, want %d", tt.d, tt.fps, got, tt.want)
		}
	}

	if got := TimeForFrame(180, 30); math.Abs(got-6000) > eps {
		t.Errorf("TimeForFrame(180, 30) = %v", got)
	}
	if got := ProgressForFrame(90, 360); got != 0.25 {
		t.Errorf("ProgressForFrame = %v", got)
	}
	if got := ProgressForFrame(1, 0); got != 0 {
		t.Errorf("ProgressForFrame with zero total = %v", got)
	}
}

func TestSafeRange(t *testing.T) {
	// sin(30°) = 0.5: 30 m of clearance needs 60 m of range.
	if got := SafeRange(40, -30, 30); math.Abs(got-60) > 1e-6 {
		t.Errorf("SafeRange raised = %v, want 60", got)
	}
	if got := SafeRange(500, -30, 30); got != 500 {
		t.Errorf("SafeRange kept = %v, want 500", got)
	}
	if got := SafeRange(100, 0, 30); got != 100 {
		t.Errorf("level camera = %v, want desired", got)
	}
	if got := SafeRange(100, 15, 30); got != 100 {
		t.Errorf("upward camera = %v, want desired", got)
	}
	if h := HeightAbove(SafeRange(10, -45, 50), -45); h < 50-1e-6 {
		t.Errorf("clearance not met: %v", h)
	}
}
