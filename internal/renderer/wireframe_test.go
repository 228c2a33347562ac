package renderer

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/frameloop"
	"github.com/ivlev/orbitreel/internal/orbit"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

var (
	epoch  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	origin = trajectory.Target{Longitude: 10, Latitude: 50, Height: 0, SuggestedRadius: 200}
)

func square(half float64) []trajectory.LonLat {
	var pts []trajectory.LonLat
	d := half * math.Sqrt2
	for _, bearing := range []float64{45, 135, 225, 315} {
		lon, lat := origin.Offset(d, bearing)
		pts = append(pts, trajectory.LonLat{Longitude: lon, Latitude: lat})
	}
	return pts
}

func newWireframe(t *testing.T, boundary []trajectory.LonLat) (*Wireframe, *frameloop.Manual) {
	t.Helper()
	m := frameloop.NewManual(epoch, time.Second/30)
	w := NewWireframe(m, origin, boundary, WithSize(320, 240), WithFieldOfView(60))
	t.Cleanup(w.Close)
	return w, m
}

func TestAnchorProjectsToCenter(t *testing.T) {
	w, _ := newWireframe(t, nil)

	for _, h := range []float64{0, 45, 180, 300} {
		for _, p := range []float64{-10, -35, -80} {
			w.SetCameraPose(origin, trajectory.DegToRad(h), trajectory.DegToRad(p), 500)
			v := newView(w.CameraTransform().(Camera), 320, 240, 60)
			x, y, ok := v.project(vec3{0, 0, origin.Height})
			if !ok || math.Abs(x-160) > 1e-6 || math.Abs(y-120) > 1e-6 {
				t.Errorf("heading %v pitch %v: anchor at (%v, %v) ok=%v", h, p, x, y, ok)
			}
		}
	}

	// camera stands opposite the heading at the expected height
	w.SetCameraPose(origin, 0, trajectory.DegToRad(-30), 1000)
	cam := w.CameraTransform().(Camera)
	if math.Abs(cam.North+1000*math.Cos(trajectory.DegToRad(30))) > 1e-6 || math.Abs(cam.Up-500) > 1e-6 {
		t.Errorf("camera = %+v", cam)
	}
}

func TestEastIsRightWhenFacingNorth(t *testing.T) {
	w, _ := newWireframe(t, nil)
	w.SetCameraPose(origin, 0, trajectory.DegToRad(-45), 500)
	v := newView(w.CameraTransform().(Camera), 320, 240, 60)

	x, _, ok := v.project(vec3{100, 0, 0})
	if !ok || x <= 160 {
		t.Errorf("east point at x=%v", x)
	}
	if _, _, ok := v.project(vec3{0, -2000, 0}); ok {
		t.Error("point behind the camera projected")
	}
}

func TestPaintSkyAndParcel(t *testing.T) {
	w, m := newWireframe(t, square(60))

	w.SetCameraPose(origin, 0, trajectory.DegToRad(-10), 400)
	w.RequestRedraw()
	m.Step()
	frame := image.NewRGBA(image.Rect(0, 0, 320, 240))
	w.Snapshot(frame)
	if got := frame.RGBAAt(0, 0); got != skyTop {
		t.Errorf("top-left = %v, want sky", got)
	}

	w.SetCameraPose(origin, 0, trajectory.DegToRad(-60), 400)
	w.RequestRedraw()
	m.Step()
	w.Snapshot(frame)
	got := frame.RGBAAt(180, 130)
	if got == groundColor || got.R < 140 || got.B > 60 {
		t.Errorf("parcel pixel = %v", got)
	}
	if got := frame.RGBAAt(5, 235); got.B > 100 {
		t.Errorf("bottom corner = %v, want ground", got)
	}
}

func TestRedrawModes(t *testing.T) {
	w, m := newWireframe(t, nil)
	if w.Frames() != 1 {
		t.Fatalf("frames after construction = %d", w.Frames())
	}

	w.RequestRedraw()
	w.RequestRedraw()
	if w.Frames() != 1 {
		t.Error("painted before the next frame")
	}
	m.Step()
	m.Step()
	if w.Frames() != 2 {
		t.Errorf("on-demand frames = %d, want 2", w.Frames())
	}

	w.SetContinuousRedraw(true)
	if !w.Continuous() {
		t.Error("continuous mode not reported")
	}
	m.Step()
	m.Step()
	m.Step()
	if w.Frames() != 5 {
		t.Errorf("continuous frames = %d, want 5", w.Frames())
	}

	w.SetContinuousRedraw(false)
	m.Step()
	n := w.Frames()
	m.Step()
	m.Step()
	if w.Frames() != n {
		t.Error("still painting after continuous mode ended")
	}

	w.Close()
	w.RequestRedraw()
	m.Step()
	if w.Frames() != n {
		t.Error("painted after Close")
	}
}

func TestCameraTransformRoundTrip(t *testing.T) {
	w, _ := newWireframe(t, nil)

	saved := w.CameraTransform()
	w.SetCameraPose(origin, 1, -0.5, 800)
	if w.CameraTransform() == saved {
		t.Fatal("pose did not move the camera")
	}
	w.SetCameraTransform(saved)
	if w.CameraTransform() != saved {
		t.Error("transform not restored")
	}
	w.SetCameraTransform("not a camera")
	if w.CameraTransform() != saved {
		t.Error("foreign transform applied")
	}
}

func TestOrbitDrivesWireframe(t *testing.T) {
	w, m := newWireframe(t, square(40))
	home := w.CameraTransform()

	c := orbit.New(m, config.DefaultLimits(), config.DefaultOrbit())
	c.Init(w)
	if err := c.StartOrbit(origin, config.OrbitPatch{DurationSec: config.Float(3)}, false); err != nil {
		t.Fatal(err)
	}
	m.Advance(time.Second)

	if w.Frames() < 20 {
		t.Errorf("frames during orbit = %d", w.Frames())
	}
	cam := w.CameraTransform().(Camera)
	if cam == home.(Camera) || cam.HeadingRad <= 0 {
		t.Errorf("camera = %+v", cam)
	}

	c.StopOrbit()
	if w.CameraTransform() != home {
		t.Error("camera not restored after stop")
	}
}

func TestClipPolygon(t *testing.T) {
	sq := []pt2{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	half := clipPolygon(sq, func(p pt2) float64 { return 5 - p.x }, lerp2)
	if len(half) != 4 {
		t.Fatalf("clipped = %v", half)
	}
	for _, p := range half {
		if p.x > 5+1e-9 {
			t.Errorf("point %v outside", p)
		}
	}
	if got := clipPolygon(sq, func(p pt2) float64 { return p.x - 20 }, lerp2); len(got) != 0 {
		t.Errorf("fully clipped polygon = %v", got)
	}

	a, b, ok := clipSegment(vec3{0, 0, -5}, vec3{0, 0, 5}, lerp3, inFront)
	if !ok || math.Abs(a.z-nearPlane) > 1e-9 || b.z != 5 {
		t.Errorf("segment = %v %v %v", a, b, ok)
	}
	if _, _, ok := clipSegment(vec3{0, 0, -5}, vec3{0, 0, 0}, lerp3, inFront); ok {
		t.Error("segment behind camera kept")
	}
}

func TestOrbitKeepsClearanceOverGround(t *testing.T) {
	m := frameloop.NewManual(epoch, time.Second/30)
	w := NewWireframe(m, origin, square(40), WithSize(160, 120), WithGroundElevation(50))
	t.Cleanup(w.Close)

	c := orbit.New(m, config.DefaultLimits(), config.DefaultOrbit())
	c.Init(w)
	patch := config.OrbitPatch{
		PitchDeg:           config.Float(-10),
		RadiusMeters:       config.Float(100),
		HeightOffsetMeters: config.Float(40),
	}
	if err := c.StartOrbit(origin, patch, false); err != nil {
		t.Fatal(err)
	}
	m.Advance(200 * time.Millisecond)

	cfg, _ := c.ActiveConfig()
	cam := w.CameraTransform().(Camera)
	want := origin.Height + 40 + trajectory.HeightAbove(cfg.RadiusMeters, cfg.PitchDeg)
	if math.Abs(cam.Up-want) > 1e-6 {
		t.Errorf("camera up = %.2f, want %.2f", cam.Up, want)
	}
	if floor := 50 + config.DefaultLimits().MinHeightAboveGround; cam.Up < floor-1e-6 {
		t.Errorf("camera up = %.2f below floor %.2f", cam.Up, floor)
	}
	c.StopOrbit()
}
