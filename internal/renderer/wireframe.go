// Package renderer is a software scene renderer for headless recording: a
// flat ground grid, the parcel outline and a target marker, seen through a
// pinhole camera the orbit controller moves.
package renderer

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/vector"

	"github.com/ivlev/orbitreel/internal/capture"
	"github.com/ivlev/orbitreel/internal/frameloop"
	"github.com/ivlev/orbitreel/internal/orbit"
	"github.com/ivlev/orbitreel/internal/system"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

var (
	_ orbit.Scene     = (*Wireframe)(nil)
	_ capture.Surface = (*Wireframe)(nil)
)

const (
	gridSpacing = 100.0
	gridExtent  = 2000.0
	markerPole  = 25.0
)

var (
	skyTop      = color.RGBA{96, 140, 196, 255}
	skyHorizon  = color.RGBA{190, 210, 230, 255}
	groundColor = color.RGBA{74, 92, 64, 255}
	gridColor   = color.RGBA{104, 124, 92, 255}
	parcelFill  = color.RGBA{128, 100, 0, 128} // premultiplied, 50% amber
	parcelLine  = color.RGBA{255, 214, 40, 255}
	markerColor = color.RGBA{230, 60, 50, 255}
)

// Option configures a Wireframe.
type Option func(*Wireframe)

func WithSize(width, height int) Option {
	return func(w *Wireframe) {
		if width > 0 && height > 0 {
			w.size = image.Pt(width, height)
		}
	}
}

func WithFieldOfView(deg float64) Option {
	return func(w *Wireframe) {
		if deg > 0 && deg < 180 {
			w.fov = deg
		}
	}
}

// WithGroundElevation sets the height of the flat terrain in meters.
func WithGroundElevation(m float64) Option {
	return func(w *Wireframe) { w.ground = m }
}

func WithFramePool(pool *system.FramePool) Option {
	return func(w *Wireframe) { w.pool = pool }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Wireframe) { w.log = log }
}

// Wireframe renders on the scheduler's frames, either on demand after
// RequestRedraw or on every frame in continuous mode.
type Wireframe struct {
	sched  frameloop.Scheduler
	origin trajectory.Target
	parcel []vec3
	size   image.Point
	fov    float64
	ground float64
	pool   *system.FramePool
	log    logrus.FieldLogger

	mu         sync.Mutex
	cam        Camera
	continuous bool
	scheduled  bool
	pending    frameloop.Handle
	closed     bool

	frameMu sync.Mutex
	front   *image.RGBA
	painted uint64
}

// NewWireframe creates a renderer centred on origin showing the boundary.
// The camera starts south of the origin looking north and the first frame
// is painted before NewWireframe returns.
func NewWireframe(sched frameloop.Scheduler, origin trajectory.Target, boundary []trajectory.LonLat, opts ...Option) *Wireframe {
	w := &Wireframe{
		sched:  sched,
		origin: origin,
		size:   image.Pt(1280, 720),
		fov:    60,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pool == nil {
		w.pool = system.NewFramePool()
	}
	for _, p := range boundary {
		e, n := origin.LocalENU(p.Longitude, p.Latitude)
		w.parcel = append(w.parcel, vec3{e, n, w.ground + 0.5})
	}

	r := math.Max(origin.SuggestedRadius, trajectory.MinSuggestedRadius)
	w.SetCameraPose(origin, 0, trajectory.DegToRad(-35), r*2)
	w.render(w.cam)
	return w
}

// SetCameraPose places the camera rangeM from anchor, looking at it along
// headingRad with pitchRad tilt.
func (w *Wireframe) SetCameraPose(anchor trajectory.Target, headingRad, pitchRad, rangeM float64) {
	ae, an := w.origin.LocalENU(anchor.Longitude, anchor.Latitude)
	sh, ch := math.Sincos(headingRad)
	sp, cp := math.Sincos(pitchRad)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.cam = Camera{
		East:       ae - rangeM*cp*sh,
		North:      an - rangeM*cp*ch,
		Up:         anchor.Height - rangeM*sp,
		HeadingRad: headingRad,
		PitchRad:   pitchRad,
	}
}

// RequestRedraw paints on the next scheduler frame. Requests before that
// frame coalesce.
func (w *Wireframe) RequestRedraw() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requestLocked()
}

func (w *Wireframe) requestLocked() {
	if w.closed || w.scheduled {
		return
	}
	w.scheduled = true
	w.pending = w.sched.RequestFrame(w.onFrame)
}

func (w *Wireframe) onFrame(time.Time) {
	w.mu.Lock()
	w.scheduled = false
	if w.closed {
		w.mu.Unlock()
		return
	}
	cam := w.cam
	w.mu.Unlock()

	w.render(cam)

	w.mu.Lock()
	if w.continuous {
		w.requestLocked()
	}
	w.mu.Unlock()
}

// SetContinuousRedraw switches between painting every frame and painting
// only after RequestRedraw.
func (w *Wireframe) SetContinuousRedraw(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.continuous = on
	if on {
		w.requestLocked()
	}
}

// Continuous reports the redraw mode.
func (w *Wireframe) Continuous() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.continuous
}

// SampleGroundHeight returns the flat terrain elevation.
func (w *Wireframe) SampleGroundHeight(lon, lat float64) (float64, error) {
	return w.ground, nil
}

// CameraTransform returns the current Camera.
func (w *Wireframe) CameraTransform() orbit.Transform {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cam
}

// SetCameraTransform restores a Camera returned by CameraTransform. Other
// values are ignored.
func (w *Wireframe) SetCameraTransform(t orbit.Transform) {
	cam, ok := t.(Camera)
	if !ok {
		w.log.Warnf("renderer: ignoring camera transform of type %T", t)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cam = cam
}

// Close stops painting.
func (w *Wireframe) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.scheduled {
		w.sched.CancelFrame(w.pending)
		w.scheduled = false
	}
}

// Frames is the number of frames painted so far.
func (w *Wireframe) Frames() uint64 {
	w.frameMu.Lock()
	defer w.frameMu.Unlock()
	return w.painted
}

func (w *Wireframe) Size() image.Point { return w.size }

// Snapshot copies the last painted frame.
func (w *Wireframe) Snapshot(dst *image.RGBA) {
	w.frameMu.Lock()
	defer w.frameMu.Unlock()
	if w.front != nil {
		copy(dst.Pix, w.front.Pix)
	}
}

func (w *Wireframe) CaptureStream(fps float64) (capture.Stream, error) {
	return &stream{w: w, fps: fps}, nil
}

type stream struct {
	w   *Wireframe
	fps float64
}

func (s *stream) Size() image.Point         { return s.w.size }
func (s *stream) FPS() float64              { return s.fps }
func (s *stream) ReadFrame(dst *image.RGBA) { s.w.Snapshot(dst) }
func (s *stream) Stop()                     {}

func (w *Wireframe) render(cam Camera) {
	back := w.pool.Get(w.size)
	w.paint(back, cam)

	w.frameMu.Lock()
	old := w.front
	w.front = back
	w.painted++
	w.frameMu.Unlock()
	if old != nil {
		w.pool.Put(old)
	}
}

// paint draws the whole scene into dst. Each layer is one rasterizer pass.
func (w *Wireframe) paint(dst *image.RGBA, cam Camera) {
	b := dst.Bounds()
	v := newView(cam, b.Dx(), b.Dy(), w.fov)

	horizon := int(math.Round(v.horizon(cam.PitchRad)))
	draw.Draw(dst, b, image.NewUniform(groundColor), image.Point{}, draw.Src)
	w.paintSky(dst, horizon)

	l := &layer{z: vector.NewRasterizer(b.Dx(), b.Dy()), v: v, guard: guardPlanes(b.Dx(), b.Dy()), empty: true}

	for d := -gridExtent; d <= gridExtent; d += gridSpacing {
		l.stroke(vec3{d, -gridExtent, w.ground}, vec3{d, gridExtent, w.ground}, 1)
		l.stroke(vec3{-gridExtent, d, w.ground}, vec3{gridExtent, d, w.ground}, 1)
	}
	l.draw(dst, gridColor)

	if len(w.parcel) >= 3 {
		l.polygon(w.parcel)
		l.draw(dst, parcelFill)
		for i := range w.parcel {
			l.stroke(w.parcel[i], w.parcel[(i+1)%len(w.parcel)], 2)
		}
		l.draw(dst, parcelLine)
	}

	top := math.Max(w.origin.Height, w.ground) + markerPole
	l.stroke(vec3{0, 0, w.ground}, vec3{0, 0, top}, 3)
	l.draw(dst, markerColor)
}

func (w *Wireframe) paintSky(dst *image.RGBA, horizon int) {
	b := dst.Bounds()
	rows := min(horizon, b.Max.Y)
	for y := b.Min.Y; y < rows; y++ {
		t := 1.0
		if horizon > 0 {
			t = float64(y) / float64(horizon)
		}
		c := color.RGBA{
			R: uint8(trajectory.Lerp(float64(skyTop.R), float64(skyHorizon.R), t)),
			G: uint8(trajectory.Lerp(float64(skyTop.G), float64(skyHorizon.G), t)),
			B: uint8(trajectory.Lerp(float64(skyTop.B), float64(skyHorizon.B), t)),
			A: 255,
		}
		draw.Draw(dst, image.Rect(b.Min.X, y, b.Max.X, y+1), image.NewUniform(c), image.Point{}, draw.Src)
	}
}

// layer collects clipped paths for one rasterizer pass.
type layer struct {
	z     *vector.Rasterizer
	v     view
	guard []halfPlane[pt2]
	empty bool
}

func (l *layer) draw(dst *image.RGBA, col color.RGBA) {
	if !l.empty {
		l.z.Draw(dst, dst.Bounds(), image.NewUniform(col), image.Point{})
	}
	l.z.Reset(dst.Bounds().Dx(), dst.Bounds().Dy())
	l.empty = true
}

func (l *layer) path(pts []pt2) {
	l.z.MoveTo(float32(pts[0].x), float32(pts[0].y))
	for _, p := range pts[1:] {
		l.z.LineTo(float32(p.x), float32(p.y))
	}
	l.z.ClosePath()
	l.empty = false
}

// polygon adds a world-space polygon clipped to the near plane and guard band.
func (l *layer) polygon(poly []vec3) {
	cam := make([]vec3, len(poly))
	for i, p := range poly {
		cam[i] = l.v.toCamera(p)
	}
	cam = clipPolygon(cam, inFront, lerp3)
	if len(cam) < 3 {
		return
	}
	pts := make([]pt2, len(cam))
	for i, c := range cam {
		x, y := l.v.screen(c)
		pts[i] = pt2{x, y}
	}
	for _, f := range l.guard {
		pts = clipPolygon(pts, f, lerp2)
	}
	if len(pts) >= 3 {
		l.path(pts)
	}
}

// stroke adds a world-space segment as a quad widthPx wide.
func (l *layer) stroke(a, b vec3, widthPx float64) {
	ca, cb, ok := clipSegment(l.v.toCamera(a), l.v.toCamera(b), lerp3, inFront)
	if !ok {
		return
	}
	ax, ay := l.v.screen(ca)
	bx, by := l.v.screen(cb)
	pa, pb, ok := clipSegment(pt2{ax, ay}, pt2{bx, by}, lerp2, l.guard...)
	if !ok {
		return
	}

	dx, dy := pb.x-pa.x, pb.y-pa.y
	n := math.Hypot(dx, dy)
	if n < 1e-6 {
		return
	}
	nx, ny := -dy/n*widthPx/2, dx/n*widthPx/2
	l.path([]pt2{
		{pa.x + nx, pa.y + ny},
		{pb.x + nx, pb.y + ny},
		{pb.x - nx, pb.y - ny},
		{pa.x - nx, pa.y - ny},
	})
}
