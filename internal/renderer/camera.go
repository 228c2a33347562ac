package renderer

import "math"

// nearPlane is the closest distance in meters the camera draws.
const nearPlane = 1.0

type vec3 struct{ x, y, z float64 }

func (a vec3) sub(b vec3) vec3 { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }
func (a vec3) dot(b vec3) float64 { return a.x*b.x + a.y*b.y + a.z*b.z }
func (a vec3) lerp(b vec3, t float64) vec3 {
	return vec3{a.x + (b.x-a.x)*t, a.y + (b.y-a.y)*t, a.z + (b.z-a.z)*t}
}

// Camera is the renderer's camera transform: a position in the scene's local
// east/north/up frame (up is absolute altitude) and a view direction.
type Camera struct {
	East       float64 `json:"east"`
	North      float64 `json:"north"`
	Up         float64 `json:"up"`
	HeadingRad float64 `json:"heading_rad"`
	PitchRad   float64 `json:"pitch_rad"`
}

func (c Camera) position() vec3 { return vec3{c.East, c.North, c.Up} }

// view is a camera ready to project world points.
type view struct {
	eye                vec3
	right, up, forward vec3
	focal, cx, cy      float64
}

func newView(c Camera, width, height int, fovDeg float64) view {
	sh, ch := math.Sincos(c.HeadingRad)
	sp, cp := math.Sincos(c.PitchRad)
	return view{
		eye:     c.position(),
		forward: vec3{sh * cp, ch * cp, sp},
		right:   vec3{ch, -sh, 0},
		up:      vec3{-sh * sp, -ch * sp, cp},
		focal:   float64(height) / 2 / math.Tan(fovDeg*math.Pi/360),
		cx:      float64(width) / 2,
		cy:      float64(height) / 2,
	}
}

// toCamera returns p in camera space: x right, y up, z forward.
func (v view) toCamera(p vec3) vec3 {
	d := p.sub(v.eye)
	return vec3{d.dot(v.right), d.dot(v.up), d.dot(v.forward)}
}

// screen projects a camera-space point with z >= nearPlane.
func (v view) screen(c vec3) (x, y float64) {
	return v.cx + v.focal*c.x/c.z, v.cy - v.focal*c.y/c.z
}

// project returns the screen position of a world point and whether it is in
// front of the camera.
func (v view) project(p vec3) (x, y float64, ok bool) {
	c := v.toCamera(p)
	if c.z < nearPlane {
		return 0, 0, false
	}
	x, y = v.screen(c)
	return x, y, true
}

// horizon is the screen row of the ground plane's vanishing line.
func (v view) horizon(pitchRad float64) float64 {
	return v.cy + v.focal*math.Tan(pitchRad)
}

type pt2 struct{ x, y float64 }

// halfPlane is a linear function that is >= 0 on the kept side.
type halfPlane[T any] func(T) float64

// clipPolygon is Sutherland-Hodgman against one half-plane.
func clipPolygon[T any](poly []T, f halfPlane[T], lerp func(a, b T, t float64) T) []T {
	if len(poly) == 0 {
		return nil
	}
	out := make([]T, 0, len(poly)+2)
	prev := poly[len(poly)-1]
	fp := f(prev)
	for _, cur := range poly {
		fc := f(cur)
		switch {
		case fc >= 0 && fp >= 0:
			out = append(out, cur)
		case fc >= 0:
			out = append(out, lerp(prev, cur, fp/(fp-fc)), cur)
		case fp >= 0:
			out = append(out, lerp(prev, cur, fp/(fp-fc)))
		}
		prev, fp = cur, fc
	}
	return out
}

// clipSegment keeps the part of a-b on the kept side of every half-plane.
func clipSegment[T any](a, b T, lerp func(a, b T, t float64) T, planes ...halfPlane[T]) (T, T, bool) {
	for _, f := range planes {
		fa, fb := f(a), f(b)
		switch {
		case fa < 0 && fb < 0:
			return a, b, false
		case fa < 0:
			a = lerp(a, b, fa/(fa-fb))
		case fb < 0:
			b = lerp(a, b, fa/(fa-fb))
		}
	}
	return a, b, true
}

func lerp3(a, b vec3, t float64) vec3 { return a.lerp(b, t) }

func lerp2(a, b pt2, t float64) pt2 {
	return pt2{a.x + (b.x-a.x)*t, a.y + (b.y-a.y)*t}
}

func inFront(c vec3) float64 { return c.z - nearPlane }

// guardPlanes bound screen coordinates to a band around the frame so the
// rasterizer never sees far-off vertices.
func guardPlanes(width, height int) []halfPlane[pt2] {
	g := float64(max(width, height))
	w, h := float64(width), float64(height)
	return []halfPlane[pt2]{
		func(p pt2) float64 { return p.x + g },
		func(p pt2) float64 { return w + g - p.x },
		func(p pt2) float64 { return p.y + g },
		func(p pt2) float64 { return h + g - p.y },
	}
}
