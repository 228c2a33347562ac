package capture

import (
	"image"
	"sync"

	"github.com/ivlev/orbitreel/internal/effects"
	"github.com/ivlev/orbitreel/internal/system"
)

// canvas is the intermediate surface of the compositing engine. Frames are
// drawn into a back buffer and swapped in whole, so a reader never sees a
// half-drawn overlay.
type canvas struct {
	src  Surface
	size image.Point
	pool *system.FramePool

	drawMu sync.Mutex
	closed bool

	mu    sync.Mutex
	front *image.RGBA
}

func newCanvas(src Surface, pool *system.FramePool) *canvas {
	size := src.Size()
	c := &canvas{src: src, size: size, pool: pool}
	c.front = pool.Get(size)
	clear(c.front.Pix)
	return c
}

// render copies the surface and draws overlay on top. The returned error is
// the compositor's; the frame is still swapped in.
func (c *canvas) render(comp *effects.Compositor, overlay effects.OverlayConfig) error {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()
	if c.closed {
		return nil
	}

	back := c.pool.Get(c.size)
	c.src.Snapshot(back)
	var err error
	if !overlay.Empty() {
		err = comp.Draw(back, overlay)
	}

	c.mu.Lock()
	old := c.front
	c.front = back
	c.mu.Unlock()
	c.pool.Put(old)
	return err
}

func (c *canvas) Size() image.Point { return c.size }

func (c *canvas) Snapshot(dst *image.RGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.front != nil {
		copy(dst.Pix, c.front.Pix)
	}
}

// CaptureStream returns the canvas itself as a stream.
func (c *canvas) CaptureStream(fps float64) (Stream, error) {
	return &canvasStream{canvas: c, fps: fps}, nil
}

// release waits for an in-flight render and returns the buffers to the pool.
func (c *canvas) release() {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	c.mu.Lock()
	front := c.front
	c.front = nil
	c.mu.Unlock()
	c.pool.Put(front)
}

type canvasStream struct {
	*canvas
	fps  float64
	once sync.Once
}

func (s *canvasStream) FPS() float64 { return s.fps }

func (s *canvasStream) ReadFrame(dst *image.RGBA) { s.Snapshot(dst) }

func (s *canvasStream) Stop() { s.once.Do(s.release) }
