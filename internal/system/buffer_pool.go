package system

import (
	"image"
	"sync"
)

// FramePool recycles RGBA frames of the same size. The compositing canvas
// and the software renderer allocate one full frame per tick otherwise.
type FramePool struct {
	pools map[image.Point]*sync.Pool
	mu    sync.RWMutex
}

// NewFramePool creates an empty pool.
func NewFramePool() *FramePool {
	return &FramePool{pools: make(map[image.Point]*sync.Pool)}
}

// Get returns a frame with bounds (0,0)-(size). Contents are undefined.
func (p *FramePool) Get(size image.Point) *image.RGBA {
	p.mu.RLock()
	pool, exists := p.pools[size]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		pool, exists = p.pools[size]
		if !exists {
			pool = &sync.Pool{
				New: func() any {
					return image.NewRGBA(image.Rectangle{Max: size})
				},
			}
			p.pools[size] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*image.RGBA)
}

// Put hands a frame back. Frames of a size never requested are dropped.
func (p *FramePool) Put(img *image.RGBA) {
	if img == nil || img.Rect.Min != (image.Point{}) {
		return
	}
	p.mu.RLock()
	pool, exists := p.pools[img.Rect.Max]
	p.mu.RUnlock()

	if exists {
		pool.Put(img)
	}
}
