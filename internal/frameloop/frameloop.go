// Package frameloop is the host per-frame callback facility the orbit and
// compositing loops schedule themselves on, plus a coarse interval timer.
//
// Every callback of one Scheduler runs on a single goroutine, one at a time,
// so loop state needs no locking against other loops on the same scheduler.
// A callback requested while a frame is being dispatched runs on the next
// frame, never the current one.
package frameloop

import (
	"sync"
	"time"
)

// Handle identifies a pending frame callback.
type Handle uint64

// FrameFunc receives the frame timestamp.
type FrameFunc func(now time.Time)

// Scheduler is the host animation clock.
type Scheduler interface {
	Now() time.Time
	// RequestFrame runs fn once on the next frame.
	RequestFrame(fn FrameFunc) Handle
	// CancelFrame drops a pending request. Unknown handles are ignored.
	CancelFrame(h Handle)
	// Every runs fn every d until the returned cancel is called.
	Every(d time.Duration, fn FrameFunc) (cancel func())
}

type entry struct {
	h  Handle
	fn FrameFunc
}

type interval struct {
	every     time.Duration
	due       time.Time
	fn        FrameFunc
	cancelled bool
}

// core is the bookkeeping shared by Ticker and Manual.
type core struct {
	mu        sync.Mutex
	next      Handle
	pending   []entry
	cancelled map[Handle]bool // handles cancelled while their batch dispatches
	intervals []*interval
}

func (c *core) requestFrame(fn FrameFunc) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.pending = append(c.pending, entry{h: c.next, fn: fn})
	return c.next
}

func (c *core) cancelFrame(h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.pending {
		if e.h == h {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
	if c.cancelled != nil {
		c.cancelled[h] = true
	}
}

func (c *core) every(now time.Time, d time.Duration, fn FrameFunc) func() {
	if d <= 0 {
		d = time.Millisecond
	}
	iv := &interval{every: d, due: now.Add(d), fn: fn}

	c.mu.Lock()
	c.intervals = append(c.intervals, iv)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		iv.cancelled = true
		for i, x := range c.intervals {
			if x == iv {
				c.intervals = append(c.intervals[:i], c.intervals[i+1:]...)
				break
			}
		}
	}
}

// dispatch runs the frame callbacks pending before this call, then every
// interval that is due at now. Each due interval fires once per dispatch.
func (c *core) dispatch(now time.Time) {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.cancelled = make(map[Handle]bool)
	c.mu.Unlock()

	for _, e := range batch {
		c.mu.Lock()
		skip := c.cancelled[e.h]
		c.mu.Unlock()
		if !skip {
			e.fn(now)
		}
	}

	c.mu.Lock()
	c.cancelled = nil
	var due []*interval
	for _, iv := range c.intervals {
		if !now.Before(iv.due) {
			due = append(due, iv)
			iv.due = iv.due.Add(iv.every)
			if !now.Before(iv.due) {
				iv.due = now.Add(iv.every)
			}
		}
	}
	c.mu.Unlock()

	for _, iv := range due {
		c.mu.Lock()
		skip := iv.cancelled
		c.mu.Unlock()
		if !skip {
			iv.fn(now)
		}
	}
}

// idle reports whether nothing is scheduled.
func (c *core) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) == 0 && len(c.intervals) == 0
}
