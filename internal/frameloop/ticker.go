package frameloop

import (
	"sync"
	"time"
)

// Ticker drives callbacks from a wall-clock ticker at a fixed frame rate.
type Ticker struct {
	core
	period time.Duration
	once   sync.Once
	stop   chan struct{}
	done   chan struct{}
}

// NewTicker starts a frame clock at fps. Close stops it.
func NewTicker(fps float64) *Ticker {
	if fps <= 0 {
		fps = 60
	}
	t := &Ticker{
		period: time.Duration(float64(time.Second) / fps),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	defer close(t.done)
	tk := time.NewTicker(t.period)
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-tk.C:
			t.dispatch(now)
		}
	}
}

func (t *Ticker) Now() time.Time { return time.Now() }

func (t *Ticker) RequestFrame(fn FrameFunc) Handle { return t.requestFrame(fn) }

func (t *Ticker) CancelFrame(h Handle) { t.cancelFrame(h) }

func (t *Ticker) Every(d time.Duration, fn FrameFunc) func() {
	return t.every(time.Now(), d, fn)
}

// Period is the frame interval.
func (t *Ticker) Period() time.Duration { return t.period }

// Close stops the clock and waits for an in-flight frame to finish.
// Pending callbacks are dropped. Calling Close from a callback deadlocks.
func (t *Ticker) Close() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}
