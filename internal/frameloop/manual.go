package frameloop

import (
	"sync"
	"time"
)

// Manual is a deterministic clock for tests and offline rendering: time only
// moves when the owner calls Advance, Jump or Step, and callbacks run on the
// caller's goroutine.
type Manual struct {
	core
	frame time.Duration

	clock sync.Mutex
	now   time.Time
}

// NewManual creates a clock at start that advances frame by frame.
func NewManual(start time.Time, frame time.Duration) *Manual {
	if frame <= 0 {
		frame = time.Second / 60
	}
	return &Manual{now: start, frame: frame}
}

func (m *Manual) Now() time.Time {
	m.clock.Lock()
	defer m.clock.Unlock()
	return m.now
}

func (m *Manual) RequestFrame(fn FrameFunc) Handle { return m.requestFrame(fn) }

func (m *Manual) CancelFrame(h Handle) { m.cancelFrame(h) }

func (m *Manual) Every(d time.Duration, fn FrameFunc) func() {
	return m.every(m.Now(), d, fn)
}

// Step moves one frame forward and dispatches it.
func (m *Manual) Step() {
	m.clock.Lock()
	m.now = m.now.Add(m.frame)
	now := m.now
	m.clock.Unlock()
	m.dispatch(now)
}

// Advance steps frame by frame until d has elapsed. A remainder shorter
// than one frame is applied as a final partial step.
func (m *Manual) Advance(d time.Duration) {
	for d >= m.frame {
		m.Step()
		d -= m.frame
	}
	if d > 0 {
		m.Jump(d)
	}
}

// Jump moves the clock by d at once and dispatches a single frame, the way a
// host behaves after a long stall.
func (m *Manual) Jump(d time.Duration) {
	m.clock.Lock()
	m.now = m.now.Add(d)
	now := m.now
	m.clock.Unlock()
	m.dispatch(now)
}

// Idle reports whether no frame or interval is scheduled.
func (m *Manual) Idle() bool { return m.idle() }
