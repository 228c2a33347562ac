package frameloop

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualFramesRunOnNextStep(t *testing.T) {
	m := NewManual(epoch, 10*time.Millisecond)

	var ticks []time.Time
	var loop FrameFunc
	loop = func(now time.Time) {
		ticks = append(ticks, now)
		if len(ticks) < 3 {
			m.RequestFrame(loop)
		}
	}
	m.RequestFrame(loop)

	m.Step()
	if len(ticks) != 1 {
		t.Fatalf("re-requested frame ran in the same dispatch: %d ticks", len(ticks))
	}
	m.Advance(50 * time.Millisecond)
	if len(ticks) != 3 {
		t.Fatalf("ticks = %d, want 3", len(ticks))
	}
	if !ticks[1].Equal(epoch.Add(20 * time.Millisecond)) {
		t.Errorf("second tick at %v", ticks[1].Sub(epoch))
	}
	if !m.Idle() {
		t.Error("expected idle after loop ended")
	}
}

func TestManualCancelFrame(t *testing.T) {
	m := NewManual(epoch, time.Millisecond)

	ran := false
	h := m.RequestFrame(func(time.Time) { ran = true })
	m.CancelFrame(h)
	m.CancelFrame(h)
	m.CancelFrame(12345)
	m.Step()
	if ran {
		t.Error("cancelled frame ran")
	}

	// cancel from an earlier callback in the same batch
	var second Handle
	m.RequestFrame(func(time.Time) { m.CancelFrame(second) })
	second = m.RequestFrame(func(time.Time) { ran = true })
	m.Step()
	if ran {
		t.Error("frame cancelled mid-batch still ran")
	}
}

func TestManualEvery(t *testing.T) {
	m := NewManual(epoch, 50*time.Millisecond)

	var fired []time.Duration
	cancel := m.Every(250*time.Millisecond, func(now time.Time) {
		fired = append(fired, now.Sub(epoch))
	})

	m.Advance(time.Second)
	if len(fired) != 4 {
		t.Fatalf("fired %d times in 1s, want 4: %v", len(fired), fired)
	}
	if fired[0] != 250*time.Millisecond {
		t.Errorf("first fire at %v", fired[0])
	}

	// a long stall fires once
	m.Jump(2 * time.Second)
	if len(fired) != 5 {
		t.Errorf("after jump fired %d times, want 5", len(fired))
	}

	cancel()
	cancel()
	m.Advance(time.Second)
	if len(fired) != 5 {
		t.Errorf("fired after cancel: %d", len(fired))
	}
	if !m.Idle() {
		t.Error("expected idle")
	}
}

func TestTickerDispatches(t *testing.T) {
	tk := NewTicker(200)
	defer tk.Close()

	var frames, intervals atomic.Int32
	done := make(chan struct{})
	var loop FrameFunc
	loop = func(time.Time) {
		if frames.Add(1) == 5 {
			close(done)
			return
		}
		tk.RequestFrame(loop)
	}
	tk.RequestFrame(loop)
	cancel := tk.Every(10*time.Millisecond, func(time.Time) { intervals.Add(1) })
	defer cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("frames did not run")
	}
	if tk.Period() != 5*time.Millisecond {
		t.Errorf("period = %v", tk.Period())
	}
}
