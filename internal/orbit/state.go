package orbit

import "sync"

// Phase of the controller.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
)

// AutoFix records the safety adjustments made when a run started.
type AutoFix struct {
	Applied  bool     `json:"applied"`
	Message  string   `json:"message,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

// State is a snapshot of the controller. Later snapshots supersede earlier ones.
type State struct {
	Phase        Phase   `json:"phase"`
	Running      bool    `json:"running"`
	Preview      bool    `json:"preview"`
	Progress     float64 `json:"progress"`
	CurrentFrame int     `json:"current_frame"`
	TotalFrames  int     `json:"total_frames"`
	AutoFix      AutoFix `json:"auto_fix"`
	// Completed is set when a full run reached its end on its own.
	Completed bool `json:"completed"`
	// Loops counts preview wraps.
	Loops int `json:"loops,omitempty"`
	// Seq increases with every snapshot. Snapshots can reach a subscriber
	// from the frame goroutine and the caller's goroutine; keep the highest.
	Seq uint64 `json:"seq"`
}

func idleState() State {
	return State{Phase: PhaseIdle}
}

// observers delivers snapshots synchronously. A snapshot older than one
// already delivered is dropped, so subscribers only ever move forward.
type observers struct {
	mu        sync.Mutex
	next      int
	subs      map[int]func(State)
	delivered uint64
}

func (o *observers) subscribe(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]func(State))
	}
	id := o.next
	o.next++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

func (o *observers) notify(s State) {
	o.mu.Lock()
	if s.Seq < o.delivered {
		o.mu.Unlock()
		return
	}
	o.delivered = s.Seq
	subs := make([]func(State), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

func (o *observers) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = nil
}
