package engine

import (
	"sync"
	"time"

	"github.com/ivlev/orbitreel/internal/capture"
	"github.com/ivlev/orbitreel/internal/orbit"
)

// State of the record flow.
type State string

const (
	StateIdle       State = "idle"
	StateCreating   State = "creating"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateUploading  State = "uploading"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// Terminal reports whether only Reset leaves s.
func (s State) Terminal() bool { return s == StateComplete || s == StateError }

// Active reports whether a run is between idle and a terminal state.
func (s State) Active() bool { return s != StateIdle && !s.Terminal() }

// Result is the outcome of a completed run.
type Result struct {
	VideoID  int64         `json:"videoId"`
	FileID   string        `json:"fileId,omitempty"`
	Filename string        `json:"filename"`
	Format   string        `json:"format"`
	Duration time.Duration `json:"duration"`
	Metadata Metadata      `json:"metadata"`

	Data    []byte           `json:"-"`
	Preview *capture.Preview `json:"-"`
}

// Snapshot is the flow's state at one point. Later snapshots supersede
// earlier ones.
type Snapshot struct {
	RunID    string        `json:"runId,omitempty"`
	State    State         `json:"state"`
	VideoID  int64         `json:"videoId,omitempty"`
	Message  string        `json:"message,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Progress float64       `json:"progress"`
	Orbit    orbit.State   `json:"orbit"`
	Result   *Result       `json:"result,omitempty"`
	Seq      uint64        `json:"seq"`
}

type observers struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Snapshot)
	last uint64
}

func (o *observers) subscribe(fn func(Snapshot)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]func(Snapshot))
	}
	id := o.next
	o.next++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// notify drops snapshots older than the last one delivered.
func (o *observers) notify(s Snapshot) {
	o.mu.Lock()
	if s.Seq < o.last {
		o.mu.Unlock()
		return
	}
	o.last = s.Seq
	fns := make([]func(Snapshot), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
