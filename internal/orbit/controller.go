// Package orbit drives a live scene camera around a target, one pose per
// frame, and reports progress to subscribers.
package orbit

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/director"
	"github.com/ivlev/orbitreel/internal/frameloop"
	"github.com/ivlev/orbitreel/internal/safety"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

// ErrNotInitialized is returned by StartOrbit before Init or after Dispose.
var ErrNotInitialized = errors.New("orbit controller is not initialized")

const (
	DefaultPreviewDurationSec = 6.0
	DefaultPreviewArcDeg      = 90.0
)

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithPreview overrides the preview duration and arc.
func WithPreview(durationSec, arcDeg float64) Option {
	return func(c *Controller) {
		if durationSec > 0 {
			c.previewDuration = durationSec
		}
		if arcDeg > 0 {
			c.previewArc = arcDeg
		}
	}
}

// WithFixObserver is called for every safety adjustment.
func WithFixObserver(obs safety.Observer) Option {
	return func(c *Controller) { c.onFix = obs }
}

// Controller runs one orbit at a time against one scene.
type Controller struct {
	sched    frameloop.Scheduler
	limits   config.SafetyLimits
	defaults config.OrbitConfig

	previewDuration float64
	previewArc      float64
	onFix           safety.Observer
	log             logrus.FieldLogger

	obs observers

	mu     sync.Mutex
	scene  Scene
	run    uint64
	seq    uint64
	state  State
	active *runState
}

type runState struct {
	id      uint64
	target  trajectory.Target
	cfg     config.OrbitConfig
	preview bool
	lease   *Lease
	start   time.Time
	total   int
	handle  frameloop.Handle
}

// New creates a controller. Init must be called before StartOrbit.
func New(sched frameloop.Scheduler, limits config.SafetyLimits, defaults config.OrbitConfig, opts ...Option) *Controller {
	c := &Controller{
		sched:           sched,
		limits:          limits,
		defaults:        defaults,
		previewDuration: DefaultPreviewDurationSec,
		previewArc:      DefaultPreviewArcDeg,
		log:             logrus.StandardLogger(),
		state:           idleState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init binds the controller to a scene.
func (c *Controller) Init(scene Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scene = scene
}

// Subscribe registers fn for every state change. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(State)) func() {
	return c.obs.subscribe(fn)
}

// State returns the latest snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveConfig returns the validated configuration of the current run.
func (c *Controller) ActiveConfig() (config.OrbitConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return config.OrbitConfig{}, false
	}
	return c.active.cfg, true
}

// resolve merges patch over the defaults and the target's suggested radius,
// then applies the preview shape.
func (c *Controller) resolve(target trajectory.Target, patch config.OrbitPatch, preview bool) (config.OrbitConfig, error) {
	base := c.defaults
	if target.SuggestedRadius > 0 {
		base.RadiusMeters = target.SuggestedRadius
	}
	cfg, err := config.Merge(base, patch)
	if err != nil {
		return cfg, err
	}
	if preview {
		cfg.DurationSec = c.previewDuration
		dir := 1.0
		if cfg.HeadingEndDeg < cfg.HeadingStartDeg {
			dir = -1
		}
		cfg.HeadingEndDeg = cfg.HeadingStartDeg + dir*c.previewArc
	}
	return cfg, nil
}

// StartOrbit begins a run. A run already in progress is stopped first and its
// camera restored. ErrNotInitialized is the only failure.
func (c *Controller) StartOrbit(target trajectory.Target, patch config.OrbitPatch, preview bool) error {
	c.mu.Lock()
	scene := c.scene
	if scene == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	var stopped *State
	if c.active != nil {
		s := c.stopLocked()
		stopped = &s
	}
	c.mu.Unlock()
	if stopped != nil {
		c.obs.notify(*stopped)
	}

	cfg, err := c.resolve(target, patch, preview)
	if err != nil {
		c.log.WithError(err).Warn("orbit: patch merge failed, using defaults")
		cfg, _ = c.resolve(target, config.OrbitPatch{}, preview)
	}

	ground, err := scene.SampleGroundHeight(target.Longitude, target.Latitude)
	if err != nil || math.IsNaN(ground) {
		c.log.WithError(err).Debug("orbit: terrain sample unavailable, assuming ground level 0")
		ground = 0
	}
	res := safety.Validate(cfg, target, c.limits, c.onFix)
	res = safety.ValidateTerrain(res, target, ground, c.limits, c.onFix)
	cfg = res.Config

	fix := AutoFix{Applied: res.WasFixed, Messages: res.Messages}
	if res.WasFixed {
		fix.Message = "Auto-adjusted: " + strings.Join(res.Messages, "; ")
		c.log.WithField("fixes", len(res.Messages)).Info(fix.Message)
	}

	c.mu.Lock()
	if c.scene != scene {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if c.active != nil {
		// a concurrent StartOrbit won the race; last caller wins
		c.stopLocked()
	}
	c.run++
	r := &runState{
		id:      c.run,
		target:  target,
		cfg:     cfg,
		preview: preview,
		lease:   acquireLease(scene),
		start:   c.sched.Now(),
		total:   trajectory.FrameCount(cfg.DurationSec, cfg.FPS),
	}
	c.active = r
	c.state = State{
		Phase:       PhaseRunning,
		Running:     true,
		Preview:     preview,
		TotalFrames: r.total,
		AutoFix:     fix,
	}
	c.poseLocked(r, 0, 0)
	r.handle = c.sched.RequestFrame(c.tickFunc(r.id))
	s := c.snapshotLocked()
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"preview":  preview,
		"duration": cfg.DurationSec,
		"fps":      cfg.FPS,
		"radius":   fmt.Sprintf("%.0f", cfg.RadiusMeters),
		"pitch":    cfg.PitchDeg,
		"frames":   r.total,
	}).Info("orbit started")
	c.obs.notify(s)
	return nil
}

func (c *Controller) tickFunc(id uint64) frameloop.FrameFunc {
	return func(now time.Time) { c.tick(id, now) }
}

func (c *Controller) tick(id uint64, now time.Time) {
	c.mu.Lock()
	r := c.active
	if r == nil || r.id != id {
		c.mu.Unlock()
		return
	}

	t := float64(now.Sub(r.start)) / (r.cfg.DurationSec * float64(time.Second))
	if t >= 1 {
		if r.preview {
			r.start = now
			t = 0
			c.state.Loops++
		} else {
			c.poseLocked(r, r.total, 1)
			r.lease.Restore()
			c.active = nil
			c.state = State{
				Phase:        PhaseIdle,
				Progress:     1,
				CurrentFrame: r.total,
				TotalFrames:  r.total,
				AutoFix:      c.state.AutoFix,
				Completed:    true,
			}
			s := c.snapshotLocked()
			c.mu.Unlock()
			c.log.Info("orbit completed")
			c.obs.notify(s)
			return
		}
	}
	if t < 0 {
		t = 0
	}

	frame := int(math.Floor(t * float64(r.total)))
	c.state.Progress = t
	c.state.CurrentFrame = frame
	c.poseLocked(r, frame, t)
	r.handle = c.sched.RequestFrame(c.tickFunc(id))
	s := c.snapshotLocked()
	c.mu.Unlock()

	c.obs.notify(s)
}

func (c *Controller) poseLocked(r *runState, frame int, t float64) {
	p := director.Pose(r.target, r.cfg, frame, t*r.cfg.DurationSec*1000, t)
	anchor := r.target
	anchor.Height += r.cfg.HeightOffsetMeters
	r.lease.Pose(anchor, p.HeadingRad, p.PitchRad, p.RangeM)
}

func (c *Controller) snapshotLocked() State {
	c.seq++
	c.state.Seq = c.seq
	return c.state
}

// stopLocked ends the active run and returns the idle snapshot to publish.
func (c *Controller) stopLocked() State {
	r := c.active
	c.active = nil
	c.sched.CancelFrame(r.handle)
	r.lease.Restore()
	c.state = State{Phase: PhaseIdle, AutoFix: c.state.AutoFix}
	return c.snapshotLocked()
}

// StopOrbit cancels the run and restores the camera. Safe to call at any time.
func (c *Controller) StopOrbit() {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return
	}
	s := c.stopLocked()
	c.mu.Unlock()

	c.log.Info("orbit stopped")
	c.obs.notify(s)
}

// Dispose stops any run and drops the scene and subscribers. Init must be
// called again before the next StartOrbit.
func (c *Controller) Dispose() {
	c.StopOrbit()
	c.mu.Lock()
	c.scene = nil
	c.state = idleState()
	c.mu.Unlock()
	c.obs.clear()
}

// GenerateFrames computes the timeline a run with these inputs would follow,
// without touching the scene. Terrain is not sampled, so only the
// config-only safety pass applies.
func (c *Controller) GenerateFrames(target trajectory.Target, patch config.OrbitPatch, preview bool) ([]director.OrbitFrame, error) {
	tl, err := c.Plan(target, patch, preview)
	if err != nil {
		return nil, err
	}
	return tl.Frames, nil
}

// Plan is GenerateFrames with the validated config and the safety notes
// kept, in the shape of a plan file.
func (c *Controller) Plan(target trajectory.Target, patch config.OrbitPatch, preview bool) (*director.Timeline, error) {
	cfg, err := c.resolve(target, patch, preview)
	if err != nil {
		return nil, err
	}
	res := safety.Validate(cfg, target, c.limits)
	frames, err := director.Generate(target, res.Config)
	if err != nil {
		return nil, err
	}
	return &director.Timeline{
		Version:  director.TimelineVersion,
		Target:   target,
		Config:   res.Config,
		Messages: res.Messages,
		Frames:   frames,
	}, nil
}
