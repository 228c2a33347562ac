// Package engine runs the record flow: reserve a video slot, record one full
// orbit of the scene, report the recording and upload it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/capture"
	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/effects"
	"github.com/ivlev/orbitreel/internal/frameloop"
	"github.com/ivlev/orbitreel/internal/metrics"
	"github.com/ivlev/orbitreel/internal/orbit"
	"github.com/ivlev/orbitreel/internal/trajectory"
	"github.com/ivlev/orbitreel/internal/video"
)

var (
	ErrPrecondition = errors.New("record flow: precondition not met")
	ErrBusy         = errors.New("record flow: a run is in progress")
	ErrNotRecording = errors.New("record flow: not recording")
	ErrQuotaDenied  = errors.New("record flow: video slot denied")
	ErrUploadFailed = errors.New("record flow: upload rejected")
	// ErrReset is returned to steps of a run that Reset discarded.
	ErrReset = errors.New("record flow: run was reset")
)

const DefaultTimerInterval = 250 * time.Millisecond

// Deps are the collaborators of a Flow.
type Deps struct {
	Scene     Scene
	Orbit     Orbit
	Capture   Capture
	Scheduler frameloop.Scheduler
	Quota     QuotaService
	Metadata  MetadataService
	Upload    UploadService
}

// Request describes one run.
type Request struct {
	Target  trajectory.Target
	Orbit   config.OrbitPatch
	Overlay effects.OverlayConfig
	// SourceRef is passed to the quota service as is.
	SourceRef string
}

type Option func(*Flow)

func WithLogger(log logrus.FieldLogger) Option {
	return func(f *Flow) { f.log = log }
}

// WithTimerInterval sets how often elapsed time is checked against the
// orbit duration.
func WithTimerInterval(d time.Duration) Option {
	return func(f *Flow) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithCaptureSettings sets bitrate, format preferences and chunk interval.
// The frame rate always follows the orbit.
func WithCaptureSettings(c config.CaptureConfig) Option {
	return func(f *Flow) {
		f.capture = capture.Config{
			BitsPerSecond: c.BitsPerSecond,
			Formats:       append([]string(nil), c.Formats...),
			TimesliceMs:   c.TimesliceMs,
		}
	}
}

func WithDurationProbe(p DurationProbe) Option {
	return func(f *Flow) { f.probe = p }
}

// Flow is the record-flow state machine:
//
//	idle → creating → recording → processing → uploading → complete
//
// with error reachable from every active state. Only Reset returns to idle.
type Flow struct {
	deps     Deps
	log      logrus.FieldLogger
	interval time.Duration
	capture  capture.Config
	probe    DurationProbe

	obs observers

	mu       sync.Mutex
	gen      uint64
	seq      uint64
	snap     Snapshot
	run      *run
	inflight int
}

type run struct {
	gen   uint64
	id    string
	ctx   context.Context
	log   logrus.FieldLogger
	req   Request
	cfg   config.OrbitConfig
	video int64

	started    time.Time
	stageStart time.Time
	autoStop   bool
	stopTimer  func()
	unsub      func()

	done chan struct{}
	once sync.Once
	err  error
}

func (r *run) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

func NewFlow(deps Deps, opts ...Option) *Flow {
	f := &Flow{
		deps:     deps,
		log:      logrus.StandardLogger(),
		interval: DefaultTimerInterval,
		probe:    probeContainer,
		snap:     Snapshot{State: StateIdle},
	}
	WithCaptureSettings(config.Default().Capture)(f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// probeContainer reads the duration MP4 output carries in its boxes.
func probeContainer(data []byte, format string) (time.Duration, bool) {
	if capture.Extension(format) != "mp4" {
		return 0, false
	}
	d, err := video.ProbeMP4Duration(data)
	return d, err == nil && d > 0
}

// Subscribe registers fn for every snapshot. The returned func unsubscribes.
func (f *Flow) Subscribe(fn func(Snapshot)) func() {
	return f.obs.subscribe(fn)
}

// Snapshot returns the current state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *Flow) preconditions(req Request) error {
	d := f.deps
	switch {
	case d.Scene == nil || d.Scheduler == nil:
		return fmt.Errorf("%w: no live scene", ErrPrecondition)
	case d.Orbit == nil:
		return fmt.Errorf("%w: no orbit controller", ErrPrecondition)
	case !req.Target.Valid():
		return fmt.Errorf("%w: invalid orbit target", ErrPrecondition)
	case d.Capture == nil || !d.Capture.IsSupported():
		return fmt.Errorf("%w: capture is not supported", ErrPrecondition)
	case d.Quota == nil || d.Metadata == nil || d.Upload == nil:
		return fmt.Errorf("%w: services are not configured", ErrPrecondition)
	}
	return nil
}

// Start runs the flow up to recording. It returns once capture is running,
// or with the error that ended the run. Recording stops on Stop or when the
// orbit duration has elapsed, whichever comes first.
func (f *Flow) Start(ctx context.Context, req Request) error {
	if err := f.preconditions(req); err != nil {
		return err
	}

	f.mu.Lock()
	if f.snap.State != StateIdle || f.inflight > 0 {
		state := f.snap.State
		f.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrBusy, state)
	}
	f.gen++
	r := &run{
		gen:        f.gen,
		id:         uuid.NewString(),
		ctx:        context.WithoutCancel(ctx),
		req:        req,
		stageStart: f.deps.Scheduler.Now(),
		done:       make(chan struct{}),
	}
	r.log = f.log.WithField("run_id", r.id)
	f.run = r
	f.inflight++
	f.snap = Snapshot{RunID: r.id, State: StateCreating}
	s := f.snapshotLocked()
	f.mu.Unlock()
	defer f.release()

	r.log.WithField("source", req.SourceRef).Info("record flow: creating")
	f.obs.notify(s)
	return f.begin(ctx, r)
}

func (f *Flow) begin(ctx context.Context, r *run) error {
	res, err := f.deps.Quota.ReserveVideoSlot(ctx, r.req.SourceRef)
	if err != nil {
		return f.fail(r, fmt.Errorf("reserve video slot: %w", err))
	}
	if !res.OK {
		reason := res.Message
		switch {
		case reason == "" && res.Code == "":
			reason = "no reason given"
		case reason == "":
			reason = res.Code
		case res.Code != "":
			reason = res.Code + ": " + reason
		}
		return f.fail(r, fmt.Errorf("%w: %s", ErrQuotaDenied, reason))
	}

	f.mu.Lock()
	if !f.currentLocked(r, StateCreating) {
		f.mu.Unlock()
		return ErrReset
	}
	r.video = res.VideoID
	r.log = r.log.WithField("video_id", res.VideoID)
	f.snap.VideoID = res.VideoID
	s := f.snapshotLocked()
	f.mu.Unlock()
	f.obs.notify(s)

	if err := f.deps.Metadata.SetStatus(ctx, r.video, StatusRecording, nil); err != nil {
		return f.fail(r, fmt.Errorf("mark recording: %w", err))
	}

	f.mu.Lock()
	if !f.currentLocked(r, StateCreating) {
		f.mu.Unlock()
		return ErrReset
	}
	r.unsub = f.deps.Orbit.Subscribe(func(s orbit.State) { f.orbitChanged(r, s) })
	f.mu.Unlock()

	f.deps.Scene.SetContinuousRedraw(true)
	if err := f.deps.Orbit.StartOrbit(r.req.Target, r.req.Orbit, false); err != nil {
		return f.fail(r, fmt.Errorf("start orbit: %w", err))
	}
	cfg, ok := f.deps.Orbit.ActiveConfig()
	if !ok {
		return f.fail(r, errors.New("orbit ended before capture started"))
	}

	capCfg := f.capture
	capCfg.FPS = cfg.FPS
	if err := f.deps.Capture.Start(f.deps.Scene, r.req.Overlay, capCfg); err != nil {
		return f.fail(r, fmt.Errorf("start capture: %w", err))
	}

	f.mu.Lock()
	if !f.currentLocked(r, StateCreating) {
		f.mu.Unlock()
		// Reset ran while capture was starting.
		f.deps.Capture.Abort()
		f.deps.Orbit.StopOrbit()
		f.deps.Scene.SetContinuousRedraw(false)
		return ErrReset
	}
	now := f.deps.Scheduler.Now()
	r.cfg = cfg
	r.started = now
	f.enterLocked(r, StateRecording, now)
	r.stopTimer = f.deps.Scheduler.Every(f.interval, f.tick(r))
	s = f.snapshotLocked()
	f.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"duration": cfg.DurationSec,
		"fps":      cfg.FPS,
	}).Info("record flow: recording")
	f.obs.notify(s)
	return nil
}

func (f *Flow) tick(r *run) frameloop.FrameFunc {
	total := time.Duration(0)
	return func(now time.Time) {
		f.mu.Lock()
		if !f.currentLocked(r, StateRecording) {
			f.mu.Unlock()
			return
		}
		if total == 0 {
			total = time.Duration(r.cfg.DurationSec * float64(time.Second))
		}
		elapsed := now.Sub(r.started)
		f.snap.Elapsed = elapsed
		f.snap.Progress = trajectory.Clamp(float64(elapsed)/float64(total), 0, 1)
		due := elapsed >= total && !r.autoStop
		if due {
			r.autoStop = true
		}
		s := f.snapshotLocked()
		f.mu.Unlock()

		f.obs.notify(s)
		if due {
			go func() {
				if err := f.process(r.ctx, r, "timer", now); err != nil && !errors.Is(err, ErrNotRecording) {
					r.log.WithError(err).Debug("record flow: timed stop ended with error")
				}
			}()
		}
	}
}

func (f *Flow) orbitChanged(r *run, s orbit.State) {
	f.mu.Lock()
	if r.gen != f.gen || !f.snap.State.Active() {
		f.mu.Unlock()
		return
	}
	f.snap.Orbit = s
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.obs.notify(snap)
}

// Stop ends recording and runs the flow to completion. When the timer has
// already stopped the recording, Stop waits for that run instead.
func (f *Flow) Stop(ctx context.Context) error {
	f.mu.Lock()
	r, state := f.run, f.snap.State
	f.mu.Unlock()

	switch {
	case r == nil:
		return ErrNotRecording
	case state == StateRecording:
		return f.process(ctx, r, "caller", f.deps.Scheduler.Now())
	case state == StateProcessing || state == StateUploading:
		_, err := f.waitRun(ctx, r)
		return err
	}
	return fmt.Errorf("%w: state %s", ErrNotRecording, state)
}

// process is the recording → processing transition and everything after it.
// Whichever trigger reaches it first wins; the other gets ErrNotRecording.
// at is when the trigger fired.
func (f *Flow) process(ctx context.Context, r *run, trigger string, at time.Time) error {
	f.mu.Lock()
	if !f.currentLocked(r, StateRecording) {
		f.mu.Unlock()
		return ErrNotRecording
	}
	now := f.deps.Scheduler.Now()
	f.teardownLocked(r)
	f.snap.Elapsed = at.Sub(r.started)
	f.enterLocked(r, StateProcessing, now)
	f.inflight++
	s := f.snapshotLocked()
	f.mu.Unlock()
	defer f.release()

	r.log.WithField("trigger", trigger).Info("record flow: processing")
	f.obs.notify(s)

	f.deps.Orbit.StopOrbit()
	res, err := f.deps.Capture.Stop(ctx)
	f.deps.Scene.SetContinuousRedraw(false)
	if err != nil {
		return f.fail(r, fmt.Errorf("stop capture: %w", err))
	}

	size := f.deps.Scene.Size()
	dur := res.Duration
	if d, ok := f.probe(res.Data, res.Format); ok {
		dur = d
	}
	meta := Metadata{
		DurationMs: dur.Milliseconds(),
		FPS:        r.cfg.FPS,
		Width:      size.X,
		Height:     size.Y,
		Format:     res.Format,
		SizeBytes:  int64(len(res.Data)),
	}
	if err := f.deps.Metadata.SetStatus(ctx, r.video, StatusRecorded, &meta); err != nil {
		res.Preview.Release()
		return f.fail(r, fmt.Errorf("mark recorded: %w", err))
	}

	f.mu.Lock()
	if !f.currentLocked(r, StateProcessing) {
		f.mu.Unlock()
		res.Preview.Release()
		return ErrReset
	}
	f.enterLocked(r, StateUploading, f.deps.Scheduler.Now())
	s = f.snapshotLocked()
	f.mu.Unlock()
	f.obs.notify(s)

	filename := Filename(r.video, r.started, res.Format)
	up, err := f.deps.Upload.Upload(ctx, r.video, res.Data, filename)
	if err == nil && !up.OK {
		msg := up.Message
		if msg == "" {
			msg = "no reason given"
		}
		err = fmt.Errorf("%w: %s", ErrUploadFailed, msg)
	}
	if err != nil {
		res.Preview.Release()
		return f.fail(r, fmt.Errorf("upload %s: %w", filename, err))
	}

	result := &Result{
		VideoID:  r.video,
		FileID:   up.FileID,
		Filename: filename,
		Format:   res.Format,
		Duration: dur,
		Metadata: meta,
		Data:     res.Data,
		Preview:  res.Preview,
	}

	f.mu.Lock()
	if !f.currentLocked(r, StateUploading) {
		f.mu.Unlock()
		res.Preview.Release()
		return ErrReset
	}
	f.enterLocked(r, StateComplete, f.deps.Scheduler.Now())
	f.snap.Progress = 1
	f.snap.Result = result
	s = f.snapshotLocked()
	f.mu.Unlock()

	metrics.RunsTotal.WithLabelValues(string(StateComplete)).Inc()
	r.log.WithFields(logrus.Fields{
		"file":     filename,
		"file_id":  up.FileID,
		"bytes":    len(res.Data),
		"duration": dur,
	}).Info("record flow: complete")
	f.obs.notify(s)
	r.finish(nil)
	return nil
}

// fail moves the run to error, unwinds orbit and capture and reports the
// failure when a video record exists. It returns cause.
func (f *Flow) fail(r *run, cause error) error {
	f.mu.Lock()
	if r.gen != f.gen || !f.snap.State.Active() {
		f.mu.Unlock()
		return cause
	}
	f.teardownLocked(r)
	f.enterLocked(r, StateError, f.deps.Scheduler.Now())
	f.snap.Message = cause.Error()
	s := f.snapshotLocked()
	f.mu.Unlock()

	f.deps.Orbit.StopOrbit()
	f.deps.Capture.Abort()
	f.deps.Scene.SetContinuousRedraw(false)
	if r.video != 0 {
		if err := f.deps.Metadata.SetStatus(r.ctx, r.video, StatusFailed, &Metadata{Error: cause.Error()}); err != nil {
			r.log.WithError(err).Warn("record flow: failure not reported")
		}
	}

	metrics.RunsTotal.WithLabelValues(string(StateError)).Inc()
	r.log.WithError(cause).Error("record flow failed")
	f.obs.notify(s)
	r.finish(cause)
	return cause
}

// Reset abandons the current run, if any, and returns to idle. Safe to call
// in any state and more than once.
func (f *Flow) Reset() {
	f.mu.Lock()
	r, prev := f.run, f.snap
	f.gen++
	f.run = nil
	if r != nil {
		f.teardownLocked(r)
		if prev.State.Active() {
			metrics.ObserveStage(string(prev.State), f.deps.Scheduler.Now().Sub(r.stageStart))
		}
	}
	f.snap = Snapshot{State: StateIdle}
	s := f.snapshotLocked()
	f.mu.Unlock()

	if f.deps.Orbit != nil {
		f.deps.Orbit.StopOrbit()
	}
	if f.deps.Capture != nil {
		f.deps.Capture.Abort()
	}
	if f.deps.Scene != nil && prev.State.Active() {
		f.deps.Scene.SetContinuousRedraw(false)
	}
	if prev.Result != nil {
		if err := prev.Result.Preview.Release(); err != nil {
			f.log.WithError(err).Warn("record flow: preview not removed")
		}
	}
	if r != nil {
		if prev.State.Active() {
			r.log.WithField("state", prev.State).Info("record flow: reset")
		}
		r.finish(ErrReset)
	}
	f.obs.notify(s)
}

// Wait blocks until the current run completes, fails or is reset and
// returns the snapshot at that point. With no run it returns immediately.
func (f *Flow) Wait(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	r := f.run
	f.mu.Unlock()
	if r == nil {
		return f.Snapshot(), nil
	}
	return f.waitRun(ctx, r)
}

func (f *Flow) waitRun(ctx context.Context, r *run) (Snapshot, error) {
	select {
	case <-r.done:
		return f.Snapshot(), r.err
	case <-ctx.Done():
		return f.Snapshot(), ctx.Err()
	}
}

func (f *Flow) currentLocked(r *run, state State) bool {
	return r.gen == f.gen && f.snap.State == state
}

// teardownLocked stops the timer and the orbit subscription of r.
func (f *Flow) teardownLocked(r *run) {
	if r.stopTimer != nil {
		r.stopTimer()
		r.stopTimer = nil
	}
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (f *Flow) enterLocked(r *run, next State, now time.Time) {
	metrics.ObserveStage(string(f.snap.State), now.Sub(r.stageStart))
	r.stageStart = now
	f.snap.State = next
}

func (f *Flow) snapshotLocked() Snapshot {
	f.seq++
	f.snap.Seq = f.seq
	return f.snap
}

func (f *Flow) release() {
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

// Filename names an upload: orbit-<videoID>-<yyyyMMdd-HHmmss>.<ext>.
func Filename(videoID int64, at time.Time, format string) string {
	return fmt.Sprintf("orbit-%d-%s.%s", videoID, at.UTC().Format("20060102-150405"), capture.Extension(format))
}
