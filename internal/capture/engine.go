package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/ivlev/orbitreel/internal/effects"
	"github.com/ivlev/orbitreel/internal/frameloop"
	"github.com/ivlev/orbitreel/internal/metrics"
	"github.com/ivlev/orbitreel/internal/system"
)

var (
	ErrAlreadyRecording = errors.New("capture: already recording")
	ErrUnsupported      = errors.New("capture: recording is not supported")
	ErrNoActiveSession  = errors.New("capture: no active session")
	// ErrAborted is returned by a Stop that was waiting when Abort ran.
	ErrAborted = errors.New("capture: aborted")
	// ErrSessionFailed stands in when the recorder reports an error without
	// a reason.
	ErrSessionFailed  = errors.New("capture: recording session failed")
	ErrNotCompositing = errors.New("capture: engine has no overlay")
)

// Config is the per-session recording setup.
type Config struct {
	FPS           float64
	BitsPerSecond int
	// Formats in order of preference.
	Formats     []string
	TimesliceMs int
}

// Result is a finished recording.
type Result struct {
	Data     []byte
	Duration time.Duration
	Format   string
	Preview  *Preview
}

// Preview is a playable copy of the recording on disk.
type Preview struct {
	path string
	once sync.Once
	err  error
}

// Path of the preview file.
func (p *Preview) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// Release removes the preview file. Calls after the first return the first
// result.
func (p *Preview) Release() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() {
		if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.err = err
		}
	})
	return p.err
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithTempDir sets where preview files are written. Default os.TempDir.
func WithTempDir(dir string) Option {
	return func(e *Engine) { e.tempDir = dir }
}

// WithFramePool shares canvas buffers with other frame producers.
func WithFramePool(pool *system.FramePool) Option {
	return func(e *Engine) { e.pool = pool }
}

// Engine runs one capture session at a time.
type Engine struct {
	rec        Recorder
	sched      frameloop.Scheduler
	compositor *effects.Compositor
	pool       *system.FramePool
	tempDir    string
	log        logrus.FieldLogger

	recording *abool.AtomicBool

	mu     sync.Mutex
	nextID uint64
	sess   *session
	orphan *outcome // session that ended with nobody waiting; returned by the next Stop
}

type outcome struct {
	res *Result
	err error
}

type session struct {
	id      uint64
	rec     Session
	stream  Stream
	canvas  *canvas
	format  string
	started time.Time

	// guarded by Engine.mu
	overlay    effects.OverlayConfig
	loop       frameloop.Handle
	loopActive bool
	stopping   bool
	drawErr    string

	chunkMu sync.Mutex
	chunks  bytes.Buffer

	finish sync.Once
	done   chan struct{}
	out    outcome
}

// NewEngine creates a plain engine that records the surface directly.
func NewEngine(rec Recorder, sched frameloop.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		rec:       rec,
		sched:     sched,
		log:       logrus.StandardLogger(),
		recording: abool.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pool == nil {
		e.pool = system.NewFramePool()
	}
	return e
}

// NewCompositingEngine creates an engine that draws an overlay over every
// frame before it is recorded.
func NewCompositingEngine(rec Recorder, sched frameloop.Scheduler, comp *effects.Compositor, opts ...Option) *Engine {
	e := NewEngine(rec, sched, opts...)
	e.compositor = comp
	return e
}

// Compositing reports whether the engine draws overlays.
func (e *Engine) Compositing() bool { return e.compositor != nil }

// IsSupported reports whether the platform can record at all.
func (e *Engine) IsSupported() bool { return e.rec != nil && e.rec.IsSupported() }

// IsRecording reports whether a session is open.
func (e *Engine) IsRecording() bool { return e.recording.IsSet() }

// Start opens a session on surface. overlay is ignored by the plain engine.
func (e *Engine) Start(surface Surface, overlay effects.OverlayConfig, cfg Config) error {
	if !e.recording.SetToIf(false, true) {
		return ErrAlreadyRecording
	}
	if err := e.start(surface, overlay, cfg); err != nil {
		e.recording.UnSet()
		return err
	}
	return nil
}

func (e *Engine) start(surface Surface, overlay effects.OverlayConfig, cfg Config) error {
	if !e.IsSupported() {
		return ErrUnsupported
	}
	format, ok := e.rec.BestSupportedFormat(cfg.Formats)
	if !ok {
		return fmt.Errorf("%w: none of %v", ErrUnsupported, cfg.Formats)
	}
	if surface == nil {
		return errors.New("capture: no surface")
	}

	e.mu.Lock()
	e.nextID++
	s := &session{
		id:      e.nextID,
		format:  format,
		overlay: overlay,
		done:    make(chan struct{}),
	}
	e.orphan = nil
	e.mu.Unlock()

	var err error
	if e.compositor != nil {
		s.canvas = newCanvas(surface, e.pool)
		if err := s.canvas.render(e.compositor, overlay); err != nil {
			e.log.WithError(err).Warn("capture: overlay drawn with fallbacks")
		}
		s.stream, err = s.canvas.CaptureStream(cfg.FPS)
	} else {
		s.stream, err = surface.CaptureStream(cfg.FPS)
	}
	if err != nil {
		if s.canvas != nil {
			s.canvas.release()
		}
		return fmt.Errorf("capture stream: %w", err)
	}

	h := Handlers{
		OnData:  s.append,
		OnStop:  func() { e.ended(s, nil) },
		OnError: func(err error) {
			if err == nil {
				err = ErrSessionFailed
			}
			e.ended(s, err)
		},
	}
	s.rec, err = e.rec.Open(s.stream, SessionOptions{
		Format:        format,
		FPS:           cfg.FPS,
		BitsPerSecond: cfg.BitsPerSecond,
		TimesliceMs:   cfg.TimesliceMs,
	}, h)
	if err != nil {
		s.stream.Stop()
		return fmt.Errorf("open recorder: %w", err)
	}

	e.mu.Lock()
	e.sess = s
	s.started = e.sched.Now()
	if e.compositor != nil {
		s.loopActive = true
		s.loop = e.sched.RequestFrame(e.redraw(s))
	}
	e.mu.Unlock()

	if err := s.rec.Start(); err != nil {
		err = fmt.Errorf("start recorder: %w", err)
		e.mu.Lock()
		s.stopping = true
		e.mu.Unlock()
		e.finalize(s, outcome{err: err})
		return err
	}

	e.log.WithFields(logrus.Fields{
		"format":      format,
		"fps":         cfg.FPS,
		"bitrate":     cfg.BitsPerSecond,
		"compositing": e.compositor != nil,
	}).Info("capture started")
	return nil
}

func (s *session) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.chunkMu.Lock()
	s.chunks.Write(chunk)
	s.chunkMu.Unlock()
}

// redraw is the compositing loop: one canvas frame per scheduler tick.
func (e *Engine) redraw(s *session) frameloop.FrameFunc {
	return func(time.Time) {
		e.mu.Lock()
		if e.sess != s || !s.loopActive {
			e.mu.Unlock()
			return
		}
		overlay := s.overlay
		e.mu.Unlock()

		err := s.canvas.render(e.compositor, overlay)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil && err.Error() != s.drawErr {
			s.drawErr = err.Error()
			e.log.WithError(err).Warn("capture: overlay drawn with fallbacks")
		}
		if e.sess == s && s.loopActive {
			s.loop = e.sched.RequestFrame(e.redraw(s))
		}
	}
}

// stopLoopLocked cancels the compositing loop. A render already running
// finishes before the canvas is released.
func (e *Engine) stopLoopLocked(s *session) {
	if !s.loopActive {
		return
	}
	s.loopActive = false
	e.sched.CancelFrame(s.loop)
}

// UpdateOverlay merges patch into the active overlay. The next drawn frame
// uses it.
func (e *Engine) UpdateOverlay(patch effects.OverlayConfig) error {
	if e.compositor == nil {
		return ErrNotCompositing
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil || s.stopping {
		return ErrNoActiveSession
	}
	merged, err := s.overlay.Merge(patch)
	if err != nil {
		return err
	}
	s.overlay = merged
	return nil
}

// Stop finishes the session and waits for the recorder's end event. If ctx
// ends first the session is aborted and ctx's error returned.
func (e *Engine) Stop(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	s := e.sess
	if s == nil {
		orphan := e.orphan
		e.orphan = nil
		e.mu.Unlock()
		if orphan != nil {
			return orphan.res, orphan.err
		}
		return nil, ErrNoActiveSession
	}
	first := !s.stopping
	s.stopping = true
	e.stopLoopLocked(s)
	e.mu.Unlock()

	if first {
		s.rec.Stop()
	}

	select {
	case <-s.done:
		return s.out.res, s.out.err
	case <-ctx.Done():
		e.finalize(s, outcome{err: ErrAborted})
		return nil, ctx.Err()
	}
}

// Abort ends the session without producing a result. A Stop waiting on it
// returns ErrAborted. Safe to call at any time.
func (e *Engine) Abort() {
	e.mu.Lock()
	s := e.sess
	if s == nil {
		orphan := e.orphan
		e.orphan = nil
		e.mu.Unlock()
		if orphan != nil && orphan.res != nil {
			orphan.res.Preview.Release()
		}
		return
	}
	first := !s.stopping
	s.stopping = true
	e.stopLoopLocked(s)
	e.mu.Unlock()

	// finalize before stopping the recorder so a late end event is dropped
	aborted := e.finalize(s, outcome{err: ErrAborted})
	if first {
		s.rec.Stop()
	}
	if aborted {
		e.log.Info("capture aborted")
	}
}

// ended handles the recorder's single end or error event.
func (e *Engine) ended(s *session, err error) {
	if err == nil {
		s.chunkMu.Lock()
		data := bytes.Clone(s.chunks.Bytes())
		s.chunkMu.Unlock()

		res := &Result{
			Data:     data,
			Duration: e.sched.Now().Sub(s.started),
			Format:   s.format,
		}
		if len(data) > 0 {
			p, perr := e.writePreview(data, s.format)
			if perr != nil {
				e.log.WithError(perr).Warn("capture: preview file not written")
			}
			res.Preview = p
		}
		if !e.finalize(s, outcome{res: res}) {
			res.Preview.Release()
			return
		}
		metrics.CaptureBytes.Observe(float64(len(data)))
		e.log.WithFields(logrus.Fields{
			"bytes":    len(data),
			"duration": res.Duration.Round(time.Millisecond),
		}).Info("capture finished")
		return
	}

	if e.finalize(s, outcome{err: err}) {
		e.log.WithError(err).Error("capture session failed")
	}
}

func (e *Engine) writePreview(data []byte, format string) (*Preview, error) {
	f, err := os.CreateTemp(e.tempDir, "orbitreel-*."+Extension(format))
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &Preview{path: f.Name()}, nil
}

// finalize records the outcome and cleans up. Only the first call per
// session has an effect; it reports whether this call was it.
func (e *Engine) finalize(s *session, out outcome) bool {
	ran := false
	s.finish.Do(func() {
		ran = true
		s.out = out
		e.cleanup(s)
		close(s.done)
	})
	return ran
}

func (e *Engine) cleanup(s *session) {
	e.mu.Lock()
	e.stopLoopLocked(s)
	waiting := s.stopping
	if e.sess == s {
		e.sess = nil
		if !waiting {
			out := s.out
			e.orphan = &out
		}
	}
	e.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
	}
	if s.canvas != nil {
		s.canvas.release()
	}
	s.chunkMu.Lock()
	s.chunks = bytes.Buffer{}
	s.chunkMu.Unlock()

	e.recording.UnSet()
}
