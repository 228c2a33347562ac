package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/capture"
	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/effects"
	"github.com/ivlev/orbitreel/internal/frameloop"
	"github.com/ivlev/orbitreel/internal/orbit"
	"github.com/ivlev/orbitreel/internal/renderer"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

var (
	epoch  = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	target = trajectory.Target{Longitude: 13.4, Latitude: 52.5, Height: 0, SuggestedRadius: 300}
)

type fakeCapture struct {
	mu        sync.Mutex
	supported bool
	startErr  error
	stopErr   error
	result    capture.Result
	starts    int
	stops     int
	aborts    int
	lastCfg   capture.Config
	recording bool
}

func (c *fakeCapture) IsSupported() bool { return c.supported }

func (c *fakeCapture) Start(_ capture.Surface, _ effects.OverlayConfig, cfg capture.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	if c.recording {
		return capture.ErrAlreadyRecording
	}
	c.recording = true
	c.lastCfg = cfg
	return nil
}

func (c *fakeCapture) Stop(context.Context) (*capture.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if !c.recording {
		return nil, capture.ErrNoActiveSession
	}
	c.recording = false
	if c.stopErr != nil {
		return nil, c.stopErr
	}
	res := c.result
	return &res, nil
}

func (c *fakeCapture) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts++
	c.recording = false
}

func (c *fakeCapture) counts() (starts, stops, aborts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.aborts
}

type statusCall struct {
	id     int64
	status VideoStatus
	meta   *Metadata
}

type fakeServices struct {
	mu        sync.Mutex
	quota     Reservation
	quotaErr  error
	metaErr   map[VideoStatus]error
	upload    UploadResult
	uploadErr error

	reserves int
	statuses []statusCall
	uploads  []string
}

func (s *fakeServices) ReserveVideoSlot(context.Context, string) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves++
	return s.quota, s.quotaErr
}

func (s *fakeServices) SetStatus(_ context.Context, id int64, status VideoStatus, meta *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, statusCall{id, status, meta})
	return s.metaErr[status]
}

func (s *fakeServices) Upload(_ context.Context, _ int64, _ []byte, filename string) (UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, filename)
	return s.upload, s.uploadErr
}

func (s *fakeServices) calls() ([]statusCall, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusCall(nil), s.statuses...), append([]string(nil), s.uploads...)
}

type harness struct {
	flow  *Flow
	sched *frameloop.Manual
	scene *renderer.Wireframe
	orbit *orbit.Controller
	cap   *fakeCapture
	svc   *fakeServices
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	m := frameloop.NewManual(epoch, time.Second/30)
	scene := renderer.NewWireframe(m, target, nil, renderer.WithSize(160, 90), renderer.WithLogger(log))
	t.Cleanup(scene.Close)
	ctrl := orbit.New(m, config.DefaultLimits(), config.DefaultOrbit(), orbit.WithLogger(log))
	ctrl.Init(scene)

	h := &harness{
		sched: m,
		scene: scene,
		orbit: ctrl,
		cap: &fakeCapture{
			supported: true,
			result:    capture.Result{Data: []byte("webm-bytes"), Duration: 3 * time.Second, Format: "video/webm;codecs=vp9"},
		},
		svc: &fakeServices{
			quota:  Reservation{OK: true, VideoID: 42},
			upload: UploadResult{OK: true, FileID: "file-42"},
		},
	}
	h.flow = NewFlow(Deps{
		Scene:     scene,
		Orbit:     ctrl,
		Capture:   h.cap,
		Scheduler: m,
		Quota:     h.svc,
		Metadata:  h.svc,
		Upload:    h.svc,
	}, append([]Option{WithLogger(log)}, opts...)...)
	return h
}

func request() Request {
	return Request{Target: target, Orbit: config.OrbitPatch{DurationSec: config.Float(4), FPS: config.Float(30)}}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQuotaDeniedEndsInError(t *testing.T) {
	h := newHarness(t)
	h.svc.quota = Reservation{OK: false, Code: "QUOTA_EXCEEDED"}

	err := h.flow.Start(context.Background(), request())
	if !errors.Is(err, ErrQuotaDenied) {
		t.Fatalf("Start = %v", err)
	}
	s := h.flow.Snapshot()
	if s.State != StateError || !strings.Contains(s.Message, "QUOTA_EXCEEDED") {
		t.Errorf("snapshot = %+v", s)
	}
	statuses, uploads := h.svc.calls()
	if len(statuses) != 0 || len(uploads) != 0 {
		t.Errorf("services called: %v %v", statuses, uploads)
	}
	if starts, _, _ := h.cap.counts(); starts != 0 {
		t.Error("capture started")
	}
	if h.scene.Continuous() {
		t.Error("continuous redraw left on")
	}
}

func TestManualStopCompletesRun(t *testing.T) {
	h := newHarness(t)

	var seen []State
	h.flow.Subscribe(func(s Snapshot) {
		if n := len(seen); n == 0 || seen[n-1] != s.State {
			seen = append(seen, s.State)
		}
	})

	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	if got := h.flow.Snapshot(); got.State != StateRecording || got.VideoID != 42 || got.RunID == "" {
		t.Fatalf("after start: %+v", got)
	}
	if !h.scene.Continuous() {
		t.Error("continuous redraw not enabled while recording")
	}
	if h.cap.lastCfg.FPS != 30 {
		t.Errorf("capture fps = %v", h.cap.lastCfg.FPS)
	}

	h.sched.Advance(time.Second)
	if p := h.flow.Snapshot().Progress; p < 0.2 || p > 0.3 {
		t.Errorf("progress after 1s of 4s = %v", p)
	}

	if err := h.flow.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := h.flow.Snapshot()
	if s.State != StateComplete || s.Result == nil {
		t.Fatalf("after stop: %+v", s)
	}
	if s.Result.FileID != "file-42" || string(s.Result.Data) != "webm-bytes" {
		t.Errorf("result = %+v", s.Result)
	}
	if s.Result.Filename != "orbit-42-20260314-092653.webm" {
		t.Errorf("filename = %s", s.Result.Filename)
	}
	if h.scene.Continuous() {
		t.Error("continuous redraw left on")
	}
	if h.orbit.State().Running {
		t.Error("orbit still running")
	}

	statuses, uploads := h.svc.calls()
	if len(statuses) != 2 || statuses[0].status != StatusRecording || statuses[1].status != StatusRecorded {
		t.Fatalf("statuses = %+v", statuses)
	}
	meta := statuses[1].meta
	if meta.DurationMs != 3000 || meta.FPS != 30 || meta.Width != 160 || meta.Height != 90 || meta.SizeBytes != 10 {
		t.Errorf("metadata = %+v", meta)
	}
	if len(uploads) != 1 {
		t.Errorf("uploads = %v", uploads)
	}

	want := []State{StateCreating, StateRecording, StateProcessing, StateUploading, StateComplete}
	if strings.Join(statesOf(seen), ",") != strings.Join(statesOf(want), ",") {
		t.Errorf("states = %v, want %v", seen, want)
	}

	if err := h.flow.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Stop = %v", err)
	}
	if err := h.flow.Start(context.Background(), request()); !errors.Is(err, ErrBusy) {
		t.Errorf("Start from complete = %v", err)
	}
}

func statesOf(s []State) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

func TestTimerStopsRecording(t *testing.T) {
	h := newHarness(t, WithTimerInterval(250*time.Millisecond))
	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}

	h.sched.Advance(4*time.Second + 300*time.Millisecond)

	s, err := h.flow.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateComplete {
		t.Fatalf("state = %s (%s)", s.State, s.Message)
	}
	if s.Elapsed < 4*time.Second || s.Elapsed > 4*time.Second+250*time.Millisecond {
		t.Errorf("stopped after %v", s.Elapsed)
	}
	h.sched.Advance(time.Second)
	if _, stops, _ := h.cap.counts(); stops != 1 {
		t.Errorf("capture stopped %d times", stops)
	}
	if !h.sched.Idle() {
		t.Error("timer still scheduled")
	}
}

func TestConcurrentStopsRunOnce(t *testing.T) {
	h := newHarness(t)
	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.flow.Stop(context.Background())
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, ErrNotRecording):
			t.Errorf("Stop = %v", err)
		}
	}
	if ok == 0 {
		t.Error("no Stop succeeded")
	}
	if _, stops, _ := h.cap.counts(); stops != 1 {
		t.Errorf("capture stopped %d times", stops)
	}
	if _, uploads := h.svc.calls(); len(uploads) != 1 {
		t.Errorf("uploads = %v", uploads)
	}
}

func TestFailuresReportFailed(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		wantErr error
		inMsg   string
	}{
		{
			name:    "upload rejected",
			setup:   func(h *harness) { h.svc.upload = UploadResult{OK: false, Message: "disk full"} },
			wantErr: ErrUploadFailed,
			inMsg:   "disk full",
		},
		{
			name:    "capture failed",
			setup:   func(h *harness) { h.cap.stopErr = capture.ErrSessionFailed },
			wantErr: capture.ErrSessionFailed,
			inMsg:   "stop capture",
		},
		{
			name:  "metadata rejected",
			setup: func(h *harness) { h.svc.metaErr = map[VideoStatus]error{StatusRecorded: errors.New("503")} },
			inMsg: "mark recorded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			if err := h.flow.Start(context.Background(), request()); err != nil {
				t.Fatal(err)
			}
			err := h.flow.Stop(context.Background())
			if err == nil || (tt.wantErr != nil && !errors.Is(err, tt.wantErr)) {
				t.Fatalf("Stop = %v", err)
			}
			s := h.flow.Snapshot()
			if s.State != StateError || !strings.Contains(s.Message, tt.inMsg) {
				t.Errorf("snapshot = %+v", s)
			}
			statuses, _ := h.svc.calls()
			last := statuses[len(statuses)-1]
			if last.status != StatusFailed || last.id != 42 || !strings.Contains(last.meta.Error, tt.inMsg) {
				t.Errorf("last status = %+v", last)
			}
			if h.scene.Continuous() {
				t.Error("continuous redraw left on")
			}
			if _, err := h.flow.Wait(waitCtx(t)); err == nil {
				t.Error("Wait reported success")
			}
		})
	}
}

func TestStartFailuresUnwind(t *testing.T) {
	t.Run("orbit not initialized", func(t *testing.T) {
		h := newHarness(t)
		h.orbit.Dispose()
		err := h.flow.Start(context.Background(), request())
		if !errors.Is(err, orbit.ErrNotInitialized) {
			t.Fatalf("Start = %v", err)
		}
		if starts, _, _ := h.cap.counts(); starts != 0 {
			t.Error("capture started")
		}
		statuses, _ := h.svc.calls()
		if len(statuses) != 2 || statuses[1].status != StatusFailed {
			t.Errorf("statuses = %+v", statuses)
		}
		if h.scene.Continuous() {
			t.Error("continuous redraw left on")
		}
	})

	t.Run("capture start", func(t *testing.T) {
		h := newHarness(t)
		h.cap.startErr = capture.ErrUnsupported
		err := h.flow.Start(context.Background(), request())
		if !errors.Is(err, capture.ErrUnsupported) {
			t.Fatalf("Start = %v", err)
		}
		if h.orbit.State().Running {
			t.Error("orbit left running")
		}
		if h.flow.Snapshot().State != StateError {
			t.Error("not in error")
		}
	})
}

func TestPreconditions(t *testing.T) {
	h := newHarness(t)

	bad := request()
	bad.Target = trajectory.Target{Longitude: 200, Latitude: 0}
	if err := h.flow.Start(context.Background(), bad); !errors.Is(err, ErrPrecondition) {
		t.Errorf("invalid target: %v", err)
	}
	h.cap.supported = false
	if err := h.flow.Start(context.Background(), request()); !errors.Is(err, ErrPrecondition) {
		t.Errorf("unsupported capture: %v", err)
	}
	if s := h.flow.Snapshot(); s.State != StateIdle || s.Seq != 0 {
		t.Errorf("state changed: %+v", s)
	}
	if h.svc.reserves != 0 {
		t.Error("quota reserved")
	}

	empty := NewFlow(Deps{})
	if err := empty.Start(context.Background(), request()); !errors.Is(err, ErrPrecondition) {
		t.Errorf("no scene: %v", err)
	}
	empty.Reset()
}

func TestBusy(t *testing.T) {
	h := newHarness(t)
	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	if err := h.flow.Start(context.Background(), request()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start = %v", err)
	}
	if starts, _, _ := h.cap.counts(); starts != 1 {
		t.Errorf("capture started %d times", starts)
	}
}

func TestResetFromRecording(t *testing.T) {
	h := newHarness(t)
	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	h.sched.Advance(time.Second)

	h.flow.Reset()
	h.flow.Reset()

	if s := h.flow.Snapshot(); s.State != StateIdle || s.RunID != "" {
		t.Errorf("after reset: %+v", s)
	}
	if h.scene.Continuous() || h.orbit.State().Running {
		t.Error("scene not released")
	}
	if _, _, aborts := h.cap.counts(); aborts == 0 {
		t.Error("capture not aborted")
	}

	h.sched.Advance(5 * time.Second)
	if _, stops, _ := h.cap.counts(); stops != 0 {
		t.Error("timer fired after reset")
	}
	if _, uploads := h.svc.calls(); len(uploads) != 0 {
		t.Error("uploaded after reset")
	}

	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
	if err := h.flow.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestResetReleasesPreview(t *testing.T) {
	h := newHarness(t)
	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	if err := h.flow.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.flow.Reset()
	if s := h.flow.Snapshot(); s.State != StateIdle || s.Result != nil {
		t.Errorf("after reset: %+v", s)
	}
	if _, err := h.flow.Wait(waitCtx(t)); err != nil {
		t.Errorf("Wait on idle flow = %v", err)
	}
}

func TestContainerDurationWins(t *testing.T) {
	h := newHarness(t, WithDurationProbe(func([]byte, string) (time.Duration, bool) {
		return 2500 * time.Millisecond, true
	}))
	if err := h.flow.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	if err := h.flow.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d := h.flow.Snapshot().Result.Metadata.DurationMs; d != 2500 {
		t.Errorf("duration = %d ms", d)
	}
}

func TestOrbitStateIsForwarded(t *testing.T) {
	h := newHarness(t)
	req := request()
	req.Orbit.PitchDeg = config.Float(-89)
	if err := h.flow.Start(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	h.sched.Step()
	s := h.flow.Snapshot()
	if !s.Orbit.Running || !s.Orbit.AutoFix.Applied {
		t.Errorf("orbit = %+v", s.Orbit)
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2026, 7, 1, 23, 5, 9, 0, time.FixedZone("X", 2*3600))
	tests := []struct {
		format string
		want   string
	}{
		{"video/webm;codecs=vp8", "orbit-7-20260701-210509.webm"},
		{"video/mp4;codecs=avc1", "orbit-7-20260701-210509.mp4"},
	}
	for _, tt := range tests {
		if got := Filename(7, at, tt.format); got != tt.want {
			t.Errorf("Filename(%q) = %s, want %s", tt.format, got, tt.want)
		}
	}
}
