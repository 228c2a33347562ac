// Package video binds the capture engine to an ffmpeg subprocess and reads
// back MP4 container metadata.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/capture"
	"github.com/ivlev/orbitreel/internal/system"
)

const (
	FormatWebMVP9 = "video/webm;codecs=vp9"
	FormatWebMVP8 = "video/webm;codecs=vp8"
	FormatMP4H264 = "video/mp4;codecs=avc1"

	readChunkSize = 32 << 10
	stderrTail    = 2048
)

// codec is how one format maps onto ffmpeg.
type codec struct {
	container string
	encoders  []string // preference order
}

var codecs = map[string]codec{
	FormatWebMVP9: {container: "webm", encoders: []string{"libvpx-vp9"}},
	FormatWebMVP8: {container: "webm", encoders: []string{"libvpx"}},
	FormatMP4H264: {container: "mp4", encoders: system.H264Preference},
}

// FFmpegRecorder records capture streams by piping raw RGBA frames into
// ffmpeg and reading the container back from its stdout.
type FFmpegRecorder struct {
	binary   string
	encoders func() (map[string]bool, error)
	log      logrus.FieldLogger
}

// RecorderOption configures an FFmpegRecorder.
type RecorderOption func(*FFmpegRecorder)

func WithBinary(path string) RecorderOption {
	return func(r *FFmpegRecorder) { r.binary = path }
}

// WithEncoders replaces the ffmpeg -encoders probe.
func WithEncoders(available map[string]bool) RecorderOption {
	return func(r *FFmpegRecorder) {
		r.encoders = func() (map[string]bool, error) { return available, nil }
	}
}

func WithLogger(log logrus.FieldLogger) RecorderOption {
	return func(r *FFmpegRecorder) { r.log = log }
}

func NewFFmpegRecorder(opts ...RecorderOption) *FFmpegRecorder {
	r := &FFmpegRecorder{
		binary:   "ffmpeg",
		encoders: system.FFmpegEncoders,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsSupported reports whether ffmpeg is installed and exposes any encoder
// this recorder can use.
func (r *FFmpegRecorder) IsSupported() bool {
	if _, err := exec.LookPath(r.binary); err != nil {
		return false
	}
	_, ok := r.BestSupportedFormat([]string{FormatWebMVP9, FormatWebMVP8, FormatMP4H264})
	return ok
}

// BestSupportedFormat returns the first format in prefs with an available
// encoder.
func (r *FFmpegRecorder) BestSupportedFormat(prefs []string) (string, bool) {
	available, err := r.encoders()
	if err != nil {
		r.log.WithError(err).Warn("ffmpeg encoder probe failed")
		return "", false
	}
	for _, p := range prefs {
		if _, ok := r.encoderFor(p, available); ok {
			return p, true
		}
	}
	return "", false
}

func (r *FFmpegRecorder) encoderFor(format string, available map[string]bool) (string, bool) {
	c, ok := codecs[normalizeFormat(format)]
	if !ok {
		return "", false
	}
	return system.BestEncoder(available, c.encoders...)
}

func normalizeFormat(format string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(format)), " ", "")
}

// Open prepares an ffmpeg session. Nothing runs until Start.
func (r *FFmpegRecorder) Open(stream capture.Stream, opts capture.SessionOptions, h capture.Handlers) (capture.Session, error) {
	available, err := r.encoders()
	if err != nil {
		return nil, err
	}
	format := normalizeFormat(opts.Format)
	encoder, ok := r.encoderFor(format, available)
	if !ok {
		return nil, fmt.Errorf("%w: %s", capture.ErrUnsupported, opts.Format)
	}
	size := stream.Size()
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid stream size %v", size)
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = stream.FPS()
	}
	if fps <= 0 {
		return nil, errors.New("stream has no frame rate")
	}

	return &session{
		binary:    r.binary,
		args:      buildArgs(size, fps, codecs[format].container, encoder, opts.BitsPerSecond),
		stream:    stream,
		size:      size,
		period:    time.Duration(float64(time.Second) / fps),
		timeslice: time.Duration(opts.TimesliceMs) * time.Millisecond,
		h:         h,
		log:       r.log.WithFields(logrus.Fields{"encoder": encoder, "format": opts.Format}),
		stop:      make(chan struct{}),
	}, nil
}

// buildArgs reads rawvideo RGBA from stdin and writes the container to stdout.
func buildArgs(size image.Point, fps float64, container, encoder string, bitsPerSecond int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", size.X, size.Y),
		"-framerate", fmt.Sprintf("%g", fps),
		"-i", "-",
		"-an",
		"-pix_fmt", "yuv420p",
		"-c:v", encoder,
	}
	if bitsPerSecond > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", bitsPerSecond/1000))
	}

	switch encoder {
	case "libvpx-vp9":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8", "-row-mt", "1")
	case "libvpx":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	case "h264_videotoolbox":
		args = append(args, "-realtime", "1")
	case "h264_nvenc":
		args = append(args, "-preset", "p4")
	case "libx264":
		args = append(args, "-preset", "veryfast")
	}

	if container == "mp4" {
		// a pipe cannot be seeked back to write the index
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	}
	args = append(args, "-f", container, "-")
	return args
}

// session is one ffmpeg process.
type session struct {
	binary    string
	args      []string
	stream    capture.Stream
	size      image.Point
	period    time.Duration
	timeslice time.Duration
	h         capture.Handlers
	log       logrus.FieldLogger

	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func (s *session) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, s.binary, s.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe error: %w", err)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpeg start error: %w", err)
	}
	s.cancel = cancel
	s.log.WithField("args", strings.Join(s.args, " ")).Debug("ffmpeg started")

	go s.pump(stdin)
	go s.collect(cmd, stdout, stderr)
	return nil
}

// pump feeds one frame per period until Stop, then closes stdin so ffmpeg
// flushes and exits.
func (s *session) pump(stdin io.WriteCloser) {
	defer stdin.Close()

	frame := image.NewRGBA(image.Rectangle{Max: s.size})
	tk := time.NewTicker(s.period)
	defer tk.Stop()

	for {
		s.stream.ReadFrame(frame)
		if err := writeRawRGBA(stdin, frame); err != nil {
			s.log.WithError(err).Debug("ffmpeg stdin closed")
			return
		}
		select {
		case <-s.stop:
			return
		case <-tk.C:
		}
	}
}

// collect forwards stdout in timeslice batches and reports the exit.
func (s *session) collect(cmd *exec.Cmd, stdout io.Reader, stderr *tailBuffer) {
	defer s.cancel()

	var pending bytes.Buffer
	last := time.Now()
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		chunk := bytes.Clone(pending.Bytes())
		pending.Reset()
		last = time.Now()
		if s.h.OnData != nil {
			s.h.OnData(chunk)
		}
	}

	buf := make([]byte, readChunkSize)
	var readErr error
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			if s.timeslice <= 0 || time.Since(last) >= s.timeslice {
				flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	flush()

	waitErr := cmd.Wait()
	switch {
	case waitErr != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			waitErr = fmt.Errorf("ffmpeg: %w: %s", waitErr, msg)
		} else {
			waitErr = fmt.Errorf("ffmpeg: %w", waitErr)
		}
		s.fail(waitErr)
	case readErr != nil:
		s.fail(fmt.Errorf("read ffmpeg output: %w", readErr))
	default:
		if s.h.OnStop != nil {
			s.h.OnStop()
		}
	}
}

func (s *session) fail(err error) {
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

// Stop ends the frame pump. The end event follows once ffmpeg exits.
func (s *session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
