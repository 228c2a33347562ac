// Package capture records a visual surface into an encoded video. The plain
// engine captures the surface as is; the compositing engine first copies it
// onto a canvas of the same size and draws an overlay on every frame.
package capture

import (
	"image"
	"strings"
)

// Stream is a live capture of a surface.
type Stream interface {
	Size() image.Point
	FPS() float64
	// ReadFrame copies the current pixels into dst, which has Size bounds.
	ReadFrame(dst *image.RGBA)
	// Stop ends every track of the stream. Calls after the first do nothing.
	Stop()
}

// Surface is something that can be captured: the renderer's output.
type Surface interface {
	Size() image.Point
	// Snapshot copies the latest painted frame into dst.
	Snapshot(dst *image.RGBA)
	CaptureStream(fps float64) (Stream, error)
}

// SessionOptions configure one recorder session.
type SessionOptions struct {
	Format        string
	FPS           float64
	BitsPerSecond int
	// TimesliceMs is the target interval between data chunks; 0 leaves it to
	// the recorder.
	TimesliceMs int
}

// Handlers receive session events. OnData may be called any number of
// times; exactly one of OnStop and OnError follows the last chunk.
type Handlers struct {
	OnData  func(chunk []byte)
	OnStop  func()
	OnError func(err error)
}

// Session is an open recorder session.
type Session interface {
	Start() error
	// Stop asks the recorder to flush and finish. The end event may fire
	// before Stop returns.
	Stop()
}

// Recorder is the platform's media recording capability.
type Recorder interface {
	IsSupported() bool
	// BestSupportedFormat returns the first entry of prefs the recorder can
	// produce.
	BestSupportedFormat(prefs []string) (string, bool)
	Open(stream Stream, opts SessionOptions, h Handlers) (Session, error)
}

// Extension maps a format such as "video/webm;codecs=vp9" to a file
// extension without the dot.
func Extension(format string) string {
	mime, _, _ := strings.Cut(format, ";")
	mime = strings.TrimSpace(strings.ToLower(mime))
	switch mime {
	case "video/mp4":
		return "mp4"
	case "video/x-matroska":
		return "mkv"
	case "video/quicktime":
		return "mov"
	case "video/webm", "":
		return "webm"
	}
	if _, sub, ok := strings.Cut(mime, "/"); ok && sub != "" {
		return sub
	}
	return "webm"
}
