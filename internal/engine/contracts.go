package engine

import (
	"context"
	"time"

	"github.com/ivlev/orbitreel/internal/capture"
	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/effects"
	"github.com/ivlev/orbitreel/internal/orbit"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

// VideoStatus is the lifecycle status reported to the metadata service.
type VideoStatus string

const (
	StatusRecording VideoStatus = "RECORDING"
	StatusRecorded  VideoStatus = "RECORDED"
	StatusFailed    VideoStatus = "FAILED"
)

// Reservation is the quota service's answer to a slot request.
type Reservation struct {
	OK      bool   `json:"ok"`
	VideoID int64  `json:"videoId,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Metadata describes a finished recording, or carries the failure reason.
type Metadata struct {
	DurationMs int64   `json:"durationMs,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Format     string  `json:"format,omitempty"`
	SizeBytes  int64   `json:"sizeBytes,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// UploadResult is the upload service's answer.
type UploadResult struct {
	OK      bool   `json:"ok"`
	FileID  string `json:"fileId,omitempty"`
	Message string `json:"message,omitempty"`
}

type QuotaService interface {
	ReserveVideoSlot(ctx context.Context, sourceRef string) (Reservation, error)
}

type MetadataService interface {
	SetStatus(ctx context.Context, videoID int64, status VideoStatus, meta *Metadata) error
}

type UploadService interface {
	Upload(ctx context.Context, videoID int64, data []byte, filename string) (UploadResult, error)
}

// Scene is the live renderer as the flow sees it: a capture surface whose
// redraw mode can be switched.
type Scene interface {
	capture.Surface
	SetContinuousRedraw(on bool)
}

// Orbit is the camera driver. *orbit.Controller satisfies it.
type Orbit interface {
	StartOrbit(target trajectory.Target, patch config.OrbitPatch, preview bool) error
	StopOrbit()
	ActiveConfig() (config.OrbitConfig, bool)
	Subscribe(fn func(orbit.State)) func()
}

// Capture records the scene. *capture.Engine satisfies it.
type Capture interface {
	IsSupported() bool
	Start(surface capture.Surface, overlay effects.OverlayConfig, cfg capture.Config) error
	Stop(ctx context.Context) (*capture.Result, error)
	Abort()
}

// DurationProbe reads the playback length from a container. ok is false when
// the format carries none.
type DurationProbe func(data []byte, format string) (d time.Duration, ok bool)

var (
	_ Orbit   = (*orbit.Controller)(nil)
	_ Capture = (*capture.Engine)(nil)
)
