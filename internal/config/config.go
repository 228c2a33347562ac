package config

import "time"

// Config is the application configuration assembled by Load.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Limits  SafetyLimits  `koanf:"limits" validate:"required"`
	Orbit   OrbitConfig   `koanf:"orbit"`
	Preview PreviewConfig `koanf:"preview"`
	Capture CaptureConfig `koanf:"capture"`
	Flow    FlowConfig    `koanf:"flow"`
	Render  RenderConfig  `koanf:"render"`
	API     APIConfig     `koanf:"api"`
	Storage StorageConfig `koanf:"storage"`
	MQTT    MQTTConfig    `koanf:"mqtt"`
	Metrics MetricsConfig `koanf:"metrics"`
	Output  OutputConfig  `koanf:"output"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warning warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=text json"`
	// File enables rotation through lumberjack when set.
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	Compress   bool   `koanf:"compress"`
}

type PreviewConfig struct {
	DurationSec float64 `koanf:"duration_sec" validate:"gt=0"`
	ArcDeg      float64 `koanf:"arc_deg" validate:"gt=0,lte=360"`
}

type CaptureConfig struct {
	BitsPerSecond int `koanf:"bits_per_second" validate:"gt=0"`
	// Formats is tried in order; the first supported wins.
	Formats     []string `koanf:"formats" validate:"min=1,dive,required"`
	TimesliceMs int      `koanf:"timeslice_ms" validate:"gte=0"`
}

type FlowConfig struct {
	TimerInterval time.Duration `koanf:"timer_interval" validate:"gt=0"`
}

type RenderConfig struct {
	Width           int     `koanf:"width" validate:"gt=0"`
	Height          int     `koanf:"height" validate:"gt=0"`
	FieldOfViewDeg  float64 `koanf:"fov_deg" validate:"gt=0,lt=180"`
	GroundElevation float64 `koanf:"ground_elevation"`
}

type APIConfig struct {
	BaseURL string        `koanf:"base_url" validate:"omitempty,url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// StorageConfig selects the upload backend.
type StorageConfig struct {
	Backend string        `koanf:"backend" validate:"oneof=local s3 dropbox api"`
	Local   LocalStorage  `koanf:"local"`
	S3      S3Storage     `koanf:"s3"`
	Dropbox DropboxConfig `koanf:"dropbox"`
}

type LocalStorage struct {
	Directory string `koanf:"directory"`
}

type S3Storage struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Secure    bool   `koanf:"secure"`
	Prefix    string `koanf:"prefix"`
}

type DropboxConfig struct {
	Token     string `koanf:"token"`
	Directory string `koanf:"directory"`
}

type MQTTConfig struct {
	Enabled  bool    `koanf:"enabled"`
	Broker   string  `koanf:"broker"`
	ClientID string  `koanf:"client_id"`
	Username string  `koanf:"username"`
	Password string  `koanf:"password"`
	Topic    string  `koanf:"topic"`
	Rate     float64 `koanf:"rate" validate:"gte=0"` // snapshots per second
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

type OutputConfig struct {
	Directory     string `koanf:"directory"`
	PlanDirectory string `koanf:"plan_directory"`
}

// Default returns the configuration every layer is loaded over.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Limits: DefaultLimits(),
		Orbit:  DefaultOrbit(),
		Preview: PreviewConfig{
			DurationSec: 6,
			ArcDeg:      90,
		},
		Capture: CaptureConfig{
			BitsPerSecond: 8_000_000,
			Formats: []string{
				"video/webm;codecs=vp9",
				"video/webm;codecs=vp8",
				"video/mp4;codecs=avc1",
			},
			TimesliceMs: 1000,
		},
		Flow: FlowConfig{
			TimerInterval: 250 * time.Millisecond,
		},
		Render: RenderConfig{
			Width:          1280,
			Height:         720,
			FieldOfViewDeg: 60,
		},
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "local",
			Local:   LocalStorage{Directory: "output"},
		},
		MQTT: MQTTConfig{
			ClientID: "orbitreel",
			Topic:    "orbitreel/flow",
			Rate:     4,
		},
		Output: OutputConfig{
			Directory:     "output",
			PlanDirectory: "output/plans",
		},
	}
}
