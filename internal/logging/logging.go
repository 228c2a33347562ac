// Package logging configures logrus from the application config.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ivlev/orbitreel/internal/config"
)

// New builds a logger for cfg. With cfg.File set, entries go to stderr and
// to a rotating file. The returned closer flushes that file.
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer) {
	log := logrus.New()
	log.SetLevel(ParseLevel(cfg.Level))

	var formatter logrus.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	}
	if cfg.Format == "json" {
		formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	log.SetFormatter(localTime{Formatter: formatter})

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return log, nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return log, file
}

// ParseLevel maps a config level to logrus. Unknown levels log at info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warning", "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	}
	return logrus.InfoLevel
}

// localTime stamps entries in the host's zone.
type localTime struct {
	logrus.Formatter
}

func (f localTime) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.Local()
	return f.Formatter.Format(e)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
