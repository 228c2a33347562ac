package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"WARNING": logrus.WarnLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"fatal":   logrus.FatalLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	log, closer := New(config.LogConfig{Level: "debug", Format: "json"})
	defer closer.Close()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithField("run_id", "r1").Debug("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if entry["msg"] != "hello" || entry["run_id"] != "r1" || entry["level"] != "debug" {
		t.Errorf("entry = %v", entry)
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbitreel.log")
	log, closer := New(config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1})
	log.Debug("dropped")
	log.Info("kept")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "kept") || strings.Contains(string(data), "dropped") {
		t.Errorf("log file = %q", data)
	}
}
