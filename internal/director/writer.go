package director

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteTimeline writes a timeline to a YAML file, creating parent directories.
func WriteTimeline(tl *Timeline, path string) error {
	if tl.Version == "" {
		tl.Version = TimelineVersion
	}
	data, err := yaml.Marshal(tl)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// ReadTimeline reads a timeline from a YAML file
func ReadTimeline(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tl Timeline
	if err := yaml.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("parse timeline %s: %w", path, err)
	}
	if tl.Version != TimelineVersion {
		return nil, fmt.Errorf("timeline %s: unsupported version %q", path, tl.Version)
	}

	return &tl, nil
}
