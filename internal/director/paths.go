package director

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ivlev/orbitreel/internal/system"
)

// GenerateTimelinePath creates a timestamped plan filename inside dir
func GenerateTimelinePath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("orbit_%s.yaml", now.Format("2006-01-02_15-04-05")))
}

// FindLatestTimeline finds the most recent plan file in dir
func FindLatestTimeline(dir string) (string, error) {
	path, err := system.FindLatest(dir, ".yaml", ".yml")
	if err != nil {
		return "", fmt.Errorf("no timeline: %w", err)
	}
	return path, nil
}
