// Package source loads the inputs of a run: parcel boundaries and the
// pictures shown as overlay insets.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/orbitreel/internal/system"
	"github.com/ivlev/orbitreel/internal/trajectory"
)

// ErrNoBoundary is returned when a boundary file lists no points.
var ErrNoBoundary = errors.New("boundary has no points")

// Boundary is a parcel outline as stored on disk:
//
//	name: Parcel 12
//	height: 34.5
//	points:
//	  - {lon: 13.4012, lat: 52.5201}
//	  - {lon: 13.4031, lat: 52.5203}
type Boundary struct {
	Name   string              `yaml:"name"`
	Height float64             `yaml:"height"`
	Points []trajectory.LonLat `yaml:"points"`
	// Radius overrides the radius suggested by the outline when set.
	Radius float64 `yaml:"radius,omitempty"`
}

// LoadBoundary reads a boundary file.
func LoadBoundary(path string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary: %w", err)
	}
	var b Boundary
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse boundary %s: %w", path, err)
	}
	if len(b.Points) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoBoundary)
	}
	for i, p := range b.Points {
		if p.Longitude < -180 || p.Longitude > 180 || p.Latitude < -90 || p.Latitude > 90 {
			return nil, fmt.Errorf("%s: point %d (%v, %v) is out of range", path, i, p.Longitude, p.Latitude)
		}
	}
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &b, nil
}

// Target is the orbit target of the outline.
func (b *Boundary) Target() (trajectory.Target, error) {
	t, err := trajectory.TargetFromBoundary(b.Points, b.Height)
	if err != nil {
		return t, err
	}
	if b.Radius > 0 {
		t.SuggestedRadius = b.Radius
	}
	return t, nil
}

// FindLatestBoundary returns the newest boundary file in dir.
func FindLatestBoundary(dir string) (string, error) {
	return system.FindLatest(dir, ".yaml", ".yml")
}
