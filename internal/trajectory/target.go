package trajectory

import (
	"errors"
	"fmt"
	"math"

	geo "github.com/kellydunn/golang-geo"
)

// MinSuggestedRadius is the floor applied to radii derived from a footprint.
const MinSuggestedRadius = 100.0

var ErrEmptyBoundary = errors.New("boundary has no points")

// Target is the geographic point an orbit circles. Immutable per run.
type Target struct {
	Longitude       float64 `yaml:"longitude" json:"longitude"`
	Latitude        float64 `yaml:"latitude" json:"latitude"`
	Height          float64 `yaml:"height" json:"height"`
	SuggestedRadius float64 `yaml:"suggested_radius" json:"suggested_radius"`
}

// LonLat is a boundary vertex.
type LonLat struct {
	Longitude float64 `yaml:"lon" json:"lon"`
	Latitude  float64 `yaml:"lat" json:"lat"`
}

// Valid reports whether the target is a usable geographic point.
func (t Target) Valid() bool {
	for _, v := range []float64{t.Longitude, t.Latitude, t.Height, t.SuggestedRadius} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return t.Latitude >= -90 && t.Latitude <= 90 &&
		t.Longitude >= -180 && t.Longitude <= 180 &&
		t.SuggestedRadius >= 0
}

func (t Target) Point() *geo.Point {
	return geo.NewPoint(t.Latitude, t.Longitude)
}

// TargetFromBoundary derives a target from a parcel outline: the vertex
// centroid, and a suggested radius of twice the farthest vertex distance.
func TargetFromBoundary(points []LonLat, height float64) (Target, error) {
	if len(points) == 0 {
		return Target{}, ErrEmptyBoundary
	}

	var sumLon, sumLat float64
	for _, p := range points {
		sumLon += p.Longitude
		sumLat += p.Latitude
	}
	n := float64(len(points))
	center := geo.NewPoint(sumLat/n, sumLon/n)

	farthest := 0.0
	for _, p := range points {
		d := center.GreatCircleDistance(geo.NewPoint(p.Latitude, p.Longitude)) * 1000
		if d > farthest {
			farthest = d
		}
	}

	t := Target{
		Longitude:       center.Lng(),
		Latitude:        center.Lat(),
		Height:          height,
		SuggestedRadius: math.Max(MinSuggestedRadius, 2*farthest),
	}
	if !t.Valid() {
		return Target{}, fmt.Errorf("boundary centroid %.6f,%.6f is not a valid position", t.Longitude, t.Latitude)
	}
	return t, nil
}

// Offset returns the point rangeM meters from the target along bearingDeg
// (compass, clockwise from north).
func (t Target) Offset(rangeM, bearingDeg float64) (lon, lat float64) {
	p := t.Point().PointAtDistanceAndBearing(rangeM/1000, bearingDeg)
	return p.Lng(), p.Lat()
}

// LocalENU returns the east/north offset in meters of (lon, lat) from the target.
func (t Target) LocalENU(lon, lat float64) (east, north float64) {
	origin := t.Point()
	p := geo.NewPoint(lat, lon)
	d := origin.GreatCircleDistance(p) * 1000
	if d == 0 {
		return 0, 0
	}
	b := DegToRad(origin.BearingTo(p))
	return d * math.Sin(b), d * math.Cos(b)
}
