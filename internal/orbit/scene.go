package orbit

import (
	"sync"

	"github.com/ivlev/orbitreel/internal/trajectory"
)

// Transform is an opaque camera snapshot owned by the scene.
type Transform any

// Scene is the part of the live renderer the controller drives.
type Scene interface {
	// SetCameraPose places the camera at heading/pitch/range in the frame
	// anchored at target.
	SetCameraPose(anchor trajectory.Target, headingRad, pitchRad, rangeM float64)
	RequestRedraw()
	// SampleGroundHeight returns terrain elevation in meters. Errors are
	// treated as ground level 0.
	SampleGroundHeight(lon, lat float64) (float64, error)
	CameraTransform() Transform
	SetCameraTransform(Transform)
}

// Lease is the right to move the scene camera for one run. It remembers the
// transform found at acquisition and is the only path that restores it.
type Lease struct {
	mu       sync.Mutex
	scene    Scene
	saved    Transform
	released bool
}

func acquireLease(scene Scene) *Lease {
	return &Lease{scene: scene, saved: scene.CameraTransform()}
}

// Pose moves the camera. It does nothing once the lease is released.
func (l *Lease) Pose(anchor trajectory.Target, headingRad, pitchRad, rangeM float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.scene.SetCameraPose(anchor, headingRad, pitchRad, rangeM)
	l.scene.RequestRedraw()
}

// Restore puts the saved transform back and releases the lease. Only the
// first call has an effect.
func (l *Lease) Restore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return false
	}
	l.released = true
	l.scene.SetCameraTransform(l.saved)
	l.scene.RequestRedraw()
	return true
}
