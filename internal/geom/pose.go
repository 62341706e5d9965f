package geom

import (
	"math"
	"time"
)

// Pose is a planar robot pose: position in meters, heading in radians.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Distance returns the planar distance to other.
func (p Pose) Distance(other Pose) float64 {
	return math.Hypot(other.X-p.X, other.Y-p.Y)
}

// PoseStamped ties a pose to a coordinate frame and a timestamp.
type PoseStamped struct {
	Frame string    `json:"frame"`
	Stamp time.Time `json:"stamp"`
	Pose  Pose      `json:"pose"`
}

// Covariance row-major indices of the diagonal entries used by the
// localization checks: x, y and yaw variance within the 6x6 matrix.
const (
	CovX   = 0
	CovY   = 7
	CovYaw = 35
)

// PoseWithCovariance is a pose with its 6x6 covariance matrix in
// row-major order. Only the x, y and yaw diagonal entries are
// interpreted here; the rest ride along for wire compatibility.
type PoseWithCovariance struct {
	Pose       Pose        `json:"pose"`
	Covariance [36]float64 `json:"covariance"`
}

// StampCovariance builds a PoseWithCovariance from a pose and the
// three variances the navigation stack cares about.
func StampCovariance(p Pose, varX, varY, varYaw float64) PoseWithCovariance {
	pc := PoseWithCovariance{Pose: p}
	pc.Covariance[CovX] = varX
	pc.Covariance[CovY] = varY
	pc.Covariance[CovYaw] = varYaw
	return pc
}

// VarX returns the x position variance.
func (pc PoseWithCovariance) VarX() float64 { return pc.Covariance[CovX] }

// VarY returns the y position variance.
func (pc PoseWithCovariance) VarY() float64 { return pc.Covariance[CovY] }

// VarYaw returns the yaw variance.
func (pc PoseWithCovariance) VarYaw() float64 { return pc.Covariance[CovYaw] }

// Twist is a planar velocity: linear meters per second, angular radians
// per second.
type Twist struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	WZ float64 `json:"wz"`
}

// Speed returns the linear speed magnitude.
func (t Twist) Speed() float64 {
	return math.Hypot(t.VX, t.VY)
}
