// Package geom converts between the global map frame and the ego frame.
package geom

import "math"

// Pose is a planar position with heading in radians.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// ToEgo expresses the global point (x, y) in the frame of ego.
func ToEgo(x, y float64, ego Pose) (float64, float64) {
	dx, dy := x-ego.X, y-ego.Y
	sin, cos := math.Sincos(ego.Yaw)
	return dx*cos + dy*sin, -dx*sin + dy*cos
}

// ToGlobal is the inverse of ToEgo.
func ToGlobal(x, y float64, ego Pose) (float64, float64) {
	sin, cos := math.Sincos(ego.Yaw)
	return ego.X + x*cos - y*sin, ego.Y + x*sin + y*cos
}

// PoseToEgo converts a global pose, including its heading.
func PoseToEgo(p, ego Pose) Pose {
	x, y := ToEgo(p.X, p.Y, ego)
	return Pose{X: x, Y: y, Yaw: NormalizeAngle(p.Yaw - ego.Yaw)}
}

// NormalizeAngle wraps a into (-pi, pi].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
