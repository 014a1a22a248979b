package geom

import (
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestToEgoRoundTrip(t *testing.T) {
	t.Parallel()
	ego := Pose{X: 10, Y: -4, Yaw: 0.7}
	for _, p := range [][2]float64{{0, 0}, {12, 3}, {-5, 8}} {
		ex, ey := ToEgo(p[0], p[1], ego)
		gx, gy := ToGlobal(ex, ey, ego)
		if !near(gx, p[0]) || !near(gy, p[1]) {
			t.Fatalf("round trip %v -> (%v,%v) -> (%v,%v)", p, ex, ey, gx, gy)
		}
	}
}

func TestToEgoAxes(t *testing.T) {
	t.Parallel()
	ego := Pose{X: 1, Y: 1, Yaw: math.Pi / 2}
	// one metre north of an ego facing north is straight ahead
	x, y := ToEgo(1, 2, ego)
	if !near(x, 1) || !near(y, 0) {
		t.Fatalf("got (%v,%v), want (1,0)", x, y)
	}
}

func TestNormalizeAngle(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want float64 }{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-5 * math.Pi / 2, -math.Pi / 2},
		{4 * math.Pi, 0},
	}
	for _, tc := range cases {
		if got := NormalizeAngle(tc.in); !near(got, tc.want) {
			t.Fatalf("NormalizeAngle(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPoseToEgoHeading(t *testing.T) {
	t.Parallel()
	p := PoseToEgo(Pose{X: 0, Y: 0, Yaw: -3}, Pose{Yaw: 3})
	if !near(p.Yaw, NormalizeAngle(-6)) {
		t.Fatalf("yaw %v", p.Yaw)
	}
}
