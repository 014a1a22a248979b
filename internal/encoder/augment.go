package encoder

import "math/rand"

// LinearRandomWalk shifts the x and y columns of a (B, T, width) trajectory
// by a per-row offset drawn from [-xRange, xRange] x [-yRange, yRange].
// Step i of t receives (i+1)/t of the offset, so the first step is already
// shifted by 1/t of it and the last step by all of it.
// It is a training-time augmentation; zero ranges leave data untouched.
func LinearRandomWalk(data []float32, b, t, width int, xRange, yRange float64, seed int64) {
	if (xRange == 0 && yRange == 0) || t == 0 || width < 2 {
		return
	}
	rng := rand.New(rand.NewSource(seed))
	for row := 0; row < b; row++ {
		dx := (rng.Float64()*2 - 1) * xRange
		dy := (rng.Float64()*2 - 1) * yRange
		for i := 0; i < t; i++ {
			frac := float64(i+1) / float64(t)
			off := (row*t + i) * width
			data[off] += float32(dx * frac)
			data[off+1] += float32(dy * frac)
		}
	}
}
