package tensor

import (
	"math/rand"
)

// Mat is a dense row-major float32 matrix. Weights are stored [out x in] so
// MatVec computes one output feature per row.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zeroed r x c matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// Row returns a view of row i.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// FillUniform fills data with values drawn uniformly from (-scale, scale).
// The same seed always yields the same values.
func FillUniform(data []float32, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * scale
	}
}
