package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst = w * x where w is [out x in] and x has length in.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(dst) < w.R || len(x) < w.C {
		panic("matvec shape mismatch")
	}
	for r := 0; r < w.R; r++ {
		row := w.Data[r*w.Stride : r*w.Stride+w.C]
		var sum float32
		for j, v := range row {
			sum += v * x[j]
		}
		dst[r] = sum
	}
}

// LayerNorm normalises src to zero mean and unit variance, then applies the
// affine weight and bias. A nil bias is treated as zero.
func LayerNorm(dst, src, weight, bias []float32, eps float32) {
	n := float32(len(src))
	var mean float32
	for _, v := range src {
		mean += v
	}
	mean /= n
	var variance float32
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= n
	inv := float32(1.0 / math.Sqrt(float64(variance+eps)))
	for i, v := range src {
		out := (v - mean) * inv * weight[i]
		if bias != nil {
			out += bias[i]
		}
		dst[i] = out
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Argmax returns the index of the largest value in x. Ties resolve to the
// lowest index. It returns -1 for an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// Gelu computes the exact (erf based) GELU activation.
func Gelu(x float32) float32 {
	return float32(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
}

// GeluNew computes the tanh approximation of GELU used by GPT-2.
func GeluNew(x float32) float32 {
	const c = 0.7978845608028654 // sqrt(2/pi)
	xf := float64(x)
	return float32(0.5 * xf * (1 + math.Tanh(c*(xf+0.044715*xf*xf*xf))))
}

// Relu computes max(x, 0).
func Relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Tanh computes the hyperbolic tangent.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Apply replaces each element of x with fn(x).
func Apply(x []float32, fn func(float32) float32) {
	for i, v := range x {
		x[i] = fn(v)
	}
}

// Activation resolves an activation name to its function. The names follow
// the GPT-2 configuration vocabulary.
func Activation(name string) (func(float32) float32, bool) {
	switch name {
	case "relu":
		return Relu, true
	case "silu", "swish":
		return Silu, true
	case "gelu":
		return Gelu, true
	case "gelu_new", "gelu_pytorch_tanh":
		return GeluNew, true
	case "tanh":
		return Tanh, true
	default:
		return nil, false
	}
}
