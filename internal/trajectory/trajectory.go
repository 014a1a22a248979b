// Package trajectory decodes the dense future trajectory from the trailing
// prediction positions of the backbone output.
package trajectory

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

var ErrShape = errors.New("trajectory decoder shape mismatch")

// Result is (B, Steps, Width) predicted points. Loss is set only when a
// label was supplied.
type Result struct {
	B, Steps, Width int
	Points          []float32
	Loss            float32
	HasLoss         bool
}

func (r *Result) At(b, t int) []float32 {
	off := (b*r.Steps + t) * r.Width
	return r.Points[off : off+r.Width]
}

// Decoder reads the last predLength hidden states. label is (B, predLength,
// Width) or nil; during generation it carries no supervision.
type Decoder interface {
	Compute(ctx context.Context, hidden *tensor.Seq, label []float32, predLength int) (*Result, error)
	Width() int
	nn.Module
}

// ResCat applies one shared ResCat head to every prediction position.
type ResCat struct {
	width int
	Head  *nn.ResCat
}

func NewResCat(d, inner, width int, seed int64) *ResCat {
	return &ResCat{width: width, Head: nn.NewResCat(inner, d, width, seed)}
}

func (r *ResCat) Width() int { return r.width }

func (r *ResCat) Compute(ctx context.Context, hidden *tensor.Seq, label []float32, predLength int) (*Result, error) {
	if hidden.D != r.Head.In() {
		return nil, fmt.Errorf("%w: hidden width %d, want %d", ErrShape, hidden.D, r.Head.In())
	}
	if predLength <= 0 || predLength > hidden.L {
		return nil, fmt.Errorf("%w: %d prediction steps from %d hidden states", ErrShape, predLength, hidden.L)
	}
	n := hidden.B * predLength * r.width
	if label != nil && len(label) != n {
		return nil, fmt.Errorf("%w: label has %d values, want %d", ErrShape, len(label), n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Result{B: hidden.B, Steps: predLength, Width: r.width, Points: make([]float32, n)}
	start := hidden.L - predLength
	for b := 0; b < hidden.B; b++ {
		for t := 0; t < predLength; t++ {
			r.Head.Forward(out.At(b, t), hidden.At(b, start+t))
		}
	}
	if label != nil {
		out.Loss = MSE(out.Points, label)
		out.HasLoss = true
	}
	return out, nil
}

func (r *ResCat) Params(prefix string) []nn.Param {
	return r.Head.Params(prefix + ".model")
}

// MSE is the mean squared difference of two equal-length slices.
func MSE(pred, target []float32) float32 {
	if len(pred) == 0 {
		return 0
	}
	var sum float32
	for i, v := range pred {
		d := v - target[i]
		sum += d * d
	}
	return sum / float32(len(pred))
}
