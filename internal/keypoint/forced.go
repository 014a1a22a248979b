package keypoint

import (
	"context"
	"fmt"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// Forced is the teacher-forced key-point output of one full backbone pass.
type Forced struct {
	// Logits is (B, K, width).
	Logits []float32
	Loss   float32
	// Hidden holds the (B, 1, d) state that predicted each key point.
	Hidden []*tensor.Seq
}

// TeacherForced decodes key point i from the hidden state at slot-1 of a
// pass whose key-point slots already hold the targets. targets is
// (B, K, width). The diffusion decoder only samples, so it echoes the
// targets with zero loss.
func TeacherForced(ctx context.Context, dec Decoder, hidden *tensor.Seq, plan Plan, targets []float32) (*Forced, error) {
	b, k, w := hidden.B, plan.Len(), dec.Width()
	if k == 0 {
		return nil, ErrEmptyKeyPointSet
	}
	if len(targets) != b*k*w {
		return nil, fmt.Errorf("%w: %d targets for (%d, %d, %d)", ErrDecoderShape, len(targets), b, k, w)
	}
	if plan.Start < 1 || hidden.L < plan.Start+k {
		return nil, fmt.Errorf("%w: slots [%d,%d) outside %d hidden states", ErrInvalidSlots, plan.Start, plan.Start+k, hidden.L)
	}
	out := &Forced{Logits: make([]float32, b*k*w)}
	for i := 0; i < k; i++ {
		slot := plan.Slot(i)
		out.Hidden = append(out.Hidden, hidden.Slice(slot-1, slot))
	}
	if dec.Kind() == config.DecoderDiffusion {
		copy(out.Logits, targets)
		return out, nil
	}
	for i, h := range out.Hidden {
		cands, err := dec.Generate(ctx, h)
		if err != nil {
			return nil, err
		}
		if cands.Width != w {
			return nil, &DecoderShapeError{Slot: plan.Slot(i), Want: w, Got: cands.Width}
		}
		for row := 0; row < b; row++ {
			off := (row*k + i) * w
			copy(out.Logits[off:off+w], cands.Point(row, cands.Best(row)))
		}
	}
	var sum float32
	for j, v := range out.Logits {
		d := v - targets[j]
		sum += d * d
	}
	out.Loss = sum / float32(len(targets))
	return out, nil
}
