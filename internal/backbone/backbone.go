// Package backbone defines the causal sequence model contract and a GPT-2
// style reference implementation.
package backbone

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/waypoint/internal/tensor"
)

var (
	ErrSequenceTooLong = errors.New("sequence exceeds position table")
	ErrBadInputs       = errors.New("invalid backbone inputs")
)

// Inputs is one backbone call. Mask and Positions are (B, L) row-major;
// a nil Mask makes every position visible and nil Positions number them
// 0..L-1.
type Inputs struct {
	Embeds    *tensor.Seq
	Mask      []int32
	Positions []int32
}

// Backbone maps an embedding sequence to per-position hidden states. The
// hidden state at position i depends only on positions <= i.
type Backbone interface {
	Forward(ctx context.Context, in Inputs) (*tensor.Seq, error)
	Dim() int
}

// OnesMask returns an all-visible (b, l) mask.
func OnesMask(b, l int) []int32 {
	m := make([]int32, b*l)
	for i := range m {
		m[i] = 1
	}
	return m
}

// PositionIDs numbers attended positions per row as the running count of
// attended positions minus one. Masked positions get 1.
func PositionIDs(mask []int32, b, l int) []int32 {
	out := make([]int32, b*l)
	for row := 0; row < b; row++ {
		var n int32
		for i := 0; i < l; i++ {
			n += mask[row*l+i]
			if mask[row*l+i] == 0 {
				out[row*l+i] = 1
				continue
			}
			out[row*l+i] = n - 1
		}
	}
	return out
}

func (in Inputs) check() error {
	if in.Embeds == nil {
		return fmt.Errorf("%w: no embeddings", ErrBadInputs)
	}
	n := in.Embeds.B * in.Embeds.L
	if in.Mask != nil && len(in.Mask) != n {
		return fmt.Errorf("%w: mask has %d entries, want %d", ErrBadInputs, len(in.Mask), n)
	}
	if in.Positions != nil && len(in.Positions) != n {
		return fmt.Errorf("%w: positions has %d entries, want %d", ErrBadInputs, len(in.Positions), n)
	}
	return nil
}
