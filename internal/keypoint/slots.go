// Package keypoint selects key-point slots, decodes hidden states into
// points and runs the autoregressive fill loop.
package keypoint

import (
	"fmt"

	"github.com/samcharles93/waypoint/internal/config"
)

// Policy picks which future trajectory timesteps become key points.
type Policy interface {
	Indices(predLength int) ([]int, error)
}

// EvenInterval selects interval-1, 2*interval-1, ... below predLength.
type EvenInterval struct {
	Interval int
}

func (p EvenInterval) Indices(predLength int) ([]int, error) {
	if p.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval %d", ErrInvalidSlots, p.Interval)
	}
	var out []int
	for i := p.Interval - 1; i < predLength; i += p.Interval {
		out = append(out, i)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: interval %d yields nothing below %d", ErrEmptyKeyPointSet, p.Interval, predLength)
	}
	return out, nil
}

// Explicit uses caller-supplied, strictly increasing indices.
type Explicit struct {
	List []int
}

func (p Explicit) Indices(predLength int) ([]int, error) {
	if len(p.List) == 0 {
		return nil, ErrEmptyKeyPointSet
	}
	for i, v := range p.List {
		if v < 0 || v >= predLength {
			return nil, fmt.Errorf("%w: index %d outside [0,%d)", ErrInvalidSlots, v, predLength)
		}
		if i > 0 && v <= p.List[i-1] {
			return nil, fmt.Errorf("%w: index %d at position %d not above %d", ErrInvalidSlots, v, i, p.List[i-1])
		}
	}
	return append([]int(nil), p.List...), nil
}

// NewPolicy maps use_key_points onto a policy. Mode "no" returns nil.
func NewPolicy(cfg config.Config) (Policy, error) {
	switch cfg.UseKeyPoints {
	case config.KeyPointsNo:
		return nil, nil
	case config.KeyPointsEvenInterval:
		return EvenInterval{Interval: cfg.ARFutureInterval}, nil
	case config.KeyPointsSpecified, config.KeyPointsSpecifiedBackward:
		return Explicit{List: cfg.KeyPointIndices}, nil
	default:
		return nil, fmt.Errorf("%w: use_key_points %q", config.ErrInvalidConfig, cfg.UseKeyPoints)
	}
}

// Plan places the selected key points in the sequence: point i lives at
// absolute slot Start+i and corresponds to trajectory step Indices[i].
type Plan struct {
	Indices []int
	Start   int
}

// NewPlan resolves policy for predLength and anchors it at start.
func NewPlan(p Policy, predLength, start int) (Plan, error) {
	if p == nil {
		return Plan{}, ErrEmptyKeyPointSet
	}
	idx, err := p.Indices(predLength)
	if err != nil {
		return Plan{}, err
	}
	if start < 1 {
		return Plan{}, fmt.Errorf("%w: start %d leaves no context before the first key point", ErrInvalidSlots, start)
	}
	return Plan{Indices: idx, Start: start}, nil
}

func (p Plan) Len() int { return len(p.Indices) }

// Slot is the absolute sequence index of key point i.
func (p Plan) Slot(i int) int { return p.Start + i }

// Slots lists every absolute slot in order.
func (p Plan) Slots() []int {
	out := make([]int, len(p.Indices))
	for i := range out {
		out[i] = p.Slot(i)
	}
	return out
}

// Gather picks the key-point targets out of a (B, L, width) trajectory.
func (p Plan) Gather(traj []float32, b, l, width int) []float32 {
	out := make([]float32, 0, b*p.Len()*width)
	for row := 0; row < b; row++ {
		for _, t := range p.Indices {
			off := (row*l + t) * width
			out = append(out, traj[off:off+width]...)
		}
	}
	return out
}
