package keypoint

import (
	"context"
	"fmt"

	"github.com/samcharles93/waypoint/internal/backbone"
	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// Embedder writes the token embedding of a point.
type Embedder interface {
	Dim() int
	EncodePoint(dst, point []float32)
}

// Reference returns the override (x, y, yaw) for fill step i of row, in the
// ego frame. ok is false when the row has no reference for that step.
type Reference func(step, row int) (point [3]float32, ok bool)

type State int

const (
	Idle State = iota
	Filling
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Filling:
		return "filling"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Step is reported to Controller.OnStep after every committed slot.
type Step struct {
	Index  int
	Slot   int
	Hidden *tensor.Seq
	Points []float32
}

// Controller fills key-point slots one at a time. Each step runs the
// backbone over the causal prefix ending just before the slot, decodes the
// last hidden state and writes the embedded point back into the buffer, so
// step i+1 always sees the committed output of step i.
type Controller struct {
	Backbone backbone.Backbone
	Decoder  Decoder
	Embedder Embedder
	Width    int
	Log      logger.Logger
	OnStep   func(Step)
}

// NewController checks that the collaborators agree on widths.
func NewController(bb backbone.Backbone, dec Decoder, emb Embedder, log logger.Logger) (*Controller, error) {
	if bb.Dim() != emb.Dim() {
		return nil, fmt.Errorf("%w: backbone width %d, key point embedding width %d", ErrDecoderShape, bb.Dim(), emb.Dim())
	}
	w := dec.Width()
	if w != 2 && w != 4 {
		return nil, &DecoderShapeError{Slot: -1, Want: 2, Got: w}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{Backbone: bb, Decoder: dec, Embedder: emb, Width: w, Log: log}, nil
}

// Output holds the committed key points, (B, K, Width).
type Output struct {
	B, K, Width int
	Points      []float32
}

func (o *Output) At(b, i int) []float32 {
	off := (b*o.K + i) * o.Width
	return o.Points[off : off+o.Width]
}

// Fill is one in-progress fill over an exclusively owned buffer.
type Fill struct {
	c      *Controller
	embeds *tensor.Seq
	plan   Plan
	ref    Reference
	state  State
	next   int
	out    *Output
}

// Begin validates the plan against embeds and seeds every key-point slot
// with the embedding of the zero point. An empty plan fails before the
// buffer is touched.
func (c *Controller) Begin(embeds *tensor.Seq, plan Plan, ref Reference) (*Fill, error) {
	k := plan.Len()
	if k == 0 {
		return nil, ErrEmptyKeyPointSet
	}
	if plan.Start < 1 || embeds.L < plan.Start+k {
		return nil, fmt.Errorf("%w: slots [%d,%d) do not fit a buffer of %d", ErrInvalidSlots, plan.Start, plan.Start+k, embeds.L)
	}
	if embeds.D != c.Embedder.Dim() {
		return nil, fmt.Errorf("%w: buffer width %d, key point embedding width %d", ErrDecoderShape, embeds.D, c.Embedder.Dim())
	}
	f := &Fill{
		c:      c,
		embeds: embeds,
		plan:   plan,
		ref:    ref,
		out:    &Output{B: embeds.B, K: k, Width: c.Width, Points: make([]float32, embeds.B*k*c.Width)},
	}
	zero := make([]float32, c.Width)
	tok := make([]float32, embeds.D)
	c.Embedder.EncodePoint(tok, zero)
	slots := plan.Slots()
	for row := 0; row < embeds.B; row++ {
		for _, slot := range slots {
			embeds.Set(row, slot, tok)
		}
	}
	return f, nil
}

func (f *Fill) State() State { return f.state }

// Next is the index of the slot the next Step resolves.
func (f *Fill) Next() int { return f.next }

// Step resolves one slot.
func (f *Fill) Step(ctx context.Context) error {
	if f.state == Done {
		return fmt.Errorf("%w: fill already done", ErrFillState)
	}
	f.state = Filling
	c := f.c
	i := f.Next()
	slot := f.plan.Slot(i)
	b := f.embeds.B

	mask := backbone.OnesMask(b, slot)
	hidden, err := c.Backbone.Forward(ctx, backbone.Inputs{
		Embeds:    f.embeds.Prefix(slot),
		Mask:      mask,
		Positions: backbone.PositionIDs(mask, b, slot),
	})
	if err != nil {
		return fmt.Errorf("key point %d: backbone: %w", i, err)
	}
	if hidden.B != b || hidden.L != slot {
		return fmt.Errorf("%w: backbone returned (%d, %d) for prefix (%d, %d)", ErrDecoderShape, hidden.B, hidden.L, b, slot)
	}
	last := hidden.Slice(slot-1, slot)
	cands, err := c.Decoder.Generate(ctx, last)
	if err != nil {
		return fmt.Errorf("key point %d: decode: %w", i, err)
	}
	if cands.Width != c.Width {
		return &DecoderShapeError{Slot: slot, Want: c.Width, Got: cands.Width}
	}
	if err := cands.check(b); err != nil {
		return err
	}

	overrides := 0
	for row := 0; row < b; row++ {
		p := f.out.At(row, i)
		copy(p, cands.Point(row, cands.Best(row)))
		if c.Width == 4 {
			p[2] = 0
		}
		if f.ref != nil {
			if r, ok := f.ref(i, row); ok {
				p[0], p[1] = r[0], r[1]
				if c.Width == 4 {
					p[3] = r[2]
				}
				overrides++
			}
		}
		c.Embedder.EncodePoint(f.embeds.At(row, slot), p)
	}
	c.Log.Debug("key point committed", "index", i, "slot", slot, "prefix", slot, "rows", b, "overrides", overrides)
	if c.OnStep != nil {
		pts := make([]float32, 0, b*c.Width)
		for row := 0; row < b; row++ {
			pts = append(pts, f.out.At(row, i)...)
		}
		c.OnStep(Step{Index: i, Slot: slot, Hidden: last, Points: pts})
	}

	f.next++
	if f.next == f.plan.Len() {
		f.state = Done
	}
	return nil
}

// Result returns the key points once every slot is committed.
func (f *Fill) Result() (*Output, error) {
	if f.state != Done {
		return nil, fmt.Errorf("%w: %s at %d of %d", ErrFillState, f.state, f.next, f.plan.Len())
	}
	return f.out, nil
}

// Fill runs every step of plan over embeds. ref may be nil.
func (c *Controller) Fill(ctx context.Context, embeds *tensor.Seq, plan Plan, ref Reference) (*Output, error) {
	f, err := c.Begin(embeds, plan, ref)
	if err != nil {
		return nil, err
	}
	for f.State() != Done {
		if err := f.Step(ctx); err != nil {
			return nil, err
		}
	}
	return f.Result()
}
