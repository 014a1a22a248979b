package keypoint

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/waypoint/internal/backbone"
	"github.com/samcharles93/waypoint/internal/encoder"
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// echoBackbone returns its input as the hidden states and records every
// prefix it was shown.
type echoBackbone struct {
	d       int
	prefixs []*tensor.Seq
}

func (e *echoBackbone) Dim() int { return e.d }

func (e *echoBackbone) Forward(_ context.Context, in backbone.Inputs) (*tensor.Seq, error) {
	e.prefixs = append(e.prefixs, in.Embeds.Clone())
	return in.Embeds.Clone(), nil
}

// planarEmbedder places x and y in the first two channels.
type planarEmbedder struct{ d int }

func (p planarEmbedder) Dim() int { return p.d }

func (p planarEmbedder) EncodePoint(dst, point []float32) {
	clear(dst)
	dst[0], dst[1] = point[0], point[1]
}

// stepDecoder predicts the hidden (x, y) plus one.
type stepDecoder struct{ width, got int }

func (s stepDecoder) Width() int               { return s.width }
func (s stepDecoder) Kind() string             { return "step" }
func (s stepDecoder) Params(string) []nn.Param { return nil }
func (s stepDecoder) Generate(_ context.Context, h *tensor.Seq) (*Candidates, error) {
	w := s.width
	if s.got != 0 {
		w = s.got
	}
	c := newCandidates(h.B, 1, w, false)
	for b := 0; b < h.B; b++ {
		c.Point(b, 0)[0] = h.At(b, 0)[0] + 1
		c.Point(b, 0)[1] = h.At(b, 0)[1] + 1
	}
	return c, nil
}

func echoController(t *testing.T, d int) (*Controller, *echoBackbone) {
	t.Helper()
	bb := &echoBackbone{d: d}
	c, err := NewController(bb, stepDecoder{width: 2}, planarEmbedder{d: d}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c, bb
}

func contextBuffer(l, d int) *tensor.Seq {
	s := tensor.NewSeq(1, l, d)
	s.At(0, 2)[0], s.At(0, 2)[1] = 1, 2
	return s
}

func TestFillIsSequential(t *testing.T) {
	t.Parallel()
	c, bb := echoController(t, 4)
	buf := contextBuffer(6, 4)
	buf.At(0, 4)[0] = 99

	out, err := c.Fill(context.Background(), buf, Plan{Indices: []int{4, 9}, Start: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(bb.prefixs) != 2 || bb.prefixs[0].L != 3 || bb.prefixs[1].L != 4 {
		t.Fatalf("backbone saw %d prefixes", len(bb.prefixs))
	}
	// the second call must see the first committed point
	if got := bb.prefixs[1].At(0, 3); got[0] != 2 || got[1] != 3 {
		t.Fatalf("step 1 input %v, want committed (2, 3)", got)
	}
	if p := out.At(0, 0); p[0] != 2 || p[1] != 3 {
		t.Fatalf("point 0 %v", p)
	}
	if p := out.At(0, 1); p[0] != 3 || p[1] != 4 {
		t.Fatalf("point 1 %v", p)
	}
	if got := buf.At(0, 4); got[0] != 3 || got[1] != 4 {
		t.Fatalf("slot 4 holds %v", got)
	}
}

func TestReferenceOverrideChangesNextStep(t *testing.T) {
	t.Parallel()
	c, bb := echoController(t, 4)
	ref := func(step, row int) ([3]float32, bool) {
		return [3]float32{10, 20, 0.5}, step == 0
	}
	out, err := c.Fill(context.Background(), contextBuffer(6, 4), Plan{Indices: []int{4, 9}, Start: 3}, ref)
	if err != nil {
		t.Fatal(err)
	}
	if p := out.At(0, 0); p[0] != 10 || p[1] != 20 {
		t.Fatalf("override not applied: %v", p)
	}
	if got := bb.prefixs[1].At(0, 3); got[0] != 10 || got[1] != 20 {
		t.Fatalf("step 1 did not observe the override: %v", got)
	}
	if p := out.At(0, 1); p[0] != 11 || p[1] != 21 {
		t.Fatalf("point 1 %v, want (11, 21)", p)
	}
}

func TestEmptyPlanLeavesBufferUntouched(t *testing.T) {
	t.Parallel()
	c, bb := echoController(t, 4)
	buf := contextBuffer(6, 4)
	tensor.FillUniform(buf.Data, 3, 1)
	before := buf.Clone()
	if _, err := c.Fill(context.Background(), buf, Plan{Start: 3}, nil); !errors.Is(err, ErrEmptyKeyPointSet) {
		t.Fatalf("expected empty key point set, got %v", err)
	}
	if !buf.Equal(before) || len(bb.prefixs) != 0 {
		t.Fatal("empty plan modified the buffer")
	}
}

func TestBeginSeedsEverySlot(t *testing.T) {
	t.Parallel()
	c, bb := echoController(t, 4)
	buf := tensor.NewSeq(2, 7, 4)
	tensor.FillUniform(buf.Data, 5, 1)
	before := buf.Clone()
	plan := Plan{Indices: []int{1, 4, 6}, Start: 3}
	f, err := c.Begin(buf, plan, nil)
	if err != nil {
		t.Fatal(err)
	}
	for row := 0; row < buf.B; row++ {
		for _, slot := range plan.Slots() {
			for _, v := range buf.At(row, slot) {
				if v != 0 {
					t.Fatalf("row %d slot %d not seeded with the zero point", row, slot)
				}
			}
		}
		for i := 0; i < plan.Start; i++ {
			if got, want := buf.At(row, i)[0], before.At(row, i)[0]; got != want {
				t.Fatalf("context slot %d changed", i)
			}
		}
	}
	if f.Next() != 0 || len(bb.prefixs) != 0 {
		t.Fatalf("begin ran the backbone or advanced to %d", f.Next())
	}
}

func TestFillRejectsShortBuffer(t *testing.T) {
	t.Parallel()
	c, _ := echoController(t, 4)
	if _, err := c.Fill(context.Background(), tensor.NewSeq(1, 4, 4), Plan{Indices: []int{1, 2}, Start: 3}, nil); !errors.Is(err, ErrInvalidSlots) {
		t.Fatalf("expected invalid slots, got %v", err)
	}
}

func TestFillDecoderWidthMismatch(t *testing.T) {
	t.Parallel()
	bb := &echoBackbone{d: 4}
	c, err := NewController(bb, stepDecoder{width: 2, got: 3}, planarEmbedder{d: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Fill(context.Background(), contextBuffer(6, 4), Plan{Indices: []int{0}, Start: 3}, nil)
	var se *DecoderShapeError
	if !errors.As(err, &se) || se.Slot != 3 || se.Want != 2 || se.Got != 3 {
		t.Fatalf("expected decoder shape error at slot 3, got %v", err)
	}
	if !errors.Is(err, ErrDecoderShape) {
		t.Fatal("decoder shape error must unwrap to ErrDecoderShape")
	}
}

func TestFillStateMachine(t *testing.T) {
	t.Parallel()
	c, _ := echoController(t, 4)
	f, err := c.Begin(contextBuffer(6, 4), Plan{Indices: []int{0, 1}, Start: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.State() != Idle {
		t.Fatalf("state %s", f.State())
	}
	if _, err := f.Result(); !errors.Is(err, ErrFillState) {
		t.Fatalf("result before done: %v", err)
	}
	ctx := context.Background()
	if err := f.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if f.State() != Filling || f.Next() != 1 {
		t.Fatalf("after one step: %s next %d", f.State(), f.Next())
	}
	if err := f.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if f.State() != Done {
		t.Fatalf("state %s", f.State())
	}
	if err := f.Step(ctx); !errors.Is(err, ErrFillState) {
		t.Fatalf("step after done: %v", err)
	}
	if _, err := f.Result(); err != nil {
		t.Fatal(err)
	}
}

// pickDecoder prefers a different candidate per row.
type pickDecoder struct{}

func (pickDecoder) Width() int               { return 2 }
func (pickDecoder) Kind() string             { return "pick" }
func (pickDecoder) Params(string) []nn.Param { return nil }
func (pickDecoder) Generate(_ context.Context, h *tensor.Seq) (*Candidates, error) {
	c := newCandidates(h.B, 3, 2, true)
	for b := 0; b < h.B; b++ {
		for k := 0; k < 3; k++ {
			c.Point(b, k)[0] = float32(k)
		}
		c.Scores[b*3+(b%3)] = 1
	}
	return c, nil
}

func TestFillPicksBestPerRow(t *testing.T) {
	t.Parallel()
	c, err := NewController(&echoBackbone{d: 4}, pickDecoder{}, planarEmbedder{d: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Fill(context.Background(), tensor.NewSeq(3, 4, 4), Plan{Indices: []int{0}, Start: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for row := 0; row < 3; row++ {
		if got := out.At(row, 0)[0]; got != float32(row) {
			t.Fatalf("row %d picked candidate %v", row, got)
		}
	}
}

func gptController(t *testing.T, d, width int) *Controller {
	t.Helper()
	g, err := backbone.NewGPT(backbone.GPTConfig{Layers: 2, Dim: d, Inner: 2 * d, Heads: 2, Positions: 128, Activation: "gelu_new", Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewController(g, NewMLP(d, 2*d, width, 1, 7), encoder.NewKeyPointEncoder(d, 11), nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFillBatchIndependence(t *testing.T) {
	t.Parallel()
	const d = 8
	c := gptController(t, d, 4)
	ctx := context.Background()
	plan := Plan{Indices: []int{1, 3, 5}, Start: 6}

	batch := tensor.NewSeq(2, 12, d)
	tensor.FillUniform(batch.Data, 21, 1)
	rows := []*tensor.Seq{batch.Row(0), batch.Row(1)}

	got, err := c.Fill(ctx, batch, plan, nil)
	if err != nil {
		t.Fatal(err)
	}
	for r, single := range rows {
		alone, err := c.Fill(ctx, single, plan, nil)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < plan.Len(); i++ {
			a, b := got.At(r, i), alone.At(0, i)
			for j := range a {
				if math.Abs(float64(a[j]-b[j])) > 1e-5 {
					t.Fatalf("row %d point %d: batched %v alone %v", r, i, a, b)
				}
			}
			if a[2] != 0 {
				t.Fatalf("padding channel %v", a)
			}
		}
	}
}

func TestFillExplicitIndicesShape(t *testing.T) {
	t.Parallel()
	const d = 8
	c := gptController(t, d, 2)
	plan, err := NewPlan(Explicit{List: []int{19, 39, 59, 79}}, 80, 16)
	if err != nil {
		t.Fatal(err)
	}
	buf := tensor.NewSeq(2, 16+4+80, d)
	tensor.FillUniform(buf.Data[:16*d], 2, 1)
	tensor.FillUniform(buf.Data[buf.Stride:buf.Stride+16*d], 3, 1)

	var steps []Step
	c.OnStep = func(s Step) { steps = append(steps, s) }
	out, err := c.Fill(context.Background(), buf, plan, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.B != 2 || out.K != 4 || out.Width != 2 || len(out.Points) != 2*4*2 {
		t.Fatalf("key points shape (%d, %d, %d)", out.B, out.K, out.Width)
	}
	if len(steps) != 4 || steps[3].Slot != 19 || steps[3].Hidden.D != d {
		t.Fatalf("observer saw %d steps", len(steps))
	}
}
