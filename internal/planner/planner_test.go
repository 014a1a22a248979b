package planner

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/diag"
	"github.com/samcharles93/waypoint/internal/geom"
	"github.com/samcharles93/waypoint/internal/layout"
	"github.com/samcharles93/waypoint/internal/proposal"
	"github.com/samcharles93/waypoint/internal/tensor"
)

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.DEmbed = 16
	cfg.DInner = 32
	cfg.NLayers = 1
	cfg.NHeads = 2
	cfg.NPositions = 256
	cfg.RasterChannels = 2
	return cfg
}

func newModel(t *testing.T, cfg config.Config, opts Options) *Model {
	t.Helper()
	m, err := New(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func stream(name string, b, steps int, seed int64, shape ...int) *tensor.Stream {
	s := tensor.NewStream(name, b, steps, shape...)
	tensor.FillUniform(s.Data, seed, 1)
	return s
}

// testBatch builds rows of random observations and a straight-line label
// x = t, y = 2t.
func testBatch(rows, steps, predLength int, withLabel bool) *Batch {
	b := &Batch{
		High:       stream("high_res_raster", rows, steps, 1, 2, 8, 8),
		Low:        stream("low_res_raster", rows, steps, 2, 2, 4, 4),
		Actions:    stream("context_actions", rows, steps, 3, 4),
		PredLength: predLength,
	}
	if withLabel {
		b.Label = make([]float32, rows*predLength*LabelWidth)
		for r := 0; r < rows; r++ {
			for t := 0; t < predLength; t++ {
				p := b.Label[(r*predLength+t)*LabelWidth:]
				p[0], p[1], p[3] = float32(t), float32(2*t), 0.1
			}
		}
	}
	return b
}

func rowOf(s *tensor.Stream, r int) *tensor.Stream {
	n := s.T * s.FrameSize()
	return &tensor.Stream{Name: s.Name, B: 1, T: s.T, Shape: s.Shape, Data: s.Data[r*n : (r+1)*n]}
}

func TestGenerateFlatScenario(t *testing.T) {
	t.Parallel()
	m := newModel(t, smallConfig(), Options{})
	out, err := m.Generate(context.Background(), testBatch(2, 8, 80, false))
	if err != nil {
		t.Fatal(err)
	}
	lay := out.Info.Layout
	if lay.ContextLength != 16 || lay.Total != 96 {
		t.Fatalf("context %d total %d, want 16 and 96", lay.ContextLength, lay.Total)
	}
	if out.B != 2 || out.Steps != 80 || out.Width != 2 || out.KeyPoints != 0 {
		t.Fatalf("output (%d, %d, %d) with %d key points", out.B, out.Steps, out.Width, out.KeyPoints)
	}
	if out.Info.ContextLength != 16 || out.Info.PredLength != 80 {
		t.Fatalf("info %+v", out.Info.EncoderInfo)
	}
}

func TestGenerateExplicitKeyPoints(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseKeyPoints = config.KeyPointsSpecified
	cfg.KeyPointIndices = []int{19, 39, 59, 79}
	m := newModel(t, cfg, Options{})
	out, err := m.Generate(context.Background(), testBatch(2, 8, 80, false))
	if err != nil {
		t.Fatal(err)
	}
	if out.KeyPoints != 4 || out.Steps != 84 || out.Width != 2 {
		t.Fatalf("output (%d, %d, %d) with %d key points", out.B, out.Steps, out.Width, out.KeyPoints)
	}
	if !slices.Equal(out.Info.SelectedIndices(), cfg.KeyPointIndices) {
		t.Fatalf("selected %v", out.Info.SelectedIndices())
	}
	if out.Info.Layout.KeyPointStart != 16 || out.Info.Plan.Start != 16 {
		t.Fatalf("key points start at %d", out.Info.Plan.Start)
	}
}

func TestGenerateBatchIndependence(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseKeyPoints = config.KeyPointsEvenInterval
	cfg.ARFutureInterval = 5
	m := newModel(t, cfg, Options{})
	ctx := context.Background()

	batch := testBatch(2, 4, 10, false)
	got, err := m.Generate(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	for r := 0; r < 2; r++ {
		single := &Batch{
			High:       rowOf(batch.High, r),
			Low:        rowOf(batch.Low, r),
			Actions:    rowOf(batch.Actions, r),
			PredLength: 10,
		}
		alone, err := m.Generate(ctx, single)
		if err != nil {
			t.Fatal(err)
		}
		for step := 0; step < got.Steps; step++ {
			a, b := got.At(r, step), alone.At(0, step)
			for j := range a {
				if math.Abs(float64(a[j]-b[j])) > 1e-5 {
					t.Fatalf("row %d step %d: batched %v alone %v", r, step, a, b)
				}
			}
		}
	}
}

func TestGenerateConcurrentCalls(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseKeyPoints = config.KeyPointsEvenInterval
	cfg.ARFutureInterval = 5
	m := newModel(t, cfg, Options{})
	want, err := m.Generate(context.Background(), testBatch(1, 4, 10, false))
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := m.Generate(context.Background(), testBatch(1, 4, 10, false))
			if err == nil && !slices.Equal(got.Points, want.Points) {
				err = errors.New("concurrent result differs")
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateReferenceOverride(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseKeyPoints = config.KeyPointsSpecifiedBackward
	cfg.KeyPointIndices = []int{4, 9}
	m := newModel(t, cfg, Options{})

	ref := &Reference{Ego: geom.Pose{X: 10, Y: 5}}
	for i := 0; i < 10; i++ {
		ref.Trajectory = append(ref.Trajectory, geom.Pose{X: 12, Y: 5 + float64(i), Yaw: 0.3})
	}
	b := testBatch(1, 4, 10, false)
	b.References = []*Reference{ref}
	out, err := m.Generate(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	for i, idx := range cfg.KeyPointIndices {
		p := out.At(0, i)
		if p[0] != 2 || p[1] != float32(idx) {
			t.Fatalf("key point %d is %v, want (2, %d)", i, p, idx)
		}
	}

	// the plain specified mode ignores references
	cfg.UseKeyPoints = config.KeyPointsSpecified
	plain := newModel(t, cfg, Options{})
	out, err = plain.Generate(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if p := out.At(0, 0); p[0] == 2 && p[1] == 4 {
		t.Fatal("reference applied outside specified_backward")
	}
}

func straightBank(t *testing.T, points int) *proposal.Bank {
	t.Helper()
	data := make([]float32, 0, 3*points*3)
	for c := 0; c < 3; c++ {
		for i := 0; i < points; i++ {
			x, y := float32(i), float32(2*i)
			switch c {
			case 0:
				x += 5
			case 2:
				y -= 3
			}
			data = append(data, x, y, 0)
		}
	}
	bank, err := proposal.NewBank(3, points, data)
	if err != nil {
		t.Fatal(err)
	}
	return bank
}

func TestForwardProposalsAndKeyPoints(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseProposal = 3
	cfg.TrajProposalPointsNum = 10
	cfg.UseKeyPoints = config.KeyPointsEvenInterval
	cfg.ARFutureInterval = 10
	m := newModel(t, cfg, Options{Bank: straightBank(t, 10)})

	out, err := m.Forward(context.Background(), testBatch(1, 4, 20, true))
	if err != nil {
		t.Fatal(err)
	}
	if out.Info.Selection == nil || out.Info.Selection.Index[0] != 1 {
		t.Fatalf("selection %+v", out.Info.Selection)
	}
	if d := out.Info.ProposalDistances(); d[0] != 0 {
		t.Fatalf("distance to the matching candidate %v", d[0])
	}
	lay := out.Info.Layout
	if lay.ExtraTokens != 3+1+2 || lay.KeyPointStart != 8+4 {
		t.Fatalf("extra %d, key points at %d", lay.ExtraTokens, lay.KeyPointStart)
	}
	if out.KeyPoints != 2 || out.Steps != 22 {
		t.Fatalf("steps %d with %d key points", out.Steps, out.KeyPoints)
	}
	if out.Loss != out.TrajectoryLoss+out.KeyPointLoss || out.TrajectoryLoss <= 0 {
		t.Fatalf("losses %v = %v + %v", out.Loss, out.TrajectoryLoss, out.KeyPointLoss)
	}
}

func TestForwardDiffusionEchoesKeyPoints(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseKeyPoints = config.KeyPointsEvenInterval
	cfg.ARFutureInterval = 10
	cfg.KPDecoderType = config.DecoderDiffusion
	cfg.PredictYaw = true
	w, err := diag.Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	m := newModel(t, cfg, Options{Diagnostics: w})

	b := testBatch(2, 4, 20, true)
	out, err := m.Forward(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 4 || out.KeyPointLoss != 0 {
		t.Fatalf("width %d key point loss %v", out.Width, out.KeyPointLoss)
	}
	if got, want := out.At(1, 1), b.Label[(20+19)*LabelWidth:(20+20)*LabelWidth]; !slices.Equal(got, want) {
		t.Fatalf("key point %v, want label %v", got, want)
	}
	if w.Records() != 2*2 {
		t.Fatalf("%d diagnostics records", w.Records())
	}
}

func TestForwardNeedsLabel(t *testing.T) {
	t.Parallel()
	m := newModel(t, smallConfig(), Options{})
	if _, err := m.Forward(context.Background(), testBatch(1, 4, 10, false)); !errors.Is(err, ErrMissingLabel) {
		t.Fatalf("expected missing label, got %v", err)
	}
}

func TestShapeMismatchSurfaces(t *testing.T) {
	t.Parallel()
	m := newModel(t, smallConfig(), Options{})
	b := testBatch(1, 4, 10, false)
	b.Actions = stream("context_actions", 1, 3, 3, 4)
	_, err := m.Generate(context.Background(), b)
	var se *layout.ShapeError
	if !errors.As(err, &se) || se.Modality != layout.SegmentAction {
		t.Fatalf("expected action shape mismatch, got %v", err)
	}
}

func TestProposalCountMismatch(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseProposal = 4
	cfg.TrajProposalPointsNum = 10
	if _, err := New(cfg, Options{Bank: straightBank(t, 10)}); !errors.Is(err, proposal.ErrProposalCountMismatch) {
		t.Fatalf("expected proposal count mismatch, got %v", err)
	}
}

func TestSaveAndLoadWeights(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseKeyPoints = config.KeyPointsEvenInterval
	cfg.ARFutureInterval = 5
	src := newModel(t, cfg, Options{})
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := src.SaveWeights(path); err != nil {
		t.Fatal(err)
	}

	cfg.Seed = 99
	fresh := newModel(t, cfg, Options{})
	cfg.WeightsPath = path
	loaded := newModel(t, cfg, Options{})

	ctx := context.Background()
	want, err := src.Generate(ctx, testBatch(1, 4, 10, false))
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Generate(ctx, testBatch(1, 4, 10, false))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.Points, want.Points) {
		t.Fatal("loaded weights do not reproduce the saved model")
	}
	other, _ := fresh.Generate(ctx, testBatch(1, 4, 10, false))
	if slices.Equal(other.Points, want.Points) {
		t.Fatal("a different seed should give different weights")
	}
}

func TestLayoutMatchesGenerate(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.UseKeyPoints = config.KeyPointsSpecified
	cfg.KeyPointIndices = []int{19, 39, 59, 79}
	m := newModel(t, cfg, Options{})
	lay, err := m.Layout(8, 8, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	out, err := m.Generate(context.Background(), testBatch(1, 8, cfg.PredLength, false))
	if err != nil {
		t.Fatal(err)
	}
	got := out.Info.Layout
	if lay.Total != got.Total || lay.KeyPointStart != got.KeyPointStart || lay.PredStart != got.PredStart {
		t.Fatalf("layout %+v, generate used %+v", lay, got)
	}
}

func TestGeneratePatchCamerasAndKeyPoints(t *testing.T) {
	t.Parallel()
	cfg := smallConfig()
	cfg.RasterEncoderType = "vit"
	cfg.VitPatchSize = 4
	cfg.CameraImageEncoder = "clip"
	cfg.CameraCount = 2
	cfg.CameraFeatureDim = 6
	cfg.UseKeyPoints = config.KeyPointsSpecified
	cfg.KeyPointIndices = []int{19, 39, 59, 79}
	m := newModel(t, cfg, Options{})

	b := &Batch{
		High:       stream("high_res_raster", 2, 3, 1, 2, 8, 8),
		Low:        stream("low_res_raster", 2, 3, 2, 2, 8, 8),
		Actions:    stream("context_actions", 2, 3, 3, 4),
		Cameras:    stream("camera_features", 2, 2, 4, 3, 6),
		PredLength: 80,
	}
	out, err := m.Generate(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	lay := out.Info.Layout
	if err := lay.Validate(); err != nil {
		t.Fatal(err)
	}
	// 3 steps of 1 action and 4 patches, then 2 cameras of 3 patches.
	if lay.ContextLength != 21 || lay.KeyPointStart != 21 || lay.PredStart != 25 || lay.Total != 105 {
		t.Fatalf("context %d key points %d pred %d total %d", lay.ContextLength, lay.KeyPointStart, lay.PredStart, lay.Total)
	}
	if out.Steps != 84 || out.KeyPoints != 4 || out.Info.Plan.Start != 21 {
		t.Fatalf("steps %d with %d key points from %d", out.Steps, out.KeyPoints, out.Info.Plan.Start)
	}
	if !slices.Equal(out.Info.SelectedIndices(), cfg.KeyPointIndices) {
		t.Fatalf("selected %v", out.Info.SelectedIndices())
	}
}
