// Package scenario reads planning requests from JSON and stacks them into
// planner batches.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/planner"
	"github.com/samcharles93/waypoint/internal/tensor"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Array is a dense row-major tensor.
type Array struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func (a *Array) check(field string, rank int) error {
	if a == nil {
		return fmt.Errorf("%w: %s missing", ErrInvalidScenario, field)
	}
	if len(a.Shape) != rank {
		return fmt.Errorf("%w: %s rank %d, want %d", ErrInvalidScenario, field, len(a.Shape), rank)
	}
	n := 1
	for _, d := range a.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: %s shape %v", ErrInvalidScenario, field, a.Shape)
		}
		n *= d
	}
	if n != len(a.Data) {
		return fmt.Errorf("%w: %s shape %v holds %d values, got %d", ErrInvalidScenario, field, a.Shape, n, len(a.Data))
	}
	return nil
}

// Scenario is one ego sample.
type Scenario struct {
	ID string `json:"id,omitempty"`
	// HighRes and LowRes are (T, C, H, W).
	HighRes *Array `json:"high_res_raster"`
	LowRes  *Array `json:"low_res_raster"`
	// ContextActions is (T, action_width).
	ContextActions [][]float32 `json:"context_actions"`
	// CameraFeatures is (cameras, patches, feature_dim).
	CameraFeatures *Array `json:"camera_features,omitempty"`
	// TrajectoryLabel is (pred_length, 4) when known.
	TrajectoryLabel [][]float32        `json:"trajectory_label,omitempty"`
	PredLength      int                `json:"pred_length,omitempty"`
	Reference       *planner.Reference `json:"idm_reference,omitempty"`
}

// Decode reads one scenario.
func Decode(r io.Reader) (*Scenario, error) {
	var s Scenario
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return &s, nil
}

func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.ID == "" {
		s.ID = path
	}
	return s, nil
}

func (s *Scenario) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Batch stacks scenarios that share every shape into one planner batch.
// predLength applies to scenarios that do not set their own.
func Batch(list []*Scenario, predLength int) (*planner.Batch, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no scenarios", ErrInvalidScenario)
	}
	first := list[0]
	if first.PredLength > 0 {
		predLength = first.PredLength
	}
	for i, s := range list {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		pl := s.PredLength
		if pl == 0 {
			pl = predLength
		}
		if pl != predLength {
			return nil, fmt.Errorf("%w: scenario %d pred_length %d, batch %d", ErrInvalidScenario, i, pl, predLength)
		}
		if !slices.Equal(s.HighRes.Shape, first.HighRes.Shape) || !slices.Equal(s.LowRes.Shape, first.LowRes.Shape) {
			return nil, fmt.Errorf("%w: scenario %d raster shape differs from scenario 0", ErrInvalidScenario, i)
		}
		if len(s.ContextActions) != len(first.ContextActions) || len(s.ContextActions[0]) != len(first.ContextActions[0]) {
			return nil, fmt.Errorf("%w: scenario %d context actions differ from scenario 0", ErrInvalidScenario, i)
		}
		if (s.CameraFeatures == nil) != (first.CameraFeatures == nil) ||
			(s.CameraFeatures != nil && !slices.Equal(s.CameraFeatures.Shape, first.CameraFeatures.Shape)) {
			return nil, fmt.Errorf("%w: scenario %d camera features differ from scenario 0", ErrInvalidScenario, i)
		}
		if (s.TrajectoryLabel == nil) != (first.TrajectoryLabel == nil) {
			return nil, fmt.Errorf("%w: scenario %d label presence differs from scenario 0", ErrInvalidScenario, i)
		}
		if s.TrajectoryLabel != nil && len(s.TrajectoryLabel) != predLength {
			return nil, fmt.Errorf("%w: scenario %d label has %d steps, want %d", ErrInvalidScenario, i, len(s.TrajectoryLabel), predLength)
		}
	}

	rows := len(list)
	steps := first.HighRes.Shape[0]
	b := &planner.Batch{
		High:       stack("high_res_raster", list, func(s *Scenario) *Array { return s.HighRes }),
		Low:        stack("low_res_raster", list, func(s *Scenario) *Array { return s.LowRes }),
		PredLength: predLength,
	}
	width := len(first.ContextActions[0])
	b.Actions = tensor.NewStream("context_actions", rows, steps, width)
	for r, s := range list {
		for t, a := range s.ContextActions {
			copy(b.Actions.Frame(r, t), a)
		}
	}
	if first.CameraFeatures != nil {
		b.Cameras = stack("camera_features", list, func(s *Scenario) *Array { return s.CameraFeatures })
	}
	if first.TrajectoryLabel != nil {
		b.Label = make([]float32, 0, rows*predLength*planner.LabelWidth)
		for _, s := range list {
			for _, p := range s.TrajectoryLabel {
				var pt [planner.LabelWidth]float32
				copy(pt[:], p)
				b.Label = append(b.Label, pt[:]...)
			}
		}
	}
	for r, s := range list {
		if s.Reference == nil {
			continue
		}
		if b.References == nil {
			b.References = make([]*planner.Reference, rows)
		}
		b.References[r] = s.Reference
	}
	return b, nil
}

func (s *Scenario) validate() error {
	if err := s.HighRes.check("high_res_raster", 4); err != nil {
		return err
	}
	if err := s.LowRes.check("low_res_raster", 4); err != nil {
		return err
	}
	steps := s.HighRes.Shape[0]
	if s.LowRes.Shape[0] != steps || len(s.ContextActions) != steps {
		return fmt.Errorf("%w: %d raster frames, %d low resolution frames, %d actions", ErrInvalidScenario, steps, s.LowRes.Shape[0], len(s.ContextActions))
	}
	for t, a := range s.ContextActions {
		if len(a) != len(s.ContextActions[0]) || len(a) == 0 {
			return fmt.Errorf("%w: context action %d has width %d", ErrInvalidScenario, t, len(a))
		}
	}
	if s.CameraFeatures != nil {
		if err := s.CameraFeatures.check("camera_features", 3); err != nil {
			return err
		}
	}
	for t, p := range s.TrajectoryLabel {
		if len(p) < 2 || len(p) > planner.LabelWidth {
			return fmt.Errorf("%w: label point %d has width %d", ErrInvalidScenario, t, len(p))
		}
	}
	return nil
}

// stack builds a (B, T, rest...) stream from per-scenario (T, rest...)
// arrays of equal shape.
func stack(name string, list []*Scenario, get func(*Scenario) *Array) *tensor.Stream {
	shape := get(list[0]).Shape
	out := tensor.NewStream(name, len(list), shape[0], shape[1:]...)
	n := len(get(list[0]).Data)
	for r, s := range list {
		copy(out.Data[r*n:(r+1)*n], get(s).Data)
	}
	return out
}

// Synthetic returns a random scenario shaped for cfg, with a straight
// labelled future. It backs the CLI demo mode and tests.
func Synthetic(cfg config.Config, steps, size int, seed int64) *Scenario {
	c := cfg.RasterChannels
	s := &Scenario{
		ID:         fmt.Sprintf("synthetic-%d", seed),
		HighRes:    &Array{Shape: []int{steps, c, size, size}, Data: make([]float32, steps*c*size*size)},
		LowRes:     &Array{Shape: []int{steps, c, size, size}, Data: make([]float32, steps*c*size*size)},
		PredLength: cfg.PredLength,
	}
	tensor.FillUniform(s.HighRes.Data, seed, 1)
	tensor.FillUniform(s.LowRes.Data, seed+1, 1)
	width := cfg.ActionWidth()
	for t := 0; t < steps; t++ {
		a := make([]float32, width)
		a[0] = float32(t-steps+1) * 0.5
		s.ContextActions = append(s.ContextActions, a)
	}
	if cfg.CameraImageEncoder != "" {
		const patches = 4
		s.CameraFeatures = &Array{
			Shape: []int{cfg.CameraCount, patches, cfg.CameraFeatureDim},
			Data:  make([]float32, cfg.CameraCount*patches*cfg.CameraFeatureDim),
		}
		tensor.FillUniform(s.CameraFeatures.Data, seed+2, 1)
	}
	for t := 0; t < cfg.PredLength; t++ {
		s.TrajectoryLabel = append(s.TrajectoryLabel, []float32{float32(t+1) * 0.5, 0, 0, 0})
	}
	return s
}
