package api

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/layout"
	"github.com/samcharles93/waypoint/internal/planner"
	"github.com/samcharles93/waypoint/internal/scenario"
)

// Planner is the part of planner.Model the service drives.
type Planner interface {
	Generate(ctx context.Context, b *planner.Batch) (*planner.Output, error)
	Layout(steps, h, w, patches int) (*layout.Layout, error)
	Config() config.Config
}

type PlanService struct {
	planner Planner
	clock   func() time.Time
}

func NewPlanService(p Planner) *PlanService {
	return &PlanService{planner: p, clock: time.Now}
}

// CreatePlan stacks the request's scenarios and generates one plan row per
// scenario.
func (s *PlanService) CreatePlan(ctx context.Context, req *PlanRequest) (*Plan, error) {
	list := req.Scenarios
	if req.Scenario != nil {
		if len(list) > 0 {
			return nil, newInvalidRequest("scenario and scenarios are mutually exclusive")
		}
		list = []*scenario.Scenario{req.Scenario}
	}
	if len(list) == 0 {
		return nil, newInvalidRequest("scenario or scenarios is required")
	}
	for i, sc := range list {
		if sc == nil {
			return nil, newInvalidRequest(fmt.Sprintf("scenarios[%d] is null", i))
		}
	}
	if req.PredLength < 0 {
		return nil, newInvalidRequest("pred_length must not be negative")
	}

	cfg := s.planner.Config()
	predLength := req.PredLength
	if predLength == 0 {
		predLength = cfg.PredLength
	}
	batch, err := scenario.Batch(list, predLength)
	if err != nil {
		return nil, err
	}
	out, err := s.planner.Generate(ctx, batch)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:              newPlanID(),
		Object:          "plan",
		CreatedAt:       s.clock().Unix(),
		Model:           cfg.ModelName,
		PredLength:      out.Steps - out.KeyPoints,
		KeyPointIndices: out.Info.SelectedIndices(),
		Rows:            make([]PlanRow, out.B),
	}
	for r := range plan.Rows {
		row := PlanRow{
			Scenario:   list[r].ID,
			KeyPoints:  make([][]float32, 0, out.KeyPoints),
			Trajectory: make([][]float32, 0, out.Steps-out.KeyPoints),
		}
		for t := 0; t < out.Steps; t++ {
			p := append([]float32(nil), out.At(r, t)...)
			if t < out.KeyPoints {
				row.KeyPoints = append(row.KeyPoints, p)
			} else {
				row.Trajectory = append(row.Trajectory, p)
			}
		}
		plan.Rows[r] = row
	}
	return plan, nil
}

// DescribeLayout returns the Generate layout for the given context shape.
func (s *PlanService) DescribeLayout(steps, h, w, patches int) (*LayoutResponse, error) {
	lay, err := s.planner.Layout(steps, h, w, patches)
	if err != nil {
		return nil, err
	}
	resp := &LayoutResponse{
		Object:        "layout",
		Segments:      make([]LayoutSegment, len(lay.Segments)),
		ContextLength: lay.ContextLength,
		ExtraTokens:   lay.ExtraTokens,
		KeyPointStart: lay.KeyPointStart,
		KeyPoints:     lay.KeyPoints,
		PredStart:     lay.PredStart,
		PredLength:    lay.PredLength,
		Total:         lay.Total,
	}
	for i, seg := range lay.Segments {
		resp.Segments[i] = LayoutSegment{
			Name:      seg.Name,
			Start:     seg.Start,
			Stride:    seg.Stride,
			SubTokens: seg.SubTokens,
			Count:     seg.Count,
		}
	}
	return resp, nil
}

func (s *PlanService) ModelName() string {
	return s.planner.Config().ModelName
}
