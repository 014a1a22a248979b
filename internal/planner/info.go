package planner

import (
	"github.com/samcharles93/waypoint/internal/keypoint"
	"github.com/samcharles93/waypoint/internal/layout"
	"github.com/samcharles93/waypoint/internal/proposal"
)

// EncoderInfo is produced by the encoder stage.
type EncoderInfo struct {
	// Label is (B, PredLength, LabelWidth), nil when generating without one.
	Label         []float32
	PredLength    int
	ContextLength int
	Recipe        layout.Recipe
}

// ProposalInfo extends EncoderInfo with the proposal stage output. It can
// only be made from an EncoderInfo.
type ProposalInfo struct {
	EncoderInfo
	// Selection is nil when the proposal stage did not run.
	Selection *proposal.Selection
}

func (e EncoderInfo) withProposals(sel *proposal.Selection) ProposalInfo {
	return ProposalInfo{EncoderInfo: e, Selection: sel}
}

// KeyPointInfo extends ProposalInfo with the selected key points.
type KeyPointInfo struct {
	ProposalInfo
	// Plan is empty when key points are disabled.
	Plan keypoint.Plan
	// Targets is (B, K, PointWidth), set when a label was given.
	Targets []float32
}

func (p ProposalInfo) withKeyPoints(plan keypoint.Plan, targets []float32) KeyPointInfo {
	return KeyPointInfo{ProposalInfo: p, Plan: plan, Targets: targets}
}

// Info is the full per-call context.
type Info struct {
	KeyPointInfo
	Layout *layout.Layout
}

// SelectedIndices are the future steps chosen as key points.
func (i Info) SelectedIndices() []int {
	return i.Plan.Indices
}

// ProposalDistances returns the per-row distance to the selected proposal,
// or nil when the proposal stage did not run.
func (i Info) ProposalDistances() []float64 {
	if i.Selection == nil {
		return nil
	}
	return i.Selection.MinDistance()
}
