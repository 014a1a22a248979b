package planner

import (
	"fmt"

	"github.com/samcharles93/waypoint/internal/geom"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// LabelWidth is the width of a trajectory label point: x, y, z, yaw.
const LabelWidth = 4

// Batch is one planning call.
type Batch struct {
	// High and Low are (B, T, C, H, W) raster frames.
	High *tensor.Stream
	Low  *tensor.Stream
	// Actions is (B, T, action_width).
	Actions *tensor.Stream
	// Cameras is (B, cameras, patches, feature_dim), only when a camera
	// encoder is configured.
	Cameras *tensor.Stream
	// Label is (B, PredLength, LabelWidth). Required for Forward.
	Label      []float32
	PredLength int
	// References optionally pins key points to a global reference
	// trajectory, one entry per row (nil entries are skipped).
	References []*Reference
}

// Reference is a global-frame trajectory indexed by future step, together
// with the ego pose it is relative to.
type Reference struct {
	Ego        geom.Pose   `json:"ego_pose"`
	Trajectory []geom.Pose `json:"trajectory"`
}

func (b *Batch) rows() int {
	if b.Actions == nil {
		return 0
	}
	return b.Actions.B
}

func (b *Batch) check(predLength int) error {
	if b.High == nil || b.Low == nil || b.Actions == nil {
		return fmt.Errorf("%w: rasters and context actions are required", ErrBadBatch)
	}
	if b.Label != nil && len(b.Label) != b.rows()*predLength*LabelWidth {
		return fmt.Errorf("%w: label has %d values, want %d", ErrBadBatch, len(b.Label), b.rows()*predLength*LabelWidth)
	}
	if b.References != nil && len(b.References) != b.rows() {
		return fmt.Errorf("%w: %d references for %d rows", ErrBadBatch, len(b.References), b.rows())
	}
	return nil
}
