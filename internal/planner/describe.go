package planner

import (
	"github.com/samcharles93/waypoint/internal/layout"
)

// Layout describes the sequence Generate assembles for a context of steps
// frames of h x w rasters, with patches tokens per camera when cameras are
// configured.
func (m *Model) Layout(steps, h, w, patches int) (*layout.Layout, error) {
	ex := layout.Extras{PredLength: m.cfg.PredLength}
	if m.Encoders.Camera != nil {
		ex.Cameras, ex.CameraPatches = m.cfg.CameraCount, patches
	}
	if m.KeyPoints != nil {
		indices, err := m.policy.Indices(m.cfg.PredLength)
		if err != nil {
			return nil, err
		}
		ex.KeyPoints = len(indices)
	}
	return layout.New(m.Encoders.State.Recipe(steps, h, w), ex)
}
