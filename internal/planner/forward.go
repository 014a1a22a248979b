package planner

import (
	"context"
	"slices"

	"github.com/samcharles93/waypoint/internal/backbone"
	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/diag"
	"github.com/samcharles93/waypoint/internal/encoder"
	"github.com/samcharles93/waypoint/internal/geom"
	"github.com/samcharles93/waypoint/internal/keypoint"
	"github.com/samcharles93/waypoint/internal/layout"
	"github.com/samcharles93/waypoint/internal/proposal"
	"github.com/samcharles93/waypoint/internal/tensor"
	"github.com/samcharles93/waypoint/internal/trajectory"
)

// Output is (B, Steps, Width) points: KeyPoints key points followed by the
// dense trajectory, per row.
type Output struct {
	B, Steps, Width int
	KeyPoints       int
	Points          []float32

	Loss           float32
	TrajectoryLoss float32
	KeyPointLoss   float32

	Info Info
}

func (o *Output) At(b, t int) []float32 {
	off := (b*o.Steps + t) * o.Width
	return o.Points[off : off+o.Width]
}

// assemble runs the encoder, proposal and key-point stages in order and
// lays out the sequence. Proposals and augmentation only apply to
// teacher-forced passes.
func (m *Model) assemble(b *Batch, forced bool) (*tensor.Seq, Info, error) {
	cfg := m.cfg
	predLength := b.PredLength
	if predLength == 0 {
		predLength = cfg.PredLength
	}
	if err := b.check(predLength); err != nil {
		return nil, Info{}, err
	}
	rows := b.rows()
	augment := forced && m.train

	actions := b.Actions
	if augment && (cfg.XRandomWalk != 0 || cfg.YRandomWalk != 0) {
		actions = cloneStream(actions)
		encoder.LinearRandomWalk(actions.Data, actions.B, actions.T, actions.FrameSize(), cfg.XRandomWalk, cfg.YRandomWalk, cfg.Seed)
	}
	state, err := m.Encoders.State.EncodeState(b.High, b.Low)
	if err != nil {
		return nil, Info{}, err
	}
	action, err := m.Encoders.Action.EncodeActions(actions)
	if err != nil {
		return nil, Info{}, err
	}
	recipe := m.Encoders.State.Recipe(b.High.T, b.High.Shape[1], b.High.Shape[2])
	in := layout.Inputs{State: state, Action: action, PredLength: predLength}
	if m.Encoders.Camera != nil {
		if in.Camera, err = m.Encoders.Camera.EncodeCameras(b.Cameras); err != nil {
			return nil, Info{}, err
		}
	}
	ctxLen := recipe.Length()
	if in.Camera != nil {
		ctxLen += in.Camera.Tokens()
	}
	enc := EncoderInfo{Label: b.Label, PredLength: predLength, ContextLength: ctxLen, Recipe: recipe}

	var sel *proposal.Selection
	if forced && m.Proposals != nil {
		res, err := m.Proposals.Embed(b.Label, rows, predLength, LabelWidth)
		if err != nil {
			return nil, Info{}, err
		}
		in.Proposals, in.ProposalClass = res.Candidates, res.Class
		sel = &res.Selection
	}
	prop := enc.withProposals(sel)

	var (
		indices []int
		targets []float32
	)
	if m.KeyPoints != nil {
		if indices, err = m.policy.Indices(predLength); err != nil {
			return nil, Info{}, err
		}
		k := len(indices)
		points := make([]float32, rows*k*LabelWidth)
		if b.Label != nil && forced {
			points = keypoint.Plan{Indices: indices}.Gather(b.Label, rows, predLength, LabelWidth)
			targets = narrow(points, LabelWidth, cfg.PointWidth())
			if augment && (cfg.ARFXRandomWalk != 0 || cfg.ARFYRandomWalk != 0) {
				points = slices.Clone(points)
				encoder.LinearRandomWalk(points, rows, k, LabelWidth, cfg.ARFXRandomWalk, cfg.ARFYRandomWalk, cfg.Seed+1)
			}
		}
		if in.KeyPoints, err = m.Encoders.KeyPoint.EncodePoints(points, rows, k, LabelWidth); err != nil {
			return nil, Info{}, err
		}
	}

	seq, lay, err := layout.Build(in, recipe)
	if err != nil {
		return nil, Info{}, err
	}
	var plan keypoint.Plan
	if m.KeyPoints != nil {
		plan = keypoint.Plan{Indices: indices, Start: lay.KeyPointStart}
	}
	return seq, Info{KeyPointInfo: prop.withKeyPoints(plan, targets), Layout: lay}, nil
}

// Forward runs one teacher-forced pass: the key-point slots hold the
// label's key points and every prediction comes from a single backbone call.
func (m *Model) Forward(ctx context.Context, b *Batch) (*Output, error) {
	if b.Label == nil {
		return nil, ErrMissingLabel
	}
	seq, info, err := m.assemble(b, true)
	if err != nil {
		return nil, err
	}
	hidden, err := m.Backbone.Forward(ctx, backbone.Inputs{Embeds: seq})
	if err != nil {
		return nil, err
	}
	width := m.cfg.PointWidth()
	traj, err := m.Trajectory.Compute(ctx, hidden, narrow(b.Label, LabelWidth, width), info.PredLength)
	if err != nil {
		return nil, err
	}
	out := &Output{TrajectoryLoss: traj.Loss, Info: info}

	var kp []float32
	if m.KeyPoints != nil {
		forced, err := keypoint.TeacherForced(ctx, m.KeyPoints, hidden, info.Plan, info.Targets)
		if err != nil {
			return nil, err
		}
		kp, out.KeyPointLoss = forced.Logits, forced.Loss
		if m.diag != nil {
			if err := m.dump(forced, info); err != nil {
				return nil, err
			}
		}
	}
	m.join(out, traj, kp, info.Plan.Len())
	out.Loss = out.TrajectoryLoss + out.KeyPointLoss
	m.log.Debug("forward", "rows", out.B, "length", seq.L, "loss", out.Loss)
	return out, nil
}

// Generate fills the key points one slot at a time, then decodes the
// trajectory from a final pass over the completed sequence.
func (m *Model) Generate(ctx context.Context, b *Batch) (*Output, error) {
	seq, info, err := m.assemble(b, false)
	if err != nil {
		return nil, err
	}
	var kp []float32
	if m.KeyPoints != nil {
		ctrl, err := keypoint.NewController(m.Backbone, m.KeyPoints, m.Encoders.KeyPoint, m.log)
		if err != nil {
			return nil, err
		}
		var ref keypoint.Reference
		if m.cfg.UseKeyPoints == config.KeyPointsSpecifiedBackward && b.References != nil {
			ref = referenceFor(b.References, info.Plan)
		}
		res, err := ctrl.Fill(ctx, seq, info.Plan, ref)
		if err != nil {
			return nil, err
		}
		kp = res.Points
	}
	hidden, err := m.Backbone.Forward(ctx, backbone.Inputs{Embeds: seq})
	if err != nil {
		return nil, err
	}
	traj, err := m.Trajectory.Compute(ctx, hidden, nil, info.PredLength)
	if err != nil {
		return nil, err
	}
	if m.cfg.PredictYaw {
		if err := trajectory.PostprocessYaw(traj, m.cfg.PostprocessYaw); err != nil {
			return nil, err
		}
	}
	out := &Output{Info: info}
	m.join(out, traj, kp, info.Plan.Len())
	m.log.Debug("generate", "rows", out.B, "length", seq.L, "key_points", out.KeyPoints)
	return out, nil
}

// join concatenates (B, k, w) key points and the trajectory per row.
func (m *Model) join(out *Output, traj *trajectory.Result, kp []float32, k int) {
	w := traj.Width
	out.B, out.Width, out.KeyPoints = traj.B, w, k
	out.Steps = k + traj.Steps
	out.Points = make([]float32, 0, out.B*out.Steps*w)
	for row := 0; row < traj.B; row++ {
		out.Points = append(out.Points, kp[row*k*w:(row+1)*k*w]...)
		out.Points = append(out.Points, traj.Points[row*traj.Steps*w:(row+1)*traj.Steps*w]...)
	}
}

func (m *Model) dump(f *keypoint.Forced, info Info) error {
	w := m.cfg.PointWidth()
	k := info.Plan.Len()
	var recs []diag.Record
	for row := 0; row < f.Hidden[0].B; row++ {
		for i, h := range f.Hidden {
			off := (row*k + i) * w
			recs = append(recs, diag.Record{
				Row:      row,
				KeyPoint: i,
				Slot:     info.Plan.Slot(i),
				Hidden:   slices.Clone(h.At(row, 0)),
				Target:   slices.Clone(info.Targets[off : off+w]),
			})
		}
	}
	return m.diag.WriteBatch(recs)
}

// referenceFor converts each row's global reference into ego-frame
// overrides for the planned key points.
func referenceFor(refs []*Reference, plan keypoint.Plan) keypoint.Reference {
	return func(step, row int) ([3]float32, bool) {
		if row >= len(refs) || refs[row] == nil || step >= plan.Len() {
			return [3]float32{}, false
		}
		r := refs[row]
		idx := plan.Indices[step]
		if idx >= len(r.Trajectory) {
			return [3]float32{}, false
		}
		p := geom.PoseToEgo(r.Trajectory[idx], r.Ego)
		return [3]float32{float32(p.X), float32(p.Y), float32(p.Yaw)}, true
	}
}

// narrow keeps the first to of every from-wide point.
func narrow(src []float32, from, to int) []float32 {
	if from == to {
		return src
	}
	n := len(src) / from
	out := make([]float32, 0, n*to)
	for i := 0; i < n; i++ {
		out = append(out, src[i*from:i*from+to]...)
	}
	return out
}

func cloneStream(s *tensor.Stream) *tensor.Stream {
	out := *s
	out.Shape = slices.Clone(s.Shape)
	out.Data = slices.Clone(s.Data)
	return &out
}

