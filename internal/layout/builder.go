package layout

import (
	"github.com/samcharles93/waypoint/internal/tensor"
)

// Inputs are the encoded modalities for one forward pass. State and Action
// are required; every other block is optional and appended in fixed order.
type Inputs struct {
	State  *tensor.Block
	Action *tensor.Block

	// Camera holds one token per image patch: T cameras with S patches each.
	Camera *tensor.Block
	// Proposals holds one token per candidate trajectory (T = N, S = 1).
	Proposals *tensor.Block
	// ProposalClass is the single ground-truth class token (T = 1, S = 1).
	ProposalClass *tensor.Block
	// KeyPoints holds one token per key point (T = K, S = 1).
	KeyPoints *tensor.Block

	PredLength int
}

// Build assembles the embedding sequence for in according to r. The
// prediction placeholders are left zeroed.
func Build(in Inputs, r Recipe) (*tensor.Seq, *Layout, error) {
	if in.State == nil {
		return nil, nil, shapeErr(SegmentState, "present", 1, 0)
	}
	if in.Action == nil {
		return nil, nil, shapeErr(SegmentAction, "present", 1, 0)
	}
	if err := r.validate(); err != nil {
		return nil, nil, err
	}
	b, d := in.Action.B, in.Action.D

	if in.State.T != r.Timesteps {
		return nil, nil, shapeErr(SegmentState, "timesteps", r.Timesteps, in.State.T)
	}
	if in.Action.T != r.Timesteps {
		return nil, nil, shapeErr(SegmentAction, "timesteps", r.Timesteps, in.Action.T)
	}
	if in.State.S != r.StateTokens() {
		return nil, nil, shapeErr(SegmentState, "sub_tokens", r.StateTokens(), in.State.S)
	}
	if in.Action.S != 1 {
		return nil, nil, shapeErr(SegmentAction, "sub_tokens", 1, in.Action.S)
	}

	ex := Extras{PredLength: in.PredLength}
	blocks := []struct {
		name string
		blk  *tensor.Block
	}{
		{SegmentState, in.State},
		{SegmentCamera, in.Camera},
		{SegmentProposal, in.Proposals},
		{SegmentProposalClass, in.ProposalClass},
		{SegmentKeyPoints, in.KeyPoints},
	}
	for _, it := range blocks {
		if it.blk == nil {
			continue
		}
		if it.blk.D != d {
			return nil, nil, shapeErr(it.name, "d_embed", d, it.blk.D)
		}
		if it.blk.B != b {
			return nil, nil, shapeErr(it.name, "batch", b, it.blk.B)
		}
	}
	if in.Camera != nil {
		ex.Cameras, ex.CameraPatches = in.Camera.T, in.Camera.S
	}
	if in.Proposals != nil {
		if in.Proposals.S != 1 {
			return nil, nil, shapeErr(SegmentProposal, "sub_tokens", 1, in.Proposals.S)
		}
		ex.Proposals = in.Proposals.T
	}
	if in.ProposalClass != nil {
		if in.ProposalClass.T != 1 || in.ProposalClass.S != 1 {
			return nil, nil, shapeErr(SegmentProposalClass, "tokens", 1, in.ProposalClass.Tokens())
		}
		ex.ProposalClass = true
	}
	if in.KeyPoints != nil {
		if in.KeyPoints.S != 1 {
			return nil, nil, shapeErr(SegmentKeyPoints, "sub_tokens", 1, in.KeyPoints.S)
		}
		ex.KeyPoints = in.KeyPoints.T
	}

	l, err := New(r, ex)
	if err != nil {
		return nil, nil, err
	}

	seq := tensor.NewSeq(b, l.Total, d)
	for _, it := range []struct {
		name string
		blk  *tensor.Block
	}{
		{SegmentState, in.State},
		{SegmentAction, in.Action},
		{SegmentCamera, in.Camera},
		{SegmentProposal, in.Proposals},
		{SegmentProposalClass, in.ProposalClass},
		{SegmentKeyPoints, in.KeyPoints},
	} {
		if it.blk == nil {
			continue
		}
		if err := place(seq, l, it.name, it.blk); err != nil {
			return nil, nil, err
		}
	}
	return seq, l, nil
}

// place copies blk into the slots SlotFor assigns to name.
func place(seq *tensor.Seq, l *Layout, name string, blk *tensor.Block) error {
	for t := 0; t < blk.T; t++ {
		for s := 0; s < blk.S; s++ {
			slot, err := l.SlotFor(name, t, s)
			if err != nil {
				return err
			}
			for row := 0; row < blk.B; row++ {
				seq.Set(row, slot, blk.At(row, t, s))
			}
		}
	}
	return nil
}
