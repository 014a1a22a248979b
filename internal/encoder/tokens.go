package encoder

import (
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// ActionEncoder embeds context actions (x, y, heading, speed...) one token
// per timestep.
type ActionEncoder struct {
	Width int
	Embed *nn.Embed
}

func NewActionEncoder(width, d int, seed int64) *ActionEncoder {
	return &ActionEncoder{Width: width, Embed: nn.NewEmbed(width, d, seed)}
}

// EncodeActions maps a (B, T, width) stream to a (B, T, 1, d) block.
func (a *ActionEncoder) EncodeActions(actions *tensor.Stream) (*tensor.Block, error) {
	if actions == nil {
		return nil, streamErr("context_actions", "present", 1, 0)
	}
	if len(actions.Shape) != 1 || actions.Shape[0] != a.Width {
		return nil, streamErr(actions.Name, "width", a.Width, actions.FrameSize())
	}
	out := tensor.NewBlock("action", actions.B, actions.T, 1, a.Embed.Out())
	for b := 0; b < actions.B; b++ {
		for t := 0; t < actions.T; t++ {
			a.Embed.Forward(out.At(b, t, 0), actions.Frame(b, t))
		}
	}
	return out, nil
}

func (a *ActionEncoder) Params(prefix string) []nn.Param {
	return a.Embed.Params(prefix)
}

// KeyPointEncoder embeds the planar position of a key point. Wider points
// (x, y, 0, yaw) are accepted; only x and y are read.
type KeyPointEncoder struct {
	Embed *nn.Embed
}

func NewKeyPointEncoder(d int, seed int64) *KeyPointEncoder {
	return &KeyPointEncoder{Embed: nn.NewEmbed(2, d, seed)}
}

func (k *KeyPointEncoder) Dim() int { return k.Embed.Out() }

// EncodePoint writes the embedding of point into dst.
func (k *KeyPointEncoder) EncodePoint(dst, point []float32) {
	k.Embed.Forward(dst, point[:2])
}

// EncodePoints maps (B, K, width) points to a (B, K, 1, d) block.
func (k *KeyPointEncoder) EncodePoints(points []float32, b, n, width int) (*tensor.Block, error) {
	if width < 2 {
		return nil, streamErr("key_points", "width", 2, width)
	}
	if len(points) != b*n*width {
		return nil, streamErr("key_points", "elements", b*n*width, len(points))
	}
	out := tensor.NewBlock("key_points", b, n, 1, k.Dim())
	for row := 0; row < b; row++ {
		for i := 0; i < n; i++ {
			off := (row*n + i) * width
			k.EncodePoint(out.At(row, i, 0), points[off:off+width])
		}
	}
	return out, nil
}

func (k *KeyPointEncoder) Params(prefix string) []nn.Param {
	return k.Embed.Params(prefix)
}

// ProposalEncoder embeds the candidate trajectory bank and the class token
// of the selected candidate.
type ProposalEncoder struct {
	Candidates int
	Points     int
	Embed      *nn.Embed
	Class      *nn.Embed
}

func NewProposalEncoder(candidates, points, d int, seed int64) *ProposalEncoder {
	return &ProposalEncoder{
		Candidates: candidates,
		Points:     points,
		Embed:      nn.NewEmbed(points*3, d, seed),
		Class:      nn.NewEmbed(candidates, d, seed+2),
	}
}

// EncodeCandidates embeds each of the n candidates (points x 3 values each,
// already truncated) once and repeats the block for every batch row.
func (p *ProposalEncoder) EncodeCandidates(trajs []float32, n, batch int) (*tensor.Block, error) {
	if n != p.Candidates {
		return nil, streamErr("proposal", "candidates", p.Candidates, n)
	}
	width := p.Points * 3
	if len(trajs) != n*width {
		return nil, streamErr("proposal", "elements", n*width, len(trajs))
	}
	d := p.Embed.Out()
	out := tensor.NewBlock("proposal", batch, n, 1, d)
	if batch == 0 {
		return out, nil
	}
	for c := 0; c < n; c++ {
		p.Embed.Forward(out.At(0, c, 0), trajs[c*width:(c+1)*width])
	}
	for b := 1; b < batch; b++ {
		copy(out.Data[b*n*d:(b+1)*n*d], out.Data[:n*d])
	}
	return out, nil
}

// EncodeClass embeds the one-hot of each row's selected candidate.
func (p *ProposalEncoder) EncodeClass(selected []int) (*tensor.Block, error) {
	out := tensor.NewBlock("proposal_class", len(selected), 1, 1, p.Class.Out())
	onehot := make([]float32, p.Candidates)
	for b, idx := range selected {
		if idx < 0 || idx >= p.Candidates {
			return nil, streamErr("proposal_class", "index", p.Candidates-1, idx)
		}
		clear(onehot)
		onehot[idx] = 1
		p.Class.Forward(out.At(b, 0, 0), onehot)
	}
	return out, nil
}

func (p *ProposalEncoder) Params(prefix string) []nn.Param {
	ps := p.Embed.Params(prefix + ".proposal_m_embed")
	return append(ps, p.Class.Params(prefix+".proposal_score_embed")...)
}

// CameraProjector maps pre-extracted camera patch features into the model
// width. Input is (B, cameras, patches, feature_dim).
type CameraProjector struct {
	FeatureDim int
	Proj       *nn.Projector
}

func NewCameraProjector(featureDim, d int, seed int64) *CameraProjector {
	return &CameraProjector{FeatureDim: featureDim, Proj: nn.NewProjector(featureDim, d, seed)}
}

// EncodeCameras returns a (B, cameras, patches, d) block.
func (c *CameraProjector) EncodeCameras(features *tensor.Stream) (*tensor.Block, error) {
	if features == nil {
		return nil, streamErr("camera", "present", 1, 0)
	}
	if len(features.Shape) != 2 {
		return nil, streamErr(features.Name, "rank", 2, len(features.Shape))
	}
	if features.Shape[1] != c.FeatureDim {
		return nil, streamErr(features.Name, "feature_dim", c.FeatureDim, features.Shape[1])
	}
	patches := features.Shape[0]
	out := tensor.NewBlock("camera", features.B, features.T, patches, c.Proj.Linear2.Out())
	for b := 0; b < features.B; b++ {
		for cam := 0; cam < features.T; cam++ {
			frame := features.Frame(b, cam)
			for p := 0; p < patches; p++ {
				c.Proj.Forward(out.At(b, cam, p), frame[p*c.FeatureDim:(p+1)*c.FeatureDim])
			}
		}
	}
	return out, nil
}

func (c *CameraProjector) Params(prefix string) []nn.Param {
	return c.Proj.Params(prefix)
}
