package backbone

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// GPTConfig sizes a GPT backbone.
type GPTConfig struct {
	Layers     int
	Dim        int
	Inner      int
	Heads      int
	Positions  int
	Activation string
	Seed       int64
}

// GPT is a pre-norm decoder-only transformer with learned absolute
// positions. It consumes embeddings directly; there is no token table.
type GPT struct {
	cfg    GPTConfig
	act    func(float32) float32
	Wpe    tensor.Mat
	Blocks []*Block
	NormF  *nn.LayerNorm
}

type Block struct {
	Norm1 *nn.LayerNorm
	QKV   *nn.Linear
	Proj  *nn.Linear
	Norm2 *nn.LayerNorm
	FC    *nn.Linear
	Out   *nn.Linear
}

func NewGPT(cfg GPTConfig) (*GPT, error) {
	if cfg.Dim <= 0 || cfg.Heads <= 0 || cfg.Dim%cfg.Heads != 0 {
		return nil, fmt.Errorf("gpt: dim %d not divisible into %d heads", cfg.Dim, cfg.Heads)
	}
	if cfg.Positions <= 0 {
		return nil, fmt.Errorf("gpt: position table size %d", cfg.Positions)
	}
	if cfg.Inner == 0 {
		cfg.Inner = 4 * cfg.Dim
	}
	act, ok := tensor.Activation(cfg.Activation)
	if !ok {
		return nil, fmt.Errorf("gpt: unknown activation %q", cfg.Activation)
	}
	g := &GPT{
		cfg:   cfg,
		act:   act,
		Wpe:   tensor.NewMat(cfg.Positions, cfg.Dim),
		NormF: nn.NewLayerNorm(cfg.Dim),
	}
	tensor.FillUniform(g.Wpe.Data, cfg.Seed, 0.02)
	for i := 0; i < cfg.Layers; i++ {
		s := cfg.Seed + int64(i+1)*31
		g.Blocks = append(g.Blocks, &Block{
			Norm1: nn.NewLayerNorm(cfg.Dim),
			QKV:   nn.NewLinear(cfg.Dim, 3*cfg.Dim, s),
			Proj:  nn.NewLinear(cfg.Dim, cfg.Dim, s+3),
			Norm2: nn.NewLayerNorm(cfg.Dim),
			FC:    nn.NewLinear(cfg.Dim, cfg.Inner, s+5),
			Out:   nn.NewLinear(cfg.Inner, cfg.Dim, s+7),
		})
	}
	return g, nil
}

func (g *GPT) Dim() int { return g.cfg.Dim }

func (g *GPT) Config() GPTConfig { return g.cfg }

// Params follows the transformer.* naming of GPT-2 checkpoints. Linear
// weights are stored [out x in].
func (g *GPT) Params(prefix string) []nn.Param {
	ps := []nn.Param{{Name: prefix + ".wpe.weight", Shape: []int{g.Wpe.R, g.Wpe.C}, Data: g.Wpe.Data}}
	for i, b := range g.Blocks {
		p := prefix + ".h." + strconv.Itoa(i)
		ps = append(ps, b.Norm1.Params(p+".ln_1")...)
		ps = append(ps, b.QKV.Params(p+".attn.c_attn")...)
		ps = append(ps, b.Proj.Params(p+".attn.c_proj")...)
		ps = append(ps, b.Norm2.Params(p+".ln_2")...)
		ps = append(ps, b.FC.Params(p+".mlp.c_fc")...)
		ps = append(ps, b.Out.Params(p+".mlp.c_proj")...)
	}
	return append(ps, g.NormF.Params(prefix+".ln_f")...)
}

// Forward runs every row independently. Row b position i attends to
// positions j <= i with Mask[b, j] == 1.
func (g *GPT) Forward(ctx context.Context, in Inputs) (*tensor.Seq, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	e := in.Embeds
	if e.D != g.cfg.Dim {
		return nil, fmt.Errorf("%w: embedding width %d, model width %d", ErrBadInputs, e.D, g.cfg.Dim)
	}
	if e.L > g.cfg.Positions {
		return nil, fmt.Errorf("%w: length %d, table %d", ErrSequenceTooLong, e.L, g.cfg.Positions)
	}

	out := tensor.NewSeq(e.B, e.L, e.D)
	for b := 0; b < e.B; b++ {
		for i := 0; i < e.L; i++ {
			pos := i
			if in.Positions != nil {
				pos = int(in.Positions[b*e.L+i])
			}
			if pos < 0 || pos >= g.cfg.Positions {
				return nil, fmt.Errorf("%w: position id %d", ErrSequenceTooLong, pos)
			}
			x := out.At(b, i)
			copy(x, e.At(b, i))
			tensor.Add(x, g.Wpe.Row(pos))
		}
	}

	s := newScratch(e.L, g.cfg.Dim, g.cfg.Inner)
	for _, blk := range g.Blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for b := 0; b < e.B; b++ {
			var mask []int32
			if in.Mask != nil {
				mask = in.Mask[b*e.L : (b+1)*e.L]
			}
			g.block(blk, out, b, mask, s)
		}
	}
	for b := 0; b < e.B; b++ {
		for i := 0; i < e.L; i++ {
			x := out.At(b, i)
			g.NormF.Forward(x, x)
		}
	}
	return out, nil
}

type scratch struct {
	qkv   []float32 // (L, 3D)
	norm  []float32
	attn  []float32
	proj  []float32
	inner []float32
	score []float32
}

func newScratch(l, d, inner int) *scratch {
	return &scratch{
		qkv:   make([]float32, l*3*d),
		norm:  make([]float32, d),
		attn:  make([]float32, d),
		proj:  make([]float32, d),
		inner: make([]float32, inner),
		score: make([]float32, l),
	}
}

func (g *GPT) block(blk *Block, x *tensor.Seq, b int, mask []int32, s *scratch) {
	d := g.cfg.Dim
	l := x.L
	for i := 0; i < l; i++ {
		blk.Norm1.Forward(s.norm, x.At(b, i))
		blk.QKV.Forward(s.qkv[i*3*d:(i+1)*3*d], s.norm)
	}

	heads := g.cfg.Heads
	hd := d / heads
	scale := float32(1 / math.Sqrt(float64(hd)))
	// Attention output for position i only reads q_i and k/v of j <= i,
	// so writing the residual in place after each i is safe.
	for i := 0; i < l; i++ {
		clear(s.attn)
		q := s.qkv[i*3*d : i*3*d+d]
		for h := 0; h < heads; h++ {
			qh := q[h*hd : (h+1)*hd]
			n := 0
			maxv := float32(math.Inf(-1))
			for j := 0; j <= i; j++ {
				if mask != nil && mask[j] == 0 {
					s.score[j] = float32(math.Inf(-1))
					continue
				}
				k := s.qkv[j*3*d+d+h*hd : j*3*d+d+(h+1)*hd]
				v := tensor.Dot(qh, k) * scale
				s.score[j] = v
				maxv = max(maxv, v)
				n++
			}
			if n == 0 {
				continue
			}
			var sum float32
			for j := 0; j <= i; j++ {
				if mask != nil && mask[j] == 0 {
					s.score[j] = 0
					continue
				}
				s.score[j] = float32(math.Exp(float64(s.score[j] - maxv)))
				sum += s.score[j]
			}
			dst := s.attn[h*hd : (h+1)*hd]
			for j := 0; j <= i; j++ {
				w := s.score[j] / sum
				if w == 0 {
					continue
				}
				v := s.qkv[j*3*d+2*d+h*hd : j*3*d+2*d+(h+1)*hd]
				for t := range dst {
					dst[t] += w * v[t]
				}
			}
		}
		blk.Proj.Forward(s.proj, s.attn)
		tensor.Add(x.At(b, i), s.proj)
	}

	for i := 0; i < l; i++ {
		xi := x.At(b, i)
		blk.Norm2.Forward(s.norm, xi)
		blk.FC.Forward(s.inner, s.norm)
		tensor.Apply(s.inner, g.act)
		blk.Out.Forward(s.proj, s.inner)
		tensor.Add(xi, s.proj)
	}
}
