package keypoint

import (
	"context"
	"fmt"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// Candidates is a decoder output: K points of Width values per row and,
// when K > 1, one score per point.
type Candidates struct {
	B, K, Width int
	Points      []float32
	Scores      []float32
}

func newCandidates(b, k, width int, scored bool) *Candidates {
	c := &Candidates{B: b, K: k, Width: width, Points: make([]float32, b*k*width)}
	if scored {
		c.Scores = make([]float32, b*k)
	}
	return c
}

// Point returns candidate k of row b.
func (c *Candidates) Point(b, k int) []float32 {
	off := (b*c.K + k) * c.Width
	return c.Points[off : off+c.Width]
}

// Best is the highest scoring candidate of row b, or 0 when unscored.
func (c *Candidates) Best(b int) int {
	if c.Scores == nil || c.K <= 1 {
		return 0
	}
	return tensor.Argmax(c.Scores[b*c.K : (b+1)*c.K])
}

func (c *Candidates) check(b int) error {
	if c.B != b || c.K < 1 || len(c.Points) != c.B*c.K*c.Width {
		return fmt.Errorf("%w: candidates (%d, %d, %d) with %d values for batch %d", ErrDecoderShape, c.B, c.K, c.Width, len(c.Points), b)
	}
	if c.Scores != nil && len(c.Scores) != c.B*c.K {
		return fmt.Errorf("%w: %d scores for (%d, %d)", ErrDecoderShape, len(c.Scores), c.B, c.K)
	}
	return nil
}

// Decoder turns the (B, 1, d) hidden state preceding a key-point slot into
// candidate points. Rows must be decoded independently.
type Decoder interface {
	Generate(ctx context.Context, hidden *tensor.Seq) (*Candidates, error)
	Width() int
	Kind() string
	nn.Module
}

// MLP regresses points directly. With k > 1 it emits k points and a score
// head ranks them.
type MLP struct {
	width int
	k     int
	Head  *nn.ResCat
	Score *nn.ResCat
}

func NewMLP(d, inner, width, k int, seed int64) *MLP {
	m := &MLP{width: width, k: max(k, 1)}
	m.Head = nn.NewResCat(inner, d, m.k*width, seed)
	if m.k > 1 {
		m.Score = nn.NewResCat(inner, d, m.k, seed+11)
	}
	return m
}

func (m *MLP) Width() int   { return m.width }
func (m *MLP) Kind() string { return config.DecoderMLP }

func (m *MLP) Generate(ctx context.Context, hidden *tensor.Seq) (*Candidates, error) {
	if err := checkHidden(hidden, m.Head.In()); err != nil {
		return nil, err
	}
	out := newCandidates(hidden.B, m.k, m.width, m.Score != nil)
	n := m.k * m.width
	for b := 0; b < hidden.B; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := hidden.At(b, 0)
		m.Head.Forward(out.Points[b*n:(b+1)*n], h)
		if m.Score != nil {
			m.Score.Forward(out.Scores[b*m.k:(b+1)*m.k], h)
		}
	}
	return out, nil
}

func (m *MLP) Params(prefix string) []nn.Param {
	ps := m.Head.Params(prefix + ".model")
	if m.Score != nil {
		ps = append(ps, m.Score.Params(prefix+".score")...)
	}
	return ps
}

func checkHidden(hidden *tensor.Seq, d int) error {
	if hidden == nil || hidden.L != 1 || hidden.D != d {
		got := 0
		if hidden != nil {
			got = hidden.D
		}
		return fmt.Errorf("%w: hidden state must be (B, 1, %d), got width %d", ErrDecoderShape, d, got)
	}
	return nil
}

// NewDecoder builds the decoder selected by kp_decoder_type. centers is
// required for the cluster decoder and ignored otherwise.
func NewDecoder(cfg config.Config, centers *Centers) (Decoder, error) {
	d, inner, width := cfg.DEmbed, cfg.DInner, cfg.PointWidth()
	seed := cfg.Seed + 211
	switch cfg.KPDecoderType {
	case config.DecoderMLP:
		return NewMLP(d, inner, width, cfg.K, seed), nil
	case config.DecoderDiffusion:
		return NewDiffusion(DiffusionConfig{
			Dim: d, Inner: inner, Width: width, K: cfg.K,
			Steps: cfg.DiffusionSteps, TrainSteps: cfg.DiffusionTrainT, Seed: seed,
		})
	case config.DecoderCluster:
		if centers == nil {
			return nil, fmt.Errorf("%w: cluster decoder needs kp_cluster_bank_path", config.ErrInvalidConfig)
		}
		return NewCluster(d, inner, width, cfg.K, centers, seed)
	default:
		return nil, fmt.Errorf("%w: kp_decoder_type %q", config.ErrInvalidConfig, cfg.KPDecoderType)
	}
}
