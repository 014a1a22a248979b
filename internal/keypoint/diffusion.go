package keypoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

const timeEmbedDim = 16

type DiffusionConfig struct {
	Dim        int
	Inner      int
	Width      int
	K          int
	Steps      int
	TrainSteps int
	Seed       int64
}

// Diffusion samples key points with deterministic DDIM (eta = 0). The
// denoiser predicts noise from [x_t, t embedding, hidden]. Starting noise
// is seeded from the row's own hidden state, so identical rows always give
// identical samples whatever else is in the batch.
type Diffusion struct {
	cfg       DiffusionConfig
	alphaBar  []float64
	timesteps []int
	Denoiser  *nn.ResCat
	Score     *nn.ResCat
}

func NewDiffusion(cfg DiffusionConfig) (*Diffusion, error) {
	if cfg.Steps <= 0 || cfg.TrainSteps < cfg.Steps {
		return nil, fmt.Errorf("%w: diffusion steps %d of %d", config.ErrInvalidConfig, cfg.Steps, cfg.TrainSteps)
	}
	cfg.K = max(cfg.K, 1)
	d := &Diffusion{
		cfg:      cfg,
		alphaBar: linearAlphaBar(cfg.TrainSteps, 1e-4, 0.02),
		Denoiser: nn.NewResCat(cfg.Inner, cfg.Width+timeEmbedDim+cfg.Dim, cfg.Width, cfg.Seed),
	}
	ratio := cfg.TrainSteps / cfg.Steps
	for i := 0; i < cfg.Steps; i++ {
		d.timesteps = append(d.timesteps, (cfg.Steps-1-i)*ratio)
	}
	if cfg.K > 1 {
		d.Score = nn.NewResCat(cfg.Inner, cfg.Dim+cfg.Width, 1, cfg.Seed+13)
	}
	return d, nil
}

func linearAlphaBar(n int, start, end float64) []float64 {
	out := make([]float64, n)
	prod := 1.0
	for i := 0; i < n; i++ {
		beta := start
		if n > 1 {
			beta += float64(i) / float64(n-1) * (end - start)
		}
		prod *= 1 - beta
		out[i] = prod
	}
	return out
}

func (d *Diffusion) Width() int   { return d.cfg.Width }
func (d *Diffusion) Kind() string { return config.DecoderDiffusion }

func (d *Diffusion) Generate(ctx context.Context, hidden *tensor.Seq) (*Candidates, error) {
	if err := checkHidden(hidden, d.cfg.Dim); err != nil {
		return nil, err
	}
	w, k := d.cfg.Width, d.cfg.K
	out := newCandidates(hidden.B, k, w, d.Score != nil)
	in := make([]float32, w+timeEmbedDim+d.cfg.Dim)
	eps := make([]float32, w)
	for b := 0; b < hidden.B; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := hidden.At(b, 0)
		rng := rand.New(rand.NewSource(rowSeed(h, d.cfg.Seed)))
		copy(in[w+timeEmbedDim:], h)
		for s := 0; s < k; s++ {
			x := out.Point(b, s)
			for i := range x {
				x[i] = float32(rng.NormFloat64())
			}
			for _, t := range d.timesteps {
				copy(in[:w], x)
				timeEmbedding(in[w:w+timeEmbedDim], t)
				d.Denoiser.Forward(eps, in)
				d.step(x, eps, t)
			}
			if d.Score != nil {
				sc := make([]float32, d.cfg.Dim+w)
				copy(sc, h)
				copy(sc[d.cfg.Dim:], x)
				d.Score.Forward(out.Scores[b*k+s:b*k+s+1], sc)
			}
		}
	}
	return out, nil
}

// step applies one DDIM update in place.
func (d *Diffusion) step(x, eps []float32, t int) {
	prev := t - d.cfg.TrainSteps/d.cfg.Steps
	aT := d.alphaBar[t]
	aPrev := 1.0
	if prev >= 0 {
		aPrev = d.alphaBar[prev]
	}
	sqrtA, sqrt1mA := math.Sqrt(aT), math.Sqrt(1-aT)
	sqrtP, sqrt1mP := math.Sqrt(aPrev), math.Sqrt(1-aPrev)
	for i := range x {
		x0 := (float64(x[i]) - sqrt1mA*float64(eps[i])) / sqrtA
		x[i] = float32(sqrtP*x0 + sqrt1mP*float64(eps[i]))
	}
}

func timeEmbedding(dst []float32, t int) {
	half := len(dst) / 2
	for i := 0; i < half; i++ {
		freq := math.Exp(-math.Log(10000) * float64(i) / float64(half))
		s, c := math.Sincos(float64(t) * freq)
		dst[i] = float32(s)
		dst[half+i] = float32(c)
	}
}

func rowSeed(h []float32, seed int64) int64 {
	f := fnv.New64a()
	var buf [4]byte
	for _, v := range h {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = f.Write(buf[:])
	}
	return int64(f.Sum64()) ^ seed
}

func (d *Diffusion) Params(prefix string) []nn.Param {
	ps := d.Denoiser.Params(prefix + ".model.denoiser")
	if d.Score != nil {
		ps = append(ps, d.Score.Params(prefix+".model.scorer")...)
	}
	return ps
}
