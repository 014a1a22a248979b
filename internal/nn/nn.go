// Package nn holds the small dense layers shared by encoders and decoders.
// Layers are immutable after construction and allocate their own scratch per
// call, so one instance may serve concurrent forward passes.
package nn

import (
	"fmt"
	"math"

	"github.com/samcharles93/waypoint/internal/tensor"
)

// Param is a named, shaped view of a layer's weights. Data aliases the
// layer storage, so loading into Data updates the layer in place.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
}

// Module is anything that exposes parameters for loading and inspection.
type Module interface {
	Params(prefix string) []Param
}

// Linear computes y = W x + b with W stored as [out x in].
type Linear struct {
	W    tensor.Mat
	Bias []float32
}

// NewLinear allocates a linear layer initialised uniformly in
// (-1/sqrt(in), 1/sqrt(in)).
func NewLinear(in, out int, seed int64) *Linear {
	l := &Linear{
		W:    tensor.NewMat(out, in),
		Bias: make([]float32, out),
	}
	scale := float32(1 / math.Sqrt(float64(max(in, 1))))
	tensor.FillUniform(l.W.Data, seed, scale)
	tensor.FillUniform(l.Bias, seed+1, scale)
	return l
}

func (l *Linear) In() int  { return l.W.C }
func (l *Linear) Out() int { return l.W.R }

// Forward writes W x + b into dst.
func (l *Linear) Forward(dst, x []float32) {
	tensor.MatVec(dst, &l.W, x)
	tensor.Add(dst[:l.W.R], l.Bias)
}

func (l *Linear) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".weight", Shape: []int{l.W.R, l.W.C}, Data: l.W.Data},
		{Name: prefix + ".bias", Shape: []int{len(l.Bias)}, Data: l.Bias},
	}
}

// LayerNorm is an affine layer normalisation.
type LayerNorm struct {
	Weight []float32
	Bias   []float32
	Eps    float32
}

func NewLayerNorm(n int) *LayerNorm {
	ln := &LayerNorm{
		Weight: make([]float32, n),
		Bias:   make([]float32, n),
		Eps:    1e-5,
	}
	for i := range ln.Weight {
		ln.Weight[i] = 1
	}
	return ln
}

func (ln *LayerNorm) Forward(dst, x []float32) {
	tensor.LayerNorm(dst, x, ln.Weight, ln.Bias, ln.Eps)
}

func (ln *LayerNorm) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".weight", Shape: []int{len(ln.Weight)}, Data: ln.Weight},
		{Name: prefix + ".bias", Shape: []int{len(ln.Bias)}, Data: ln.Bias},
	}
}

// Embed is a Linear followed by tanh, the token embedding used for actions,
// key points and proposals.
type Embed struct {
	Linear *Linear
}

func NewEmbed(in, out int, seed int64) *Embed {
	return &Embed{Linear: NewLinear(in, out, seed)}
}

func (e *Embed) In() int  { return e.Linear.In() }
func (e *Embed) Out() int { return e.Linear.Out() }

func (e *Embed) Forward(dst, x []float32) {
	e.Linear.Forward(dst, x)
	tensor.Apply(dst[:e.Linear.Out()], tensor.Tanh)
}

// Params uses the ".0" index of a sequential container, as checkpoints name it.
func (e *Embed) Params(prefix string) []Param {
	return e.Linear.Params(prefix + ".0")
}

// MLP is Linear -> LayerNorm -> ReLU.
type MLP struct {
	Linear *Linear
	Norm   *LayerNorm
}

func NewMLP(in, hidden int, seed int64) *MLP {
	return &MLP{
		Linear: NewLinear(in, hidden, seed),
		Norm:   NewLayerNorm(hidden),
	}
}

func (m *MLP) Forward(dst, x []float32) {
	h := dst[:m.Linear.Out()]
	m.Linear.Forward(h, x)
	m.Norm.Forward(h, h)
	tensor.Apply(h, tensor.Relu)
}

func (m *MLP) Params(prefix string) []Param {
	ps := m.Linear.Params(prefix + ".linear")
	return append(ps, m.Norm.Params(prefix+".layer_norm")...)
}

// ResCat computes fc(cat(mlp(x), x)): a residual-concatenation head used by
// every regression and scoring decoder.
type ResCat struct {
	MLP *MLP
	FC  *Linear
}

func NewResCat(hidden, in, out int, seed int64) *ResCat {
	return &ResCat{
		MLP: NewMLP(in, hidden, seed),
		FC:  NewLinear(hidden+in, out, seed+7),
	}
}

func (r *ResCat) In() int  { return r.MLP.Linear.In() }
func (r *ResCat) Out() int { return r.FC.Out() }

func (r *ResCat) Forward(dst, x []float32) {
	hidden := r.MLP.Linear.Out()
	cat := make([]float32, hidden+len(x))
	r.MLP.Forward(cat[:hidden], x)
	copy(cat[hidden:], x)
	r.FC.Forward(dst, cat)
}

func (r *ResCat) Params(prefix string) []Param {
	ps := r.MLP.Params(prefix + ".mlp")
	return append(ps, r.FC.Params(prefix+".fc")...)
}

// Projector maps vision features into the model width: Linear -> GELU -> Linear.
type Projector struct {
	Linear1 *Linear
	Linear2 *Linear
}

func NewProjector(in, out int, seed int64) *Projector {
	return &Projector{
		Linear1: NewLinear(in, out, seed),
		Linear2: NewLinear(out, out, seed+3),
	}
}

func (p *Projector) Forward(dst, x []float32) {
	h := make([]float32, p.Linear1.Out())
	p.Linear1.Forward(h, x)
	tensor.Apply(h, tensor.Gelu)
	p.Linear2.Forward(dst, h)
}

func (p *Projector) Params(prefix string) []Param {
	ps := p.Linear1.Params(prefix + ".linear_1")
	return append(ps, p.Linear2.Params(prefix+".linear_2")...)
}

// Source yields weights by parameter name.
type Source interface {
	ReadTensorF32(name string) ([]float32, []int, error)
}

// Load copies every parameter in ps from src, checking shapes. Missing
// parameters are reported by name in the returned slice when allowMissing is
// set; otherwise the first missing parameter is an error.
func Load(src Source, ps []Param, allowMissing bool) ([]string, error) {
	var missing []string
	for _, p := range ps {
		data, shape, err := src.ReadTensorF32(p.Name)
		if err != nil {
			if allowMissing {
				missing = append(missing, p.Name)
				continue
			}
			return nil, fmt.Errorf("load %s: %w", p.Name, err)
		}
		if !sameShape(shape, p.Shape) {
			return nil, fmt.Errorf("load %s: shape %v, want %v", p.Name, shape, p.Shape)
		}
		copy(p.Data, data)
	}
	return missing, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
