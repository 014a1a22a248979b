package keypoint

import (
	"context"
	"fmt"
	"slices"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// CentersTensor is the tensor name of a key-point cluster bank.
const CentersTensor = "centers"

// Centers is a bank of N cluster centres of Width values each.
type Centers struct {
	N, Width int
	Data     []float32
}

// Source yields named float tensors with their shape.
type Source interface {
	ReadTensorF32(name string) ([]float32, []int, error)
}

// LoadCenters reads the (N, width) CentersTensor from src.
func LoadCenters(src Source) (*Centers, error) {
	data, shape, err := src.ReadTensorF32(CentersTensor)
	if err != nil {
		return nil, fmt.Errorf("load key point centers: %w", err)
	}
	if len(shape) != 2 || shape[0] < 1 || len(data) != shape[0]*shape[1] {
		return nil, fmt.Errorf("%w: centers shape %v", ErrDecoderShape, shape)
	}
	return &Centers{N: shape[0], Width: shape[1], Data: data}, nil
}

func (c *Centers) At(i int) []float32 {
	return c.Data[i*c.Width : (i+1)*c.Width]
}

// Cluster classifies the hidden state over a fixed bank of centres. With
// k = 1 the most probable centre is returned unscored; with k > 1 the top k
// centres are returned with their probabilities.
type Cluster struct {
	width   int
	k       int
	centers *Centers
	Logits  *nn.ResCat
}

func NewCluster(d, inner, width, k int, centers *Centers, seed int64) (*Cluster, error) {
	if centers.Width < width {
		return nil, &DecoderShapeError{Slot: -1, Want: width, Got: centers.Width}
	}
	k = max(k, 1)
	if k > centers.N {
		return nil, fmt.Errorf("%w: k %d exceeds %d centers", config.ErrInvalidConfig, k, centers.N)
	}
	return &Cluster{
		width:   width,
		k:       k,
		centers: centers,
		Logits:  nn.NewResCat(inner, d, centers.N, seed),
	}, nil
}

func (c *Cluster) Width() int   { return c.width }
func (c *Cluster) Kind() string { return config.DecoderCluster }

func (c *Cluster) Generate(ctx context.Context, hidden *tensor.Seq) (*Candidates, error) {
	if err := checkHidden(hidden, c.Logits.In()); err != nil {
		return nil, err
	}
	out := newCandidates(hidden.B, c.k, c.width, c.k > 1)
	probs := make([]float32, c.centers.N)
	order := make([]int, c.centers.N)
	for b := 0; b < hidden.B; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.Logits.Forward(probs, hidden.At(b, 0))
		tensor.Softmax(probs)
		for i := range order {
			order[i] = i
		}
		// stable so equal probabilities keep the lower index first
		slices.SortStableFunc(order, func(x, y int) int {
			switch {
			case probs[x] > probs[y]:
				return -1
			case probs[x] < probs[y]:
				return 1
			}
			return 0
		})
		for s := 0; s < c.k; s++ {
			copy(out.Point(b, s), c.centers.At(order[s])[:c.width])
			if out.Scores != nil {
				out.Scores[b*c.k+s] = probs[order[s]]
			}
		}
	}
	return out, nil
}

func (c *Cluster) Params(prefix string) []nn.Param {
	return c.Logits.Params(prefix + ".cls")
}
