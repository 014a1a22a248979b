package encoder

import (
	"fmt"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/layout"
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// CNN is the one-token-per-frame raster encoder. Each frame is average
// pooled onto a grid x grid lattice per channel, lifted to the ResNet
// feature width and classified down to d_embed/2. The same weights encode
// both resolutions.
type CNN struct {
	Type     string
	Channels int
	Grid     int
	Stem     *nn.Linear
	Head     *nn.Linear
}

var resnetFeatures = map[string]int{
	"resnet18":  512,
	"resnet34":  512,
	"resnet50":  2048,
	"resnet101": 2048,
	"resnet152": 2048,
}

func NewCNN(kind string, channels, d int, seed int64) (*CNN, error) {
	feat, ok := resnetFeatures[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown resnet type %q", config.ErrInvalidConfig, kind)
	}
	grid := 2
	if feat > 512 {
		grid = 4
	}
	return &CNN{
		Type:     kind,
		Channels: channels,
		Grid:     grid,
		Stem:     nn.NewLinear(channels*grid*grid, feat, seed),
		Head:     nn.NewLinear(feat, d/2, seed+2),
	}, nil
}

func (c *CNN) Recipe(timesteps, _, _ int) layout.Recipe {
	return layout.FlatRecipe(timesteps)
}

func (c *CNN) EncodeState(high, low *tensor.Stream) (*tensor.Block, error) {
	if err := checkRasters(high, low, c.Channels); err != nil {
		return nil, err
	}
	half := c.Head.Out()
	out := tensor.NewBlock("state", high.B, high.T, 1, 2*half)
	pooled := make([]float32, c.Stem.In())
	feat := make([]float32, c.Stem.Out())
	h, w := high.Shape[1], high.Shape[2]
	lh, lw := low.Shape[1], low.Shape[2]
	for b := 0; b < high.B; b++ {
		for t := 0; t < high.T; t++ {
			tok := out.At(b, t, 0)
			gridPool(pooled, high.Frame(b, t), c.Channels, h, w, c.Grid)
			c.forward(tok[:half], pooled, feat)
			gridPool(pooled, low.Frame(b, t), c.Channels, lh, lw, c.Grid)
			c.forward(tok[half:], pooled, feat)
		}
	}
	return out, nil
}

func (c *CNN) forward(dst, pooled, feat []float32) {
	c.Stem.Forward(feat, pooled)
	tensor.Apply(feat, tensor.Relu)
	c.Head.Forward(dst, feat)
}

func (c *CNN) Params(prefix string) []nn.Param {
	ps := c.Stem.Params(prefix + ".cnn_downsample.layer1")
	return append(ps, c.Head.Params(prefix+".cnn_downsample.classifier.0")...)
}

// gridPool averages each channel of a (C, H, W) frame over a g x g grid.
// Cells at the bottom/right edge absorb the remainder rows and columns.
func gridPool(dst, frame []float32, channels, h, w, g int) {
	for ch := 0; ch < channels; ch++ {
		plane := frame[ch*h*w : (ch+1)*h*w]
		for gy := 0; gy < g; gy++ {
			y0, y1 := gy*h/g, (gy+1)*h/g
			for gx := 0; gx < g; gx++ {
				x0, x1 := gx*w/g, (gx+1)*w/g
				var sum float32
				n := 0
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						sum += plane[y*w+x]
						n++
					}
				}
				if n > 0 {
					sum /= float32(n)
				}
				dst[(ch*g+gy)*g+gx] = sum
			}
		}
	}
}

// ViT is the patch raster encoder. Frames are cut into patch x patch tiles,
// every tile is channel pooled and embedded to d_embed/2, and high and low
// resolution tiles at the same grid position share one token.
type ViT struct {
	Channels int
	Patch    int
	Embed    *nn.Linear
}

func NewViT(channels, patch, d int, seed int64) *ViT {
	return &ViT{
		Channels: channels,
		Patch:    patch,
		Embed:    nn.NewLinear(channels, d/2, seed),
	}
}

// Patches is the number of sub-tokens for an h x w frame.
func (v *ViT) Patches(h, w int) int {
	return (h / v.Patch) * (w / v.Patch)
}

func (v *ViT) Recipe(timesteps, h, w int) layout.Recipe {
	return layout.PatchRecipe(timesteps, v.Patches(h, w))
}

func (v *ViT) EncodeState(high, low *tensor.Stream) (*tensor.Block, error) {
	if err := checkRasters(high, low, v.Channels); err != nil {
		return nil, err
	}
	h, w := high.Shape[1], high.Shape[2]
	if low.Shape[1] != h || low.Shape[2] != w {
		return nil, streamErr(low.Name, "height", h, low.Shape[1])
	}
	if h%v.Patch != 0 {
		return nil, streamErr(high.Name, "height", (h/v.Patch)*v.Patch, h)
	}
	if w%v.Patch != 0 {
		return nil, streamErr(high.Name, "width", (w/v.Patch)*v.Patch, w)
	}
	gw := w / v.Patch
	n := v.Patches(h, w)
	half := v.Embed.Out()
	out := tensor.NewBlock("state", high.B, high.T, n, 2*half)
	pooled := make([]float32, v.Channels)
	for b := 0; b < high.B; b++ {
		for t := 0; t < high.T; t++ {
			hf, lf := high.Frame(b, t), low.Frame(b, t)
			for p := 0; p < n; p++ {
				py, px := (p/gw)*v.Patch, (p%gw)*v.Patch
				tok := out.At(b, t, p)
				v.patch(pooled, hf, h, w, py, px)
				v.Embed.Forward(tok[:half], pooled)
				v.patch(pooled, lf, h, w, py, px)
				v.Embed.Forward(tok[half:], pooled)
				tensor.Apply(tok, tensor.Gelu)
			}
		}
	}
	return out, nil
}

func (v *ViT) patch(dst, frame []float32, h, w, y0, x0 int) {
	inv := 1 / float32(v.Patch*v.Patch)
	for ch := 0; ch < v.Channels; ch++ {
		plane := frame[ch*h*w:]
		var sum float32
		for y := y0; y < y0+v.Patch; y++ {
			for x := x0; x < x0+v.Patch; x++ {
				sum += plane[y*w+x]
			}
		}
		dst[ch] = sum * inv
	}
}

func (v *ViT) Params(prefix string) []nn.Param {
	return v.Embed.Params(prefix + ".image_downsample.embeddings.patch_embeddings.projection")
}

func checkRasters(high, low *tensor.Stream, channels int) error {
	for _, s := range []*tensor.Stream{high, low} {
		if s == nil {
			return streamErr("raster", "present", 1, 0)
		}
		if len(s.Shape) != 3 {
			return streamErr(s.Name, "rank", 3, len(s.Shape))
		}
		if s.Shape[0] != channels {
			return streamErr(s.Name, "channels", channels, s.Shape[0])
		}
	}
	if low.B != high.B {
		return streamErr(low.Name, "batch", high.B, low.B)
	}
	if low.T != high.T {
		return streamErr(low.Name, "timesteps", high.T, low.T)
	}
	return nil
}
