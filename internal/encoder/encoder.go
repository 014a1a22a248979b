// Package encoder turns raw modality streams into d_embed-wide token blocks.
//
// Raster state encoders are pooled surrogates of the vision backbones: they
// keep the output contract (one token per frame for the CNN variants, one
// token per patch for ViT) and the parameter layout of the classifier heads,
// not the convolutional trunk.
package encoder

import (
	"fmt"
	"strings"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/layout"
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// StateEncoder embeds high and low resolution raster frames. Both streams
// are (B, T, C, H, W); the output is (B, T, S, d_embed) with the first half
// of every token taken from the high resolution frame.
type StateEncoder interface {
	EncodeState(high, low *tensor.Stream) (*tensor.Block, error)
	// Recipe returns the interleave recipe for frames of size h x w.
	Recipe(timesteps, h, w int) layout.Recipe
	nn.Module
}

// Set is every encoder one model needs. Optional members are nil when the
// configuration disables them.
type Set struct {
	State    StateEncoder
	Action   *ActionEncoder
	KeyPoint *KeyPointEncoder
	Proposal *ProposalEncoder
	Camera   *CameraProjector
}

// New builds the encoder set for cfg.
func New(cfg config.Config) (*Set, error) {
	d := cfg.DEmbed
	seed := cfg.Seed
	s := &Set{Action: NewActionEncoder(cfg.ActionWidth(), d, seed+101)}

	switch {
	case cfg.RasterEncoderType == "vit":
		s.State = NewViT(cfg.RasterChannels, cfg.VitPatchSize, d, seed+103)
	case strings.HasPrefix(cfg.RasterEncoderType, "resnet"):
		enc, err := NewCNN(cfg.RasterEncoderType, cfg.RasterChannels, d, seed+103)
		if err != nil {
			return nil, err
		}
		s.State = enc
	default:
		return nil, fmt.Errorf("%w: raster_encoder_type %q", config.ErrInvalidConfig, cfg.RasterEncoderType)
	}

	if cfg.KeyPointsEnabled() {
		s.KeyPoint = NewKeyPointEncoder(d, seed+107)
	}
	if cfg.UseProposal > 0 {
		s.Proposal = NewProposalEncoder(cfg.UseProposal, cfg.TrajProposalPointsNum, d, seed+109)
	}
	if cfg.CameraImageEncoder != "" {
		s.Camera = NewCameraProjector(cfg.CameraFeatureDim, d, seed+113)
	}
	return s, nil
}

// Params lists the weights of every configured encoder under the checkpoint
// "encoder." parameter paths.
func (s *Set) Params() []nn.Param {
	ps := s.State.Params("encoder")
	ps = append(ps, s.Action.Params("encoder.action_m_embed")...)
	if s.KeyPoint != nil {
		ps = append(ps, s.KeyPoint.Params("encoder.kps_m_embed")...)
	}
	if s.Proposal != nil {
		ps = append(ps, s.Proposal.Params("encoder")...)
	}
	if s.Camera != nil {
		ps = append(ps, s.Camera.Params("encoder.camera_image_m_embed")...)
	}
	return ps
}

func streamErr(name, dim string, want, got int) error {
	return &layout.ShapeError{Modality: name, Dim: dim, Want: want, Got: got}
}
