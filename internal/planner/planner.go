// Package planner wires the encoders, the sequence layout, the backbone and
// the decoders into teacher-forced Forward and autoregressive Generate
// calls. A Model holds no per-call state and may be shared by concurrent
// callers once its weights are loaded.
package planner

import (
	"errors"
	"fmt"

	"github.com/samcharles93/waypoint/internal/backbone"
	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/diag"
	"github.com/samcharles93/waypoint/internal/encoder"
	"github.com/samcharles93/waypoint/internal/keypoint"
	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/samcharles93/waypoint/internal/nn"
	"github.com/samcharles93/waypoint/internal/proposal"
	"github.com/samcharles93/waypoint/internal/safetensors"
	"github.com/samcharles93/waypoint/internal/trajectory"
)

var (
	ErrBadBatch     = errors.New("invalid planning batch")
	ErrMissingLabel = errors.New("forward pass needs a trajectory label")
)

// Options carry collaborators that do not come from the config file.
type Options struct {
	Log logger.Logger
	// Weights overrides cfg.WeightsPath.
	Weights nn.Source
	// AllowMissing keeps the seeded initial value of parameters absent from
	// the weight source.
	AllowMissing bool
	// Bank and Centers override proposal_bank_path and kp_cluster_bank_path.
	Bank    *proposal.Bank
	Centers *keypoint.Centers
	// Diagnostics overrides diagnostics_dir.
	Diagnostics *diag.Writer
	// Train enables the random-walk augmentations in Forward.
	Train bool
}

type Model struct {
	cfg   config.Config
	log   logger.Logger
	train bool

	Encoders   *encoder.Set
	Backbone   *backbone.GPT
	KeyPoints  keypoint.Decoder
	Trajectory *trajectory.ResCat
	Proposals  *proposal.Stage

	policy keypoint.Policy
	diag   *diag.Writer
	owned  []func() error
}

// New builds a model for cfg. Weights are loaded from opts.Weights or
// cfg.WeightsPath when either is set; otherwise the seeded initial values
// are kept.
func New(cfg config.Config, opts Options) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	m := &Model{cfg: cfg, log: log.With("component", "planner"), train: opts.Train}
	if err := m.build(opts); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Model) build(opts Options) error {
	cfg := m.cfg
	var err error
	if m.Encoders, err = encoder.New(cfg); err != nil {
		return err
	}
	m.Backbone, err = backbone.NewGPT(backbone.GPTConfig{
		Layers:     cfg.NLayers,
		Dim:        cfg.DEmbed,
		Inner:      cfg.DInner,
		Heads:      cfg.NHeads,
		Positions:  cfg.NPositions,
		Activation: cfg.Activation,
		Seed:       cfg.Seed + 307,
	})
	if err != nil {
		return err
	}
	m.Trajectory = trajectory.NewResCat(cfg.DEmbed, cfg.DInner, cfg.PointWidth(), cfg.Seed+401)

	if cfg.KeyPointsEnabled() {
		if m.policy, err = keypoint.NewPolicy(cfg); err != nil {
			return err
		}
		centers := opts.Centers
		if centers == nil && cfg.KPDecoderType == config.DecoderCluster {
			if centers, err = m.loadCenters(cfg.KPClusterBank); err != nil {
				return err
			}
		}
		if m.KeyPoints, err = keypoint.NewDecoder(cfg, centers); err != nil {
			return err
		}
	}

	if cfg.UseProposal > 0 {
		bank := opts.Bank
		if bank == nil {
			if cfg.ProposalBankPath == "" {
				return fmt.Errorf("%w: use_proposal needs proposal_bank_path", config.ErrInvalidConfig)
			}
			if bank, err = m.loadBank(cfg.ProposalBankPath); err != nil {
				return err
			}
		}
		if m.Proposals, err = proposal.NewStage(bank, m.Encoders.Proposal, cfg.UseProposal, cfg.TrajProposalPointsNum); err != nil {
			return err
		}
	}

	if err := m.loadWeights(opts); err != nil {
		return err
	}

	m.diag = opts.Diagnostics
	if m.diag == nil && cfg.DiagnosticsDir != "" {
		if m.diag, err = diag.Create(cfg.DiagnosticsDir); err != nil {
			return err
		}
		m.owned = append(m.owned, m.diag.Close)
		m.log.Info("writing key point diagnostics", "path", m.diag.Path)
	}

	m.log.Info("model ready",
		"model", cfg.ModelName,
		"raster_encoder", cfg.RasterEncoderType,
		"key_points", cfg.UseKeyPoints,
		"kp_decoder", cfg.KPDecoderType,
		"proposals", cfg.UseProposal,
		"params", countParams(m.Params()),
	)
	return nil
}

func (m *Model) loadWeights(opts Options) error {
	src := opts.Weights
	if src == nil && m.cfg.WeightsPath != "" {
		f, err := safetensors.Open(m.cfg.WeightsPath)
		if err != nil {
			return fmt.Errorf("open weights: %w", err)
		}
		defer f.Close()
		src = f
	}
	if src == nil {
		return nil
	}
	missing, err := nn.Load(src, m.Params(), opts.AllowMissing)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		m.log.Warn("weights missing, keeping initial values", "count", len(missing), "first", missing[0])
	}
	return nil
}

func (m *Model) loadBank(path string) (*proposal.Bank, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proposal bank: %w", err)
	}
	defer f.Close()
	return proposal.LoadBank(f)
}

func (m *Model) loadCenters(path string) (*keypoint.Centers, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key point centers: %w", err)
	}
	defer f.Close()
	return keypoint.LoadCenters(f)
}

func (m *Model) Config() config.Config { return m.cfg }

// Params lists every weight under its original parameter path.
func (m *Model) Params() []nn.Param {
	ps := m.Encoders.Params()
	ps = append(ps, m.Backbone.Params("transformer")...)
	ps = append(ps, m.Trajectory.Params("traj_decoder")...)
	if m.KeyPoints != nil {
		ps = append(ps, m.KeyPoints.Params("key_points_decoder")...)
	}
	return ps
}

// SaveWeights writes the current parameters as an F32 safetensors file.
func (m *Model) SaveWeights(path string) error {
	ps := m.Params()
	ts := make([]safetensors.Tensor, len(ps))
	for i, p := range ps {
		ts[i] = safetensors.Tensor{Name: p.Name, Shape: p.Shape, Data: p.Data}
	}
	return safetensors.Write(path, ts, map[string]string{
		"model_name": m.cfg.ModelName,
		"format":     "pt",
	})
}

// Close releases files the model opened itself.
func (m *Model) Close() error {
	var errs []error
	for _, fn := range m.owned {
		errs = append(errs, fn())
	}
	m.owned = nil
	return errors.Join(errs...)
}

func countParams(ps []nn.Param) int {
	n := 0
	for _, p := range ps {
		n += len(p.Data)
	}
	return n
}
