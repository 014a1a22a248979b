// Package config holds the model configuration shared by every component.
// Keys follow the planner's training arguments so existing YAML files can be
// reused.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Key-point modes.
const (
	KeyPointsNo                = "no"
	KeyPointsSpecified         = "specified"
	KeyPointsSpecifiedBackward = "specified_backward"
	KeyPointsEvenInterval      = "even_interval"
)

// Key-point decoder types.
const (
	DecoderMLP       = "mlp"
	DecoderDiffusion = "diffusion"
	DecoderCluster   = "cluster"
)

// Yaw post-processing modes.
const (
	YawNormal     = "normal"
	YawInterplate = "interplate"
	YawHybrid     = "hybrid"
)

var ErrInvalidConfig = errors.New("invalid config")

// FieldError names the offending option.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidConfig }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type Config struct {
	ModelName  string `yaml:"model_name"`
	DEmbed     int    `yaml:"d_embed"`
	DInner     int    `yaml:"d_inner"`
	NLayers    int    `yaml:"n_layers"`
	NHeads     int    `yaml:"n_heads"`
	NPositions int    `yaml:"n_positions"`
	Activation string `yaml:"activation_function"`

	// Observation encoders
	RasterEncoderType  string `yaml:"raster_encoder_type"`
	RasterChannels     int    `yaml:"raster_channels"`
	VitPatchSize       int    `yaml:"vit_patch_size"`
	UseSpeed           bool   `yaml:"use_speed"`
	CameraImageEncoder string `yaml:"camera_image_encoder"`
	CameraCount        int    `yaml:"camera_count"`
	CameraFeatureDim   int    `yaml:"camera_feature_dim"`
	PastFrames         int    `yaml:"past_frames"`
	PredLength         int    `yaml:"pred_length"`

	// Key points
	UseKeyPoints     string `yaml:"use_key_points"`
	KeyPointIndices  []int  `yaml:"key_point_indices"`
	ARFutureInterval int    `yaml:"ar_future_interval"`
	PredictYaw       bool   `yaml:"predict_yaw"`
	K                int    `yaml:"k"`
	KPDecoderType    string `yaml:"kp_decoder_type"`
	KPClusterBank    string `yaml:"kp_cluster_bank_path"`
	DiffusionSteps   int    `yaml:"diffusion_steps"`
	DiffusionTrainT  int    `yaml:"diffusion_train_steps"`

	// Proposals
	UseProposal           int    `yaml:"use_proposal"`
	TrajProposalPointsNum int    `yaml:"traj_proposal_points_num"`
	ProposalBankPath      string `yaml:"proposal_bank_path"`

	// Augmentation (training only)
	XRandomWalk    float64 `yaml:"x_random_walk"`
	YRandomWalk    float64 `yaml:"y_random_walk"`
	ARFXRandomWalk float64 `yaml:"arf_x_random_walk"`
	ARFYRandomWalk float64 `yaml:"arf_y_random_walk"`

	PostprocessYaw string `yaml:"postprocess_yaw"`
	WeightsPath    string `yaml:"weights_path"`
	DiagnosticsDir string `yaml:"diagnostics_dir"`
	Seed           int64  `yaml:"seed"`
}

// Default returns the planner defaults.
func Default() Config {
	return Config{
		ModelName:             "scratch-gpt",
		DEmbed:                256,
		DInner:                1024,
		NLayers:               4,
		NHeads:                8,
		NPositions:            4096,
		Activation:            "gelu_new",
		RasterEncoderType:     "resnet18",
		RasterChannels:        34,
		VitPatchSize:          16,
		CameraCount:           8,
		CameraFeatureDim:      768,
		PastFrames:            8,
		PredLength:            80,
		UseKeyPoints:          KeyPointsNo,
		ARFutureInterval:      20,
		K:                     1,
		KPDecoderType:         DecoderMLP,
		DiffusionSteps:        10,
		DiffusionTrainT:       100,
		TrajProposalPointsNum: 80,
		PostprocessYaw:        YawNormal,
		Seed:                  42,
	}
}

type preset struct {
	layers, embd, inner, heads int
}

var presets = []struct {
	tag string
	p   preset
}{
	{"gpt-mini", preset{1, 64, 256, 1}},
	{"gpt-small", preset{4, 256, 1024, 8}},
	{"gpt-medium", preset{12, 768, 3072, 12}},
	{"gpt-large", preset{48, 1600, 6400, 25}},
}

// Resolve applies the model-name presets and normalises k.
func (c *Config) Resolve() {
	for _, it := range presets {
		if strings.Contains(c.ModelName, it.tag) {
			c.NLayers = it.p.layers
			c.DEmbed = it.p.embd
			c.DInner = it.p.inner
			c.NHeads = it.p.heads
			break
		}
	}
	if c.K < 1 {
		c.K = 1
	}
	if c.DInner == 0 {
		c.DInner = 4 * c.DEmbed
	}
}

var rasterEncoders = []string{"resnet18", "resnet34", "resnet50", "resnet101", "resnet152", "vit"}

// Validate checks every option against its recognised value set.
func (c *Config) Validate() error {
	if c.DEmbed <= 0 || c.DEmbed%2 != 0 {
		return fieldErr("d_embed", "must be a positive even number, got %d", c.DEmbed)
	}
	if c.NHeads <= 0 || c.DEmbed%c.NHeads != 0 {
		return fieldErr("n_heads", "%d does not divide d_embed %d", c.NHeads, c.DEmbed)
	}
	if c.NLayers < 0 {
		return fieldErr("n_layers", "negative")
	}
	if c.NPositions <= 0 {
		return fieldErr("n_positions", "must be positive")
	}
	if !slices.Contains(rasterEncoders, c.RasterEncoderType) {
		return fieldErr("raster_encoder_type", "unknown %q", c.RasterEncoderType)
	}
	if c.RasterChannels <= 0 {
		return fieldErr("raster_channels", "must be positive")
	}
	if c.RasterEncoderType == "vit" && c.VitPatchSize <= 0 {
		return fieldErr("vit_patch_size", "must be positive")
	}
	if c.CameraImageEncoder != "" && (c.CameraCount <= 0 || c.CameraFeatureDim <= 0) {
		return fieldErr("camera_count", "camera encoder needs positive camera_count and camera_feature_dim")
	}
	if c.PastFrames <= 0 {
		return fieldErr("past_frames", "must be positive")
	}
	if c.PredLength <= 0 {
		return fieldErr("pred_length", "must be positive")
	}
	switch c.UseKeyPoints {
	case KeyPointsNo, KeyPointsEvenInterval:
	case KeyPointsSpecified, KeyPointsSpecifiedBackward:
		if len(c.KeyPointIndices) == 0 {
			return fieldErr("key_point_indices", "required for use_key_points=%s", c.UseKeyPoints)
		}
	default:
		return fieldErr("use_key_points", "unknown %q", c.UseKeyPoints)
	}
	if c.ARFutureInterval <= 0 {
		return fieldErr("ar_future_interval", "must be positive")
	}
	switch c.KPDecoderType {
	case DecoderMLP, DecoderDiffusion:
	case DecoderCluster:
		if c.UseKeyPoints != KeyPointsNo && c.KPClusterBank == "" {
			return fieldErr("kp_cluster_bank_path", "required for kp_decoder_type=cluster")
		}
	default:
		return fieldErr("kp_decoder_type", "unknown %q", c.KPDecoderType)
	}
	if c.KPDecoderType == DecoderDiffusion && (c.DiffusionSteps <= 0 || c.DiffusionTrainT < c.DiffusionSteps) {
		return fieldErr("diffusion_steps", "need 0 < diffusion_steps <= diffusion_train_steps")
	}
	if c.UseProposal < 0 {
		return fieldErr("use_proposal", "negative")
	}
	if c.UseProposal > 0 && c.TrajProposalPointsNum <= 0 {
		return fieldErr("traj_proposal_points_num", "must be positive")
	}
	switch c.PostprocessYaw {
	case YawNormal, YawInterplate, YawHybrid:
	default:
		return fieldErr("postprocess_yaw", "unknown %q", c.PostprocessYaw)
	}
	return nil
}

// PointWidth is 4 (x, y, 0, yaw) when yaw is predicted, otherwise 2.
func (c *Config) PointWidth() int {
	if c.PredictYaw {
		return 4
	}
	return 2
}

// ActionWidth is the per-timestep context action width.
func (c *Config) ActionWidth() int {
	if c.UseSpeed {
		return 7
	}
	return 4
}

// KeyPointsEnabled reports whether key points are generated.
func (c *Config) KeyPointsEnabled() bool {
	return c.UseKeyPoints != KeyPointsNo
}

// Parse decodes YAML over the defaults, then resolves and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a YAML config file. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		cfg.Resolve()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Marshal renders the config back to YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
