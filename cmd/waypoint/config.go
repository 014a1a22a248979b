package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/samcharles93/waypoint/internal/config"
	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/samcharles93/waypoint/internal/planner"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration file (~/.config/waypoint/config.yaml).
// It supplies defaults for flags that were not set explicitly.
type Config struct {
	PlannerConfig string `yaml:"planner_config"`
	Weights       string `yaml:"weights"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
	RateBurst     *int64   `yaml:"rate_burst"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "waypoint", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// plannerConfig loads the planner config and applies model flags that were
// set on the command line.
func plannerConfig(c *cli.Command, file Config) (config.Config, error) {
	path := configFile
	if path == "" && !c.IsSet("config") {
		path = file.PlannerConfig
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if c.IsSet("model-name") {
		cfg.ModelName = modelName
	}
	if c.IsSet("use-key-points") {
		cfg.UseKeyPoints = useKeyPoints
	}
	if c.IsSet("kp-decoder") {
		cfg.KPDecoderType = kpDecoder
	}
	if c.IsSet("k") {
		cfg.K = int(topK)
	}
	if c.IsSet("seed") {
		cfg.Seed = seed
	}
	if c.IsSet("predict-yaw") {
		cfg.PredictYaw = predictYaw
	}
	if c.IsSet("diagnostics-dir") {
		cfg.DiagnosticsDir = diagnosticsDir
	}
	if c.IsSet("weights") {
		cfg.WeightsPath = weightsPath
	} else if cfg.WeightsPath == "" {
		cfg.WeightsPath = file.Weights
	}
	cfg.Resolve()
	return cfg, cfg.Validate()
}

func openModel(c *cli.Command, log logger.Logger) (*planner.Model, error) {
	cfg, err := plannerConfig(c, LoadConfig())
	if err != nil {
		return nil, err
	}
	return planner.New(cfg, planner.Options{Log: log, AllowMissing: allowMissing})
}

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the resolved planner config as YAML",
		Flags: commonModelFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := plannerConfig(cmd, LoadConfig())
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}
