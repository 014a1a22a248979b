package main

import "github.com/urfave/cli/v3"

var (
	configFile     string
	weightsPath    string
	allowMissing   bool
	modelName      string
	useKeyPoints   string
	kpDecoder      string
	topK           int64
	seed           int64
	predictYaw     bool
	diagnosticsDir string
	logLevel       string
	logFormat      string
	debug          bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to planner YAML config",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to .safetensors weights (overrides weights_path)",
			Destination: &weightsPath,
		},
		&cli.BoolFlag{
			Name:        "allow-missing",
			Usage:       "keep initial values for tensors absent from the weights file",
			Destination: &allowMissing,
		},
		&cli.StringFlag{
			Name:        "model-name",
			Usage:       "model name; gpt-mini/small/medium/large select a preset size",
			Destination: &modelName,
		},
		&cli.StringFlag{
			Name:        "use-key-points",
			Usage:       "key point policy (no, specified, specified_backward, even_interval)",
			Destination: &useKeyPoints,
		},
		&cli.StringFlag{
			Name:        "kp-decoder",
			Usage:       "key point decoder (mlp, diffusion, cluster)",
			Destination: &kpDecoder,
		},
		&cli.Int64Flag{
			Name:        "k",
			Usage:       "candidates per key point",
			Destination: &topK,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "initialisation and sampling seed",
			Destination: &seed,
		},
		&cli.BoolFlag{
			Name:        "predict-yaw",
			Usage:       "predict (x, y, 0, yaw) points instead of (x, y)",
			Destination: &predictYaw,
		},
		&cli.StringFlag{
			Name:        "diagnostics-dir",
			Usage:       "write teacher-forced key point records to this directory",
			Destination: &diagnosticsDir,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
