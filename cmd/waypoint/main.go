package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "waypoint",
		Usage: "Autoregressive key-point trajectory planner",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			file := LoadConfig()
			if file.LogLevel != "" && !cmd.IsSet("log-level") {
				logLevel = file.LogLevel
			}
			if file.LogFormat != "" && !cmd.IsSet("log-format") {
				logFormat = file.LogFormat
			}
			level := logLevel
			if debug {
				level = "debug"
			}
			log, err := logger.Setup(os.Stderr, logFormat, level)
			if err != nil {
				return ctx, err
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			planCmd(),
			layoutCmd(),
			serveCmd(),
			weightsCmd(),
			configCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
