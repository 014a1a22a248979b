package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/samcharles93/waypoint/internal/safetensors"
)

func weightsCmd() *cli.Command {
	return &cli.Command{
		Name:  "weights",
		Usage: "Create or inspect planner weight files",
		Commands: []*cli.Command{
			weightsInitCmd(),
			weightsInspectCmd(),
		},
	}
}

func weightsInitCmd() *cli.Command {
	var outPath string
	return &cli.Command{
		Name:  "init",
		Usage: "Write the model's initial (or loaded) weights to a .safetensors file",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output path",
				Required:    true,
				Destination: &outPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			m, err := openModel(cmd, log)
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.SaveWeights(outPath); err != nil {
				return err
			}
			log.Info("weights written", "path", outPath, "tensors", len(m.Params()))
			return nil
		},
	}
}

func weightsInspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "List the tensors of a .safetensors file",
		ArgsUsage: "<file.safetensors>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("inspect: expected one file, got %d", cmd.Args().Len())
			}
			f, err := safetensors.Open(cmd.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()
			for k, v := range f.Metadata {
				fmt.Printf("%s: %s\n", k, v)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDTYPE\tSHAPE")
			for _, name := range f.Names() {
				t := f.Tensors[name]
				fmt.Fprintf(tw, "%s\t%s\t%v\n", name, t.DType, t.Shape)
			}
			return tw.Flush()
		},
	}
}
