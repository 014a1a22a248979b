package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/waypoint/internal/logger"
)

func layoutCmd() *cli.Command {
	var (
		steps   int64
		height  int64
		width   int64
		patches int64
	)

	return &cli.Command{
		Name:  "layout",
		Usage: "Print the token layout of the generated sequence",
		Flags: append(commonModelFlags(),
			&cli.Int64Flag{Name: "steps", Usage: "context frames", Value: 4, Destination: &steps},
			&cli.Int64Flag{Name: "height", Usage: "high-res raster height", Value: 224, Destination: &height},
			&cli.Int64Flag{Name: "width", Usage: "high-res raster width", Value: 224, Destination: &width},
			&cli.Int64Flag{Name: "patches", Usage: "tokens per camera", Destination: &patches},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := openModel(cmd, logger.FromContext(ctx))
			if err != nil {
				return err
			}
			defer m.Close()
			lay, err := m.Layout(int(steps), int(height), int(width), int(patches))
			if err != nil {
				return err
			}
			if err := lay.Validate(); err != nil {
				return err
			}
			fmt.Print(lay.String())
			fmt.Printf("key points at %d, prediction at %d\n", lay.KeyPointStart, lay.PredStart)
			return nil
		},
	}
}
