package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/waypoint/internal/api"
	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/samcharles93/waypoint/internal/scenario"
)

func planCmd() *cli.Command {
	var (
		outPath    string
		synthetic  int64
		steps      int64
		rasterSize int64
		predLength int64
		jobs       int64
		batch      bool
	)

	return &cli.Command{
		Name:      "plan",
		Usage:     "Generate key points and trajectories for scenario files",
		ArgsUsage: "[scenario.json ...]",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write JSON lines to this file instead of stdout",
				Destination: &outPath,
			},
			&cli.Int64Flag{
				Name:        "synthetic",
				Usage:       "plan this many random scenarios instead of reading files",
				Destination: &synthetic,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Usage:       "context frames per synthetic scenario",
				Value:       4,
				Destination: &steps,
			},
			&cli.Int64Flag{
				Name:        "raster-size",
				Usage:       "high-res raster size of synthetic scenarios",
				Value:       32,
				Destination: &rasterSize,
			},
			&cli.Int64Flag{
				Name:        "pred-length",
				Usage:       "future steps to predict (0 uses the config)",
				Destination: &predLength,
			},
			&cli.Int64Flag{
				Name:        "jobs",
				Aliases:     []string{"j"},
				Usage:       "scenarios planned concurrently",
				Value:       4,
				Destination: &jobs,
			},
			&cli.BoolFlag{
				Name:        "batch",
				Usage:       "stack all scenarios into one batch (shapes must match)",
				Destination: &batch,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			m, err := openModel(cmd, log)
			if err != nil {
				return err
			}
			defer m.Close()

			var list []*scenario.Scenario
			if synthetic > 0 {
				for i := range synthetic {
					list = append(list, scenario.Synthetic(m.Config(), int(steps), int(rasterSize), m.Config().Seed+i))
				}
			} else {
				if cmd.Args().Len() == 0 {
					return fmt.Errorf("plan: no scenario files given (use --synthetic for a demo)")
				}
				for _, path := range cmd.Args().Slice() {
					sc, err := scenario.Load(path)
					if err != nil {
						return err
					}
					list = append(list, sc)
				}
			}

			var w io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			out := &planWriter{enc: json.NewEncoder(w)}

			svc := api.NewPlanService(m)
			start := time.Now()
			if batch {
				plan, err := svc.CreatePlan(ctx, &api.PlanRequest{Scenarios: list, PredLength: int(predLength)})
				if err != nil {
					return err
				}
				if err := out.write(plan); err != nil {
					return err
				}
			} else {
				g, gctx := errgroup.WithContext(ctx)
				g.SetLimit(max(int(jobs), 1))
				for _, sc := range list {
					g.Go(func() error {
						plan, err := svc.CreatePlan(gctx, &api.PlanRequest{Scenario: sc, PredLength: int(predLength)})
						if err != nil {
							return fmt.Errorf("%s: %w", sc.ID, err)
						}
						log.Debug("scenario planned", "scenario", sc.ID, "plan", plan.ID)
						return out.write(plan)
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}
			}
			log.Info("planning finished", "scenarios", len(list), "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

// planWriter serialises concurrent plan output as JSON lines.
type planWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *planWriter) write(p *api.Plan) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(p)
}
