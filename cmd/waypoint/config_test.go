package main

import (
	"context"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/waypoint/internal/config"
)

func TestPlannerConfigFlagOverrides(t *testing.T) {
	var got config.Config
	cmd := &cli.Command{
		Name:  "probe",
		Flags: commonModelFlags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := plannerConfig(c, Config{Weights: "from-file.safetensors"})
			got = cfg
			return err
		},
	}
	args := []string{"probe", "--use-key-points", "even_interval", "--k", "3", "--kp-decoder", "mlp", "--seed", "9"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	if got.UseKeyPoints != config.KeyPointsEvenInterval || got.K != 3 || got.Seed != 9 {
		t.Fatalf("flags not applied: %+v", got)
	}
	if got.WeightsPath != "from-file.safetensors" {
		t.Fatalf("weights %q, want the config file default", got.WeightsPath)
	}
	if got.DEmbed != config.Default().DEmbed {
		t.Fatalf("unset flags changed d_embed to %d", got.DEmbed)
	}
}

func TestApplyServeConfig(t *testing.T) {
	limit := 5.0
	var (
		addr  = "127.0.0.1:8080"
		rate  = 20.0
		burst = int64(40)
	)
	cmd := &cli.Command{
		Name: "probe",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: addr, Destination: &addr},
			&cli.FloatFlag{Name: "rate-limit", Value: rate, Destination: &rate},
			&cli.Int64Flag{Name: "rate-burst", Value: burst, Destination: &burst},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			applyServeConfig(c, Config{ServerAddress: "0.0.0.0:9000", RateLimit: &limit}, &addr, &rate, &burst)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"probe", "--rate-limit", "1"}); err != nil {
		t.Fatal(err)
	}
	if addr != "0.0.0.0:9000" || rate != 1 || burst != 40 {
		t.Fatalf("addr %q rate %v burst %d", addr, rate, burst)
	}
}
