package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/samcharles93/waypoint/internal/api"
	"github.com/samcharles93/waypoint/internal/logger"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rateLimit   float64
		rateBurst   int64
		storeLimit  int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the plan REST API",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.FloatFlag{
				Name:        "rate-limit",
				Usage:       "requests per second across all clients (0 disables)",
				Value:       20,
				Destination: &rateLimit,
			},
			&cli.Int64Flag{
				Name:        "rate-burst",
				Usage:       "request burst size",
				Value:       40,
				Destination: &rateBurst,
			},
			&cli.Int64Flag{
				Name:        "store-limit",
				Usage:       "plans kept in memory (0 is unbounded)",
				Value:       1024,
				Destination: &storeLimit,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			file := LoadConfig()
			applyServeConfig(cmd, file, &addr, &rateLimit, &rateBurst)

			m, err := openModel(cmd, log)
			if err != nil {
				return err
			}
			defer m.Close()

			server := api.NewServer(api.NewPlanStore(int(storeLimit)), api.NewPlanService(m), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			e.Use(api.Throttle(rateLimit, int(rateBurst)))
			server.Register(e)
			log.Info("starting server", "address", addr, "model", m.Config().ModelName)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, limit *float64, burst *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*limit = *cfg.RateLimit
	}
	if cfg.RateBurst != nil && !c.IsSet("rate-burst") {
		*burst = *cfg.RateBurst
	}
}
