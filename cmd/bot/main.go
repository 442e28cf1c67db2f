package main

import (
	"context"
	"log"

	"trailbot/internal/modules/analysis"
	"trailbot/internal/modules/config"
	"trailbot/internal/modules/exchange"
	"trailbot/internal/modules/health"
	"trailbot/internal/modules/history"
	"trailbot/internal/modules/market"
	"trailbot/internal/modules/postgres"
	"trailbot/internal/modules/trailing"
	"trailbot/internal/notify"
	"trailbot/internal/runner"
	"trailbot/pkg/logger"
	"trailbot/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			notify.NewTelegram,
		),
		config.Module(),
		postgres.Module(),
		exchange.Module(),
		analysis.Module(),
		history.Module(),
		trailing.Module(),
		market.Module(),
		health.Module(),
		runner.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			tracer, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				logger.Warn("jaeger init: %v, tracing disabled", err)
				return
			}
			_ = tracer
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closeTracer()
					return nil
				},
			})
		}),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	<-app.Done()
}
