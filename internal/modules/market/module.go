package market

import (
	"context"

	"trailbot/internal/modules/market/service"

	"go.uber.org/fx"
)

// Module поднимает стример свечей.
func Module() fx.Option {
	return fx.Module("market",
		fx.Provide(
			service.NewClient,
			func() chan service.OutTick {
				// общий буфер свечей для раннера
				return make(chan service.OutTick, 1024)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client, out chan service.OutTick, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go c.Start(ctx, out)
					return nil
				},
			})
		}),
	)
}
