package runner

import (
	"context"

	healthsvc "trailbot/internal/modules/health/service"
	marketsvc "trailbot/internal/modules/market/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewRunner,
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			r *Runner,
			ticks chan marketsvc.OutTick,
			state *healthsvc.State,
			ctx context.Context,
		) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					state.SetReady(true)
					go func() {
						for {
							select {
							case <-ctx.Done():
								return
							case t, ok := <-ticks:
								if !ok {
									return
								}
								r.OnTick(ctx, t)
							}
						}
					}()
					return nil
				},
			})
		}),
	)
}
