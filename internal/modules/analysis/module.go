package analysis

import (
	"trailbot/internal/modules/analysis/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("analysis",
		fx.Provide(
			service.NewIndicators,
			service.NewRegime,
			service.NewDivergence,
			service.NewComposer,
		),
	)
}
