package trailing

import (
	"trailbot/internal/modules/config"
	"trailbot/internal/modules/trailing/service"

	anasvc "trailbot/internal/modules/analysis/service"
	exchsvc "trailbot/internal/modules/exchange/service"
	histsvc "trailbot/internal/modules/history/service"
	"trailbot/internal/notify"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("trailing",
		fx.Provide(
			func(cfg *config.Config) service.EngineConfig {
				return service.LoadEngineConfig(cfg.EngineConfigPath)
			},
			service.NewArchive,
			func(c *exchsvc.Client) service.ExchangeClient { return c },
			func(r *anasvc.Regime) service.RegimeSource { return r },
			func(t *notify.Telegram) service.Notifier { return t },
			func(s *histsvc.Store) service.Recorder { return s },
			service.NewEngine,
		),
	)
}
