package runner

import (
	"context"
	"errors"

	"trailbot/internal/models"
	anasvc "trailbot/internal/modules/analysis/service"
	"trailbot/internal/modules/config"
	marketsvc "trailbot/internal/modules/market/service"
	trailsvc "trailbot/internal/modules/trailing/service"
	"trailbot/internal/notify"
	"trailbot/pkg/logger"

	"github.com/opentracing/opentracing-go"
)

// история по символу; хватает на прогрев любого индикатора с запасом
const maxBarsPerSymbol = 200

// Runner — склейка: свеча из стримера -> история -> анализ -> движок.
// Ошибки по одному символу не валят остальные.
type Runner struct {
	cfg      *config.Config
	composer *anasvc.Composer
	engine   *trailsvc.Engine
	n        notify.Notifier

	bars map[string][]models.CandleTick
}

func NewRunner(
	cfg *config.Config,
	composer *anasvc.Composer,
	engine *trailsvc.Engine,
	n *notify.Telegram,
) *Runner {
	return &Runner{
		cfg:      cfg,
		composer: composer,
		engine:   engine,
		n:        n,
		bars:     make(map[string][]models.CandleTick),
	}
}

// OnTick обрабатывает одну закрытую свечу. Вызывается из одной горутины,
// порядок тиков по символу сохраняется (движку это важно).
func (r *Runner) OnTick(ctx context.Context, t marketsvc.OutTick) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "runner.on_tick")
	span.SetTag("symbol", t.Symbol)
	defer span.Finish()

	history := append(r.bars[t.Symbol], t.Candle)
	if len(history) > maxBarsPerSymbol {
		history = history[len(history)-maxBarsPerSymbol:]
	}
	r.bars[t.Symbol] = history

	// сначала позиции: стопы важнее новых сигналов
	r.engine.UpdatePrice(ctx, t.Symbol, t.Candle.Close, t.Candle.End)

	advice, err := r.composer.Compose(t.Symbol, history)
	if err != nil {
		if errors.Is(err, anasvc.ErrInsufficientData) {
			return // прогрев, это не ошибка
		}
		logger.Error("analyze %s: %v", t.Symbol, err)
		return
	}

	if advice.Side == models.SideNone {
		return
	}

	logger.Info("signal %s: %s conf=%.2f sl=%.6f tp=%.6f (%s)",
		t.Symbol, advice.Side, advice.Confidence,
		advice.SLDistance, advice.TPDistance, advice.Reason)
	if r.n != nil {
		r.n.Sendf("📊 [%s] %s conf=%.2f | %s", t.Symbol, advice.Side, advice.Confidence, advice.Reason)
	}
}
