package service

import (
	"fmt"
	"math"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"
)

// Соотношение тейка к стопу: в боковике цель ближе, ожидаемый ход меньше.
const (
	tpSLRatioSideways = 1.2
	tpSLRatioDefault  = 3.0
	atrSLMultiplier   = 1.2
	fallbackSLPct     = 0.02
)

// Composer сводит классификатор режима, дивергенции и mean-reversion по %B
// в одно направленное решение. Трендовые входы сознательно не генерим.
type Composer struct {
	cfg *config.Config
	reg *Regime
	div *Divergence
	ind *Indicators
}

func NewComposer(cfg *config.Config, reg *Regime, div *Divergence, ind *Indicators) *Composer {
	return &Composer{cfg: cfg, reg: reg, div: div, ind: ind}
}

func (c *Composer) Compose(symbol string, bars []models.CandleTick) (models.Advice, error) {
	advice := models.Advice{Symbol: symbol, Side: models.SideNone}

	sideways, err := c.reg.Classify(bars, c.cfg.SidewaysWindow)
	if err != nil {
		return advice, fmt.Errorf("compose %s: %w", symbol, err)
	}

	set, err := c.ind.Compute(bars)
	if err != nil {
		return advice, fmt.Errorf("compose %s: %w", symbol, err)
	}

	price := bars[len(bars)-1].Close
	advice.SLDistance, advice.TPDistance = c.stopDistances(set, price, sideways.IsSideways)

	if !sideways.IsSideways {
		// тренд: дивергенция без боковика — недостаточно специфичное
		// свидетельство, сидим в стороне
		advice.Reason = fmt.Sprintf("not sideways (score=%.2f)", sideways.Score)
		return advice, nil
	}

	// 1) дивергенция — самое специфичное свидетельство
	divSide, divRes := c.div.Signal(bars, set.RSI, c.cfg.DivergenceWindow)
	if divSide != models.SideNone && divRes.Confidence > 0.6 {
		advice.Side = divSide
		advice.Confidence = divRes.Confidence
		advice.Reason = fmt.Sprintf("%s divergence conf=%.2f", divRes.Type, divRes.Confidence)
		return advice, nil
	}

	// 2) предсказанный пробой
	dir, conf, err := c.reg.PredictBreakout(bars)
	if err == nil && dir != models.BreakoutUnknown {
		if dir == models.BreakoutUp {
			advice.Side = models.SideBuy
		} else {
			advice.Side = models.SideSell
		}
		advice.Confidence = conf
		advice.Reason = fmt.Sprintf("breakout %s", dir)
		return advice, nil
	}

	// 3) mean-reversion по положению в полосах
	pctB := set.PercentB[len(bars)-1]
	switch {
	case !math.IsNaN(pctB) && pctB > 0.8:
		advice.Side = models.SideSell
		advice.Confidence = 0.6
		advice.Reason = fmt.Sprintf("%%B=%.2f upper band", pctB)
	case !math.IsNaN(pctB) && pctB < 0.2:
		advice.Side = models.SideBuy
		advice.Confidence = 0.6
		advice.Reason = fmt.Sprintf("%%B=%.2f lower band", pctB)
	default:
		advice.Reason = fmt.Sprintf("sideways, %%B=%.2f neutral", pctB)
	}
	return advice, nil
}

// stopDistances — дистанции SL/TP в абсолютных ценах. Без валидного ATR
// откатываемся на фиксированные 2% от цены.
func (c *Composer) stopDistances(set *models.IndicatorSet, price float64, sideways bool) (sl, tp float64) {
	ratio := tpSLRatioDefault
	if sideways {
		ratio = tpSLRatioSideways
	}

	atr := lastValid(set.ATR)
	if !math.IsNaN(atr) && atr > 0 {
		sl = atrSLMultiplier * atr
	} else {
		sl = fallbackSLPct * price
	}
	return sl, sl * ratio
}
