package service

import (
	"fmt"
	"math"
	"time"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"
)

// Веса суб-скоров. Ни один индикатор сам по себе боковик не ловит,
// поэтому складываем слабые некоррелированные сигналы.
const (
	weightSqueeze    = 0.3
	weightVolatility = 0.3
	weightTrend      = 0.3
	weightMomentum   = 0.1

	sidewaysThreshold = 0.6
	momentumReference = 0.05 // |5-барная доходность| нормируем на 5%
)

type Regime struct {
	cfg *config.Config
	ind *Indicators
}

func NewRegime(cfg *config.Config, ind *Indicators) *Regime {
	return &Regime{cfg: cfg, ind: ind}
}

// Classify — скор "боковиковости" по последним window барам.
// is_sideways строго == score > 0.6, других условий нет.
func (r *Regime) Classify(bars []models.CandleTick, window int) (models.SidewaysScore, error) {
	if window <= 0 {
		window = r.cfg.SidewaysWindow
	}
	// ADX прогревается дольше всех: 2*period, плюс само окно
	if len(bars) < 2*adxPeriod+window {
		return models.SidewaysScore{}, fmt.Errorf("classify %d bars, need %d: %w",
			len(bars), 2*adxPeriod+window, ErrInsufficientData)
	}

	set, err := r.ind.Compute(bars)
	if err != nil {
		return models.SidewaysScore{}, err
	}

	avgWidth, ok := tailMean(set.BBWidth, window)
	if !ok {
		return models.SidewaysScore{}, fmt.Errorf("bb width window: %w", ErrInsufficientData)
	}

	avgATRRatio, ok := tailMeanRatio(set.ATR, models.Closes(bars), window)
	if !ok {
		return models.SidewaysScore{}, fmt.Errorf("atr window: %w", ErrInsufficientData)
	}

	avgADX, ok := tailMean(set.ADX, window)
	if !ok {
		return models.SidewaysScore{}, fmt.Errorf("adx window: %w", ErrInsufficientData)
	}

	closes := models.Closes(bars)
	last := closes[len(closes)-1]
	base := closes[len(closes)-6]
	momentum := 0.0
	if base != 0 {
		momentum = math.Abs((last - base) / base)
	}

	out := models.SidewaysScore{
		SqueezeScore:    clamp01(1 - avgWidth/r.cfg.BBWidthThreshold),
		VolatilityScore: clamp01(1 - avgATRRatio/r.cfg.ATRRatioThreshold),
		TrendScore:      clamp01(1 - avgADX/r.cfg.ADXThreshold),
		MomentumScore:   clamp01(1 - momentum/momentumReference),
	}
	out.Score = weightSqueeze*out.SqueezeScore +
		weightVolatility*out.VolatilityScore +
		weightTrend*out.TrendScore +
		weightMomentum*out.MomentumScore
	out.IsSideways = out.Score > sidewaysThreshold

	return out, nil
}

// Label — грубая метка режима для кэша трейлинг-движка.
func (r *Regime) Label(symbol string, bars []models.CandleTick) (models.RegimeSnapshot, error) {
	snap := models.RegimeSnapshot{
		Symbol:    symbol,
		Regime:    models.RegimeUnknown,
		UpdatedAt: time.Now(),
	}
	if len(bars) < 2*adxPeriod+1 {
		return snap, fmt.Errorf("regime label %s: %w", symbol, ErrInsufficientData)
	}

	set, err := r.ind.Compute(bars)
	if err != nil {
		return snap, err
	}

	atr := lastValid(set.ATR)
	adx := lastValid(set.ADX)
	price := bars[len(bars)-1].Close
	if math.IsNaN(atr) || math.IsNaN(adx) || price <= 0 {
		return snap, fmt.Errorf("regime label %s: %w", symbol, ErrInsufficientData)
	}

	vol := atr / price
	snap.ATR = atr
	snap.Volatility = vol
	snap.TrendStrength = adx

	switch {
	case adx > r.cfg.ADXThreshold:
		snap.Regime = models.RegimeTrending
	case vol > 2*r.cfg.ATRRatioThreshold:
		snap.Regime = models.RegimeVolatile
	case vol < r.cfg.ATRRatioThreshold/3:
		snap.Regime = models.RegimeLowVolatility
	default:
		snap.Regime = models.RegimeRanging
	}
	return snap, nil
}

// PredictBreakout — эвристика направления пробоя по последнему бару:
// %B + RSI, рост объёма усиливает уверенность, но не обязателен.
// Это не откалиброванная вероятность, просто грубый ориентир.
func (r *Regime) PredictBreakout(bars []models.CandleTick) (models.BreakoutDirection, float64, error) {
	if len(bars) < MinBars {
		return models.BreakoutUnknown, 0, fmt.Errorf("breakout: %w", ErrInsufficientData)
	}

	set, err := r.ind.Compute(bars)
	if err != nil {
		return models.BreakoutUnknown, 0, err
	}

	i := len(bars) - 1
	pctB := set.PercentB[i]
	rsi := set.RSI[i]
	if math.IsNaN(pctB) || math.IsNaN(rsi) {
		return models.BreakoutUnknown, 0, fmt.Errorf("breakout: %w", ErrInsufficientData)
	}

	volRatio := volumeTrendRatio(bars)

	var dir models.BreakoutDirection
	switch {
	case pctB > 0.8 && rsi > 60:
		dir = models.BreakoutUp
	case pctB < 0.2 && rsi < 40:
		dir = models.BreakoutDown
	default:
		return models.BreakoutUnknown, 0, nil
	}

	conf := 0.5
	if volRatio > 1.2 {
		conf = math.Min(conf*1.2, 1.0) // буст за растущий объём
	}
	return dir, conf, nil
}

// volumeTrendRatio — средний объём последних 5 баров к среднему
// за предыдущие 15. >1 значит объём растёт.
func volumeTrendRatio(bars []models.CandleTick) float64 {
	if len(bars) < 20 {
		return 1
	}
	n := len(bars)
	recent := 0.0
	for _, b := range bars[n-5:] {
		recent += b.Volume
	}
	recent /= 5

	older := 0.0
	for _, b := range bars[n-20 : n-5] {
		older += b.Volume
	}
	older /= 15

	if older == 0 {
		return 1
	}
	return recent / older
}

// tailMean требует полностью валидное окно, иначе not ok.
func tailMean(vals []float64, window int) (float64, bool) {
	if len(vals) < window {
		return 0, false
	}
	sum := 0.0
	for _, v := range vals[len(vals)-window:] {
		if math.IsNaN(v) {
			return 0, false
		}
		sum += v
	}
	return sum / float64(window), true
}

// tailMeanRatio — среднее vals[i]/base[i] по окну.
func tailMeanRatio(vals, base []float64, window int) (float64, bool) {
	if len(vals) < window || len(base) < window {
		return 0, false
	}
	sum := 0.0
	for i := len(vals) - window; i < len(vals); i++ {
		if math.IsNaN(vals[i]) || base[i] == 0 {
			return 0, false
		}
		sum += vals[i] / base[i]
	}
	return sum / float64(window), true
}

func lastValid(vals []float64) float64 {
	for i := len(vals) - 1; i >= 0; i-- {
		if !math.IsNaN(vals[i]) {
			return vals[i]
		}
	}
	return math.NaN()
}
