package models

import "time"

// Regime — закрытый набор режимов рынка.
type Regime string

const (
	RegimeTrending      Regime = "trending"
	RegimeRanging       Regime = "ranging"
	RegimeVolatile      Regime = "volatile"
	RegimeLowVolatility Regime = "low_volatility"
	RegimeUnknown       Regime = "unknown"
)

// SidewaysScore — результат классификатора боковика.
type SidewaysScore struct {
	IsSideways bool
	Score      float64 // [0,1]

	// Составляющие, полезны в логах и отчётах.
	SqueezeScore    float64
	VolatilityScore float64
	TrendScore      float64
	MomentumScore   float64
}

// RegimeSnapshot — кэш режима по символу. Перезаписывается целиком,
// истории не храним (last-write-wins).
type RegimeSnapshot struct {
	Symbol        string
	Regime        Regime
	Volatility    float64 // ATR/price
	ATR           float64
	TrendStrength float64
	UpdatedAt     time.Time
}
