package models

// DivergenceType — bullish/bearish.
type DivergenceType string

const (
	DivergenceBullish DivergenceType = "bullish"
	DivergenceBearish DivergenceType = "bearish"
)

// PivotPair — индексы двух опорных точек в исходном ряду.
type PivotPair struct {
	First  int
	Second int
}

// DivergenceResult — результат поиска дивергенции цена/осциллятор.
// Confidence всегда в [0,1], клампится при вычислении.
type DivergenceResult struct {
	Detected   bool
	Type       DivergenceType
	Confidence float64

	PricePivots      PivotPair
	OscillatorPivots PivotPair
	SpanBars         int // расстояние между опорами в барах
}
