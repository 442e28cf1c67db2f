package models

// IndicatorSet — производные ряды по одной последовательности свечей.
// Индексы совпадают с индексами исходных баров. Значения на разогреве — NaN
// (math.IsNaN проверять обязательно, это договорённость, а не мусор).
type IndicatorSet struct {
	RSI []float64

	MACD       []float64
	MACDSignal []float64
	MACDHist   []float64

	BBUpper  []float64
	BBMiddle []float64
	BBLower  []float64
	BBWidth  []float64 // (upper-lower)/middle
	PercentB []float64 // позиция close внутри полос, 0..1 (может выходить за границы)

	ADX []float64
	ATR []float64

	KeltnerUpper  []float64
	KeltnerMiddle []float64
	KeltnerLower  []float64
}
