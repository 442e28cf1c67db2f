package models

import "time"

// CandleTick — закрытая свеча OHLCV. Последовательность свечей упорядочена
// по времени и не изменяется после записи.
type CandleTick struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Start  time.Time
	End    time.Time
}

// TypicalPrice = (H+L+C)/3, для Keltner.
func (c CandleTick) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

func Closes(bars []CandleTick) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
