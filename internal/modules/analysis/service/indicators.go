package service

import (
	"errors"
	"math"

	"trailbot/internal/models"
)

// Периоды стандартные, под них же подобраны пороги классификатора.
const (
	rsiPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSigLen = 9

	bbPeriod = 20
	bbStdDev = 2.0

	adxPeriod = 14
	atrPeriod = 14

	keltnerPeriod    = 20
	keltnerATRPeriod = 10
	keltnerMult      = 2.0
)

// MinBars — минимум баров, после которого все ряды имеют хотя бы одно
// валидное значение (MACD signal прогревается дольше всех).
const MinBars = macdSlow + macdSigLen

// ErrInsufficientData — истории не хватает для осмысленного расчёта.
// Драйверы по символам ловят её и идут дальше, это не фатальная ошибка.
var ErrInsufficientData = errors.New("insufficient data")

// Indicators — чистый вычислитель: никаких side effects, детерминирован
// на одинаковом входе.
type Indicators struct{}

func NewIndicators() *Indicators { return &Indicators{} }

// Compute считает все ряды по последовательности свечей. Ряды той же длины,
// что и вход; значения на разогреве — NaN (см. models.IndicatorSet).
func (x *Indicators) Compute(bars []models.CandleTick) (*models.IndicatorSet, error) {
	if len(bars) == 0 {
		return nil, ErrInsufficientData
	}

	closes := models.Closes(bars)

	set := &models.IndicatorSet{
		RSI: rsiSeries(closes, rsiPeriod),
		ATR: atrSeries(bars, atrPeriod),
		ADX: adxSeries(bars, adxPeriod),
	}

	set.MACD, set.MACDSignal, set.MACDHist = macdSeries(closes)
	set.BBUpper, set.BBMiddle, set.BBLower, set.BBWidth, set.PercentB = bollingerSeries(closes, bars)
	set.KeltnerUpper, set.KeltnerMiddle, set.KeltnerLower = keltnerSeries(bars)

	return set, nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func firstValid(vals []float64) int {
	for i, v := range vals {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// emaSeries — EMA с сидом SMA по первому полному окну. Ведущие NaN входа
// пропускаются (нужно для signal-линии MACD).
func emaSeries(vals []float64, period int) []float64 {
	out := nanSlice(len(vals))
	f := firstValid(vals)
	if f < 0 || len(vals)-f < period {
		return out
	}

	seed := mean(vals[f : f+period])
	out[f+period-1] = seed

	k := 2.0 / float64(period+1)
	prev := seed
	for i := f + period; i < len(vals); i++ {
		prev = prev + k*(vals[i]-prev)
		out[i] = prev
	}
	return out
}

// rsiSeries — RSI по Уайлдеру. Первое значение на индексе period.
func rsiSeries(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		ch := closes[i] - closes[i-1]
		if ch > 0 {
			avgGain += ch
		} else {
			avgLoss -= ch
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		ch := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if ch > 0 {
			gain = ch
		} else {
			loss = -ch
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // рынок стоит
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func macdSeries(closes []float64) (macd, signal, hist []float64) {
	fast := emaSeries(closes, macdFast)
	slow := emaSeries(closes, macdSlow)

	macd = nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) {
			macd[i] = fast[i] - slow[i]
		}
	}

	signal = emaSeries(macd, macdSigLen)

	hist = nanSlice(len(closes))
	for i := range closes {
		if !math.IsNaN(macd[i]) && !math.IsNaN(signal[i]) {
			hist[i] = macd[i] - signal[i]
		}
	}
	return macd, signal, hist
}

func bollingerSeries(closes []float64, bars []models.CandleTick) (upper, middle, lower, width, pctB []float64) {
	n := len(closes)
	upper, middle, lower = nanSlice(n), nanSlice(n), nanSlice(n)
	width, pctB = nanSlice(n), nanSlice(n)

	for i := bbPeriod - 1; i < n; i++ {
		win := closes[i-bbPeriod+1 : i+1]
		m := mean(win)
		variance := 0.0
		for _, v := range win {
			variance += (v - m) * (v - m)
		}
		sd := math.Sqrt(variance / float64(bbPeriod))

		middle[i] = m
		upper[i] = m + bbStdDev*sd
		lower[i] = m - bbStdDev*sd

		if m != 0 {
			width[i] = (upper[i] - lower[i]) / m
		}
		if band := upper[i] - lower[i]; band > 0 {
			pctB[i] = (bars[i].Close - lower[i]) / band
		} else {
			pctB[i] = 0.5 // полосы схлопнулись, цена "в середине"
		}
	}
	return upper, middle, lower, width, pctB
}

func trueRanges(bars []models.CandleTick) []float64 {
	tr := nanSlice(len(bars))
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// atrSeries — ATR по Уайлдеру. Первое значение на индексе period.
func atrSeries(bars []models.CandleTick, period int) []float64 {
	out := nanSlice(len(bars))
	if len(bars) < period+1 {
		return out
	}

	tr := trueRanges(bars)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	prev := sum / float64(period)
	out[period] = prev

	for i := period + 1; i < len(bars); i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}
	return out
}

// adxSeries — ADX по Уайлдеру. Первое значение на индексе 2*period.
func adxSeries(bars []models.CandleTick, period int) []float64 {
	out := nanSlice(len(bars))
	if len(bars) < 2*period+1 {
		return out
	}

	tr := trueRanges(bars)
	plusDM := nanSlice(len(bars))
	minusDM := nanSlice(len(bars))
	for i := 1; i < len(bars); i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nanSlice(len(bars))
	dx[period] = dxValue(smPlus, smMinus, smTR)

	for i := period + 1; i < len(bars); i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = dxValue(smPlus, smMinus, smTR)
	}

	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	prev := sum / float64(period)
	out[2*period] = prev
	for i := 2*period + 1; i < len(bars); i++ {
		prev = (prev*float64(period-1) + dx[i]) / float64(period)
		out[i] = prev
	}
	return out
}

func dxValue(smPlus, smMinus, smTR float64) float64 {
	if smTR == 0 {
		return 0
	}
	pdi := 100 * smPlus / smTR
	mdi := 100 * smMinus / smTR
	if pdi+mdi == 0 {
		return 0
	}
	return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
}

func keltnerSeries(bars []models.CandleTick) (upper, middle, lower []float64) {
	n := len(bars)
	typ := make([]float64, n)
	for i, b := range bars {
		typ[i] = b.TypicalPrice()
	}

	middle = emaSeries(typ, keltnerPeriod)
	atr := atrSeries(bars, keltnerATRPeriod)

	upper, lower = nanSlice(n), nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(middle[i]) && !math.IsNaN(atr[i]) {
			upper[i] = middle[i] + keltnerMult*atr[i]
			lower[i] = middle[i] - keltnerMult*atr[i]
		}
	}
	return upper, middle, lower
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
