package service

import (
	"math"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"
)

// Divergence ищет классическую дивергенцию цена/RSI по опорным точкам.
type Divergence struct {
	cfg *config.Config
}

func NewDivergence(cfg *config.Config) *Divergence {
	return &Divergence{cfg: cfg}
}

// Detect — поиск дивергенции на последних window барах.
// bullish=true: ищем lower low по цене и higher low по осциллятору,
// bullish=false — зеркально по максимумам.
func (d *Divergence) Detect(bars []models.CandleTick, rsi []float64, bullish bool, window int) models.DivergenceResult {
	if window <= 0 {
		window = d.cfg.DivergenceWindow
	}
	minDist := d.cfg.MinPivotDistance
	if minDist <= 0 {
		minDist = 5
	}

	if len(bars) == 0 || len(rsi) != len(bars) {
		return models.DivergenceResult{}
	}

	start := len(bars) - window
	if start < 0 {
		start = 0
	}

	price := make([]float64, 0, len(bars)-start)
	osc := make([]float64, 0, len(bars)-start)
	for i := start; i < len(bars); i++ {
		if bullish {
			price = append(price, bars[i].Low)
		} else {
			price = append(price, bars[i].High)
		}
		osc = append(osc, rsi[i])
	}

	findMin := bullish
	pricePivots := findPivots(price, minDist, findMin)
	oscPivots := findPivots(osc, minDist, findMin)
	if len(pricePivots) < 2 || len(oscPivots) < 2 {
		return models.DivergenceResult{}
	}

	p1, p2 := pricePivots[len(pricePivots)-2], pricePivots[len(pricePivots)-1]
	o1, o2 := oscPivots[len(oscPivots)-2], oscPivots[len(oscPivots)-1]

	var (
		condition bool
		dtype     models.DivergenceType
	)
	if bullish {
		// цена обновила минимум, осциллятор — нет
		condition = price[p2] < price[p1] && osc[o2] > osc[o1]
		dtype = models.DivergenceBullish
	} else {
		condition = price[p2] > price[p1] && osc[o2] < osc[o1]
		dtype = models.DivergenceBearish
	}

	conf := divergenceConfidence(price[p1], price[p2], osc[o1], osc[o2])
	if bullish && osc[o2] < 30 {
		conf = math.Min(conf*1.2, 1.0) // осциллятор в зоне перепроданности
	}
	if !bullish && osc[o2] > 70 {
		conf = math.Min(conf*1.2, 1.0)
	}

	res := models.DivergenceResult{
		Type:             dtype,
		Confidence:       conf,
		PricePivots:      models.PivotPair{First: start + p1, Second: start + p2},
		OscillatorPivots: models.PivotPair{First: start + o1, Second: start + o2},
		SpanBars:         p2 - p1,
	}
	res.Detected = condition && conf >= d.cfg.DivergenceMinConf
	return res
}

// Signal сравнивает бычью и медвежью дивергенции и отдаёт более
// уверенную сторону. Ничего не найдено — SideNone.
func (d *Divergence) Signal(bars []models.CandleTick, rsi []float64, window int) (models.Side, models.DivergenceResult) {
	bull := d.Detect(bars, rsi, true, window)
	bear := d.Detect(bars, rsi, false, window)

	switch {
	case bull.Detected && (!bear.Detected || bull.Confidence >= bear.Confidence):
		return models.SideBuy, bull
	case bear.Detected:
		return models.SideSell, bear
	default:
		return models.SideNone, models.DivergenceResult{}
	}
}

// findPivots — локальные экстремумы в симметричном окне minDist баров
// с каждой стороны; принятые опоры разделены минимум minDist барами
// (жадно слева направо). NaN в окрестности точку дисквалифицирует.
func findPivots(vals []float64, minDist int, findMin bool) []int {
	var out []int
	lastAccepted := -minDist - 1

	for i := minDist; i < len(vals)-minDist; i++ {
		v := vals[i]
		if math.IsNaN(v) {
			continue
		}

		isPivot := true
		for j := i - minDist; j <= i+minDist && isPivot; j++ {
			if j == i {
				continue
			}
			w := vals[j]
			if math.IsNaN(w) {
				isPivot = false
				break
			}
			if findMin {
				if v > w {
					isPivot = false
				}
			} else {
				if v < w {
					isPivot = false
				}
			}
		}
		if !isPivot {
			continue
		}
		if i-lastAccepted < minDist {
			continue
		}
		out = append(out, i)
		lastAccepted = i
	}
	return out
}

// divergenceConfidence — нормированная величина расхождения,
// всегда в [0,1] (в том числе на нулевом осцилляторе и плоской цене).
func divergenceConfidence(p1, p2, o1, o2 float64) float64 {
	var priceDelta, oscDelta float64
	if p1 != 0 {
		priceDelta = math.Abs(p2-p1) / math.Abs(p1)
	}
	if o1 != 0 {
		oscDelta = math.Abs(o2-o1) / math.Abs(o1)
	}
	return clamp01((priceDelta + oscDelta) / 0.1)
}
