package service

import (
	"testing"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analysisConfig() *config.Config {
	cfg := &config.Config{
		SidewaysWindow:    10,
		BBWidthThreshold:  0.04,
		ATRRatioThreshold: 0.015,
		ADXThreshold:      25,
		DivergenceWindow:  30,
		MinPivotDistance:  5,
		DivergenceMinConf: 0.5,
	}
	return cfg
}

func TestClassifyInsufficientData(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())
	_, err := r.Classify(flatBars(20, 100), 10)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestClassifyFlatMarketIsSideways(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())
	score, err := r.Classify(flatBars(60, 100), 10)
	require.NoError(t, err)

	// мёртвый рынок — все суб-скоры единичные
	assert.InDelta(t, 1.0, score.SqueezeScore, 1e-9)
	assert.InDelta(t, 1.0, score.VolatilityScore, 1e-9)
	assert.InDelta(t, 1.0, score.TrendScore, 1e-9)
	assert.InDelta(t, 1.0, score.MomentumScore, 1e-9)
	assert.InDelta(t, 1.0, score.Score, 1e-9)
	assert.True(t, score.IsSideways)
}

func TestClassifyStrongTrendIsNotSideways(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())
	score, err := r.Classify(rampBars(60, 100, 1), 10)
	require.NoError(t, err)

	assert.InDelta(t, 0, score.TrendScore, 1e-9)  // ADX=100 на монотонном тренде
	assert.InDelta(t, 0, score.SqueezeScore, 1e-9)
	assert.False(t, score.IsSideways)
	assert.GreaterOrEqual(t, score.Score, 0.0)
	assert.LessOrEqual(t, score.Score, 1.0)
}

func TestClassifyScoreMatchesSidewaysFlag(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())
	for _, bars := range [][]models.CandleTick{
		flatBars(60, 100),
		rampBars(60, 100, 1),
		rampBars(60, 100, -0.5),
	} {
		score, err := r.Classify(bars, 10)
		require.NoError(t, err)
		assert.Equal(t, score.Score > 0.6, score.IsSideways)
	}
}

func TestLabelRegimes(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())

	snap, err := r.Label("BTC-USDT", flatBars(60, 100))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeLowVolatility, snap.Regime)
	assert.Equal(t, "BTC-USDT", snap.Symbol)

	snap, err = r.Label("BTC-USDT", rampBars(60, 100, 1))
	require.NoError(t, err)
	assert.Equal(t, models.RegimeTrending, snap.Regime)
	assert.Greater(t, snap.TrendStrength, 25.0)
}

func TestLabelInsufficientData(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())
	snap, err := r.Label("BTC-USDT", flatBars(10, 100))
	require.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, models.RegimeUnknown, snap.Regime)
}

func TestPredictBreakoutNeutralOnFlat(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())
	dir, conf, err := r.PredictBreakout(flatBars(60, 100))
	require.NoError(t, err)
	assert.Equal(t, models.BreakoutUnknown, dir)
	assert.Zero(t, conf)
}

func TestPredictBreakoutUpOnRally(t *testing.T) {
	r := NewRegime(analysisConfig(), NewIndicators())

	bars := rampBars(60, 100, 1)
	dir, conf, err := r.PredictBreakout(bars)
	require.NoError(t, err)
	assert.Equal(t, models.BreakoutUp, dir)
	assert.InDelta(t, 0.5, conf, 1e-9)

	// растущий объём усиливает уверенность
	for i := len(bars) - 5; i < len(bars); i++ {
		bars[i].Volume = 300
	}
	dir, conf, err = r.PredictBreakout(bars)
	require.NoError(t, err)
	assert.Equal(t, models.BreakoutUp, dir)
	assert.InDelta(t, 0.6, conf, 1e-9)
}
