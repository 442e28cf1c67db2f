package service

import (
	"testing"

	"trailbot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoundTripBeforeTicks(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), newFakeExchange(), &fakeRegime{})

	id, err := e.RegisterPosition("BTC-USDT", "rt1", 50000, 2, models.DirectionLong, 49000, 52000)
	require.NoError(t, err)

	p, ok := e.PositionInfo(id)
	require.True(t, ok)
	assert.InDelta(t, 49000, p.StopLoss, 1e-9)
	assert.InDelta(t, 52000, p.TakeProfit, 1e-9)
	assert.InDelta(t, 50000, p.EntryPrice, 1e-9)
	assert.InDelta(t, 2, p.OriginalSize, 1e-9)
	assert.InDelta(t, 2, p.CurrentSize, 1e-9)
	assert.False(t, p.TrailingActive)
	assert.Zero(t, p.TrailingStop)
	// экстремумы стартуют от входа
	assert.InDelta(t, 50000, p.HighestPrice, 1e-9)
	assert.InDelta(t, 50000, p.LowestPrice, 1e-9)

	all := e.ActivePositions()
	require.Len(t, all, 1)
	assert.Contains(t, all, id)
}
