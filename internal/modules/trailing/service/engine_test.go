package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	exchsvc "trailbot/internal/modules/exchange/service"
	"trailbot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.InfoLogger = zap.NewNop()
	logger.FatalLogger = zap.NewNop()
	os.Exit(m.Run())
}

// fakeExchange записывает все ордера; ошибки настраиваются.
type fakeExchange struct {
	mu         sync.Mutex
	orders     []exchsvc.OrderRequest
	failOrders bool
	klines     []models.CandleTick
	klinesErr  error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{klinesErr: errors.New("no klines")}
}

func (f *fakeExchange) CreateOrder(_ context.Context, r exchsvc.OrderRequest) (exchsvc.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, r)
	if f.failOrders {
		return exchsvc.OrderResult{}, errors.New("exchange down")
	}
	return exchsvc.OrderResult{OrderID: "fake", Status: "live"}, nil
}

func (f *fakeExchange) GetKlines(context.Context, string, string, int) ([]models.CandleTick, error) {
	return f.klines, f.klinesErr
}

func (f *fakeExchange) GetCurrentPrice(context.Context, string) (float64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeExchange) ordersOfType(typ string) []exchsvc.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []exchsvc.OrderRequest
	for _, o := range f.orders {
		if o.Type == typ {
			out = append(out, o)
		}
	}
	return out
}

type fakeRegime struct {
	snap models.RegimeSnapshot
	err  error
}

func (f *fakeRegime) Label(symbol string, _ []models.CandleTick) (models.RegimeSnapshot, error) {
	snap := f.snap
	snap.Symbol = symbol
	return snap, f.err
}

func newTestEngine(t *testing.T, cfg EngineConfig, fx *fakeExchange, fr *fakeRegime) *Engine {
	t.Helper()
	arch, err := NewArchiveAt(t.TempDir())
	require.NoError(t, err)

	scfg := &config.Config{Timeframe: "1m", RegimeRefreshEvery: time.Hour}
	return NewEngine(scfg, cfg, fx, fr, arch, nil, nil)
}

func archived(t *testing.T, e *Engine) []models.ClosedPosition {
	t.Helper()
	out, err := e.archive.ReadAll()
	require.NoError(t, err)
	return out
}

func TestLongTrailingLifecycle(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()
	base := time.Now()

	id, err := e.RegisterPosition("BTC-USDT", "ord1", 50000, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)

	// профит 0.2% — ниже порога активации
	e.UpdatePrice(ctx, "BTC-USDT", 50100, base)
	p, ok := e.PositionInfo(id)
	require.True(t, ok)
	assert.False(t, p.TrailingActive)

	// 0.6% — активация, стоп 0.3% от цены
	e.UpdatePrice(ctx, "BTC-USDT", 50300, base.Add(time.Minute))
	p, _ = e.PositionInfo(id)
	require.True(t, p.TrailingActive)
	assert.InDelta(t, 50149.1, p.TrailingStop, 1e-6)

	// новый максимум — храповик подтягивает стоп
	e.UpdatePrice(ctx, "BTC-USDT", 50600, base.Add(2*time.Minute))
	p, _ = e.PositionInfo(id)
	assert.InDelta(t, 50448.2, p.TrailingStop, 1e-6)

	// откат без нового максимума стоп не трогает
	e.UpdatePrice(ctx, "BTC-USDT", 50500, base.Add(3*time.Minute))
	p, _ = e.PositionInfo(id)
	assert.True(t, p.TrailingActive)
	assert.InDelta(t, 50448.2, p.TrailingStop, 1e-6)

	// пробой стопа — закрытие
	e.UpdatePrice(ctx, "BTC-USDT", 50400, base.Add(4*time.Minute))
	_, ok = e.PositionInfo(id)
	assert.False(t, ok)

	closed := archived(t, e)
	require.Len(t, closed, 1)
	assert.Equal(t, models.CloseTrailingStop, closed[0].CloseType)
	assert.InDelta(t, 50400, closed[0].ClosePrice, 1e-9)
	assert.InDelta(t, 0.8, closed[0].ProfitPct, 1e-9)

	// активация + храповик выставляли условные стопы, закрытие — маркет
	assert.Len(t, fx.ordersOfType("conditional"), 2)
	assert.Len(t, fx.ordersOfType("market"), 1)
}

func TestShortPartialExitIdempotent(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.PartialExitLevels = []PartialExitLevel{{ProfitPercentage: 2, ExitPercentage: 25}}

	fx := newFakeExchange()
	e := newTestEngine(t, cfg, fx, &fakeRegime{})
	ctx := context.Background()
	base := time.Now()

	id, err := e.RegisterPosition("ETH-USDT", "ord2", 50000, 1, models.DirectionShort, 0, 0)
	require.NoError(t, err)

	for i, px := range []float64{49500, 49000, 48500, 48000} {
		e.UpdatePrice(ctx, "ETH-USDT", px, base.Add(time.Duration(i)*time.Minute))
	}

	p, ok := e.PositionInfo(id)
	require.True(t, ok)

	// ступень 2% сработала ровно один раз, хотя профит рос дальше
	require.Len(t, p.PartialExits, 1)
	assert.InDelta(t, 2.0, p.PartialExits[0].ProfitThreshold, 1e-9)
	assert.InDelta(t, 0.25, p.PartialExits[0].ExitSize, 1e-9)
	assert.InDelta(t, 0.75, p.PartialExits[0].RemainingSize, 1e-9)
	assert.InDelta(t, 0.75, p.CurrentSize, 1e-9)

	// трейлинг для short подтягивается вниз и не разжимается
	assert.True(t, p.TrailingActive)
	assert.InDelta(t, 48000*1.003, p.TrailingStop, 1e-6)
	assert.InDelta(t, 48000, p.LowestPrice, 1e-9)
}

func TestManualCloseWritesArchive(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()

	id, err := e.RegisterPosition("BTC-USDT", "ord3", 50000, 0.5, models.DirectionLong, 49000, 0)
	require.NoError(t, err)

	require.True(t, e.ManualClosePosition(ctx, id, "operator request"))
	assert.False(t, e.ManualClosePosition(ctx, id, ""))

	_, ok := e.PositionInfo(id)
	assert.False(t, ok)

	closed := archived(t, e)
	require.Len(t, closed, 1)
	cp := closed[0]
	assert.Equal(t, models.CloseManual, cp.CloseType)
	// тиков не было: цена закрытия == цене входа, профит нулевой
	assert.InDelta(t, 50000, cp.ClosePrice, 1e-9)
	assert.Zero(t, cp.ProfitPct)
	assert.Equal(t, "operator request", cp.Reason)
	assert.Equal(t, "BTC-USDT", cp.Symbol)
	assert.InDelta(t, 0.5, cp.CloseSize, 1e-9)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEngine(t, DefaultEngineConfig(), newFakeExchange(), &fakeRegime{})

	_, err := e.RegisterPosition("", "o", 1, 1, models.DirectionLong, 0, 0)
	assert.Error(t, err)
	_, err = e.RegisterPosition("BTC-USDT", "o", 0, 1, models.DirectionLong, 0, 0)
	assert.Error(t, err)
	_, err = e.RegisterPosition("BTC-USDT", "o", 1, -1, models.DirectionLong, 0, 0)
	assert.Error(t, err)
	_, err = e.RegisterPosition("BTC-USDT", "o", 1, 1, "sideways", 0, 0)
	assert.Error(t, err)

	id, err := e.RegisterPosition("BTC-USDT", "o", 1, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, TrackingID("BTC-USDT", "o"), id)

	// дубль не регистрируется
	_, err = e.RegisterPosition("BTC-USDT", "o", 1, 1, models.DirectionLong, 0, 0)
	assert.Error(t, err)
}

func TestFixedStopBeforeActivation(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()

	id, err := e.RegisterPosition("BTC-USDT", "ord4", 50000, 1, models.DirectionLong, 49900, 0)
	require.NoError(t, err)

	e.UpdatePrice(ctx, "BTC-USDT", 49900, time.Now())
	_, ok := e.PositionInfo(id)
	assert.False(t, ok)

	closed := archived(t, e)
	require.Len(t, closed, 1)
	assert.Equal(t, models.CloseStopLoss, closed[0].CloseType)
}

func TestFixedStopIgnoredAfterActivation(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()
	base := time.Now()

	_, err := e.RegisterPosition("BTC-USDT", "ord5", 50000, 1, models.DirectionLong, 49000, 0)
	require.NoError(t, err)

	e.UpdatePrice(ctx, "BTC-USDT", 50300, base)
	// обвал глубоко ниже и трейлинга, и старого SL: закрытие по трейлингу
	e.UpdatePrice(ctx, "BTC-USDT", 48500, base.Add(time.Minute))

	closed := archived(t, e)
	require.Len(t, closed, 1)
	assert.Equal(t, models.CloseTrailingStop, closed[0].CloseType)
}

func TestTakeProfitAfterActivationSameTick(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()

	_, err := e.RegisterPosition("BTC-USDT", "ord6", 50000, 1, models.DirectionLong, 0, 51000)
	require.NoError(t, err)

	e.UpdatePrice(ctx, "BTC-USDT", 51000, time.Now())

	closed := archived(t, e)
	require.Len(t, closed, 1)
	assert.Equal(t, models.CloseTakeProfit, closed[0].CloseType)
	// трейлинг успел активироваться, но его стоп ниже цены — работает TP
	assert.True(t, closed[0].TrailingActive)
}

func TestCloseSurvivesExchangeFailure(t *testing.T) {
	fx := newFakeExchange()
	fx.failOrders = true
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()

	id, err := e.RegisterPosition("BTC-USDT", "ord7", 50000, 1, models.DirectionLong, 49900, 0)
	require.NoError(t, err)

	e.UpdatePrice(ctx, "BTC-USDT", 49800, time.Now())

	// биржа лежит, но позиция закрыта локально и заархивирована
	_, ok := e.PositionInfo(id)
	assert.False(t, ok)
	require.Len(t, archived(t, e), 1)
}

func TestUpdateStopLossValidation(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()

	id, err := e.RegisterPosition("BTC-USDT", "ord8", 50000, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)

	assert.False(t, e.UpdateStopLoss("missing", 49000))
	assert.False(t, e.UpdateStopLoss(id, 0))
	// стоп на прибыльной стороне от цены — отказ
	assert.False(t, e.UpdateStopLoss(id, 50500))

	require.True(t, e.UpdateStopLoss(id, 49500))
	p, _ := e.PositionInfo(id)
	assert.InDelta(t, 49500, p.StopLoss, 1e-9)
	assert.False(t, p.TrailingActive)

	// после активации ручной перенос двигает уже трейлинг-стоп
	e.UpdatePrice(ctx, "BTC-USDT", 50300, time.Now())
	require.True(t, e.UpdateStopLoss(id, 50200))
	p, _ = e.PositionInfo(id)
	assert.InDelta(t, 50200, p.TrailingStop, 1e-9)
	assert.InDelta(t, 49500, p.StopLoss, 1e-9)
}

func TestPartialExitLadderJump(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.PartialExitLevels = []PartialExitLevel{
		{ProfitPercentage: 1, ExitPercentage: 25},
		{ProfitPercentage: 2, ExitPercentage: 25},
	}

	fx := newFakeExchange()
	e := newTestEngine(t, cfg, fx, &fakeRegime{})
	ctx := context.Background()

	id, err := e.RegisterPosition("BTC-USDT", "ord9", 50000, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)

	// гэп сразу через обе ступени: срабатывают обе за один тик
	e.UpdatePrice(ctx, "BTC-USDT", 51000, time.Now())

	p, ok := e.PositionInfo(id)
	require.True(t, ok)
	require.Len(t, p.PartialExits, 2)
	assert.InDelta(t, 0.5, p.CurrentSize, 1e-9)

	// учёт размера сходится
	total := p.CurrentSize
	for _, pe := range p.PartialExits {
		total += pe.ExitSize
	}
	assert.InDelta(t, p.OriginalSize, total, 1e-9)
}

func TestProfitLadderAndProtectionFloor(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.ProfitBasedTrail = []ProfitTrailLevel{
		{ProfitThreshold: 0.5, TrailPercentage: 0.4},
		{ProfitThreshold: 1.0, TrailPercentage: 0.1},
	}

	fx := newFakeExchange()
	e := newTestEngine(t, cfg, fx, &fakeRegime{})
	ctx := context.Background()
	base := time.Now()

	id, err := e.RegisterPosition("BTC-USDT", "ord10", 50000, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)

	// трейл 0.4% дал бы 50098.8 — ниже защищённого минимума профита 50100
	e.UpdatePrice(ctx, "BTC-USDT", 50300, base)
	p, _ := e.PositionInfo(id)
	require.True(t, p.TrailingActive)
	assert.InDelta(t, 50100, p.TrailingStop, 1e-6)

	// профит выше 1% — плотная ступень 0.1%
	e.UpdatePrice(ctx, "BTC-USDT", 50600, base.Add(time.Minute))
	p, _ = e.PositionInfo(id)
	assert.InDelta(t, 50600*0.999, p.TrailingStop, 1e-6)
}

func TestRegimeDrivenTrailPercent(t *testing.T) {
	fx := newFakeExchange()
	fx.klines, fx.klinesErr = make([]models.CandleTick, 60), nil
	fr := &fakeRegime{snap: models.RegimeSnapshot{Regime: models.RegimeTrending}}
	e := newTestEngine(t, DefaultEngineConfig(), fx, fr)
	ctx := context.Background()
	base := time.Now()

	// первый тик прогревает кэш режима через klines
	e.UpdatePrice(ctx, "BTC-USDT", 50000, base)
	snap, ok := e.RegimeSnapshot("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, models.RegimeTrending, snap.Regime)

	id, err := e.RegisterPosition("BTC-USDT", "ord11", 50000, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)
	p, _ := e.PositionInfo(id)
	assert.Equal(t, models.RegimeTrending, p.Regime)

	// в тренде трейлим плотнее: 0.2%
	e.UpdatePrice(ctx, "BTC-USDT", 50300, base.Add(time.Minute))
	p, _ = e.PositionInfo(id)
	require.True(t, p.TrailingActive)
	assert.InDelta(t, 50300*0.998, p.TrailingStop, 1e-6)
}

func TestSnapshotsDoNotAliasState(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.PartialExitLevels = []PartialExitLevel{{ProfitPercentage: 1, ExitPercentage: 25}}

	fx := newFakeExchange()
	e := newTestEngine(t, cfg, fx, &fakeRegime{})
	ctx := context.Background()

	id, err := e.RegisterPosition("BTC-USDT", "ord12", 50000, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)
	e.UpdatePrice(ctx, "BTC-USDT", 50500, time.Now())

	p, _ := e.PositionInfo(id)
	require.Len(t, p.PartialExits, 1)
	p.PartialExits[0].ExitSize = 999
	p.CurrentSize = 999

	fresh, _ := e.PositionInfo(id)
	assert.InDelta(t, 0.25, fresh.PartialExits[0].ExitSize, 1e-9)
	assert.InDelta(t, 0.75, fresh.CurrentSize, 1e-9)

	all := e.ActivePositions()
	require.Len(t, all, 1)
	for _, cp := range all {
		cp.PartialExits[0].ExitSize = 777
	}
	fresh, _ = e.PositionInfo(id)
	assert.InDelta(t, 0.25, fresh.PartialExits[0].ExitSize, 1e-9)
}

func TestPriceBufferBounded(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		e.UpdatePrice(ctx, "BTC-USDT", 50000+float64(i), time.Now())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.LessOrEqual(t, len(e.prices["BTC-USDT"]), DefaultEngineConfig().VolatilityMeasureWindow*10)
	assert.InDelta(t, 50499, e.lastPrice["BTC-USDT"], 1e-9)
}

func TestPerformanceStatsAggregation(t *testing.T) {
	fx := newFakeExchange()
	e := newTestEngine(t, DefaultEngineConfig(), fx, &fakeRegime{})
	ctx := context.Background()
	base := time.Now()

	// победа по трейлингу
	_, err := e.RegisterPosition("BTC-USDT", "w1", 50000, 1, models.DirectionLong, 0, 0)
	require.NoError(t, err)
	e.UpdatePrice(ctx, "BTC-USDT", 50300, base)
	e.UpdatePrice(ctx, "BTC-USDT", 50100, base.Add(time.Minute))

	// убыток по фиксированному стопу
	_, err = e.RegisterPosition("ETH-USDT", "l1", 50000, 1, models.DirectionLong, 49900, 0)
	require.NoError(t, err)
	e.UpdatePrice(ctx, "ETH-USDT", 49800, base.Add(2*time.Minute))

	stats, err := e.PerformanceStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalClosed)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assert.Equal(t, 1, stats.ByCloseType[models.CloseTrailingStop])
	assert.Equal(t, 1, stats.ByCloseType[models.CloseStopLoss])
	assert.InDelta(t, (0.2-0.4)/2, stats.AvgProfitPct, 1e-9)
}
