package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	exchsvc "trailbot/internal/modules/exchange/service"
	"trailbot/pkg/logger"
)

// ExchangeClient — то, что движку нужно от биржи. Любая реализация,
// ошибки обязаны возвращаться, движок сам их глотает и логирует.
type ExchangeClient interface {
	CreateOrder(ctx context.Context, r exchsvc.OrderRequest) (exchsvc.OrderResult, error)
	GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]models.CandleTick, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// RegimeSource — классификатор режима для кэша по символу.
type RegimeSource interface {
	Label(symbol string, bars []models.CandleTick) (models.RegimeSnapshot, error)
}

// Notifier — пассивные уведомления о событиях движка. nil допустим.
type Notifier interface {
	Sendf(format string, args ...any)
}

// Recorder — дополнительная запись закрытий (постгрес). nil допустим,
// архив на диске — первичный и пишется всегда.
type Recorder interface {
	RecordClose(ctx context.Context, cp models.ClosedPosition) error
}

// Engine — трейлинг-стоп движок. Одна позиция проходит состояния
// OPEN_FIXED -> OPEN_TRAILING -> CLOSED; частичные фиксации состояния
// не меняют. Весь мьютекс один и грубый: пока обрабатывается тик,
// остальные вызовы ждут. Биржевые вызовы выполняются под локом —
// это сознательное упрощение, порядок применения тиков важнее
// пропускной способности.
type Engine struct {
	mu sync.Mutex

	cfg    EngineConfig
	scfg   *config.Config
	ex     ExchangeClient
	regSrc RegimeSource

	archive *Archive
	notify  Notifier
	history Recorder

	positions map[string]*models.TrackedPosition
	regimes   map[string]models.RegimeSnapshot
	prices    map[string][]float64 // история close по символу, для режима
	lastPrice map[string]float64
}

func NewEngine(
	scfg *config.Config,
	cfg EngineConfig,
	ex ExchangeClient,
	regSrc RegimeSource,
	archive *Archive,
	notify Notifier,
	history Recorder,
) *Engine {
	return &Engine{
		cfg:       cfg,
		scfg:      scfg,
		ex:        ex,
		regSrc:    regSrc,
		archive:   archive,
		notify:    notify,
		history:   history,
		positions: make(map[string]*models.TrackedPosition),
		regimes:   make(map[string]models.RegimeSnapshot),
		prices:    make(map[string][]float64),
		lastPrice: make(map[string]float64),
	}
}

// TrackingID — идентификатор позиции в живой таблице.
func TrackingID(symbol, orderID string) string { return symbol + "_" + orderID }

// RegisterPosition ставит позицию под трейлинг. StopLoss/TakeProfit
// нулевые — "не задано".
func (e *Engine) RegisterPosition(
	symbol, orderID string,
	entryPrice, size float64,
	direction models.Direction,
	stopLoss, takeProfit float64,
) (string, error) {
	if symbol == "" || orderID == "" {
		return "", fmt.Errorf("register: empty symbol/orderID")
	}
	if entryPrice <= 0 || size <= 0 {
		return "", fmt.Errorf("register %s: entry=%.8f size=%.8f", symbol, entryPrice, size)
	}
	if direction != models.DirectionLong && direction != models.DirectionShort {
		return "", fmt.Errorf("register %s: bad direction %q", symbol, direction)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := TrackingID(symbol, orderID)
	if _, exists := e.positions[id]; exists {
		return "", fmt.Errorf("register %s: already tracked", id)
	}

	regime := models.RegimeUnknown
	if snap, ok := e.regimes[symbol]; ok {
		regime = snap.Regime
	}

	now := time.Now()
	e.positions[id] = &models.TrackedPosition{
		TrackingID:   id,
		Symbol:       symbol,
		OrderID:      orderID,
		Direction:    direction,
		EntryPrice:   entryPrice,
		OriginalSize: size,
		CurrentSize:  size,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		HighestPrice: entryPrice,
		LowestPrice:  entryPrice,
		Regime:       regime,
		OpenedAt:     now,
		UpdatedAt:    now,
	}

	logger.Info("track %s: %s entry=%.8f size=%.8f sl=%.8f tp=%.8f",
		id, direction, entryPrice, size, stopLoss, takeProfit)
	return id, nil
}

// UpdatePrice применяет тик ко всем позициям символа. Тики по одному
// символу должен подавать вызывающий в неубывающем порядке времени,
// движок их не буферизует и не переупорядочивает.
func (e *Engine) UpdatePrice(ctx context.Context, symbol string, price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pushPrice(symbol, price)
	e.maybeRefreshRegime(ctx, symbol)

	ids := make([]string, 0, 4)
	for id, p := range e.positions {
		if p.Symbol == symbol {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		p, ok := e.positions[id]
		if !ok {
			continue
		}
		e.processTick(ctx, p, price, ts)
	}
}

// processTick — один тик по одной позиции. Порядок проверок фиксирован:
// частичная фиксация -> пробой трейлинг-стопа -> фиксированный SL
// (пока трейлинг не активен) -> TP. Первое закрывающее срабатывание
// завершает обработку.
func (e *Engine) processTick(ctx context.Context, p *models.TrackedPosition, price float64, ts time.Time) {
	newExtreme := false
	if p.Direction == models.DirectionLong {
		if price > p.HighestPrice {
			p.HighestPrice = price
			newExtreme = true
		}
	} else {
		if price < p.LowestPrice {
			p.LowestPrice = price
			newExtreme = true
		}
	}
	p.ProfitPct = p.ProfitPercentAt(price)
	p.UpdatedAt = ts

	e.checkPartialExits(ctx, p, price, ts)

	switch {
	case !p.TrailingActive && p.ProfitPct >= e.cfg.ActivationThreshold:
		e.activateTrailing(ctx, p, price)
	case p.TrailingActive && newExtreme:
		e.ratchetTrailing(ctx, p, price)
	}

	// --- закрывающие условия ---
	if p.TrailingActive && p.TrailingStop > 0 && breached(p.Direction, price, p.TrailingStop) {
		e.closePosition(ctx, p, models.CloseTrailingStop, price, "trailing stop hit", ts)
		return
	}
	if !p.TrailingActive && p.StopLoss > 0 && breached(p.Direction, price, p.StopLoss) {
		e.closePosition(ctx, p, models.CloseStopLoss, price, "stop loss hit", ts)
		return
	}
	if p.TakeProfit > 0 && breachedTP(p.Direction, price, p.TakeProfit) {
		e.closePosition(ctx, p, models.CloseTakeProfit, price, "take profit hit", ts)
		return
	}
}

// breached — пробой стопа: long закрывается при price <= stop,
// short при price >= stop.
func breached(dir models.Direction, price, stop float64) bool {
	if dir == models.DirectionLong {
		return price <= stop
	}
	return price >= stop
}

func breachedTP(dir models.Direction, price, tp float64) bool {
	if dir == models.DirectionLong {
		return price >= tp
	}
	return price <= tp
}

// checkPartialExits — лесенка частичной фиксации. Каждая ступень
// срабатывает не больше одного раза (смотрим уже записанные exits).
func (e *Engine) checkPartialExits(ctx context.Context, p *models.TrackedPosition, price float64, ts time.Time) {
	for _, lvl := range e.cfg.PartialExitLevels {
		if p.ProfitPct < lvl.ProfitPercentage {
			continue
		}
		if partialTriggered(p, lvl.ProfitPercentage) {
			continue
		}
		if p.CurrentSize <= 0 {
			return
		}

		exitSize := p.OriginalSize * lvl.ExitPercentage / 100
		if exitSize > p.CurrentSize {
			exitSize = p.CurrentSize
		}
		if exitSize <= 0 {
			continue
		}

		p.CurrentSize -= exitSize
		p.PartialExits = append(p.PartialExits, models.PartialExit{
			ProfitThreshold: lvl.ProfitPercentage,
			ExitSize:        exitSize,
			RemainingSize:   p.CurrentSize,
			Timestamp:       ts,
		})

		// best effort: ошибка биржи не откатывает локальное состояние
		if _, err := e.ex.CreateOrder(ctx, exchsvc.OrderRequest{
			Symbol:        p.Symbol,
			Side:          flattenSide(p.Direction),
			Type:          "market",
			Size:          exitSize,
			ClosePosition: true,
		}); err != nil {
			logger.Error("partial exit order %s: %v", p.TrackingID, err)
		}

		logger.Info("partial exit %s: threshold=%.2f%% size=%.8f remaining=%.8f",
			p.TrackingID, lvl.ProfitPercentage, exitSize, p.CurrentSize)
		if e.notify != nil {
			e.notify.Sendf("💰 [%s] Частичная фиксация %.0f%% на +%.2f%% (остаток %.4f)",
				p.Symbol, lvl.ExitPercentage, lvl.ProfitPercentage, p.CurrentSize)
		}
	}
}

func partialTriggered(p *models.TrackedPosition, threshold float64) bool {
	for _, pe := range p.PartialExits {
		if pe.ProfitThreshold == threshold {
			return true
		}
	}
	return false
}

// activateTrailing — переход OPEN_FIXED -> OPEN_TRAILING. Переход
// одноразовый, назад TrailingActive не падает никогда.
func (e *Engine) activateTrailing(ctx context.Context, p *models.TrackedPosition, price float64) {
	trailPct := e.cfg.TrailPercent(p.ProfitPct, string(e.currentRegime(p.Symbol)))
	stop := trailStopAt(p.Direction, price, trailPct)

	// стоп не может быть хуже уже стоящего фиксированного
	if p.StopLoss > 0 {
		if p.Direction == models.DirectionLong && p.StopLoss > stop {
			stop = p.StopLoss
		}
		if p.Direction == models.DirectionShort && p.StopLoss < stop {
			stop = p.StopLoss
		}
	}
	// и не ниже защищённого минимума профита
	if e.cfg.MinProfitProtection > 0 {
		floor := protectionFloor(p, e.cfg.MinProfitProtection)
		if p.Direction == models.DirectionLong && floor > stop {
			stop = floor
		}
		if p.Direction == models.DirectionShort && floor < stop {
			stop = floor
		}
	}

	p.TrailingActive = true
	p.TrailingStop = stop
	p.Regime = e.currentRegime(p.Symbol)

	e.placeStopOrder(ctx, p)

	logger.Info("trailing on %s: profit=%.2f%% trail=%.2f%% stop=%.8f",
		p.TrackingID, p.ProfitPct, trailPct, stop)
	if e.notify != nil {
		e.notify.Sendf("🛡 [%s] Трейлинг активирован (%s) стоп=%.6f", p.Symbol, p.Direction, stop)
	}
}

// ratchetTrailing — подтяжка стопа на новом экстремуме. Храповик:
// двигаем только если кандидат строго лучше текущего стопа.
func (e *Engine) ratchetTrailing(ctx context.Context, p *models.TrackedPosition, price float64) {
	trailPct := e.cfg.TrailPercent(p.ProfitPct, string(e.currentRegime(p.Symbol)))
	candidate := trailStopAt(p.Direction, price, trailPct)

	improved := false
	if p.Direction == models.DirectionLong && candidate > p.TrailingStop {
		improved = true
	}
	if p.Direction == models.DirectionShort && (p.TrailingStop == 0 || candidate < p.TrailingStop) {
		improved = true
	}
	if !improved {
		return
	}

	p.TrailingStop = candidate
	e.placeStopOrder(ctx, p)

	logger.Info("ratchet %s: stop -> %.8f (trail=%.2f%%)", p.TrackingID, candidate, trailPct)
}

func trailStopAt(dir models.Direction, price, trailPct float64) float64 {
	if dir == models.DirectionLong {
		return price * (1 - trailPct/100)
	}
	return price * (1 + trailPct/100)
}

// protectionFloor — стоп, фиксирующий минимум защищённого профита.
func protectionFloor(p *models.TrackedPosition, minProfitPct float64) float64 {
	if p.Direction == models.DirectionLong {
		return p.EntryPrice * (1 + minProfitPct/100)
	}
	return p.EntryPrice * (1 - minProfitPct/100)
}

// placeStopOrder — выставление стопа на бирже best effort. Локальный
// стоп — источник истины для решений движка, сверка с биржевым
// ордером — осознанный не-гоал.
func (e *Engine) placeStopOrder(ctx context.Context, p *models.TrackedPosition) {
	if _, err := e.ex.CreateOrder(ctx, exchsvc.OrderRequest{
		Symbol:        p.Symbol,
		Side:          flattenSide(p.Direction),
		Type:          "conditional",
		Size:          p.CurrentSize,
		StopPrice:     p.TrailingStop,
		ClosePosition: true,
	}); err != nil {
		logger.Error("place stop order %s: %v", p.TrackingID, err)
	}
}

func flattenSide(dir models.Direction) string {
	if dir == models.DirectionLong {
		return "sell"
	}
	return "buy"
}

// closePosition — терминальное закрытие: маркет на остаток (best effort),
// архив пишется независимо от результата биржи, потом позиция
// выкидывается из живой таблицы.
func (e *Engine) closePosition(
	ctx context.Context,
	p *models.TrackedPosition,
	closeType models.CloseType,
	price float64,
	reason string,
	ts time.Time,
) {
	if p.CurrentSize > 0 {
		if _, err := e.ex.CreateOrder(ctx, exchsvc.OrderRequest{
			Symbol:        p.Symbol,
			Side:          flattenSide(p.Direction),
			Type:          "market",
			Size:          p.CurrentSize,
			ClosePosition: true,
		}); err != nil {
			logger.Error("close order %s: %v", p.TrackingID, err)
		}
	}

	cp := models.ClosedPosition{
		TrackedPosition: p.Copy(),
		CloseType:       closeType,
		ClosePrice:      price,
		CloseSize:       p.CurrentSize,
		Reason:          reason,
		ClosedAt:        ts,
	}
	cp.ProfitPct = p.ProfitPercentAt(price)

	if err := e.archive.Write(cp); err != nil {
		logger.Error("archive %s: %v", p.TrackingID, err)
	}
	if e.history != nil {
		if err := e.history.RecordClose(ctx, cp); err != nil {
			logger.Error("history %s: %v", p.TrackingID, err)
		}
	}

	delete(e.positions, p.TrackingID)

	logger.Info("closed %s: type=%s price=%.8f profit=%.2f%% reason=%s",
		p.TrackingID, closeType, price, cp.ProfitPct, reason)
	if e.notify != nil {
		e.notify.Sendf("🔔 [%s] Закрытие (%s) %s @ %.6f | %+.2f%%",
			p.Symbol, p.Direction, closeType, price, cp.ProfitPct)
	}
}

// UpdateStopLoss — ручной перенос стопа оператором. Новый стоп обязан
// быть на убыточной стороне от текущей цены, иначе отказ без мутаций.
func (e *Engine) UpdateStopLoss(trackingID string, newPrice float64) bool {
	if newPrice <= 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[trackingID]
	if !ok {
		return false
	}

	ref := e.lastPrice[p.Symbol]
	if ref <= 0 {
		ref = p.EntryPrice
	}
	if p.Direction == models.DirectionLong && newPrice >= ref {
		return false
	}
	if p.Direction == models.DirectionShort && newPrice <= ref {
		return false
	}

	if p.TrailingActive {
		p.TrailingStop = newPrice
	} else {
		p.StopLoss = newPrice
	}
	p.UpdatedAt = time.Now()

	logger.Info("manual stop %s -> %.8f", trackingID, newPrice)
	return true
}

// ManualClosePosition — закрытие по команде оператора.
func (e *Engine) ManualClosePosition(ctx context.Context, trackingID, reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[trackingID]
	if !ok {
		return false
	}

	price := e.lastPrice[p.Symbol]
	if price <= 0 {
		price = p.EntryPrice
	}
	if reason == "" {
		reason = "manual close"
	}
	e.closePosition(ctx, p, models.CloseManual, price, reason, time.Now())
	return true
}

// ActivePositions — глубокие копии всех живых позиций.
func (e *Engine) ActivePositions() map[string]models.TrackedPosition {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]models.TrackedPosition, len(e.positions))
	for id, p := range e.positions {
		out[id] = p.Copy()
	}
	return out
}

// PositionInfo — снапшот одной позиции.
func (e *Engine) PositionInfo(trackingID string) (models.TrackedPosition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[trackingID]
	if !ok {
		return models.TrackedPosition{}, false
	}
	return p.Copy(), true
}

// --- режим и история цен ---

func (e *Engine) currentRegime(symbol string) models.Regime {
	if snap, ok := e.regimes[symbol]; ok {
		return snap.Regime
	}
	return models.RegimeUnknown
}

func (e *Engine) pushPrice(symbol string, price float64) {
	buf := append(e.prices[symbol], price)
	maxLen := e.cfg.VolatilityMeasureWindow * 10
	if maxLen > 0 && len(buf) > maxLen {
		buf = buf[len(buf)-maxLen:]
	}
	e.prices[symbol] = buf
	e.lastPrice[symbol] = price
}

// maybeRefreshRegime — ленивое обновление кэша режима, не чаще чем раз
// в RegimeRefreshEvery. Хватает локальной истории — строим псевдо-бары
// из close; нет — добираем klines с биржи (fallback).
func (e *Engine) maybeRefreshRegime(ctx context.Context, symbol string) {
	refreshEvery := e.scfg.RegimeRefreshEvery
	if refreshEvery <= 0 {
		refreshEvery = time.Hour
	}
	snap, ok := e.regimes[symbol]
	if ok && time.Since(snap.UpdatedAt) < refreshEvery {
		return
	}

	const needBars = 40 // с запасом на прогрев ADX

	var bars []models.CandleTick
	if buf := e.prices[symbol]; len(buf) >= needBars {
		bars = make([]models.CandleTick, len(buf))
		for i, px := range buf {
			bars[i] = models.CandleTick{Open: px, High: px, Low: px, Close: px}
		}
	} else {
		kl, err := e.ex.GetKlines(ctx, symbol, e.scfg.Timeframe, 100)
		if err != nil {
			logger.Warn("regime backfill %s: %v", symbol, err)
			// отметимся, чтобы не долбить биржу на каждом тике
			e.regimes[symbol] = models.RegimeSnapshot{
				Symbol: symbol, Regime: e.currentRegime(symbol), UpdatedAt: time.Now(),
			}
			return
		}
		bars = kl
	}

	newSnap, err := e.regSrc.Label(symbol, bars)
	if err != nil {
		logger.Warn("regime label %s: %v", symbol, err)
		newSnap = models.RegimeSnapshot{Symbol: symbol, Regime: models.RegimeUnknown}
	}
	newSnap.UpdatedAt = time.Now()

	prev := e.currentRegime(symbol)
	e.regimes[symbol] = newSnap

	if newSnap.Regime == prev {
		return
	}
	logger.Info("regime %s: %s -> %s", symbol, prev, newSnap.Regime)

	// смена режима меняет процент трейла: пересчитываем стопы по тому же
	// правилу "только если лучше"
	px := e.lastPrice[symbol]
	if px <= 0 {
		return
	}
	for _, p := range e.positions {
		if p.Symbol == symbol {
			p.Regime = newSnap.Regime
			if p.TrailingActive {
				e.ratchetTrailing(ctx, p, px)
			}
		}
	}
}

// RegimeSnapshot — текущий кэш режима по символу (для отчётов).
func (e *Engine) RegimeSnapshot(symbol string) (models.RegimeSnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, ok := e.regimes[symbol]
	return snap, ok
}
