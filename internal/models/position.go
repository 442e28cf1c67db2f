package models

import "time"

// Direction — сторона позиции.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// CloseType — причина полного закрытия позиции.
type CloseType string

const (
	CloseStopLoss     CloseType = "stop_loss"
	CloseTakeProfit   CloseType = "take_profit"
	CloseTrailingStop CloseType = "trailing_stop"
	CloseManual       CloseType = "manual"
)

// PartialExit — сработавшая ступень частичной фиксации. Запись неизменяемая,
// список в позиции append-only.
type PartialExit struct {
	ProfitThreshold float64   `json:"profit_threshold"` // % профита, на котором сработала
	ExitSize        float64   `json:"exit_size"`
	RemainingSize   float64   `json:"remaining_size"`
	Timestamp       time.Time `json:"timestamp"`
}

// TrackedPosition — живая позиция под трейлингом.
//
// Инварианты (держит движок, тесты проверяют):
//   - CurrentSize = OriginalSize - сумма ExitSize по PartialExits, всегда >= 0;
//   - TrailingActive переключается false->true ровно один раз и назад не падает;
//   - TrailingStop для long только растёт, для short только падает (храповик);
//   - HighestPrice/LowestPrice монотонны в выгодную сторону.
//
// Нулевые StopLoss/TakeProfit/TrailingStop означают "не задано".
type TrackedPosition struct {
	TrackingID string    `json:"tracking_id"` // symbol + order_id
	Symbol     string    `json:"symbol"`
	OrderID    string    `json:"order_id"`
	Direction  Direction `json:"direction"`

	EntryPrice   float64 `json:"entry_price"`
	OriginalSize float64 `json:"original_size"`
	CurrentSize  float64 `json:"current_size"`

	StopLoss   float64 `json:"stop_loss_price,omitempty"`
	TakeProfit float64 `json:"take_profit_price,omitempty"`

	TrailingActive bool    `json:"trailing_active"`
	TrailingStop   float64 `json:"trailing_stop_price,omitempty"`

	HighestPrice float64 `json:"highest_price"`
	LowestPrice  float64 `json:"lowest_price"`
	ProfitPct    float64 `json:"profit_percentage"`

	PartialExits []PartialExit `json:"partial_exits"`

	Regime    Regime    `json:"market_regime"`
	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Copy — глубокая копия для снапшотов наружу. Наружу никогда не отдаём
// алиасы на внутреннее состояние движка.
func (p *TrackedPosition) Copy() TrackedPosition {
	cp := *p
	cp.PartialExits = make([]PartialExit, len(p.PartialExits))
	copy(cp.PartialExits, p.PartialExits)
	return cp
}

// ProfitPercentAt — беззнаковый для short профит в процентах на цене px.
func (p *TrackedPosition) ProfitPercentAt(px float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Direction == DirectionLong {
		return (px - p.EntryPrice) / p.EntryPrice * 100
	}
	return (p.EntryPrice - px) / p.EntryPrice * 100
}

// ClosedPosition — архивная запись, одна на файл в каталоге архива.
type ClosedPosition struct {
	TrackedPosition

	CloseType  CloseType `json:"close_type"`
	ClosePrice float64   `json:"close_price"`
	CloseSize  float64   `json:"close_size"`
	Reason     string    `json:"reason,omitempty"`
	ClosedAt   time.Time `json:"closed_at"`
}

// PerformanceStats — агрегаты по архиву закрытых позиций.
type PerformanceStats struct {
	TotalClosed  int               `json:"total_closed"`
	ByCloseType  map[CloseType]int `json:"by_close_type"`
	Wins         int               `json:"wins"`
	Losses       int               `json:"losses"`
	WinRate      float64           `json:"win_rate"`
	AvgProfitPct float64           `json:"avg_profit_pct"`
	PartialExits int               `json:"partial_exits"`
}
