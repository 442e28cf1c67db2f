package models

// Side как в раннере: "BUY"/"SELL" или пустая строка.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Advice — итоговое решение композера по символу.
type Advice struct {
	Symbol     string
	Side       Side
	Confidence float64
	Reason     string

	// Дистанции до стопа и тейка в абсолютных ценах (не проценты).
	SLDistance float64
	TPDistance float64
}

// BreakoutDirection — эвристика направления пробоя в боковике.
type BreakoutDirection string

const (
	BreakoutUp      BreakoutDirection = "up"
	BreakoutDown    BreakoutDirection = "down"
	BreakoutUnknown BreakoutDirection = "unknown"
)
