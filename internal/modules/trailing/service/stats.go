package service

import (
	"trailbot/internal/models"
)

// PerformanceStats — агрегаты по архиву закрытых позиций. Источник —
// каталог JSON-файлов, постгрес тут не участвует.
func (e *Engine) PerformanceStats() (models.PerformanceStats, error) {
	closed, err := e.archive.ReadAll()
	if err != nil {
		return models.PerformanceStats{}, err
	}

	stats := models.PerformanceStats{
		ByCloseType: make(map[models.CloseType]int),
	}

	sumProfit := 0.0
	for _, cp := range closed {
		stats.TotalClosed++
		stats.ByCloseType[cp.CloseType]++
		stats.PartialExits += len(cp.PartialExits)

		sumProfit += cp.ProfitPct
		if cp.ProfitPct > 0 {
			stats.Wins++
		} else {
			stats.Losses++
		}
	}

	if stats.TotalClosed > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalClosed)
		stats.AvgProfitPct = sumProfit / float64(stats.TotalClosed)
	}
	return stats, nil
}
