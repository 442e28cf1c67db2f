package service

import (
	"context"
	"fmt"

	"trailbot/internal/models"
	"trailbot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

const insertClosedSQL = `
INSERT INTO closed_positions (
	tracking_id, symbol, direction, entry_price, close_price,
	original_size, close_size, profit_pct, close_type, reason,
	partial_exits, opened_at, closed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

const aggregateSQL = `
SELECT close_type, count(*), coalesce(avg(profit_pct), 0),
       count(*) FILTER (WHERE profit_pct > 0)
FROM closed_positions
GROUP BY close_type`

// Store — дублирующая запись закрытых позиций в постгрес. Архив на
// диске первичен, сюда пишем для долгой истории и SQL-агрегатов.
type Store struct {
	tx *db.PgTxManager
}

func NewStore(tx *db.PgTxManager) *Store {
	return &Store{tx: tx}
}

func (s *Store) RecordClose(ctx context.Context, cp models.ClosedPosition) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Store.RecordClose: %w", err)
		}
	}()

	var exits []byte
	exits, err = sonic.Marshal(cp.PartialExits)
	if err != nil {
		return err
	}

	return s.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, insertClosedSQL,
			cp.TrackingID, cp.Symbol, string(cp.Direction),
			cp.EntryPrice, cp.ClosePrice,
			cp.OriginalSize, cp.CloseSize, cp.ProfitPct,
			string(cp.CloseType), cp.Reason,
			exits, cp.OpenedAt, cp.ClosedAt,
		)
		return err
	})
}

// AggregateStats — статистика по базе (вся история, не только текущий
// каталог архива).
func (s *Store) AggregateStats(ctx context.Context) (models.PerformanceStats, error) {
	stats := models.PerformanceStats{
		ByCloseType: make(map[models.CloseType]int),
	}

	rows, err := s.tx.Conn().Query(ctx, aggregateSQL)
	if err != nil {
		return stats, fmt.Errorf("Store.AggregateStats: %w", err)
	}
	defer rows.Close()

	sumWeighted := 0.0
	for rows.Next() {
		var (
			closeType string
			count     int
			avgProfit float64
			wins      int
		)
		if err := rows.Scan(&closeType, &count, &avgProfit, &wins); err != nil {
			return stats, fmt.Errorf("Store.AggregateStats scan: %w", err)
		}
		stats.ByCloseType[models.CloseType(closeType)] = count
		stats.TotalClosed += count
		stats.Wins += wins
		stats.Losses += count - wins
		sumWeighted += avgProfit * float64(count)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("Store.AggregateStats rows: %w", err)
	}

	if stats.TotalClosed > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalClosed)
		stats.AvgProfitPct = sumWeighted / float64(stats.TotalClosed)
	}
	return stats, nil
}
