package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trailbot/internal/helper"
	"trailbot/internal/models"
)

// GetKlines — закрытые свечи с публичной ручки. OKX отдаёт новые первыми,
// здесь разворачиваем в хронологический порядок.
func (c *Client) GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]models.CandleTick, error) {
	if limit <= 0 {
		limit = 100
	}

	bar, err := helper.OKXBar(timeframe)
	if err != nil {
		return nil, fmt.Errorf("GetKlines: %w", err)
	}

	u := fmt.Sprintf(
		"%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		restBase, url.QueryEscape(symbol), url.QueryEscape(bar), limit,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("GetKlines new request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GetKlines do: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("GetKlines http %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("GetKlines decode: %w", err)
	}
	if out.Code != "0" {
		return nil, fmt.Errorf("GetKlines error: code=%s msg=%s", out.Code, out.Msg)
	}

	bars := make([]models.CandleTick, 0, len(out.Data))
	// с конца: последняя строка — самая старая свеча
	for i := len(out.Data) - 1; i >= 0; i-- {
		row := out.Data[i]
		if len(row) < 6 {
			continue
		}
		tsMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		o, _ := strconv.ParseFloat(row[1], 64)
		h, _ := strconv.ParseFloat(row[2], 64)
		l, _ := strconv.ParseFloat(row[3], 64)
		cl, _ := strconv.ParseFloat(row[4], 64)
		v, _ := strconv.ParseFloat(row[5], 64)

		start := time.UnixMilli(tsMs)
		bars = append(bars, models.CandleTick{
			Open:   o,
			High:   h,
			Low:    l,
			Close:  cl,
			Volume: v,
			Start:  start,
			End:    start,
		})
	}
	return bars, nil
}
