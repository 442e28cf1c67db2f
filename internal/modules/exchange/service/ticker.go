package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// GetCurrentPrice — последняя цена сделки по инструменту.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	u := restBase + "/api/v5/market/ticker?instId=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("GetCurrentPrice new request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GetCurrentPrice do: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("GetCurrentPrice http %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("GetCurrentPrice decode: %w", err)
	}
	if out.Code != "0" || len(out.Data) == 0 {
		return 0, fmt.Errorf("GetCurrentPrice error: code=%s msg=%s", out.Code, out.Msg)
	}

	px, err := strconv.ParseFloat(out.Data[0].Last, 64)
	if err != nil || px <= 0 {
		return 0, fmt.Errorf("GetCurrentPrice parse last=%q: %v", out.Data[0].Last, err)
	}
	return px, nil
}
