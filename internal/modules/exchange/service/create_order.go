package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// OrderRequest — заявка на ордер. StopPrice > 0 превращает ордер
// в conditional (algo) со стоп-триггером.
type OrderRequest struct {
	Symbol        string
	Side          string // "buy"/"sell"
	Type          string // "market"/"limit"/"conditional"
	Size          float64
	StopPrice     float64
	ClosePosition bool
}

type OrderResult struct {
	OrderID string
	Status  string
}

// CreateOrder размещает ордер. Ошибки отдаём наружу как есть —
// трейлинг-движок сам решает, что с ними делать (best effort).
func (c *Client) CreateOrder(ctx context.Context, r OrderRequest) (OrderResult, error) {
	side := strings.ToLower(r.Side)
	if side != "buy" && side != "sell" {
		return OrderResult{}, fmt.Errorf("CreateOrder: unsupported side=%q", r.Side)
	}
	if r.Size <= 0 {
		return OrderResult{}, fmt.Errorf("CreateOrder: size <= 0")
	}

	body := map[string]string{
		"instId":  r.Symbol,
		"tdMode":  "cross",
		"side":    side,
		"sz":      formatSize(r.Size),
		"ordType": "market",
	}

	requestPath := "/api/v5/trade/order"
	if r.StopPrice > 0 {
		requestPath = "/api/v5/trade/order-algo"
		body["ordType"] = "conditional"
		body["slTriggerPx"] = formatPrice(r.StopPrice)
		body["slOrdPx"] = "-1"
		body["slTriggerPxType"] = "last"
	}
	if r.ClosePosition {
		body["reduceOnly"] = "true"
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		return OrderResult{}, fmt.Errorf("CreateOrder marshal: %w", err)
	}

	ts := okxTimestamp()
	sign := c.sign(ts, http.MethodPost, requestPath, string(payload))

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		restBase+requestPath,
		bytes.NewReader(payload),
	)
	if err != nil {
		return OrderResult{}, fmt.Errorf("CreateOrder new request: %w", err)
	}
	c.authHeaders(req, ts, sign)

	resp, err := c.http.Do(req)
	if err != nil {
		return OrderResult{}, fmt.Errorf("CreateOrder do: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return OrderResult{}, fmt.Errorf("CreateOrder http %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			OrdID  string `json:"ordId"`
			AlgoID string `json:"algoId"`
			SCode  string `json:"sCode"`
			SMsg   string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return OrderResult{}, fmt.Errorf("CreateOrder decode: %w; body=%s", err, string(data))
	}

	if len(out.Data) > 0 && out.Data[0].SCode != "0" && out.Data[0].SCode != "" {
		return OrderResult{}, fmt.Errorf(
			"CreateOrder rejected: sCode=%s sMsg=%s",
			out.Data[0].SCode, out.Data[0].SMsg,
		)
	}
	if out.Code != "0" {
		return OrderResult{}, fmt.Errorf("CreateOrder error: code=%s msg=%s", out.Code, out.Msg)
	}
	if len(out.Data) == 0 {
		return OrderResult{}, fmt.Errorf("CreateOrder: empty response data")
	}

	id := out.Data[0].OrdID
	if id == "" {
		id = out.Data[0].AlgoID
	}
	return OrderResult{OrderID: id, Status: "live"}, nil
}
