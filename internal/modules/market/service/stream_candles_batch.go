package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"trailbot/internal/models"
	"trailbot/pkg/logger"
)

const wsURL = "wss://ws.okx.com:8443/ws/v5/business"

// StreamCandlesBatch — один WebSocket на таймфрейм с пачкой инструментов
// в args. Отдаёт только закрытые свечи. Рвётся соединение — переподключаемся.
func (c *Client) StreamCandlesBatch(ctx context.Context, symbols []string, timeframe string) <-chan OutTick {
	ch := make(chan OutTick)

	go func() {
		defer close(ch)

		if len(symbols) == 0 {
			return
		}

		channel := "candle" + timeframe // "1m" -> "candle1m"
		tfDur := timeframeToDuration(timeframe)

		args := make([]map[string]string, 0, len(symbols))
		for _, s := range symbols {
			args = append(args, map[string]string{
				"channel": channel,
				"instId":  s,
			})
		}

		for {
			logger.Info("ws connect %s, %d symbols", channel, len(symbols))
			conn, _, err := c.wsDialer.Dial(wsURL, nil)
			if err != nil {
				logger.Error("ws dial %s: %v", channel, err)
				time.Sleep(time.Second)
				continue
			}
			c.state.SetWSConnected(true)

			sub := map[string]any{
				"op":   "subscribe",
				"args": args,
			}
			if err := conn.WriteJSON(sub); err != nil {
				logger.Error("ws subscribe %s: %v", channel, err)
				_ = conn.Close()
				continue
			}

			// keepalive ping каждые 20s — иначе OKX рвёт соединение
			stopPing := make(chan struct{})
			go func() {
				defer close(stopPing)
				t := time.NewTicker(20 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-stopPing:
						return
					case <-t.C:
						_ = conn.WriteJSON(map[string]string{"op": "ping"})
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					logger.Error("ws read %s: %v", channel, err)
					c.state.SetWSConnected(false)
					_ = conn.Close()
					break
				}

				var frame struct {
					Arg struct {
						Channel string `json:"channel"`
						InstID  string `json:"instId"`
					} `json:"arg"`
					Data [][]string `json:"data"`
				}
				if err := json.Unmarshal(msg, &frame); err != nil {
					continue
				}
				if frame.Arg.Channel != channel || len(frame.Data) == 0 {
					continue
				}

				for _, row := range frame.Data {
					// [ts, o, h, l, c, vol, ..., confirm]
					if len(row) < 6 {
						continue
					}
					// confirm в последнем элементе, ждём закрытую свечу
					if row[len(row)-1] != "1" {
						continue
					}

					tsMs, err := strconv.ParseInt(row[0], 10, 64)
					if err != nil {
						continue
					}
					start := time.UnixMilli(tsMs)
					end := start
					if tfDur > 0 {
						end = start.Add(tfDur)
					}

					open, err1 := strconv.ParseFloat(row[1], 64)
					high, err2 := strconv.ParseFloat(row[2], 64)
					low, err3 := strconv.ParseFloat(row[3], 64)
					closep, err4 := strconv.ParseFloat(row[4], 64)
					if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
						continue
					}
					if closep <= 0 {
						continue
					}

					var vol float64
					vol, _ = strconv.ParseFloat(row[5], 64)

					tick := OutTick{
						Symbol:    frame.Arg.InstID,
						Timeframe: timeframe,
						Candle: models.CandleTick{
							Open:   open,
							High:   high,
							Low:    low,
							Close:  closep,
							Volume: vol,
							Start:  start,
							End:    end,
						},
					}

					select {
					case ch <- tick:
					case <-ctx.Done():
						_ = conn.Close()
						return
					}
				}
			}

			select {
			case <-ctx.Done():
				return
			default:
				time.Sleep(time.Second)
			}
		}
	}()

	return ch
}

func timeframeToDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1H", "1h":
		return time.Hour
	case "4H", "4h":
		return 4 * time.Hour
	default:
		return 0 // неизвестный — оставим End = Start
	}
}
