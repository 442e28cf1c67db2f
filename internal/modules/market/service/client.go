package service

import (
	"context"

	"trailbot/internal/helper"
	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	healthsvc "trailbot/internal/modules/health/service"
	"trailbot/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client — WebSocket-стример закрытых свечей OKX по watchlist.
type Client struct {
	cfg   *config.Config
	state *healthsvc.State

	wsDialer *websocket.Dialer
}

func NewClient(cfg *config.Config, state *healthsvc.State) *Client {
	return &Client{
		cfg:      cfg,
		state:    state,
		wsDialer: &websocket.Dialer{},
	}
}

// OutTick — что отдаём наружу (в раннер).
type OutTick struct {
	Symbol    string
	Timeframe string
	Candle    models.CandleTick
}

// Start стримит свечи по всем символам watchlist на одном таймфрейме.
func (c *Client) Start(ctx context.Context, out chan<- OutTick) {
	syms := c.cfg.Watchlist
	if len(syms) == 0 {
		logger.Warn("market: empty watchlist, streamer not started")
		return
	}

	tf := helper.NormTF(c.cfg.Timeframe)
	logger.Info("market: streaming %d symbols @ %s", len(syms), tf)

	ticks := c.StreamCandlesBatch(ctx, syms, tf)
	for {
		select {
		case <-ctx.Done():
			logger.Info("market: streamer stopped")
			return

		case tick, ok := <-ticks:
			if !ok {
				logger.Error("market: candle stream closed")
				c.state.SetWSConnected(false)
				return
			}

			c.state.TouchTick(tick.Candle.End)

			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}
