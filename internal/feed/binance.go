// Package feed streams orderbook snapshots from the exchange's public
// websocket.
package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"hybrid-scalper/internal/schema"
)

const _binanceBaseWsURL = "wss://data-stream.binance.vision/ws"

// BookFeed streams partial book depth for one symbol. The payload carries
// no symbol field, so each symbol gets its own connection.
type BookFeed struct {
	symbol string
	wss    *ws.WebSocket
	now    func() time.Time
}

// NewBookFeed creates a feed for the symbol. An empty url falls back to the
// public market data endpoint.
func NewBookFeed(ctx context.Context, url, symbol string) *BookFeed {
	if url == "" {
		url = _binanceBaseWsURL
	}
	return &BookFeed{
		symbol: symbol,
		wss:    ws.New(ctx, url),
		now:    time.Now,
	}
}

// Start opens the websocket connection.
func (f *BookFeed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

// Close tears down the connection.
func (f *BookFeed) Close() {
	f.wss.Close()
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// Subscribe registers the partial book depth stream and waits for the
// subscription ack.
func (f *BookFeed) Subscribe(ctx context.Context) error {
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, conn *ws.WebSocket) error {
			payload := subscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@depth5@100ms", strings.ToLower(f.symbol)),
				},
				ID: 1,
			}
			if err := conn.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload")
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp subscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe failed: %+v", resp.Result)
			}
			return true, nil
		},
	}, true); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	logs.Infof("subscribed %s partial book depth", f.symbol)
	return nil
}

type partialBookDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"` // [0]price [1]quantity
	Asks         [][2]string `json:"asks"` // [0]price [1]quantity
}

// Observe delivers each depth frame to handler as a normalized snapshot
// until ctx ends or the stream closes.
func (f *BookFeed) Observe(ctx context.Context, handler func(schema.OrderBookSnapshot)) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				depth, ok := ws.ReadMessage[partialBookDepth](m)
				if !ok {
					continue
				}
				snap, err := toSnapshot(f.symbol, depth, f.now())
				if err != nil {
					logs.Warnf("drop malformed depth frame for %s: %+v", f.symbol, err)
					continue
				}
				handler(snap)
			}
		}
	}()

	return cancel
}

func toSnapshot(symbol string, depth partialBookDepth, ts time.Time) (schema.OrderBookSnapshot, error) {
	bids, err := parseLevels(depth.Bids)
	if err != nil {
		return schema.OrderBookSnapshot{}, errors.Wrap(err, "parse bids")
	}
	asks, err := parseLevels(depth.Asks)
	if err != nil {
		return schema.OrderBookSnapshot{}, errors.Wrap(err, "parse asks")
	}
	snap := schema.OrderBookSnapshot{
		Symbol: symbol,
		Ts:     ts,
		Bids:   bids,
		Asks:   asks,
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	return snap, nil
}

func parseLevels(raw [][2]string) ([]schema.PriceLevel, error) {
	levels := make([]schema.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse price %q", entry[0])
		}
		size, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse size %q", entry[1])
		}
		levels = append(levels, schema.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}
