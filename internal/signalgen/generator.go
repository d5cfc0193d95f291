// Package signalgen derives scalping signals from orderbook imbalance.
package signalgen

import (
	"math"

	"github.com/yanun0323/errors"

	"hybrid-scalper/internal/schema"
)

// ErrInvalidSnapshot marks malformed orderbook input. The snapshot is
// dropped and no signal is emitted.
var ErrInvalidSnapshot = errors.New("invalid orderbook snapshot")

// Config holds the imbalance thresholds.
type Config struct {
	TopK          int     `mapstructure:"top_k"`
	LongThreshold float64 `mapstructure:"long_threshold"` // applied symmetrically for shorts
}

// DefaultConfig mirrors the calibrated defaults used in live runs.
func DefaultConfig() Config {
	return Config{TopK: 5, LongThreshold: 0.2}
}

// FromSnapshot computes the volume-weighted imbalance over the top-K levels
// of each side and maps it onto a directional signal.
//
//	imbalance = (bidVol - askVol) / (bidVol + askVol)   in [-1,1]
//
// Direction is long above +threshold, short below -threshold, flat
// otherwise. Magnitude is |imbalance| clipped to [0,1]. This is a pure
// function with no retained state.
func FromSnapshot(snap schema.OrderBookSnapshot, cfg Config) (schema.MarketSignal, error) {
	if err := validate(snap); err != nil {
		return schema.MarketSignal{}, err
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultConfig().TopK
	}
	threshold := cfg.LongThreshold
	if threshold <= 0 {
		threshold = DefaultConfig().LongThreshold
	}

	bidVol := sideVolume(snap.Bids, topK)
	askVol := sideVolume(snap.Asks, topK)
	total := bidVol + askVol
	if total <= 0 {
		return schema.MarketSignal{}, errors.Wrap(ErrInvalidSnapshot, "zero liquidity in top levels")
	}

	imbalance := (bidVol - askVol) / total

	sig := schema.MarketSignal{
		Symbol:    snap.Symbol,
		Ts:        snap.Ts,
		Direction: schema.DirectionFlat,
		Magnitude: math.Min(math.Abs(imbalance), 1),
		RefPrice:  snap.Mid(),
	}
	switch {
	case imbalance >= threshold:
		sig.Direction = schema.DirectionLong
		sig.RefPrice = snap.BestAsk // a long entry lifts the ask
	case imbalance <= -threshold:
		sig.Direction = schema.DirectionShort
		sig.RefPrice = snap.BestBid
	}
	return sig, nil
}

func validate(snap schema.OrderBookSnapshot) error {
	if snap.Symbol == "" {
		return errors.Wrap(ErrInvalidSnapshot, "empty symbol")
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return errors.Wrap(ErrInvalidSnapshot, "empty book side")
	}
	if snap.BestBid <= 0 || snap.BestAsk <= 0 || snap.BestBid >= snap.BestAsk {
		return errors.Wrap(ErrInvalidSnapshot, "crossed or non-positive top of book")
	}
	for _, lvl := range snap.Bids {
		if lvl.Price <= 0 || lvl.Size < 0 {
			return errors.Wrap(ErrInvalidSnapshot, "malformed bid level")
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Price <= 0 || lvl.Size < 0 {
			return errors.Wrap(ErrInvalidSnapshot, "malformed ask level")
		}
	}
	return nil
}

func sideVolume(levels []schema.PriceLevel, topK int) float64 {
	if topK > len(levels) {
		topK = len(levels)
	}
	var vol float64
	for _, lvl := range levels[:topK] {
		vol += lvl.Size
	}
	return vol
}
