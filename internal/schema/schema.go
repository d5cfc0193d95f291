// Package schema defines the domain types shared by the decision
// pipeline: market data, signals, intents, verdicts and system state.
package schema

import (
	"fmt"
	"time"
)

// Direction is the desired exposure of a signal or intent.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Side is the order side submitted to the exchange.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderSide returns the entry order side for a direction.
func (d Direction) OrderSide() Side {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide returns the side that flattens a position held in this direction.
func (d Direction) CloseSide() Side {
	if d == DirectionShort {
		return SideBuy
	}
	return SideSell
}

// PriceLevel is one (price, size) entry on a book side.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot is an immutable top-of-book capture for one symbol.
// Bids are ordered best (highest) first, asks best (lowest) first.
type OrderBookSnapshot struct {
	Symbol  string       `json:"symbol"`
	Ts      time.Time    `json:"ts"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
	BestBid float64      `json:"bestBid"`
	BestAsk float64      `json:"bestAsk"`
}

// Mid returns the snapshot mid price, or 0 when either side is empty.
func (s OrderBookSnapshot) Mid() float64 {
	if s.BestBid <= 0 || s.BestAsk <= 0 {
		return 0
	}
	return (s.BestBid + s.BestAsk) / 2
}

// MarketSignal is the scalping signal derived from one orderbook snapshot.
type MarketSignal struct {
	Symbol    string    `json:"symbol"`
	Ts        time.Time `json:"ts"`
	Direction Direction `json:"direction"`
	Magnitude float64   `json:"magnitude"` // [0,1]
	RefPrice  float64   `json:"refPrice"`  // price the signal expects to trade at
}

// SentimentSignal is one normalized observation from an external feed.
type SentimentSignal struct {
	Symbol     string    `json:"symbol"`
	Ts         time.Time `json:"ts"`
	Source     string    `json:"source"`
	Score      float64   `json:"score"`      // [-1,1]
	Confidence float64   `json:"confidence"` // [0,1]
}

// Trend score source tags.
const (
	TrendSourceLive      = "live"
	TrendSourceSimulated = "simulated"
	TrendSourceStale     = "stale/no-data"
)

// TrendScore is the reduced per-symbol sentiment value.
type TrendScore struct {
	Symbol string    `json:"symbol"`
	Ts     time.Time `json:"ts"`
	Score  float64   `json:"score"` // [-1,1]
	Source string    `json:"source"`
}

// TradeIntent is the fused, not yet risk-checked trade proposal.
// It is consumed exactly once by the risk engine.
type TradeIntent struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Size       float64   `json:"size"` // quote-currency risk units
	Confidence float64   `json:"confidence"`
	RefPrice   float64   `json:"refPrice"`
	Ts         time.Time `json:"ts"`

	// Fusion provenance, for observability.
	MarketTs time.Time `json:"marketTs"`
	TrendTs  time.Time `json:"trendTs"`
	TrendSrc string    `json:"trendSrc"`
}

// IdempotencyKey derives the stable submission key from the intent identity.
// A retried submission of the same intent reuses the same key.
func (i TradeIntent) IdempotencyKey() string {
	return fmt.Sprintf("%s-%s-%d", i.Symbol, i.Direction, i.Ts.UnixNano())
}

// RejectReason enumerates risk verdict rejection reasons.
type RejectReason string

const (
	ReasonNone          RejectReason = ""
	ReasonStopped       RejectReason = "stopped"
	ReasonDailyLoss     RejectReason = "daily-loss"
	ReasonProfitTarget  RejectReason = "profit-target"
	ReasonPositionCount RejectReason = "position-count"
	ReasonSlippage      RejectReason = "slippage"
)

// RiskVerdict is the terminal result of validating one intent.
type RiskVerdict struct {
	Intent       TradeIntent  `json:"intent"`
	Approved     bool         `json:"approved"`
	Reason       RejectReason `json:"reason,omitempty"`
	Detail       string       `json:"detail,omitempty"`
	AdjustedSize float64      `json:"adjustedSize"` // <= intent.Size, never scaled up
	ValidatedAt  time.Time    `json:"validatedAt"`
}

// Position is one open exposure owned by the state store.
type Position struct {
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	EntryPrice    float64   `json:"entryPrice"`
	Size          float64   `json:"size"` // base units
	OpenedAt      time.Time `json:"openedAt"`
	MarkPrice     float64   `json:"markPrice"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	StopPrice     float64   `json:"stopPrice,omitempty"`
	TargetPrice   float64   `json:"targetPrice,omitempty"`
}

// RiskConfig holds the process-wide risk limits. It is replaced only as a
// whole, never field by field.
type RiskConfig struct {
	DailyLossLimit     float64 `json:"dailyLossLimit" mapstructure:"daily_loss_limit"`
	DayProfitTargetPct float64 `json:"dayProfitTargetPct" mapstructure:"day_profit_target_pct"`
	MaxRiskPerTrade    float64 `json:"maxRiskPerTrade" mapstructure:"max_risk_per_trade"`
	MaxPositions       int     `json:"maxPositions" mapstructure:"max_positions"`
	MaxSlippageBps     float64 `json:"maxSlippageBps" mapstructure:"max_slippage_bps"`
	TakeProfitBps      float64 `json:"takeProfitBps" mapstructure:"take_profit_bps"`
	StopLossBps        float64 `json:"stopLossBps" mapstructure:"stop_loss_bps"`
}

// Validate rejects configs that would silently disable the risk engine.
func (c RiskConfig) Validate() error {
	switch {
	case c.DailyLossLimit <= 0:
		return fmt.Errorf("daily loss limit must be > 0, got %v", c.DailyLossLimit)
	case c.MaxRiskPerTrade <= 0:
		return fmt.Errorf("max risk per trade must be > 0, got %v", c.MaxRiskPerTrade)
	case c.MaxPositions <= 0:
		return fmt.Errorf("max positions must be > 0, got %d", c.MaxPositions)
	case c.MaxSlippageBps < 0:
		return fmt.Errorf("max slippage bps must be >= 0, got %v", c.MaxSlippageBps)
	}
	return nil
}

// SystemState is the broadcastable aggregate rebuilt from the state store.
type SystemState struct {
	Running        bool               `json:"running"`
	HaltReason     string             `json:"haltReason,omitempty"`
	PnLDay         float64            `json:"pnlDay"`
	RealizedPnL    float64            `json:"realizedPnl"`
	UnrealizedPnL  float64            `json:"unrealizedPnl"`
	Positions      []Position         `json:"positions"`
	Marks          map[string]float64 `json:"marks"`
	RiskConfig     RiskConfig         `json:"riskConfig"`
	RecentIntents  []TradeIntent      `json:"recentIntents"`
	RecentVerdicts []RiskVerdict      `json:"recentVerdicts"`
	RecentErrors   []string           `json:"recentErrors"`
	Ts             time.Time          `json:"ts"`
}

// PositionFor returns the open position for a symbol, if any.
func (s SystemState) PositionFor(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// Mark returns the last known mark price for a symbol, or 0.
func (s SystemState) Mark(symbol string) float64 {
	return s.Marks[symbol]
}
