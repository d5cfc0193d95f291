// Package strategy fuses market and trend signals into trade intents.
package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// Config holds the fusion thresholds. The numeric defaults are calibration
// values, not invariants.
type Config struct {
	DominanceThreshold  float64       `mapstructure:"dominance_threshold"`  // market magnitude that wins outright
	TrendThreshold      float64       `mapstructure:"trend_threshold"`      // minimum |trend score| to act on
	MarketWeight        float64       `mapstructure:"market_weight"`        // confidence weight, sums to 1 with TrendWeight
	TrendWeight         float64       `mapstructure:"trend_weight"`
	DisagreementPenalty float64       `mapstructure:"disagreement_penalty"` // confidence scale when signals conflict
	BaseRiskQuote       float64       `mapstructure:"base_risk_quote"`      // suggested size in quote risk units
	Cooldown            time.Duration `mapstructure:"cooldown"`             // per-symbol pause after a submitted trade
}

// DefaultConfig returns the calibrated fusion defaults.
func DefaultConfig() Config {
	return Config{
		DominanceThreshold:  0.6,
		TrendThreshold:      0.3,
		MarketWeight:        0.6,
		TrendWeight:         0.4,
		DisagreementPenalty: 0.5,
		BaseRiskQuote:       100,
		Cooldown:            time.Minute,
	}
}

// Sink receives emitted intents. The bus intent slot satisfies it.
type Sink interface {
	Put(schema.TradeIntent)
}

// Router holds the latest market signal and trend score per symbol and
// re-evaluates fusion whenever either side updates. It never blocks: the
// sink is a latest-wins mailbox.
type Router struct {
	mu     sync.Mutex
	cfg    Config
	sink   Sink
	market map[string]schema.MarketSignal
	trend  map[string]schema.TrendScore
	cooled map[string]time.Time
	seq    uint64

	now func() time.Time
}

// NewRouter creates a router publishing into sink.
func NewRouter(cfg Config, sink Sink) *Router {
	if cfg.MarketWeight+cfg.TrendWeight == 0 {
		cfg.MarketWeight, cfg.TrendWeight = DefaultConfig().MarketWeight, DefaultConfig().TrendWeight
	}
	return &Router{
		cfg:    cfg,
		sink:   sink,
		market: make(map[string]schema.MarketSignal),
		trend:  make(map[string]schema.TrendScore),
		cooled: make(map[string]time.Time),
		now:    time.Now,
	}
}

// OnMarketSignal stores the signal and re-evaluates fusion for its symbol.
func (r *Router) OnMarketSignal(sig schema.MarketSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.market[sig.Symbol] = sig
	r.evaluate(sig.Symbol)
}

// OnTrendScore stores the score and re-evaluates fusion for its symbol.
func (r *Router) OnTrendScore(score schema.TrendScore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trend[score.Symbol] = score
	r.evaluate(score.Symbol)
}

// MarkTraded starts the cooldown for a symbol after an order submission.
func (r *Router) MarkTraded(symbol string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooled[symbol] = at
}

// evaluate applies the fusion rule under r.mu and emits at most one intent.
//
// The market signal dominates outright when its magnitude clears the
// dominance threshold; otherwise direction follows the trend score when
// |score| clears the trend threshold. When both clear their thresholds and
// disagree, the orderbook signal wins (higher fidelity, lower latency) with
// confidence scaled down by the disagreement penalty.
func (r *Router) evaluate(symbol string) {
	mkt, hasMkt := r.market[symbol]
	trd, hasTrd := r.trend[symbol]
	if !hasMkt {
		return
	}

	if tradedAt, ok := r.cooled[symbol]; ok && r.now().Sub(tradedAt) < r.cfg.Cooldown {
		return
	}

	marketClears := mkt.Direction != schema.DirectionFlat && mkt.Magnitude >= r.cfg.DominanceThreshold
	trendDir := schema.DirectionFlat
	trendMag := 0.0
	if hasTrd {
		trendMag = abs(trd.Score)
		if trendMag >= r.cfg.TrendThreshold {
			if trd.Score > 0 {
				trendDir = schema.DirectionLong
			} else {
				trendDir = schema.DirectionShort
			}
		}
	}
	trendClears := trendDir != schema.DirectionFlat

	var direction schema.Direction
	penalty := 1.0
	switch {
	case marketClears && trendClears && mkt.Direction != trendDir:
		direction = mkt.Direction
		penalty = r.cfg.DisagreementPenalty
	case marketClears:
		direction = mkt.Direction
	case trendClears:
		direction = trendDir
	default:
		return // neither signal clears its threshold: flat, no trade
	}

	confidence := (r.cfg.MarketWeight*mkt.Magnitude + r.cfg.TrendWeight*trendMag) * penalty
	refPrice := mkt.RefPrice

	r.seq++
	intent := schema.TradeIntent{
		ID:         fmt.Sprintf("%s-%d", symbol, r.seq),
		Symbol:     symbol,
		Direction:  direction,
		Size:       r.cfg.BaseRiskQuote * confidence,
		Confidence: confidence,
		RefPrice:   refPrice,
		Ts:         r.now(),
		MarketTs:   mkt.Ts,
		TrendTs:    trd.Ts,
		TrendSrc:   trd.Source,
	}
	logs.Debugf("intent %s: %s %s conf=%.2f size=%.2f", intent.ID, symbol, direction, confidence, intent.Size)
	r.sink.Put(intent)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
