package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-scalper/internal/schema"
)

type captureSink struct {
	intents []schema.TradeIntent
}

func (s *captureSink) Put(i schema.TradeIntent) { s.intents = append(s.intents, i) }

var t0 = time.Unix(1700000000, 0)

func newTestRouter(cfg Config) (*Router, *captureSink) {
	sink := &captureSink{}
	r := NewRouter(cfg, sink)
	r.now = func() time.Time { return t0 }
	return r, sink
}

func market(symbol string, dir schema.Direction, magnitude float64) schema.MarketSignal {
	return schema.MarketSignal{Symbol: symbol, Ts: t0, Direction: dir, Magnitude: magnitude, RefPrice: 100}
}

func trend(symbol string, score float64) schema.TrendScore {
	return schema.TrendScore{Symbol: symbol, Ts: t0, Score: score, Source: schema.TrendSourceLive}
}

func TestMarketDominanceOverridesTrend(t *testing.T) {
	// Imbalance magnitude 0.9 long with dominance threshold 0.6 wins
	// regardless of the trend score sign.
	r, sink := newTestRouter(DefaultConfig())
	r.OnTrendScore(trend("BTCUSDT", -0.8))
	r.OnMarketSignal(market("BTCUSDT", schema.DirectionLong, 0.9))

	require.Len(t, sink.intents, 1)
	intent := sink.intents[0]
	assert.Equal(t, schema.DirectionLong, intent.Direction)
	// Both clear and disagree: confidence carries the disagreement penalty.
	want := (0.6*0.9 + 0.4*0.8) * 0.5
	assert.InDelta(t, want, intent.Confidence, 1e-9)
}

func TestTrendDirectsWhenMarketBelowDominance(t *testing.T) {
	r, sink := newTestRouter(DefaultConfig())
	r.OnMarketSignal(market("ETHUSDT", schema.DirectionLong, 0.3))
	require.Empty(t, sink.intents, "weak market alone must not trade")

	r.OnTrendScore(trend("ETHUSDT", -0.7))
	require.Len(t, sink.intents, 1)
	assert.Equal(t, schema.DirectionShort, sink.intents[0].Direction)
}

func TestNeitherSignalClearsEmitsNothing(t *testing.T) {
	r, sink := newTestRouter(DefaultConfig())
	r.OnMarketSignal(market("BTCUSDT", schema.DirectionLong, 0.4))
	r.OnTrendScore(trend("BTCUSDT", 0.1))

	assert.Empty(t, sink.intents)
}

func TestAgreementCarriesNoPenalty(t *testing.T) {
	r, sink := newTestRouter(DefaultConfig())
	r.OnTrendScore(trend("BTCUSDT", 0.5))
	r.OnMarketSignal(market("BTCUSDT", schema.DirectionLong, 0.7))

	require.Len(t, sink.intents, 1)
	want := 0.6*0.7 + 0.4*0.5
	assert.InDelta(t, want, sink.intents[0].Confidence, 1e-9)
}

func TestReEvaluatesOnEitherUpdate(t *testing.T) {
	r, sink := newTestRouter(DefaultConfig())
	r.OnMarketSignal(market("BTCUSDT", schema.DirectionLong, 0.9))
	r.OnTrendScore(trend("BTCUSDT", 0.6))

	// Both updates fused, two intents with distinct identities.
	require.Len(t, sink.intents, 2)
	assert.NotEqual(t, sink.intents[0].ID, sink.intents[1].ID)
	assert.NotEqual(t, sink.intents[0].IdempotencyKey(), "")
}

func TestCooldownSuppressesIntents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = time.Minute
	r, sink := newTestRouter(cfg)

	r.MarkTraded("BTCUSDT", t0.Add(-30*time.Second))
	r.OnMarketSignal(market("BTCUSDT", schema.DirectionLong, 0.9))
	assert.Empty(t, sink.intents, "symbol in cooldown")

	r.MarkTraded("BTCUSDT", t0.Add(-2*time.Minute))
	r.OnMarketSignal(market("BTCUSDT", schema.DirectionLong, 0.9))
	assert.Len(t, sink.intents, 1, "cooldown expired")
}

func TestSuggestedSizeScalesWithConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseRiskQuote = 200
	r, sink := newTestRouter(cfg)
	r.OnMarketSignal(market("BTCUSDT", schema.DirectionLong, 0.9))

	require.Len(t, sink.intents, 1)
	assert.InDelta(t, 200*sink.intents[0].Confidence, sink.intents[0].Size, 1e-9)
}
