package trend

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-scalper/internal/schema"
)

var t0 = time.Unix(1700000000, 0)

func newTestAggregator(cfg Config) *Aggregator {
	agg := NewAggregator(cfg)
	agg.now = func() time.Time { return t0 }
	return agg
}

func obs(symbol string, age time.Duration, score, confidence float64) schema.SentimentSignal {
	return schema.SentimentSignal{
		Symbol:     symbol,
		Ts:         t0.Add(-age),
		Source:     "live:test",
		Score:      score,
		Confidence: confidence,
	}
}

func TestScoreEmptyBufferIsNeutralStale(t *testing.T) {
	agg := newTestAggregator(Config{})

	score := agg.Score("BTCUSDT")
	assert.Zero(t, score.Score)
	assert.Equal(t, schema.TrendSourceStale, score.Source)
	assert.Equal(t, "BTCUSDT", score.Symbol)
}

func TestScoreAllStaleIsNeutral(t *testing.T) {
	agg := newTestAggregator(Config{StalenessWindow: time.Minute})
	require.NoError(t, agg.Observe(obs("BTCUSDT", 2*time.Minute, 0.9, 1)))
	require.NoError(t, agg.Observe(obs("BTCUSDT", 90*time.Second, -0.5, 1)))

	score := agg.Score("BTCUSDT")
	assert.Zero(t, score.Score)
	assert.Equal(t, schema.TrendSourceStale, score.Source)
}

func TestScoreConfidenceAndRecencyWeighting(t *testing.T) {
	agg := newTestAggregator(Config{StalenessWindow: 10 * time.Minute})
	// Fresh, confident positive outweighs older, less confident negative.
	require.NoError(t, agg.Observe(obs("ETHUSDT", time.Minute, 0.8, 0.9)))
	require.NoError(t, agg.Observe(obs("ETHUSDT", 8*time.Minute, -0.8, 0.3)))

	score := agg.Score("ETHUSDT")
	assert.Greater(t, score.Score, 0.0)
	assert.Equal(t, schema.TrendSourceLive, score.Source)
	assert.LessOrEqual(t, score.Score, 1.0)
}

func TestScoreZeroConfidenceEntriesAreNeutral(t *testing.T) {
	agg := newTestAggregator(Config{StalenessWindow: 10 * time.Minute})
	require.NoError(t, agg.Observe(obs("ETHUSDT", time.Minute, 1, 0)))

	score := agg.Score("ETHUSDT")
	assert.Zero(t, score.Score)
	assert.Equal(t, schema.TrendSourceStale, score.Source)
}

func TestObserveCapacityEvictsOldest(t *testing.T) {
	agg := newTestAggregator(Config{StalenessWindow: time.Hour, Capacity: 3})
	for i := 0; i < 5; i++ {
		require.NoError(t, agg.Observe(obs("BTCUSDT", time.Duration(30-i)*time.Minute, -1, 1)))
	}
	require.NoError(t, agg.Observe(obs("BTCUSDT", time.Minute, 1, 1)))

	assert.Len(t, agg.buf["BTCUSDT"], 3)
	// The surviving window must contain the newest entry.
	newest := agg.buf["BTCUSDT"][2]
	assert.Equal(t, t0.Add(-time.Minute), newest.Ts)
}

func TestObserveRejectsOutOfRange(t *testing.T) {
	agg := newTestAggregator(Config{})

	tests := []schema.SentimentSignal{
		{Symbol: "", Score: 0.5, Confidence: 0.5},
		{Symbol: "BTCUSDT", Score: 1.5, Confidence: 0.5},
		{Symbol: "BTCUSDT", Score: 0.5, Confidence: -0.1},
		{Symbol: "BTCUSDT", Score: -2, Confidence: 2},
	}
	for _, sig := range tests {
		err := agg.Observe(sig)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidSignal))
	}
	assert.Empty(t, agg.buf)
}

func TestScoreTagsSimulatedSource(t *testing.T) {
	agg := newTestAggregator(Config{StalenessWindow: time.Hour})
	sim := obs("BTCUSDT", time.Minute, 0.4, 0.5)
	sim.Source = schema.TrendSourceSimulated
	require.NoError(t, agg.Observe(sim))

	score := agg.Score("BTCUSDT")
	assert.Equal(t, schema.TrendSourceSimulated, score.Source)
}

func TestSimulatedFeedDeterministic(t *testing.T) {
	a := NewSimulatedFeed([]string{"BTCUSDT", "ETHUSDT"}, time.Second, 42)
	b := NewSimulatedFeed([]string{"BTCUSDT", "ETHUSDT"}, time.Second, 42)

	for i := 0; i < 10; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		batchA, batchB := a.Next(now), b.Next(now)
		require.Equal(t, batchA, batchB)
		for _, sig := range batchA {
			assert.Equal(t, schema.TrendSourceSimulated, sig.Source)
			assert.GreaterOrEqual(t, sig.Score, -1.0)
			assert.LessOrEqual(t, sig.Score, 1.0)
			assert.GreaterOrEqual(t, sig.Confidence, 0.0)
			assert.LessOrEqual(t, sig.Confidence, 1.0)
		}
	}
}

func TestScoreText(t *testing.T) {
	tests := []struct {
		text     string
		positive bool
		neutral  bool
	}{
		{"BTC partnership announced, bullish breakout", true, false},
		{"ETH rug pull confirmed, total scam", false, false},
		{"quarterly report published", false, true},
		{"", false, true},
	}
	for _, tt := range tests {
		score, confidence := ScoreText(tt.text)
		if tt.neutral {
			assert.Zero(t, score, tt.text)
			assert.Zero(t, confidence, tt.text)
			continue
		}
		if tt.positive {
			assert.Greater(t, score, 0.0, tt.text)
		} else {
			assert.Less(t, score, 0.0, tt.text)
		}
		assert.Greater(t, confidence, 0.0, tt.text)
	}
}

func TestNewsFeedScoreMatchesSymbols(t *testing.T) {
	feed := NewNewsFeed(NewsConfig{URL: "http://localhost/headlines"}, []string{"BTCUSDT", "ETHUSDT"})

	sigs := feed.Score(headline{
		Title:  "BTC breakout incoming, very bullish",
		Source: "wire",
	}, t0)
	require.Len(t, sigs, 1)
	assert.Equal(t, "BTCUSDT", sigs[0].Symbol)
	assert.Greater(t, sigs[0].Score, 0.0)
	assert.Equal(t, "live:news", sigs[0].Source)

	// Duplicate headlines are emitted once.
	assert.Empty(t, feed.Score(headline{Title: "BTC breakout incoming, very bullish", Source: "wire"}, t0))

	// Explicit symbol tags take precedence over title matching.
	tagged := feed.Score(headline{Title: "major dump warning", Source: "wire", Symbols: []string{"ETH"}}, t0)
	require.Len(t, tagged, 1)
	assert.Equal(t, "ETHUSDT", tagged[0].Symbol)
	assert.Less(t, tagged[0].Score, 0.0)
}
