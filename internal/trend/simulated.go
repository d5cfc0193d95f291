package trend

import (
	"context"
	"math/rand"
	"time"

	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// SimulatedFeed stands in when no live sentiment feed is configured. It is
// seeded and fully reproducible; emitted signals carry the simulated source
// tag so operators can tell them apart from real sentiment.
type SimulatedFeed struct {
	symbols  []string
	interval time.Duration
	rng      *rand.Rand
}

// NewSimulatedFeed builds a deterministic feed for the given symbols.
func NewSimulatedFeed(symbols []string, interval time.Duration, seed int64) *SimulatedFeed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &SimulatedFeed{
		symbols:  symbols,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Name implements Feed.
func (f *SimulatedFeed) Name() string { return schema.TrendSourceSimulated }

// Run emits one bounded pseudo-random observation per symbol per tick.
func (f *SimulatedFeed) Run(ctx context.Context, emit func(schema.SentimentSignal)) error {
	logs.Infof("simulated sentiment feed started for %d symbols", len(f.symbols))
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, sig := range f.Next(now) {
				emit(sig)
			}
		}
	}
}

// Next produces the next batch of observations. Split out from Run so the
// sequence can be asserted without a ticker.
func (f *SimulatedFeed) Next(now time.Time) []schema.SentimentSignal {
	out := make([]schema.SentimentSignal, 0, len(f.symbols))
	for _, symbol := range f.symbols {
		out = append(out, schema.SentimentSignal{
			Symbol:     symbol,
			Ts:         now,
			Source:     schema.TrendSourceSimulated,
			Score:      f.rng.Float64()*2 - 1, // [-1,1)
			Confidence: 0.2 + f.rng.Float64()*0.6,
		})
	}
	return out
}
