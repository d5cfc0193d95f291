// Package trend collects sentiment observations from external feeds and
// reduces them to one normalized score per symbol.
package trend

import (
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// ErrInvalidSignal marks an out-of-range sentiment observation. It is
// dropped and never reaches the buffer.
var ErrInvalidSignal = errors.New("invalid sentiment signal")

// Config bounds the per-symbol observation buffer.
type Config struct {
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
	Capacity        int           `mapstructure:"capacity"`
}

// DefaultConfig keeps a few minutes of observations per symbol.
func DefaultConfig() Config {
	return Config{StalenessWindow: 5 * time.Minute, Capacity: 64}
}

// Aggregator owns a bounded, time-ordered buffer of sentiment signals per
// symbol and reduces them on demand.
type Aggregator struct {
	mu  sync.Mutex
	cfg Config
	buf map[string][]schema.SentimentSignal

	now func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultConfig().StalenessWindow
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &Aggregator{
		cfg: cfg,
		buf: make(map[string][]schema.SentimentSignal),
		now: time.Now,
	}
}

// Observe appends one observation, evicting stale entries and the oldest
// entry once capacity is exceeded.
func (a *Aggregator) Observe(sig schema.SentimentSignal) error {
	if sig.Symbol == "" || sig.Score < -1 || sig.Score > 1 || sig.Confidence < 0 || sig.Confidence > 1 {
		return errors.Wrapf(ErrInvalidSignal, "symbol=%q score=%v confidence=%v", sig.Symbol, sig.Score, sig.Confidence)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entries := append(a.buf[sig.Symbol], sig)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Ts.Before(entries[j].Ts) })
	entries = a.evict(entries, a.now())
	a.buf[sig.Symbol] = entries
	return nil
}

// Score reduces the non-stale buffer for a symbol to one TrendScore using a
// recency-weighted average with feed confidence as weight. An empty or
// all-stale buffer yields a neutral score tagged stale/no-data; Score never
// fails, so downstream fusion always has a value.
func (a *Aggregator) Score(symbol string) schema.TrendScore {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	entries := a.evict(a.buf[symbol], now)
	a.buf[symbol] = entries

	if len(entries) == 0 {
		return schema.TrendScore{Symbol: symbol, Ts: now, Score: 0, Source: schema.TrendSourceStale}
	}

	var weighted, totalWeight float64
	source := schema.TrendSourceLive
	for _, e := range entries {
		age := now.Sub(e.Ts)
		recency := 1 - float64(age)/float64(a.cfg.StalenessWindow)
		if recency < 0 {
			recency = 0
		}
		w := e.Confidence * recency
		weighted += e.Score * w
		totalWeight += w
		if e.Source == schema.TrendSourceSimulated {
			source = schema.TrendSourceSimulated
		}
	}
	if totalWeight == 0 {
		return schema.TrendScore{Symbol: symbol, Ts: now, Score: 0, Source: schema.TrendSourceStale}
	}

	score := weighted / totalWeight
	logs.Debugf("trend score %s: %.3f from %d entries", symbol, score, len(entries))
	return schema.TrendScore{Symbol: symbol, Ts: now, Score: clamp(score, -1, 1), Source: source}
}

func (a *Aggregator) evict(entries []schema.SentimentSignal, now time.Time) []schema.SentimentSignal {
	cutoff := now.Add(-a.cfg.StalenessWindow)
	idx := 0
	for idx < len(entries) && !entries[idx].Ts.After(cutoff) {
		idx++
	}
	entries = entries[idx:]
	if len(entries) > a.cfg.Capacity {
		entries = entries[len(entries)-a.cfg.Capacity:]
	}
	return entries
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
