// Package core wires the decision pipeline: orderbook snapshots and trend
// scores flow into the strategy router, whose intents pass the risk engine
// before submission.
package core

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/bus"
	"hybrid-scalper/internal/execution"
	"hybrid-scalper/internal/ops"
	"hybrid-scalper/internal/risk"
	"hybrid-scalper/internal/schema"
	"hybrid-scalper/internal/signalgen"
	"hybrid-scalper/internal/state"
	"hybrid-scalper/internal/strategy"
	"hybrid-scalper/internal/trend"
)

// Runtime owns the pipeline stages and their goroutines.
type Runtime struct {
	cfg     ops.Config
	store   *state.Store
	agg     *trend.Aggregator
	router  *strategy.Router
	slot    *bus.IntentSlot
	engine  *risk.Engine
	gateway *execution.Gateway
	feeds   []trend.Feed

	sentiment *bus.Queue[schema.SentimentSignal]

	mu      sync.Mutex
	closing map[string]string // symbol -> pending close order key

	now func() time.Time
}

// New wires the runtime. Sentiment feeds may be empty; the trend side then
// degrades to stale neutral scores.
func New(cfg ops.Config, store *state.Store, gateway *execution.Gateway, feeds ...trend.Feed) *Runtime {
	r := &Runtime{
		cfg:       cfg,
		store:     store,
		agg:       trend.NewAggregator(cfg.Trend.Aggregator),
		slot:      bus.NewIntentSlot(),
		gateway:   gateway,
		feeds:     feeds,
		sentiment: bus.NewQueue[schema.SentimentSignal](256),
		closing:   make(map[string]string),
		now:       time.Now,
	}
	r.router = strategy.NewRouter(cfg.Strategy, r.slot)
	r.engine = risk.NewEngine(r.haltDailyLoss)
	return r
}

// Run starts the pipeline goroutines and blocks until ctx is done.
func (r *Runtime) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, f := range r.feeds {
		wg.Add(1)
		go func(f trend.Feed) {
			defer wg.Done()
			if err := f.Run(ctx, r.emitSentiment); err != nil && ctx.Err() == nil {
				logs.Errorf("sentiment feed %s: %+v", f.Name(), err)
				r.store.RecordError("feed " + f.Name() + ": " + err.Error())
			}
		}(f)
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		r.sentiment.Run(ctx, r.observeSentiment)
	}()
	go func() {
		defer wg.Done()
		r.runTrendTicker(ctx)
	}()
	go func() {
		defer wg.Done()
		r.runIntentLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.runOrderReaper(ctx)
	}()

	r.store.SetRunning(true, "")
	logs.Infof("pipeline running for %v", r.cfg.Symbols)
	<-ctx.Done()
	r.sentiment.Close()
	wg.Wait()
}

// OnSnapshot is the market data entry point. It updates the mark, checks
// protective exits, and feeds the scalping signal into fusion.
func (r *Runtime) OnSnapshot(ctx context.Context, snap schema.OrderBookSnapshot) {
	if mid := snap.Mid(); mid > 0 {
		r.store.UpdateMarkPrice(snap.Symbol, mid)
		r.checkExits(ctx, snap.Symbol, mid)
	}

	sig, err := signalgen.FromSnapshot(snap, r.cfg.Signal)
	if err != nil {
		logs.Warnf("drop snapshot for %s: %+v", snap.Symbol, err)
		return
	}
	r.router.OnMarketSignal(sig)
}

// Start resumes trading after an operator stop or halt.
func (r *Runtime) Start() {
	r.store.SetRunning(true, "")
}

// Stop pauses trading and cancels live orders. Open positions stay.
func (r *Runtime) Stop(reason string) {
	r.store.SetRunning(false, reason)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.gateway.CancelPending(ctx)
}

// UpdateRiskConfig swaps the risk limits atomically.
func (r *Runtime) UpdateRiskConfig(cfg schema.RiskConfig) error {
	return r.store.UpdateRiskConfig(cfg)
}

// ResetDaily re-bases the PnL day.
func (r *Runtime) ResetDaily() {
	r.store.ResetDaily()
}

func (r *Runtime) haltDailyLoss(reason string) {
	logs.Errorf("daily loss limit breached, halting: %s", reason)
	r.Stop(reason)
}

func (r *Runtime) emitSentiment(sig schema.SentimentSignal) {
	if err := r.sentiment.TryPublish(sig); err != nil {
		logs.Warnf("drop sentiment signal for %s: %+v", sig.Symbol, err)
	}
}

func (r *Runtime) observeSentiment(sig schema.SentimentSignal) {
	if err := r.agg.Observe(sig); err != nil {
		logs.Warnf("reject sentiment signal: %+v", err)
	}
}

// runTrendTicker periodically reduces the sentiment buffers and pushes the
// scores into fusion. Stale buffers still produce neutral scores.
func (r *Runtime) runTrendTicker(ctx context.Context) {
	interval := r.cfg.Trend.SimInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range r.cfg.Symbols {
				r.router.OnTrendScore(r.agg.Score(symbol))
			}
		}
	}
}

// runIntentLoop fans pending intents out to one lane per symbol. Each lane
// validates and submits strictly sequentially for its symbol; a slow
// submission, retry backoff included, never stalls the other symbols. Lanes
// hold depth 1 with latest-wins, matching the admission slot.
func (r *Runtime) runIntentLoop(ctx context.Context) {
	lanes := make(map[string]chan schema.TradeIntent)
	var wg sync.WaitGroup
	defer wg.Wait()

	dispatch := func(intent schema.TradeIntent) {
		lane, ok := lanes[intent.Symbol]
		if !ok {
			lane = make(chan schema.TradeIntent, 1)
			lanes[intent.Symbol] = lane
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case next := <-lane:
						r.process(ctx, next)
					}
				}
			}()
		}
		// The dispatcher is the only writer; after dropping a stale entry
		// the buffered send cannot block.
		select {
		case <-lane:
		default:
		}
		lane <- intent
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.slot.Wait():
			for {
				intent, ok := r.slot.Next()
				if !ok {
					break
				}
				dispatch(intent)
			}
		}
	}
}

func (r *Runtime) process(ctx context.Context, intent schema.TradeIntent) {
	r.store.RecordIntent(intent)

	verdict := r.engine.Evaluate(intent, risk.View{State: r.store.Snapshot(), Now: r.now()})
	r.store.RecordVerdict(verdict)
	if !verdict.Approved {
		return
	}

	if err := r.gateway.Submit(ctx, verdict); err != nil {
		logs.Errorf("submit intent %s: %+v", intent.ID, err)
		r.store.RecordError(err.Error())
		return
	}
	r.router.MarkTraded(intent.Symbol, r.now())
}

func (r *Runtime) runOrderReaper(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.gateway.ExpireStale(ctx)
		}
	}
}

// checkExits flattens a position whose mark crossed its stop or target.
// A symbol with a live close order is skipped; a close order that reached a
// terminal state while the position survived releases the latch so the exit
// is retried.
func (r *Runtime) checkExits(ctx context.Context, symbol string, mark float64) {
	p, open := r.store.Snapshot().PositionFor(symbol)

	r.mu.Lock()
	if !open {
		delete(r.closing, symbol)
		r.mu.Unlock()
		return
	}
	if key, pending := r.closing[symbol]; pending {
		if key == "" {
			// Flatten call still in flight.
			r.mu.Unlock()
			return
		}
		if o, ok := r.gateway.Order(key); ok && !o.Terminal() {
			r.mu.Unlock()
			return
		}
		logs.Warnf("close order %s died with %s still open, retrying exit", key, symbol)
		delete(r.closing, symbol)
	}
	crossed, why := exitCrossed(p, mark)
	if !crossed {
		r.mu.Unlock()
		return
	}
	r.closing[symbol] = ""
	r.mu.Unlock()

	logs.Warnf("%s for %s at %.4f, flattening", why, symbol, mark)
	key, err := r.gateway.Flatten(ctx, symbol, mark)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		logs.Errorf("flatten %s: %+v", symbol, err)
		r.store.RecordError(err.Error())
		delete(r.closing, symbol)
		return
	}
	r.closing[symbol] = key
}

func exitCrossed(p schema.Position, mark float64) (bool, string) {
	if p.Direction == schema.DirectionShort {
		if p.StopPrice > 0 && mark >= p.StopPrice {
			return true, "stop hit"
		}
		if p.TargetPrice > 0 && mark <= p.TargetPrice {
			return true, "target hit"
		}
		return false, ""
	}
	if p.StopPrice > 0 && mark <= p.StopPrice {
		return true, "stop hit"
	}
	if p.TargetPrice > 0 && mark >= p.TargetPrice {
		return true, "target hit"
	}
	return false, ""
}
