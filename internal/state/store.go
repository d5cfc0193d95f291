// Package state owns the single source of truth for positions, daily PnL
// and risk configuration. Every mutation is atomic; readers only ever see
// fully applied state through Snapshot.
package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// ErrInvalidConfig marks a rejected risk config update; the prior config
// stays in effect.
var ErrInvalidConfig = errors.New("invalid risk config")

// Repository is the external write-through persistence collaborator. A nil
// repository keeps the store memory-only.
type Repository interface {
	SavePosition(schema.Position) error
	DeletePosition(symbol string) error
	SaveDay(realized float64, haltReason string, running bool) error
	Load() (positions []schema.Position, realized float64, err error)
}

// Store is the mutex-owned state store shared by the pipeline.
type Store struct {
	mu sync.RWMutex

	running    bool
	haltReason string
	realized   decimal.Decimal
	positions  map[string]schema.Position
	marks      map[string]float64
	riskCfg    schema.RiskConfig

	recentIntents  []schema.TradeIntent
	recentVerdicts []schema.RiskVerdict
	recentErrors   []string
	maxEvents      int

	repo Repository
	now  func() time.Time
}

// New creates a store with the given initial risk config. When repo is
// non-nil, positions and realized PnL are read through on startup.
func New(cfg schema.RiskConfig, repo Repository) (*Store, error) {
	s := &Store{
		positions: make(map[string]schema.Position),
		marks:     make(map[string]float64),
		riskCfg:   cfg,
		maxEvents: 50,
		repo:      repo,
		now:       time.Now,
	}
	if repo != nil {
		positions, realized, err := repo.Load()
		if err != nil {
			return nil, errors.Wrap(err, "read through state repository")
		}
		for _, p := range positions {
			s.positions[p.Symbol] = p
			s.marks[p.Symbol] = p.MarkPrice
		}
		s.realized = decimal.NewFromFloat(realized)
		logs.Infof("state restored: %d positions, realized %.2f", len(positions), realized)
	}
	return s, nil
}

// Snapshot returns an immutable copy of the current state. RiskEngine and
// the broadcaster validate and serialize against this copy only.
func (s *Store) Snapshot() schema.SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := schema.SystemState{
		Running:        s.running,
		HaltReason:     s.haltReason,
		RealizedPnL:    s.realized.InexactFloat64(),
		RiskConfig:     s.riskCfg,
		Positions:      make([]schema.Position, 0, len(s.positions)),
		Marks:          make(map[string]float64, len(s.marks)),
		RecentIntents:  append([]schema.TradeIntent(nil), s.recentIntents...),
		RecentVerdicts: append([]schema.RiskVerdict(nil), s.recentVerdicts...),
		RecentErrors:   append([]string(nil), s.recentErrors...),
		Ts:             s.now(),
	}
	var unrealized float64
	for _, p := range s.positions {
		state.Positions = append(state.Positions, p)
		unrealized += p.UnrealizedPnL
	}
	for symbol, mark := range s.marks {
		state.Marks[symbol] = mark
	}
	state.UnrealizedPnL = unrealized
	state.PnLDay = state.RealizedPnL + unrealized
	return state
}

// SetRunning flips the running flag. Reason is recorded when stopping; a
// restart clears it.
func (s *Store) SetRunning(running bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = running
	if running {
		s.haltReason = ""
	} else if reason != "" {
		s.haltReason = reason
	}
	logs.Infof("running=%v reason=%q", running, s.haltReason)
	s.writeThroughDay()
}

// UpdateRiskConfig atomically replaces the risk config. Invalid configs are
// rejected and the prior config retained. The new config applies only to
// intents validated after this call returns.
func (s *Store) UpdateRiskConfig(cfg schema.RiskConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.riskCfg = cfg
	logs.Warnf("risk config updated: %+v", cfg)
	return nil
}

// OpenPosition creates the position for a symbol. Only the execution
// gateway calls this, on the first fill of an entry order.
func (s *Store) OpenPosition(p schema.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.Symbol]; ok {
		return errors.Errorf("position already open for %s", p.Symbol)
	}
	if mark, ok := s.marks[p.Symbol]; ok && mark > 0 {
		p.MarkPrice = mark
		p.UnrealizedPnL = unrealized(p, mark)
	} else {
		p.MarkPrice = p.EntryPrice
	}
	s.positions[p.Symbol] = p
	s.writeThroughPosition(p)
	return nil
}

// ApplyFill folds a fill into the symbol's position: same-side fills grow
// it at a blended entry price, reduce-only fills shrink it and book the
// realized PnL delta.
func (s *Store) ApplyFill(fill schema.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[fill.Symbol]
	if !ok {
		return errors.Errorf("fill for unknown position %s", fill.Symbol)
	}

	if fill.Side == p.Direction.OrderSide() && !fill.ReduceOnly {
		total := p.Size + fill.Size
		p.EntryPrice = (p.EntryPrice*p.Size + fill.Price*fill.Size) / total
		p.Size = total
	} else {
		closed := fill.Size
		if closed > p.Size {
			closed = p.Size
		}
		s.realized = s.realized.Add(realizedDelta(p, fill.Price, closed))
		p.Size -= closed
	}

	if p.Size <= 0 {
		delete(s.positions, fill.Symbol)
		s.writeThroughDelete(fill.Symbol)
		s.writeThroughDay()
		return nil
	}
	p.UnrealizedPnL = unrealized(p, p.MarkPrice)
	s.positions[fill.Symbol] = p
	s.writeThroughPosition(p)
	s.writeThroughDay()
	return nil
}

// ClosePosition removes the position and books realized PnL at the given
// exit price. Used for full closes confirmed by the exchange.
func (s *Store) ClosePosition(symbol string, exitPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[symbol]
	if !ok {
		return errors.Errorf("no open position for %s", symbol)
	}
	s.realized = s.realized.Add(realizedDelta(p, exitPrice, p.Size))
	delete(s.positions, symbol)
	s.writeThroughDelete(symbol)
	s.writeThroughDay()
	logs.Infof("position closed %s @ %.4f, realized day pnl %.2f", symbol, exitPrice, s.realized.InexactFloat64())
	return nil
}

// UpdateMarkPrice records the mark for a symbol and recomputes the open
// position's unrealized PnL.
func (s *Store) UpdateMarkPrice(symbol string, mark float64) {
	if mark <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marks[symbol] = mark
	if p, ok := s.positions[symbol]; ok {
		p.MarkPrice = mark
		p.UnrealizedPnL = unrealized(p, mark)
		s.positions[symbol] = p
	}
}

// RecordIntent appends to the bounded intent ring.
func (s *Store) RecordIntent(intent schema.TradeIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentIntents = prepend(s.recentIntents, intent, s.maxEvents)
}

// RecordVerdict appends to the bounded verdict ring.
func (s *Store) RecordVerdict(v schema.RiskVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentVerdicts = prepend(s.recentVerdicts, v, s.maxEvents)
}

// RecordError appends to the bounded error ring.
func (s *Store) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentErrors = prepend(s.recentErrors, msg, s.maxEvents)
}

// ResetDaily re-bases the PnL day: realized PnL returns to zero and a halt
// reason from a previous day is cleared. Open positions are untouched.
func (s *Store) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realized = decimal.Zero
	s.haltReason = ""
	s.writeThroughDay()
	logs.Warn("daily state reset")
}

func unrealized(p schema.Position, mark float64) float64 {
	if p.Direction == schema.DirectionShort {
		return (p.EntryPrice - mark) * p.Size
	}
	return (mark - p.EntryPrice) * p.Size
}

func realizedDelta(p schema.Position, exitPrice, size float64) decimal.Decimal {
	entry := decimal.NewFromFloat(p.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(size)
	if p.Direction == schema.DirectionShort {
		return entry.Sub(exit).Mul(qty)
	}
	return exit.Sub(entry).Mul(qty)
}

func prepend[T any](ring []T, v T, max int) []T {
	ring = append([]T{v}, ring...)
	if len(ring) > max {
		ring = ring[:max]
	}
	return ring
}

// write-through helpers run under s.mu; persistence failures are logged,
// never propagated into the trading path.

func (s *Store) writeThroughPosition(p schema.Position) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SavePosition(p); err != nil {
		logs.Errorf("write through position %s: %+v", p.Symbol, err)
	}
}

func (s *Store) writeThroughDelete(symbol string) {
	if s.repo == nil {
		return
	}
	if err := s.repo.DeletePosition(symbol); err != nil {
		logs.Errorf("write through delete %s: %+v", symbol, err)
	}
}

func (s *Store) writeThroughDay() {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveDay(s.realized.InexactFloat64(), s.haltReason, s.running); err != nil {
		logs.Errorf("write through day state: %+v", err)
	}
}
