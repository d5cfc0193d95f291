// Package bus carries events between pipeline stages without blocking
// producers.
package bus

import (
	"sync"

	"hybrid-scalper/internal/schema"
)

// IntentSlot is the per-symbol admission mailbox of depth 1. A new intent
// for a symbol already pending replaces it; it never queues behind it. The
// consumer drains symbols one at a time, which keeps risk evaluation and
// execution strictly sequential per symbol.
type IntentSlot struct {
	mu      sync.Mutex
	pending map[string]schema.TradeIntent
	order   []string // FIFO over symbols with a pending intent

	notify chan struct{}
}

// NewIntentSlot creates an empty slot set.
func NewIntentSlot() *IntentSlot {
	return &IntentSlot{
		pending: make(map[string]schema.TradeIntent),
		notify:  make(chan struct{}, 1),
	}
}

// Put stores the latest intent for its symbol, replacing any pending one.
// It never blocks.
func (s *IntentSlot) Put(intent schema.TradeIntent) {
	s.mu.Lock()
	if _, ok := s.pending[intent.Symbol]; !ok {
		s.order = append(s.order, intent.Symbol)
	}
	s.pending[intent.Symbol] = intent
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next pops the oldest pending symbol's intent, if any.
func (s *IntentSlot) Next() (schema.TradeIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return schema.TradeIntent{}, false
	}
	symbol := s.order[0]
	s.order = s.order[1:]
	intent := s.pending[symbol]
	delete(s.pending, symbol)
	return intent, true
}

// Wait returns a channel that fires when a new intent may be pending.
func (s *IntentSlot) Wait() <-chan struct{} {
	return s.notify
}

// Len reports the number of symbols with a pending intent.
func (s *IntentSlot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
