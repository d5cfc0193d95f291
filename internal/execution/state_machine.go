package execution

import (
	"time"

	"github.com/yanun0323/errors"

	"hybrid-scalper/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("live order already exists for key")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill size")
)

// OrderState tracks the lifecycle of a submitted order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateSent
	OrderStateAcked
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
	OrderStateExpired
)

func (s OrderState) String() string {
	switch s {
	case OrderStateSent:
		return "sent"
	case OrderStateAcked:
		return "acked"
	case OrderStatePartFilled:
		return "part-filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCanceled:
		return "canceled"
	case OrderStateRejected:
		return "rejected"
	case OrderStateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Order is the gateway's view of one submission, keyed by idempotency key.
type Order struct {
	Key        string
	ExchangeID string
	Symbol     string
	Side       schema.Side
	Size       float64
	LeavesSize float64
	ReduceOnly bool
	State      OrderState
	Deadline   time.Time
}

// Terminal reports whether the order can no longer change state.
func (o Order) Terminal() bool {
	return isTerminal(o.State)
}

// StateMachine updates orders from submit/ack/fill events. Not goroutine
// safe; the gateway serializes access.
type StateMachine struct {
	orders map[string]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[string]*Order)}
}

// Order returns the tracked order for a key.
func (m *StateMachine) Order(key string) (*Order, bool) {
	o, ok := m.orders[key]
	return o, ok
}

// Live returns all orders not yet in a terminal state.
func (m *StateMachine) Live() []*Order {
	out := make([]*Order, 0, len(m.orders))
	for _, o := range m.orders {
		if !isTerminal(o.State) {
			out = append(out, o)
		}
	}
	return out
}

// Track registers a new submission in Sent state. A live order under the
// same key is a duplicate; a terminal one is replaced.
func (m *StateMachine) Track(req schema.OrderRequest, deadline time.Time) (*Order, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrUnknownOrder
	}
	if existing, ok := m.orders[req.IdempotencyKey]; ok && !isTerminal(existing.State) {
		return existing, ErrDuplicateOrder
	}
	o := &Order{
		Key:        req.IdempotencyKey,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		LeavesSize: req.Size,
		ReduceOnly: req.ReduceOnly,
		State:      OrderStateSent,
		Deadline:   deadline,
	}
	m.orders[o.Key] = o
	return o, nil
}

// ApplyAck updates an order from the exchange acknowledgment.
func (m *StateMachine) ApplyAck(ack schema.OrderAck) (*Order, error) {
	o, ok := m.orders[ack.IdempotencyKey]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if isTerminal(o.State) {
		return o, ErrInvalidTransition
	}
	o.ExchangeID = ack.ExchangeID
	switch ack.Status {
	case schema.AckAccepted:
		o.State = OrderStateAcked
	case schema.AckRejected:
		o.State = OrderStateRejected
	default:
		o.State = OrderStateUnknown
	}
	return o, nil
}

// ApplyFill reduces the order's leaves by the fill size.
func (m *StateMachine) ApplyFill(fill schema.Fill) (*Order, error) {
	o, ok := m.orders[fill.IdempotencyKey]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if isTerminal(o.State) {
		return o, ErrInvalidTransition
	}
	if fill.Size <= 0 {
		return o, ErrInvalidFill
	}
	o.LeavesSize -= fill.Size
	if o.LeavesSize <= 1e-12 {
		o.LeavesSize = 0
		o.State = OrderStateFilled
	} else {
		o.State = OrderStatePartFilled
	}
	return o, nil
}

// MarkCanceled moves a live order to Canceled, keeping any filled portion.
func (m *StateMachine) MarkCanceled(key string) (*Order, error) {
	o, ok := m.orders[key]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if isTerminal(o.State) {
		return o, ErrInvalidTransition
	}
	o.State = OrderStateCanceled
	return o, nil
}

func isTerminal(state OrderState) bool {
	switch state {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected, OrderStateExpired:
		return true
	default:
		return false
	}
}
