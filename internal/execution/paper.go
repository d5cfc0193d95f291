package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// MarkSource supplies the last mark prices for fill simulation.
type MarkSource interface {
	Snapshot() schema.SystemState
}

// PaperClient simulates the exchange: submissions ack immediately and fill
// in full at the current mark after a short latency.
type PaperClient struct {
	mu       sync.Mutex
	marks    MarkSource
	fills    func(schema.Fill)
	delay    time.Duration
	seq      uint64
	canceled map[string]bool

	now func() time.Time
}

// NewPaperClient creates a paper venue over the given mark source.
func NewPaperClient(marks MarkSource, delay time.Duration) *PaperClient {
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	return &PaperClient{
		marks:    marks,
		delay:    delay,
		canceled: make(map[string]bool),
		now:      time.Now,
	}
}

// SetFillHandler wires the fill stream, normally to Gateway.OnFill.
func (c *PaperClient) SetFillHandler(h func(schema.Fill)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills = h
}

// SubmitOrder acks the request and schedules a full fill at the mark, or at
// the limit price for limit orders.
func (c *PaperClient) SubmitOrder(_ context.Context, req schema.OrderRequest) (schema.OrderAck, error) {
	price := c.marks.Snapshot().Mark(req.Symbol)
	if req.Type == schema.OrderTypeLimit && req.Price > 0 {
		price = req.Price
	}
	if price <= 0 {
		return schema.OrderAck{
			IdempotencyKey: req.IdempotencyKey,
			Status:         schema.AckRejected,
			Detail:         "no mark price for " + req.Symbol,
			Ts:             c.now(),
		}, nil
	}

	c.mu.Lock()
	c.seq++
	exchangeID := fmt.Sprintf("paper-%d", c.seq)
	c.mu.Unlock()

	fill := schema.Fill{
		IdempotencyKey: req.IdempotencyKey,
		ExchangeID:     exchangeID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Price:          price,
		Size:           req.Size,
		ReduceOnly:     req.ReduceOnly,
	}
	time.AfterFunc(c.delay, func() { c.emit(fill) })

	return schema.OrderAck{
		IdempotencyKey: req.IdempotencyKey,
		ExchangeID:     exchangeID,
		Status:         schema.AckAccepted,
		Ts:             c.now(),
	}, nil
}

// CancelOrder suppresses the scheduled fill for the key.
func (c *PaperClient) CancelOrder(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled[key] = true
	return nil
}

func (c *PaperClient) emit(fill schema.Fill) {
	c.mu.Lock()
	handler := c.fills
	dropped := c.canceled[fill.IdempotencyKey]
	delete(c.canceled, fill.IdempotencyKey)
	c.mu.Unlock()

	if dropped || handler == nil {
		if dropped {
			logs.Debugf("paper fill for %s suppressed by cancel", fill.IdempotencyKey)
		}
		return
	}
	fill.Ts = c.now()
	handler(fill)
}
