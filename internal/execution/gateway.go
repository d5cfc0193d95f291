// Package execution submits approved verdicts to the exchange exactly once
// per intent and folds acks and fills back into the position book.
package execution

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// ErrTransient marks exchange errors that are safe to retry: timeouts,
// connection resets, 5xx responses. Clients wrap it into their errors.
var ErrTransient = errors.New("transient exchange error")

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return stderrors.Is(err, ErrTransient)
}

// ExchangeClient is the outbound exchange surface.
type ExchangeClient interface {
	SubmitOrder(ctx context.Context, req schema.OrderRequest) (schema.OrderAck, error)
	CancelOrder(ctx context.Context, idempotencyKey string) error
}

// Book is the position state the gateway writes fills into. The state store
// satisfies it.
type Book interface {
	Snapshot() schema.SystemState
	OpenPosition(schema.Position) error
	ApplyFill(schema.Fill) error
	ClosePosition(symbol string, exitPrice float64) error
	RecordError(msg string)
}

// Config controls retry and fill-timeout behavior.
type Config struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	FillTimeout    time.Duration `mapstructure:"fill_timeout"`
}

// DefaultConfig returns the submission defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		RetryBaseDelay: 250 * time.Millisecond,
		RetryMaxDelay:  2 * time.Second,
		FillTimeout:    5 * time.Second,
	}
}

// Gateway owns order submission. Per intent idempotency key there is at
// most one live order; resubmission of an already tracked intent is a no-op.
type Gateway struct {
	mu     sync.Mutex
	cfg    Config
	client ExchangeClient
	book   Book
	state  *StateMachine

	now func() time.Time
}

// NewGateway creates a gateway over the exchange client and position book.
func NewGateway(cfg Config, client ExchangeClient, book Book) *Gateway {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = DefaultConfig().RetryMaxDelay
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = DefaultConfig().FillTimeout
	}
	return &Gateway{
		cfg:    cfg,
		client: client,
		book:   book,
		state:  NewStateMachine(),
		now:    time.Now,
	}
}

// Submit sends the approved verdict as a market order. The idempotency key
// derives from the intent, so retried calls for the same intent submit at
// most once.
func (g *Gateway) Submit(ctx context.Context, verdict schema.RiskVerdict) error {
	if !verdict.Approved {
		return errors.Errorf("refusing unapproved intent %s", verdict.Intent.ID)
	}
	intent := verdict.Intent
	if intent.RefPrice <= 0 {
		return errors.Errorf("intent %s has no reference price", intent.ID)
	}

	req := schema.OrderRequest{
		IdempotencyKey: intent.IdempotencyKey(),
		Symbol:         intent.Symbol,
		Side:           intent.Direction.OrderSide(),
		Type:           schema.OrderTypeMarket,
		Size:           verdict.AdjustedSize / intent.RefPrice, // quote risk to base units
	}

	g.mu.Lock()
	_, err := g.state.Track(req, g.now().Add(g.cfg.FillTimeout))
	g.mu.Unlock()
	if stderrors.Is(err, ErrDuplicateOrder) {
		logs.Warnf("duplicate submission suppressed for %s", req.IdempotencyKey)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "track order %s", req.IdempotencyKey)
	}

	return g.send(ctx, req)
}

// Flatten submits a reduce-only market order closing the open position for
// symbol and returns its idempotency key, so the caller can watch the close
// order's lifecycle. Used for stop, target and shutdown exits.
func (g *Gateway) Flatten(ctx context.Context, symbol string, refPrice float64) (string, error) {
	p, ok := g.book.Snapshot().PositionFor(symbol)
	if !ok {
		return "", errors.Errorf("no open position for %s", symbol)
	}

	req := schema.OrderRequest{
		IdempotencyKey: fmt.Sprintf("close-%s-%d", symbol, g.now().UnixNano()),
		Symbol:         symbol,
		Side:           p.Direction.CloseSide(),
		Type:           schema.OrderTypeMarket,
		Size:           p.Size,
		ReduceOnly:     true,
	}

	g.mu.Lock()
	_, err := g.state.Track(req, g.now().Add(g.cfg.FillTimeout))
	g.mu.Unlock()
	if err != nil {
		return "", errors.Wrapf(err, "track close order %s", req.IdempotencyKey)
	}
	logs.Infof("flattening %s %.6f @ ref %.4f", symbol, p.Size, refPrice)
	if err := g.send(ctx, req); err != nil {
		return "", err
	}
	return req.IdempotencyKey, nil
}

// OnFill folds one execution event into the order state and position book.
func (g *Gateway) OnFill(fill schema.Fill) error {
	g.mu.Lock()
	order, err := g.state.ApplyFill(fill)
	g.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "apply fill %s", fill.IdempotencyKey)
	}
	logs.Debugf("fill %s %s %.6f @ %.4f, leaves %.6f", fill.Symbol, fill.Side, fill.Size, fill.Price, order.LeavesSize)

	if fill.ReduceOnly {
		if err := g.book.ApplyFill(fill); err != nil {
			g.book.RecordError(err.Error())
			return err
		}
		return nil
	}

	if _, open := g.book.Snapshot().PositionFor(fill.Symbol); open {
		if err := g.book.ApplyFill(fill); err != nil {
			g.book.RecordError(err.Error())
			return err
		}
		return nil
	}
	if err := g.book.OpenPosition(g.newPosition(fill)); err != nil {
		g.book.RecordError(err.Error())
		return err
	}
	return nil
}

// ExpireStale cancels the remainder of live orders past their fill
// deadline. Called periodically; filled portions stay booked.
func (g *Gateway) ExpireStale(ctx context.Context) {
	now := g.now()

	g.mu.Lock()
	var stale []*Order
	for _, o := range g.state.Live() {
		if now.After(o.Deadline) {
			stale = append(stale, o)
		}
	}
	g.mu.Unlock()

	for _, o := range stale {
		g.cancel(ctx, o.Key, "fill timeout")
	}
}

// CancelPending cancels every live order. Called on strategy stop.
func (g *Gateway) CancelPending(ctx context.Context) {
	g.mu.Lock()
	live := g.state.Live()
	g.mu.Unlock()

	for _, o := range live {
		g.cancel(ctx, o.Key, "strategy stopped")
	}
}

// Order exposes the tracked order for a key, for tests and diagnostics.
func (g *Gateway) Order(key string) (Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.state.Order(key)
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (g *Gateway) send(ctx context.Context, req schema.OrderRequest) error {
	ack, err := g.submitWithRetry(ctx, req)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		if _, smErr := g.state.MarkCanceled(req.IdempotencyKey); smErr != nil {
			logs.Errorf("mark failed order %s: %+v", req.IdempotencyKey, smErr)
		}
		g.book.RecordError(fmt.Sprintf("submit %s: %v", req.IdempotencyKey, err))
		return errors.Wrapf(err, "submit order %s", req.IdempotencyKey)
	}

	if _, err := g.state.ApplyAck(ack); err != nil {
		// A fast venue can deliver the full fill before the ack lands.
		if !stderrors.Is(err, ErrInvalidTransition) {
			return errors.Wrapf(err, "apply ack %s", ack.IdempotencyKey)
		}
		logs.Debugf("late ack for %s ignored", ack.IdempotencyKey)
	}
	if ack.Status == schema.AckRejected {
		g.book.RecordError(fmt.Sprintf("order %s rejected: %s", req.IdempotencyKey, ack.Detail))
		return errors.Errorf("order %s rejected: %s", req.IdempotencyKey, ack.Detail)
	}
	logs.Infof("order %s acked as %s", req.IdempotencyKey, ack.ExchangeID)
	return nil
}

// submitWithRetry retries transient failures with bounded exponential
// backoff. Non-transient errors and exhausted attempts propagate.
func (g *Gateway) submitWithRetry(ctx context.Context, req schema.OrderRequest) (schema.OrderAck, error) {
	delay := g.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		ack, err := g.client.SubmitOrder(ctx, req)
		if err == nil {
			return ack, nil
		}
		if !IsTransient(err) || attempt >= g.cfg.MaxAttempts {
			return schema.OrderAck{}, err
		}
		logs.Warnf("submit %s attempt %d/%d failed, retrying in %s: %v", req.IdempotencyKey, attempt, g.cfg.MaxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return schema.OrderAck{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > g.cfg.RetryMaxDelay {
			delay = g.cfg.RetryMaxDelay
		}
	}
}

func (g *Gateway) cancel(ctx context.Context, key, why string) {
	if err := g.client.CancelOrder(ctx, key); err != nil {
		g.book.RecordError(fmt.Sprintf("cancel %s: %v", key, err))
		logs.Errorf("cancel %s (%s): %+v", key, why, err)
		return
	}
	g.mu.Lock()
	_, err := g.state.MarkCanceled(key)
	g.mu.Unlock()
	if err != nil {
		logs.Errorf("mark canceled %s: %+v", key, err)
		return
	}
	logs.Infof("order %s canceled: %s", key, why)
}

// newPosition opens from the first fill, deriving stop and target levels
// from the configured bps offsets when present.
func (g *Gateway) newPosition(fill schema.Fill) schema.Position {
	dir := schema.DirectionLong
	if fill.Side == schema.SideSell {
		dir = schema.DirectionShort
	}
	p := schema.Position{
		Symbol:     fill.Symbol,
		Direction:  dir,
		EntryPrice: fill.Price,
		Size:       fill.Size,
		OpenedAt:   fill.Ts,
	}

	cfg := g.book.Snapshot().RiskConfig
	sign := 1.0
	if dir == schema.DirectionShort {
		sign = -1
	}
	if cfg.TakeProfitBps > 0 {
		p.TargetPrice = fill.Price * (1 + sign*cfg.TakeProfitBps/10000)
	}
	if cfg.StopLossBps > 0 {
		p.StopPrice = fill.Price * (1 - sign*cfg.StopLossBps/10000)
	}
	return p
}
