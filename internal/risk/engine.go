// Package risk is the only component allowed to approve or reject a trade
// intent.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/yanun0323/logs"

	"hybrid-scalper/internal/schema"
)

// View is the single consistent snapshot a validation runs against. It is
// captured once at the start of Evaluate; no mutation interleaves mid-check.
type View struct {
	State schema.SystemState
	Now   time.Time
}

// check is one ordered validator. It returns a zero reason to pass, and may
// shrink verdict.AdjustedSize (never grow it).
type check func(intent schema.TradeIntent, view View, verdict *schema.RiskVerdict) (schema.RejectReason, string)

// Engine validates intents against the risk limits. State machine per
// intent: Received -> Validated -> Approved|Rejected, first failing check
// wins.
type Engine struct {
	checks []check
	halt   func(reason string)
}

// NewEngine builds the engine. halt is invoked once per daily-loss breach
// detection; the caller latches the running flag (sticky until an explicit
// operator restart).
func NewEngine(halt func(reason string)) *Engine {
	e := &Engine{halt: halt}
	e.checks = []check{
		e.checkRunning,
		e.checkDailyPnL,
		e.checkPositionCount,
		e.checkSizeClamp,
		e.checkSlippage,
	}
	return e
}

// Evaluate runs the ordered validator chain over one immutable view.
// Idempotent for a given (intent, view) pair.
func (e *Engine) Evaluate(intent schema.TradeIntent, view View) schema.RiskVerdict {
	if view.Now.IsZero() {
		view.Now = time.Now()
	}
	verdict := schema.RiskVerdict{
		Intent:       intent,
		Approved:     true,
		AdjustedSize: intent.Size,
		ValidatedAt:  view.Now,
	}

	for _, c := range e.checks {
		reason, detail := c(intent, view, &verdict)
		if reason != schema.ReasonNone {
			verdict.Approved = false
			verdict.Reason = reason
			verdict.Detail = detail
			verdict.AdjustedSize = 0
			logs.Infof("intent %s rejected: %s (%s)", intent.ID, reason, detail)
			return verdict
		}
	}
	return verdict
}

func (e *Engine) checkRunning(_ schema.TradeIntent, view View, _ *schema.RiskVerdict) (schema.RejectReason, string) {
	if !view.State.Running {
		return schema.ReasonStopped, "strategy is stopped"
	}
	return schema.ReasonNone, ""
}

// checkDailyPnL enforces the daily loss limit and, from original behavior,
// the optional daily profit target. Only a loss breach latches the halt.
func (e *Engine) checkDailyPnL(_ schema.TradeIntent, view View, _ *schema.RiskVerdict) (schema.RejectReason, string) {
	cfg := view.State.RiskConfig
	pnl := view.State.PnLDay

	if pnl <= -cfg.DailyLossLimit {
		detail := fmt.Sprintf("daily loss %.2f breaches limit %.2f", -pnl, cfg.DailyLossLimit)
		if e.halt != nil {
			e.halt(string(schema.ReasonDailyLoss))
		}
		return schema.ReasonDailyLoss, detail
	}

	if cfg.DayProfitTargetPct > 0 && pnl >= cfg.DailyLossLimit*cfg.DayProfitTargetPct/100 {
		return schema.ReasonProfitTarget, fmt.Sprintf("daily profit target reached: %.2f", pnl)
	}
	return schema.ReasonNone, ""
}

func (e *Engine) checkPositionCount(intent schema.TradeIntent, view View, _ *schema.RiskVerdict) (schema.RejectReason, string) {
	if _, open := view.State.PositionFor(intent.Symbol); open {
		return schema.ReasonPositionCount, fmt.Sprintf("position already open for %s", intent.Symbol)
	}
	if len(view.State.Positions) >= view.State.RiskConfig.MaxPositions {
		return schema.ReasonPositionCount, fmt.Sprintf("max positions reached: %d", view.State.RiskConfig.MaxPositions)
	}
	return schema.ReasonNone, ""
}

// checkSizeClamp never rejects: oversized requests are clamped to the
// per-trade risk limit and validation proceeds.
func (e *Engine) checkSizeClamp(_ schema.TradeIntent, view View, verdict *schema.RiskVerdict) (schema.RejectReason, string) {
	limit := view.State.RiskConfig.MaxRiskPerTrade
	if verdict.AdjustedSize > limit {
		verdict.AdjustedSize = limit
	}
	return schema.ReasonNone, ""
}

func (e *Engine) checkSlippage(intent schema.TradeIntent, view View, _ *schema.RiskVerdict) (schema.RejectReason, string) {
	if intent.RefPrice <= 0 {
		return schema.ReasonSlippage, "intent has no reference price"
	}
	mark := view.State.Mark(intent.Symbol)
	if mark <= 0 {
		// No mark yet for this symbol: nothing to compare against.
		return schema.ReasonNone, ""
	}
	deviationBps := math.Abs(mark-intent.RefPrice) / intent.RefPrice * 10000
	if deviationBps > view.State.RiskConfig.MaxSlippageBps {
		return schema.ReasonSlippage, fmt.Sprintf("price deviation %.1f bps exceeds %.1f bps", deviationBps, view.State.RiskConfig.MaxSlippageBps)
	}
	return schema.ReasonNone, ""
}
