package trend

import (
	"context"

	"hybrid-scalper/internal/schema"
)

// Feed is the contract every sentiment source fulfills, live or simulated.
// Run blocks until the context is done, pushing observations through emit.
type Feed interface {
	Name() string
	Run(ctx context.Context, emit func(schema.SentimentSignal)) error
}
