package agents

import (
	"context"

	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

type interruptKey struct{}

// WithInterrupt attaches a cancel flag to ctx. The flag is polled at node
// boundaries and between tool-loop iterations; it does not abort an LLM
// call already in flight.
func WithInterrupt(ctx context.Context, flag func() bool) context.Context {
	return context.WithValue(ctx, interruptKey{}, flag)
}

// Interrupted returns a cancelled error once the run was asked to stop.
func Interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return terrors.Wrap(err, terrors.CodeCancelled, "analysis cancelled")
	}
	if flag, ok := ctx.Value(interruptKey{}).(func() bool); ok && flag() {
		return terrors.New(terrors.CodeCancelled, "analysis cancelled")
	}
	return nil
}
