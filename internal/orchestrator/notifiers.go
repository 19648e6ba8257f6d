package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
)

type multiNotifier []Notifier

// Notifiers combines notifiers into one that fans every emission out in
// argument order. Nil entries are dropped; with none left it degrades to
// the nop notifier, so callers can pass optional sinks unconditionally.
func Notifiers(notifiers ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return NopNotifier{}
	case 1:
		return out[0]
	default:
		return out
	}
}

func (m multiNotifier) GateUpdated(ctx context.Context, unit review.Unit, g gate.Gate) {
	for _, n := range m {
		n.GateUpdated(ctx, unit, g)
	}
}

func (m multiNotifier) RunFinished(ctx context.Context, rcpt *receipt.Receipt) {
	for _, n := range m {
		n.RunFinished(ctx, rcpt)
	}
}
