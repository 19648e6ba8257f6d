package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/receipt"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// Recorder adapts the Store to the orchestrator's notifier seam: per-gate
// updates are ignored, terminal receipts are archived. It never fails the
// run; archive errors are logged and dropped.
type Recorder struct {
	store *Store
	log   *zap.Logger
}

// NewRecorder wraps a store for use as a run notifier.
func NewRecorder(store *Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, log: logger}
}

func (r *Recorder) GateUpdated(context.Context, review.Unit, gate.Gate) {}

// RunFinished archives the receipt. When the unit has a prior archived run
// with a different outcome, the transition is logged so operators can spot
// flips (ready to blocked, needs-rework to ready) without querying.
func (r *Recorder) RunFinished(ctx context.Context, rcpt *receipt.Receipt) {
	if rcpt == nil {
		return
	}
	unitKey := rcpt.Unit.Key()
	prev, prevErr := r.store.LatestRun(ctx, unitKey)

	id, err := r.store.SaveRun(ctx, rcpt)
	if err != nil {
		r.log.Error("archiving run failed",
			zap.String("unit", unitKey),
			zap.String("outcome", string(rcpt.Outcome)),
			zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("archive_id", id),
		zap.String("run_id", rcpt.RunID),
		zap.String("unit", unitKey),
		zap.String("outcome", string(rcpt.Outcome)),
	}
	if prevErr == nil && prev.Outcome != rcpt.Outcome {
		fields = append(fields, zap.String("previous_outcome", string(prev.Outcome)))
		r.log.Info("run archived with outcome change", fields...)
		return
	}
	r.log.Info("run archived", fields...)
}
