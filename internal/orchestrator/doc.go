// Package orchestrator drives one review unit through the gate pipeline to a
// terminal outcome.
//
// # Overview
//
// A run is a loop over routing decisions: the routing engine inspects the
// ledger snapshot, picks the next stage (or a terminal outcome), the stage
// runner executes the check, and the ledger records the result. The loop's
// only exit is a terminal outcome; check failures, tool errors and timeouts
// all stay inside it.
//
// # Guarantees
//
//   - The unit's flow-lock is held for the whole run and released on every
//     exit path, including panics.
//   - Iterations are capped independently of per-stage retry budgets, so a
//     routing bug cannot loop forever.
//   - Gate updates are strictly sequential; the hop log records every
//     decision in evaluation order.
//   - Cancellation is honored at suspension points only: before a stage is
//     scheduled and after its check returns. A cancelled run terminates as
//     cancelled without recording the in-flight result.
//
// # Emission
//
// External surfaces (check runs, summary comment, events) are notified at
// exactly two kinds of points: after each gate update and once at terminal,
// via the Notifier interface. Emission failures never affect routing.
package orchestrator
