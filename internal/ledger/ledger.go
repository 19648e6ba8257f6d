// Package ledger maintains the authoritative record of one pipeline run: a
// table of gate outcomes keyed by stage name, plus an append-only hop log of
// routing decisions. The table is idempotently updatable (re-evaluating a
// stage edits its row); the hop log only ever grows.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// HopEntry is one audit record of a routing decision. Ordering within the
// hop log reflects real evaluation order.
type HopEntry struct {
	// ID uniquely identifies the entry for archival.
	ID string `json:"id"`

	// Seq is the 1-based position in the hop log.
	Seq int `json:"seq"`

	// Decision names what the router chose: a stage to run or a terminal
	// outcome.
	Decision string `json:"decision"`

	// Reason is the human-readable explanation.
	Reason string `json:"reason"`

	// Evidence references the gate names the decision was based on.
	Evidence []string `json:"evidence,omitempty"`

	// At is when the decision was recorded.
	At time.Time `json:"at"`
}

// Ledger is the mutable run record. It is not safe for concurrent use: it is
// owned exclusively by the orchestrator holding the unit's flow-lock, which
// serializes all access.
type Ledger struct {
	unit  review.Unit
	order []string
	gates map[string]gate.Gate
	hops  []HopEntry
}

// New creates an empty ledger for a review unit. Gate rows are created
// lazily on first evaluation of their stage.
func New(unit review.Unit) *Ledger {
	return &Ledger{
		unit:  unit,
		gates: make(map[string]gate.Gate),
	}
}

// Unit returns the review unit this ledger records.
func (l *Ledger) Unit() review.Unit {
	return l.unit
}

// UpsertGate records a gate outcome. If the stage already has a row it is
// replaced in place; the table never holds duplicate rows for one stage.
func (l *Ledger) UpsertGate(g gate.Gate) {
	if _, exists := l.gates[g.Name]; !exists {
		l.order = append(l.order, g.Name)
	}
	l.gates[g.Name] = g
}

// Gate returns the current row for a stage.
func (l *Ledger) Gate(name string) (gate.Gate, bool) {
	g, ok := l.gates[name]
	return g, ok
}

// Status returns the stage's current status, pending when the stage has no
// row yet.
func (l *Ledger) Status(name string) gate.Status {
	if g, ok := l.gates[name]; ok {
		return g.Status
	}
	return gate.StatusPending
}

// Gates returns all rows in first-evaluation order.
func (l *Ledger) Gates() []gate.Gate {
	out := make([]gate.Gate, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.gates[name])
	}
	return out
}

// AppendHop records a routing decision in the hop log.
func (l *Ledger) AppendHop(decision, reason string, evidence []string) HopEntry {
	entry := HopEntry{
		ID:       uuid.New().String(),
		Seq:      len(l.hops) + 1,
		Decision: decision,
		Reason:   reason,
		Evidence: append([]string(nil), evidence...),
		At:       time.Now().UTC(),
	}
	l.hops = append(l.hops, entry)
	return entry
}

// Hops returns a copy of the hop log in append order.
func (l *Ledger) Hops() []HopEntry {
	out := make([]HopEntry, len(l.hops))
	copy(out, l.hops)
	return out
}

// Snapshot captures an immutable view for routing. Routing over a snapshot
// plus static policy makes every decision reproducible.
func (l *Ledger) Snapshot() Snapshot {
	gates := make([]gate.Gate, 0, len(l.order))
	byName := make(map[string]gate.Gate, len(l.order))
	for _, name := range l.order {
		g := l.gates[name]
		gates = append(gates, g)
		byName[name] = g
	}
	return Snapshot{
		unit:     l.unit,
		gates:    gates,
		byName:   byName,
		hopCount: len(l.hops),
	}
}

// Snapshot is an immutable ledger view.
type Snapshot struct {
	unit     review.Unit
	gates    []gate.Gate
	byName   map[string]gate.Gate
	hopCount int
}

// Unit returns the review unit.
func (s Snapshot) Unit() review.Unit {
	return s.unit
}

// Gate returns the snapshotted row for a stage.
func (s Snapshot) Gate(name string) (gate.Gate, bool) {
	g, ok := s.byName[name]
	return g, ok
}

// Status returns the stage's snapshotted status, pending when absent.
func (s Snapshot) Status(name string) gate.Status {
	if g, ok := s.byName[name]; ok {
		return g.Status
	}
	return gate.StatusPending
}

// Attempts returns the stage's snapshotted attempt count.
func (s Snapshot) Attempts(name string) int {
	if g, ok := s.byName[name]; ok {
		return g.Attempts
	}
	return 0
}

// Gates returns the snapshotted rows in first-evaluation order.
func (s Snapshot) Gates() []gate.Gate {
	out := make([]gate.Gate, len(s.gates))
	copy(out, s.gates)
	return out
}

// HopCount returns how many hop entries existed at snapshot time.
func (s Snapshot) HopCount() int {
	return s.hopCount
}
