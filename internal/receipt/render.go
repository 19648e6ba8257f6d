package receipt

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/review"
)

var (
	passColor    = color.New(color.FgHiGreen).SprintFunc()
	failColor    = color.New(color.FgHiRed).SprintFunc()
	skipColor    = color.New(color.FgHiYellow).SprintFunc()
	pendingColor = color.New(color.FgHiBlue).SprintFunc()
)

// StatusColored renders a gate status for terminal output.
func StatusColored(s gate.Status) string {
	switch s {
	case gate.StatusPass:
		return passColor(string(s))
	case gate.StatusFail:
		return failColor(string(s))
	case gate.StatusSkipped:
		return skipColor(string(s))
	default:
		return pendingColor(string(s))
	}
}

func statusMarker(s gate.Status) string {
	switch s {
	case gate.StatusPass:
		return "✅ pass"
	case gate.StatusFail:
		return "❌ fail"
	case gate.StatusSkipped:
		return "➖ skipped"
	default:
		return "⏳ pending"
	}
}

// JSON renders the receipt for archival and the run API.
func (r *Receipt) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Summary renders the one-line form used in logs and CLI exit messages.
func (r *Receipt) Summary() string {
	pass, fail, skipped, pending := r.Counts()
	parts := []string{fmt.Sprintf("%d pass", pass)}
	if fail > 0 {
		parts = append(parts, fmt.Sprintf("%d fail", fail))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}
	if pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", pending))
	}
	return fmt.Sprintf("%s: %d gates (%s) in %s",
		r.Outcome, len(r.Gates), strings.Join(parts, ", "), r.Duration().Round(timeRounding))
}

// WriteHuman renders the terminal form: headline, gate table, and the
// decision trail.
func (r *Receipt) WriteHuman(w io.Writer) {
	fmt.Fprintf(w, "%s  %s (%s tier)\n", outcomeColored(r), r.Unit.Key(), r.Tier)
	if r.Reason != "" {
		fmt.Fprintf(w, "   %s\n", r.Reason)
	}
	if r.Source != nil {
		fmt.Fprintf(w, "   %s\n", r.Source.Line())
	}
	fmt.Fprintln(w)

	table := tablewriter.NewTable(w,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header([]string{"Gate", "Phase", "Status", "Attempts", "Duration", "Evidence"})
	for _, g := range r.Gates {
		table.Append([]string{
			g.Name,
			g.Phase,
			StatusColored(g.Status),
			fmt.Sprintf("%d", g.Attempts),
			fmtMillis(g.DurationMS),
			g.Evidence,
		})
	}
	table.Render()

	if len(r.Hops) > 0 {
		fmt.Fprintf(w, "\nDecision trail (%d hops):\n", len(r.Hops))
		for _, h := range r.Hops {
			fmt.Fprintf(w, "  %2d. %-24s %s\n", h.Seq, h.Decision, h.Reason)
		}
	}
}

// Markdown renders the GitHub summary comment body: outcome headline plus
// the gate table. The decision trail is posted separately so the summary
// stays editable in place.
func (r *Receipt) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Gate ledger: `%s` (%s tier)\n\n", r.Unit.Key(), r.Tier)
	fmt.Fprintf(&b, "**Outcome: %s**", r.Outcome)
	if r.Reason != "" {
		fmt.Fprintf(&b, " :: %s", mdEscape(r.Reason))
	}
	b.WriteString("\n\n")
	if r.Source != nil && r.Source.GitSHA != "" {
		fmt.Fprintf(&b, "Evaluated at `%s`", shortSHA(r.Source.GitSHA))
		if r.Source.CIRunURL != "" {
			fmt.Fprintf(&b, " ([run](%s))", r.Source.CIRunURL)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("| Gate | Phase | Status | Attempts | Duration | Evidence |\n")
	b.WriteString("|------|-------|--------|----------|----------|----------|\n")
	for _, g := range r.Gates {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
			g.Name, g.Phase, statusMarker(g.Status), g.Attempts, fmtMillis(g.DurationMS), mdEscape(g.Evidence))
	}
	pass, fail, skipped, pending := r.Counts()
	fmt.Fprintf(&b, "\n%d pass / %d fail / %d skipped / %d pending in %s\n",
		pass, fail, skipped, pending, r.Duration().Round(timeRounding))
	return b.String()
}

// DecisionLog renders the append-only routing trail as markdown.
func (r *Receipt) DecisionLog() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<details><summary>Decision log: %d hops, outcome %s</summary>\n\n", len(r.Hops), r.Outcome)
	for _, h := range r.Hops {
		fmt.Fprintf(&b, "%d. `%s` %s", h.Seq, h.Decision, mdEscape(h.Reason))
		if len(h.Evidence) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(h.Evidence, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n</details>\n")
	return b.String()
}

const timeRounding = 10 * time.Millisecond

func outcomeColored(r *Receipt) string {
	s := strings.ToUpper(string(r.Outcome))
	switch r.Outcome {
	case review.OutcomeReady:
		return passColor(s)
	case review.OutcomeCancelled:
		return pendingColor(s)
	case review.OutcomeNeedsRework:
		return skipColor(s)
	default:
		return failColor(s)
	}
}

func fmtMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
