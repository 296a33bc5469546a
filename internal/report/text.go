// SPDX-License-Identifier: MPL-2.0

package report

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/invowk/pyfreeze/internal/modgraph"
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("39"))

var labelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("214"))

var valueStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("245"))

var severityStyles = map[modgraph.Severity]lipgloss.Style{
	modgraph.SeverityInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
	modgraph.SeverityWarning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	modgraph.SeverityError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
}

// Text renders a terminal summary.
type Text struct {
	w io.Writer
}

// NewText returns a Text sink writing to w.
func NewText(w io.Writer) *Text { return &Text{w: w} }

func (t *Text) Report(_ context.Context, result *modgraph.Result) error {
	var sb strings.Builder

	sb.WriteString(headerStyle.Render(fmt.Sprintf("Module graph: %d nodes, %d edges",
		result.Graph.Len(), len(result.Graph.Edges()))))
	sb.WriteString("\n\n")

	counts := result.CountByKind()
	for _, kind := range modgraph.Kinds() {
		if counts[kind] == 0 {
			continue
		}
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-22s", kind.String())))
		sb.WriteString(valueStyle.Render(fmt.Sprintf("%d", counts[kind])))
		sb.WriteString("\n")
	}

	if len(result.Order) > 0 {
		sb.WriteString("\n")
		sb.WriteString(headerStyle.Render("Collection order"))
		sb.WriteString("\n")
		for _, n := range result.Order {
			sb.WriteString(fmt.Sprintf("  %s %s\n", n.Identifier(), valueStyle.Render("("+n.Kind().String()+")")))
		}
	}

	if len(result.Findings) > 0 {
		sb.WriteString("\n")
		sb.WriteString(headerStyle.Render("Findings"))
		sb.WriteString("\n")
		for _, f := range sortedFindings(result.Findings) {
			style := severityStyles[f.Severity]
			sb.WriteString("  ")
			sb.WriteString(style.Render(fmt.Sprintf("%-7s", f.Severity)))
			sb.WriteString(" ")
			sb.WriteString(f.Message)
			if len(f.Importers) > 0 {
				sb.WriteString(valueStyle.Render(" (imported by " + strings.Join(f.Importers, ", ") + ")"))
			}
			sb.WriteString("\n")
		}
	}

	_, err := io.WriteString(t.w, sb.String())
	return err
}

// sortedFindings orders errors first, keeping build order within a severity.
func sortedFindings(findings []modgraph.Finding) []modgraph.Finding {
	rank := map[modgraph.Severity]int{
		modgraph.SeverityError:   0,
		modgraph.SeverityWarning: 1,
		modgraph.SeverityInfo:    2,
	}
	out := slices.Clone(findings)
	slices.SortStableFunc(out, func(a, b modgraph.Finding) int {
		return rank[a.Severity] - rank[b.Severity]
	})
	return out
}
