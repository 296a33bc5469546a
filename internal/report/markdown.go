// SPDX-License-Identifier: MPL-2.0

package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/invowk/pyfreeze/internal/modgraph"
)

// Markdown writes the result as a markdown document, optionally rendered
// for the terminal.
type Markdown struct {
	w      io.Writer
	render bool
	style  string
}

// NewMarkdown returns a Markdown sink. With render set the document goes
// through glamour with the automatic style.
func NewMarkdown(w io.Writer, render bool) *Markdown {
	return &Markdown{w: w, render: render, style: "auto"}
}

func (m *Markdown) Report(_ context.Context, result *modgraph.Result) error {
	doc := MarkdownDocument(result)
	if m.render {
		r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(m.style), glamour.WithWordWrap(100))
		if err != nil {
			return fmt.Errorf("creating markdown renderer: %w", err)
		}
		if doc, err = r.Render(doc); err != nil {
			return fmt.Errorf("rendering markdown report: %w", err)
		}
	}
	_, err := io.WriteString(m.w, doc)
	return err
}

// MarkdownDocument returns the unrendered markdown for result.
func MarkdownDocument(result *modgraph.Result) string {
	var sb strings.Builder
	sb.WriteString("# Module graph\n\n")
	fmt.Fprintf(&sb, "%d nodes, %d edges, built in %s.\n\n",
		result.Graph.Len(), len(result.Graph.Edges()), result.Duration.Round(time.Millisecond))

	sb.WriteString("## Modules\n\n")
	sb.WriteString("| Module | Kind | Origin |\n|---|---|---|\n")
	for _, n := range result.Order {
		fmt.Fprintf(&sb, "| `%s` | %s | %s |\n", n.Identifier(), n.Kind(), escapeCell(n.Base().Origin))
	}

	if len(result.Findings) > 0 {
		sb.WriteString("\n## Findings\n\n")
		for _, f := range sortedFindings(result.Findings) {
			fmt.Fprintf(&sb, "- **%s** `%s`: %s", f.Severity, f.Code, f.Message)
			if len(f.Importers) > 0 {
				fmt.Fprintf(&sb, " (imported by %s)", strings.Join(f.Importers, ", "))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
