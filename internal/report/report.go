// SPDX-License-Identifier: MPL-2.0

// Package report hands a finished module graph to its consumers: terminal
// and document writers, graph and relational database exports, and a
// Prometheus textfile.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/invowk/pyfreeze/internal/modgraph"
)

// Output formats.
const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ErrUnknownFormat is returned by NewWriter for unsupported formats.
var ErrUnknownFormat = errors.New("unknown report format")

type (
	// Format names a document writer.
	Format string

	// Sink consumes a build result.
	Sink interface {
		Report(ctx context.Context, result *modgraph.Result) error
	}

	// EdgeRecord is one graph edge in a Document.
	EdgeRecord struct {
		Source string `json:"source" yaml:"source"`
		Target string `json:"target" yaml:"target"`

		modgraph.DependencyInfo `yaml:",inline"`
	}

	// Document is the serializable form of a Result. Nodes are listed
	// dependencies first.
	Document struct {
		Nodes           []modgraph.Summary `json:"nodes" yaml:"nodes"`
		Edges           []EdgeRecord       `json:"edges" yaml:"edges"`
		Findings        []modgraph.Finding `json:"findings" yaml:"findings"`
		Counts          map[string]int     `json:"counts" yaml:"counts"`
		DurationSeconds float64            `json:"duration_seconds" yaml:"duration_seconds"`
	}

	// encoderSink writes a Document with a structured encoder.
	encoderSink struct {
		w      io.Writer
		format Format
	}

	// Multi reports to every sink in order and joins their errors.
	Multi []Sink
)

// Formats lists the supported document formats.
func Formats() []Format {
	return []Format{FormatText, FormatJSON, FormatYAML, FormatMarkdown}
}

// IsValid reports whether f is a supported format.
func (f Format) IsValid() bool { return slices.Contains(Formats(), f) }

// NewDocument flattens result.
func NewDocument(result *modgraph.Result) Document {
	doc := Document{
		Nodes:           make([]modgraph.Summary, 0, len(result.Order)),
		Edges:           []EdgeRecord{},
		Findings:        result.Findings,
		Counts:          make(map[string]int),
		DurationSeconds: result.Duration.Seconds(),
	}
	if doc.Findings == nil {
		doc.Findings = []modgraph.Finding{}
	}
	for _, n := range result.Order {
		doc.Nodes = append(doc.Nodes, modgraph.Summarize(n))
	}
	for _, e := range result.Graph.Edges() {
		doc.Edges = append(doc.Edges, EdgeRecord{
			Source:         e.Source.Identifier(),
			Target:         e.Target.Identifier(),
			DependencyInfo: e.Data,
		})
	}
	for kind, count := range result.CountByKind() {
		doc.Counts[kind.String()] = count
	}
	return doc
}

// NewWriter returns a sink writing format to w.
func NewWriter(format Format, w io.Writer) (Sink, error) {
	switch format {
	case FormatText:
		return NewText(w), nil
	case FormatMarkdown:
		return NewMarkdown(w, false), nil
	case FormatJSON, FormatYAML:
		return &encoderSink{w: w, format: format}, nil
	default:
		return nil, fmt.Errorf("%w %q (valid: %v)", ErrUnknownFormat, format, Formats())
	}
}

func (s *encoderSink) Report(_ context.Context, result *modgraph.Result) error {
	doc := NewDocument(result)
	if s.format == FormatYAML {
		enc := yaml.NewEncoder(s.w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding yaml report: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding json report: %w", err)
	}
	return nil
}

// Report runs every sink, even after a failure.
func (m Multi) Report(ctx context.Context, result *modgraph.Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
