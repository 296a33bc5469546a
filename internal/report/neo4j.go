// SPDX-License-Identifier: MPL-2.0

package report

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/invowk/pyfreeze/internal/modgraph"
)

const defaultBatchSize = 500

type (
	// cypherRunner executes one statement.
	cypherRunner func(ctx context.Context, cypher string, params map[string]any) error

	// Neo4j exports the graph as :PyModule nodes joined by :IMPORTS
	// relationships. Nodes are keyed by module name so repeated runs update
	// the same nodes; every write carries the run's identifier.
	Neo4j struct {
		driver    neo4j.DriverWithContext
		run       cypherRunner
		runID     string
		batchSize int
		logger    *log.Logger
	}
)

// NewNeo4j connects to the database at uri.
func NewNeo4j(uri, user, password string, logger *log.Logger) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	s := newNeo4j(func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer)
		return err
	}, logger)
	s.driver = driver
	return s, nil
}

func newNeo4j(run cypherRunner, logger *log.Logger) *Neo4j {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Neo4j{run: run, runID: uuid.NewString(), batchSize: defaultBatchSize, logger: logger}
}

// RunID identifies the export in the database.
func (s *Neo4j) RunID() string { return s.runID }

// Close releases the driver.
func (s *Neo4j) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Neo4j) Report(ctx context.Context, result *modgraph.Result) error {
	if err := s.run(ctx, "CREATE INDEX py_module_name IF NOT EXISTS FOR (n:PyModule) ON (n.name)", nil); err != nil {
		return fmt.Errorf("creating neo4j index: %w", err)
	}

	nodes := make([]map[string]any, 0, len(result.Order))
	for i, n := range result.Order {
		row := map[string]any{
			"name":   n.Identifier(),
			"kind":   n.Kind().String(),
			"origin": n.Base().Origin,
			"order":  i,
			"dist":   "",
		}
		if d := n.Base().Distribution; d != nil {
			row["dist"] = d.Name
		}
		nodes = append(nodes, row)
	}
	s.logger.Debug("exporting nodes to neo4j", "count", len(nodes), "run_id", s.runID)
	err := s.batched(ctx, `UNWIND $batch AS row
		 MERGE (n:PyModule {name: row.name})
		 SET n.kind = row.kind, n.origin = row.origin, n.distribution = row.dist,
		     n.load_order = row.order, n.run_id = $run_id`, nodes)
	if err != nil {
		return fmt.Errorf("exporting nodes: %w", err)
	}

	edges := make([]map[string]any, 0, len(result.Graph.Edges()))
	for _, e := range result.Graph.Edges() {
		edges = append(edges, map[string]any{
			"source":      e.Source.Identifier(),
			"target":      e.Target.Identifier(),
			"optional":    e.Data.Optional,
			"conditional": e.Data.Conditional,
			"tryexcept":   e.Data.TryExcept,
			"global":      e.Data.Global,
			"fromlist":    e.Data.Fromlist,
			"imported_as": e.Data.ImportedAs,
		})
	}
	s.logger.Debug("exporting edges to neo4j", "count", len(edges), "run_id", s.runID)
	err = s.batched(ctx, `UNWIND $batch AS row
		 MATCH (a:PyModule {name: row.source})
		 MATCH (b:PyModule {name: row.target})
		 MERGE (a)-[r:IMPORTS]->(b)
		 SET r.optional = row.optional, r.conditional = row.conditional,
		     r.tryexcept = row.tryexcept, r.global = row.global,
		     r.fromlist = row.fromlist, r.imported_as = row.imported_as, r.run_id = $run_id`, edges)
	if err != nil {
		return fmt.Errorf("exporting edges: %w", err)
	}
	return nil
}

// batched runs cypher once per batchSize rows.
func (s *Neo4j) batched(ctx context.Context, cypher string, rows []map[string]any) error {
	for start := 0; start < len(rows); start += s.batchSize {
		end := min(start+s.batchSize, len(rows))
		params := map[string]any{"batch": rows[start:end], "run_id": s.runID}
		if err := s.run(ctx, cypher, params); err != nil {
			return err
		}
	}
	return nil
}
