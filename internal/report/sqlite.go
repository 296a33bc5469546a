// SPDX-License-Identifier: MPL-2.0

package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/invowk/pyfreeze/internal/modgraph"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	duration_seconds REAL NOT NULL,
	node_count INTEGER NOT NULL,
	edge_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	origin TEXT,
	distribution TEXT,
	load_order INTEGER NOT NULL,
	attributes JSON,
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS edges (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	optional INTEGER NOT NULL,
	conditional INTEGER NOT NULL,
	tryexcept INTEGER NOT NULL,
	global INTEGER NOT NULL,
	fromlist INTEGER NOT NULL,
	imported_as TEXT,
	PRIMARY KEY (run_id, source, target)
);

CREATE TABLE IF NOT EXISTS findings (
	run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	severity TEXT NOT NULL,
	code TEXT NOT NULL,
	module TEXT,
	message TEXT NOT NULL,
	importers TEXT
);

CREATE INDEX IF NOT EXISTS idx_findings_code ON findings(run_id, code);
`

// SQLite stores every build as one run in a SQLite database.
type SQLite struct {
	db    *sql.DB
	now   func() time.Time
	runID string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// DB exposes the connection for queries over stored runs.
func (s *SQLite) DB() *sql.DB { return s.db }

// LastRunID returns the identifier of the most recent Report call.
func (s *SQLite) LastRunID() string { return s.runID }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Report writes result in a single transaction.
func (s *SQLite) Report(ctx context.Context, result *modgraph.Result) (err error) {
	runID := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning sqlite transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	edges := result.Graph.Edges()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, duration_seconds, node_count, edge_count) VALUES (?, ?, ?, ?, ?)`,
		runID, s.now().UTC(), result.Duration.Seconds(), result.Graph.Len(), len(edges)); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for i, n := range result.Order {
		var dist, attrs any
		if d := n.Base().Distribution; d != nil {
			dist = d.Name
		}
		if a := n.Base().Attributes; len(a) > 0 {
			data, jerr := json.Marshal(a)
			if jerr != nil {
				err = fmt.Errorf("encoding attributes of %s: %w", n.Identifier(), jerr)
				return err
			}
			attrs = string(data)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (run_id, name, kind, origin, distribution, load_order, attributes) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, n.Identifier(), n.Kind().String(), n.Base().Origin, dist, i, attrs); err != nil {
			return fmt.Errorf("inserting node %s: %w", n.Identifier(), err)
		}
	}

	for _, e := range edges {
		d := e.Data
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO edges (run_id, source, target, optional, conditional, tryexcept, global, fromlist, imported_as)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, e.Source.Identifier(), e.Target.Identifier(),
			d.Optional, d.Conditional, d.TryExcept, d.Global, d.Fromlist, d.ImportedAs); err != nil {
			return fmt.Errorf("inserting edge %s -> %s: %w", e.Source.Identifier(), e.Target.Identifier(), err)
		}
	}

	for _, f := range result.Findings {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO findings (run_id, severity, code, module, message, importers) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, string(f.Severity), f.Code, f.Module, f.Message, strings.Join(f.Importers, ",")); err != nil {
			return fmt.Errorf("inserting finding: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing sqlite transaction: %w", err)
	}
	s.runID = runID
	return nil
}
