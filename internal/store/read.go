package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/substrate/internal/engine"
	"github.com/roach88/substrate/internal/ir"
)

const runColumns = `id, seq, scenario, nodes, threads, table_fingerprint, config, status, error, steps, sim_time`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Seq, &r.Scenario, &r.Nodes, &r.Threads, &r.TableFingerprint,
		&r.Config, &r.Status, &r.Error, &r.Steps, &r.SimTime)
	return r, err
}

// ReadRun retrieves a single run by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("read run %q: %w", id, err)
	}
	return r, nil
}

// LatestRun returns the run with the highest sequence number.
// Returns sql.ErrNoRows if the journal is empty.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq DESC LIMIT 1`)
	r, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns every run ordered by sequence number.
//
// Returns an empty slice (not nil) if the journal is empty.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadSteps returns the step statistics of a run ordered by step, then
// node.
func (s *Store) ReadSteps(ctx context.Context, runID string) ([]engine.StepStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node, step, time, fired, processed, sent, delivered, non_local, stale, remote, errors
		FROM steps
		WHERE run_id = ?
		ORDER BY step ASC, node ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []engine.StepStats{}
	for rows.Next() {
		var st engine.StepStats
		if err := rows.Scan(&st.Node, &st.Step, &st.Time, &st.Fired, &st.Processed, &st.Sent,
			&st.Delivered, &st.NonLocal, &st.Stale, &st.Remote, &st.Errors); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// DumpLabels lists the snapshot labels of a run in name order.
func (s *Store) DumpLabels(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT label FROM dumps WHERE run_id = ? ORDER BY label COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query dump labels: %w", err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scan dump label: %w", err)
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dump labels: %w", err)
	}
	return labels, nil
}

// ReadDump returns a snapshot in the order Cluster.Dump produced it. A
// non-empty path restricts the rows to one element.
func (s *Store) ReadDump(ctx context.Context, runID, label, path string) ([]engine.DumpRow, error) {
	query := `
		SELECT element, path, idx, entry, field_idx, field, type, value
		FROM dumps
		WHERE run_id = ? AND label = ?`
	args := []any{runID, label}
	if path != "" {
		query += ` AND path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY element ASC, idx ASC, entry ASC, field_idx ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dump: %w", err)
	}
	defer rows.Close()

	out := []engine.DumpRow{}
	for rows.Next() {
		var (
			r         engine.DumpRow
			el        uint32
			typ, text string
		)
		if err := rows.Scan(&el, &r.Path, &r.Index, &r.Entry, &r.FieldIdx, &r.Field, &typ, &text); err != nil {
			return nil, fmt.Errorf("scan dump row: %w", err)
		}
		r.Element = ir.ElementID(el)
		v, err := decodeValue(typ, text)
		if err != nil {
			return nil, fmt.Errorf("dump row %s[%d].%s: %w", r.Path, r.Index, r.Field, err)
		}
		r.Value = v
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dump: %w", err)
	}
	return out, nil
}

// IsNotFound reports whether err means the requested run does not exist.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, sql.ErrNoRows)
}
