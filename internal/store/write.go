package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/substrate/internal/engine"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Run is one journalled scenario run.
type Run struct {
	ID               string  `json:"id"`
	Seq              int64   `json:"seq"`
	Scenario         string  `json:"scenario"`
	Nodes            int     `json:"nodes"`
	Threads          int     `json:"threads"`
	TableFingerprint string  `json:"table_fingerprint"`
	Config           string  `json:"config"`
	Status           string  `json:"status"`
	Error            string  `json:"error,omitempty"`
	Steps            int64   `json:"steps"`
	SimTime          float64 `json:"sim_time"`
}

// BeginRun inserts run with status running and returns the logical sequence
// number assigned to it. Sequence numbers start at 1 and order runs within
// one journal.
func (s *Store) BeginRun(ctx context.Context, run Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin run: begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("begin run: next seq: %w", err)
	}

	config := run.Config
	if config == "" {
		config = "{}"
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, scenario, nodes, threads, table_fingerprint, config, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		seq,
		run.Scenario,
		run.Nodes,
		run.Threads,
		run.TableFingerprint,
		config,
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("begin run: commit: %w", err)
	}
	return seq, nil
}

// FinishRun records the outcome of a run. runErr is stored as text; a nil
// runErr marks the run done.
func (s *Store) FinishRun(ctx context.Context, id string, steps int64, simTime float64, runErr error) error {
	status, msg := StatusDone, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, steps = ?, sim_time = ?
		WHERE id = ?
	`, status, msg, steps, simTime, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// WriteSteps appends step statistics for a run in one transaction.
// Rows already present are left untouched.
func (s *Store) WriteSteps(ctx context.Context, runID string, steps []engine.StepStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write steps: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO steps
		(run_id, node, step, time, fired, processed, sent, delivered, non_local, stale, remote, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step, node) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write steps: prepare: %w", err)
	}
	defer stmt.Close()

	for _, st := range steps {
		_, err := stmt.ExecContext(ctx,
			runID, st.Node, st.Step, st.Time, st.Fired, st.Processed, st.Sent,
			st.Delivered, st.NonLocal, st.Stale, st.Remote, st.Errors,
		)
		if err != nil {
			return fmt.Errorf("write steps: step %d node %d: %w", st.Step, st.Node, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write steps: commit: %w", err)
	}
	return nil
}

// WriteDump stores a labelled field snapshot for a run.
func (s *Store) WriteDump(ctx context.Context, runID, label string, rows []engine.DumpRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write dump: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dumps
		(run_id, label, element, path, idx, entry, field_idx, field, type, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write dump: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		typ, text, err := encodeValue(r.Value)
		if err != nil {
			return fmt.Errorf("write dump: %s[%d].%s: %w", r.Path, r.Index, r.Field, err)
		}
		_, err = stmt.ExecContext(ctx,
			runID, label, uint32(r.Element), r.Path, r.Index, r.Entry, r.FieldIdx, r.Field, typ, text,
		)
		if err != nil {
			return fmt.Errorf("write dump: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write dump: commit: %w", err)
	}
	return nil
}

// encodeValue renders a decoded field value as (type, text). Floats use the
// shortest representation that round-trips.
func encodeValue(v any) (string, string, error) {
	switch x := v.(type) {
	case float64:
		return "f64", strconv.FormatFloat(x, 'g', -1, 64), nil
	case int64:
		return "i64", strconv.FormatInt(x, 10), nil
	case uint32:
		return "u32", strconv.FormatUint(uint64(x), 10), nil
	case bool:
		return "bool", strconv.FormatBool(x), nil
	default:
		return "", "", fmt.Errorf("unsupported field value %T", v)
	}
}

func decodeValue(typ, text string) (any, error) {
	switch typ {
	case "f64":
		return strconv.ParseFloat(text, 64)
	case "i64":
		return strconv.ParseInt(text, 10, 64)
	case "u32":
		u, err := strconv.ParseUint(text, 10, 32)
		return uint32(u), err
	case "bool":
		return strconv.ParseBool(text)
	default:
		return nil, fmt.Errorf("unknown value type %q", typ)
	}
}
