package sink

import (
	"context"
	"database/sql"
	"fmt"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/sensitivity"
	"github.com/checkout-sim/checkout-sim/sim/stats"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    user_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    variant TEXT NOT NULL,
    step_name TEXT,
    step_index INTEGER,
    ts TEXT NOT NULL,
    latency_ms REAL,
    error INTEGER NOT NULL DEFAULT 0,
    error_code TEXT,
    field_name TEXT,
    payment_method TEXT,
    authorized INTEGER,
    order_value REAL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);

CREATE TABLE IF NOT EXISTS analysis_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_at INTEGER NOT NULL,
    metric TEXT NOT NULL,
    guardrail TEXT,
    control REAL NOT NULL,
    treatment REAL NOT NULL,
    abs_diff REAL NOT NULL,
    rel_diff REAL NOT NULL,
    ci_low REAL NOT NULL,
    ci_high REAL NOT NULL,
    p_value REAL NOT NULL,
    significant INTEGER NOT NULL,
    guardrail_status TEXT,
    decision TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sensitivity_cells (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_at INTEGER NOT NULL,
    sample_size INTEGER NOT NULL,
    uplift REAL NOT NULL,
    repeats INTEGER NOT NULL,
    detections INTEGER NOT NULL,
    refused INTEGER NOT NULL,
    detection_rate REAL NOT NULL,
    alpha REAL NOT NULL
);
`

// Created after the run_id migration so older databases can be opened.
const eventIndexes = `
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, event_type, variant);
`

const insertEvent = `INSERT INTO events
    (run_id, event_type, user_id, session_id, variant, step_name, step_index, ts, latency_ms,
     error, error_code, field_name, payment_method, authorized, order_value)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ErrUnknownRun is returned when a requested run has no stored events.
var ErrUnknownRun = errors.New("unknown run")

// SQLiteSink stores events, analysis results and sensitivity cells in one database file.
// Events are grouped into runs: every sink that appends events opens a new run,
// and reads are scoped to a single run.
type SQLiteSink struct {
	db    *sql.DB
	runID string // run stamped on appended events; empty until the first Append
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := migrateRunID(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(eventIndexes); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event indexes: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// migrateRunID adds the run_id column to events tables created before runs existed.
func migrateRunID(db *sql.DB) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('events') WHERE name = 'run_id'`).Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect events table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE events ADD COLUMN run_id TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("failed to add run_id column: %w", err)
	}
	return nil
}

// RunID returns the run this sink's events were stamped with, or "" before the first Append.
func (s *SQLiteSink) RunID() string { return s.runID }

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Append inserts records in a single transaction. The first Append registers
// a new run; later calls on the same sink add to it.
func (s *SQLiteSink) Append(ctx context.Context, records []sim.EventRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	runID := s.runID
	if runID == "" {
		runID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `INSERT INTO runs (run_id, created_at) VALUES (?, ?)`, runID, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to register run: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		if _, err := stmt.ExecContext(ctx,
			runID, r.EventType, r.UserID, r.SessionID, string(r.Variant),
			nullString(r.StepName), r.StepIndex, r.Timestamp.UTC().Format(time.RFC3339Nano), r.LatencyMs,
			r.Error, nullString(r.ErrorCode), nullString(r.FieldName), nullString(r.PaymentMethod),
			r.Authorized, r.OrderValue,
		); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.runID = runID
	return nil
}

// LatestRun returns the most recently registered run, or "" when none is stored.
func (s *SQLiteSink) LatestRun(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY seq DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query runs: %w", err)
	}
	return runID, nil
}

// Events reads the events of the latest run in insertion order. A database
// without runs yields no events.
func (s *SQLiteSink) Events(ctx context.Context) ([]sim.EventRecord, error) {
	runID, err := s.LatestRun(ctx)
	if err != nil || runID == "" {
		return nil, err
	}
	return s.RunEvents(ctx, runID)
}

// RunEvents reads the events of runID in insertion order.
func (s *SQLiteSink) RunEvents(ctx context.Context, runID string) ([]sim.EventRecord, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w %q", ErrUnknownRun, runID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, user_id, session_id, variant, step_name, step_index, ts, latency_ms,
		        error, error_code, field_name, payment_method, authorized, order_value
		 FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []sim.EventRecord
	for rows.Next() {
		var (
			r                                         sim.EventRecord
			variant, ts                               string
			stepName, errorCode, fieldName, payMethod sql.NullString
			stepIndex                                 sql.NullInt64
			latency, orderValue                       sql.NullFloat64
			authorized                                sql.NullBool
		)
		if err := rows.Scan(&r.EventType, &r.UserID, &r.SessionID, &variant, &stepName, &stepIndex, &ts, &latency,
			&r.Error, &errorCode, &fieldName, &payMethod, &authorized, &orderValue); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.Variant = sim.Variant(variant)
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp %q: %w", ts, err)
		}
		r.StepName = stepName.String
		r.ErrorCode = errorCode.String
		r.FieldName = fieldName.String
		r.PaymentMethod = payMethod.String
		if stepIndex.Valid {
			v := int(stepIndex.Int64)
			r.StepIndex = &v
		}
		if latency.Valid {
			r.LatencyMs = &latency.Float64
		}
		if orderValue.Valid {
			r.OrderValue = &orderValue.Float64
		}
		if authorized.Valid {
			r.Authorized = &authorized.Bool
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WriteAnalysis stores one analysis readout.
func (s *SQLiteSink) WriteAnalysis(ctx context.Context, records []stats.AnalysisRecord, runAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analysis_results
			 (run_at, metric, guardrail, control, treatment, abs_diff, rel_diff, ci_low, ci_high, p_value, significant, guardrail_status, decision)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runAt.Unix(), r.Metric, nullString(r.Guardrail), r.Control, r.Treatment, r.AbsDiff, r.RelDiff,
			r.CILow, r.CIHigh, r.PValue, r.Significant, nullString(r.GuardrailStatus), string(r.Decision),
		); err != nil {
			return fmt.Errorf("failed to insert analysis result %s: %w", r.Metric, err)
		}
	}
	return tx.Commit()
}

// WriteCells stores the cells of a sensitivity grid.
func (s *SQLiteSink) WriteCells(ctx context.Context, cells []sensitivity.Cell, runAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for _, c := range cells {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sensitivity_cells
			 (run_at, sample_size, uplift, repeats, detections, refused, detection_rate, alpha)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runAt.Unix(), c.SampleSize, c.Uplift, c.Repeats, c.Detections, c.Refused, c.DetectionRate, c.Alpha,
		); err != nil {
			return fmt.Errorf("failed to insert sensitivity cell: %w", err)
		}
	}
	return tx.Commit()
}

// CountRows returns the row count of one of the sink's tables.
func (s *SQLiteSink) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case "runs", "events", "analysis_results", "sensitivity_cells":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ EventSink = (*SQLiteSink)(nil)
