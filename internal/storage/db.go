package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"smbload/internal"
)

const dateLayout = "2006-01-02"

// DB is the SQLite sink.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS receivers (
  tin TEXT PRIMARY KEY,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS providers (
  tin TEXT PRIMARY KEY,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS support_kinds (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS support_measures (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  period TEXT NOT NULL,
  start_date TEXT NOT NULL,
  end_date TEXT,
  size REAL NOT NULL CHECK (abs(size) < 1e9),
  size_unit TEXT NOT NULL,
  violation INTEGER NOT NULL,
  misuse INTEGER NOT NULL,
  receiver_kind TEXT,
  receiver_category TEXT NOT NULL,
  receiver TEXT NOT NULL REFERENCES receivers(tin),
  provider TEXT NOT NULL REFERENCES providers(tin),
  kind TEXT NOT NULL REFERENCES support_kinds(code),
  form TEXT NOT NULL,
  source_file TEXT,
  doc_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_support_measures_receiver ON support_measures(receiver);
CREATE INDEX IF NOT EXISTS idx_support_measures_provider ON support_measures(provider);

CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  files INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  counts_json TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func keyQuery(kind internal.EntityKind) (string, error) {
	switch kind {
	case internal.EntityReceiver:
		return `SELECT tin FROM receivers`, nil
	case internal.EntityProvider:
		return `SELECT tin FROM providers`, nil
	case internal.EntitySupportKind:
		return `SELECT code FROM support_kinds`, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

func (d *DB) KnownKeys(ctx context.Context, kind internal.EntityKind) (map[string]struct{}, error) {
	query, err := keyQuery(kind)
	if err != nil {
		return nil, err
	}
	return scanKeys(ctx, d.conn, query)
}

func scanKeys(ctx context.Context, conn *sql.DB, query string) (map[string]struct{}, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out[key] = struct{}{}
	}
	return out, rows.Err()
}

func (d *DB) Begin(ctx context.Context) (internal.SinkTx, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertReceivers(ctx context.Context, rows []internal.ReceiverIdentity) error {
	return t.insertPairs(ctx, `INSERT INTO receivers (tin, name) VALUES (?, ?)`, len(rows), func(i int) (string, string) {
		return rows[i].TIN, rows[i].Name
	})
}

func (t *sqliteTx) InsertProviders(ctx context.Context, rows []internal.ProviderIdentity) error {
	return t.insertPairs(ctx, `INSERT INTO providers (tin, name) VALUES (?, ?)`, len(rows), func(i int) (string, string) {
		return rows[i].TIN, rows[i].Name
	})
}

func (t *sqliteTx) InsertSupportKinds(ctx context.Context, rows []internal.SupportKind) error {
	return t.insertPairs(ctx, `INSERT INTO support_kinds (code, name) VALUES (?, ?)`, len(rows), func(i int) (string, string) {
		return rows[i].Code, rows[i].Name
	})
}

func (t *sqliteTx) insertPairs(ctx context.Context, query string, n int, row func(int) (string, string)) error {
	if n == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		key, name := row(i)
		if _, err := stmt.ExecContext(ctx, key, name); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *sqliteTx) InsertMeasures(ctx context.Context, rows []internal.SupportMeasure) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx, `
INSERT INTO support_measures (
  period, start_date, end_date, size, size_unit, violation, misuse,
  receiver_kind, receiver_category, receiver, provider, kind, form,
  source_file, doc_id
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if _, err := stmt.ExecContext(ctx,
			m.Period.Format(dateLayout), m.StartDate.Format(dateLayout), formatDate(m.EndDate),
			m.Size, m.SizeUnit, m.Violation, m.Misuse,
			m.ReceiverKind, m.ReceiverCategory, m.Receiver, m.Provider, m.Kind, m.Form,
			m.SourceFile, m.DocID,
		); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return classify(t.tx.Commit())
}

// Rollback ignores sql.ErrTxDone so it can be deferred after Commit.
func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (d *DB) RecordRun(ctx context.Context, run internal.RunRecord) error {
	countsJSON, _ := json.Marshal(run.Counts)
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO runs (id, started_at, finished_at, files, failed, counts_json)
VALUES (?, ?, ?, ?, ?, ?)
`, run.ID, run.StartedAt.UTC().Format(time.RFC3339), run.FinishedAt.UTC().Format(time.RFC3339), run.Files, run.Failed, string(countsJSON))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]internal.RunRecord, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, started_at, finished_at, files, failed, counts_json
FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRecord
	for rows.Next() {
		var run internal.RunRecord
		var startedAt, finishedAt, countsJSON string
		if err := rows.Scan(&run.ID, &startedAt, &finishedAt, &run.Files, &run.Failed, &countsJSON); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		run.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		_ = json.Unmarshal([]byte(countsJSON), &run.Counts)
		out = append(out, run)
	}
	return out, rows.Err()
}

// CountRows returns the row count of every loaded table.
func (d *DB) CountRows(ctx context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, table := range loadedTables {
		var n int
		if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

var loadedTables = []string{
	string(internal.EntityReceiver),
	string(internal.EntityProvider),
	string(internal.EntitySupportKind),
	internal.TableSupportMeasures,
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

// classify marks constraint violations with internal.ErrConstraint.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %v", internal.ErrConstraint, err)
	}
	return err
}
