package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"smbload/internal"
)

// Postgres is the PostgreSQL sink. Rows are inserted in pages through
// unnest over array parameters.
type Postgres struct {
	db       *sql.DB
	pageSize int
}

func OpenPostgres(ctx context.Context, dsn string, pageSize int) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(db, pageSize)
	if err := p.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(db *sql.DB, pageSize int) *Postgres {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Postgres{db: db, pageSize: pageSize}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) migrate(ctx context.Context) error {
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
	id BIGSERIAL PRIMARY KEY,
	period DATE NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE,
	size NUMERIC(12, 2) NOT NULL,
	size_unit TEXT NOT NULL,
	violation BOOLEAN NOT NULL,
	misuse BOOLEAN NOT NULL,
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
CREATE TABLE IF NOT EXISTS runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	files INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	counts JSONB NOT NULL
);
`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (p *Postgres) KnownKeys(ctx context.Context, kind internal.EntityKind) (map[string]struct{}, error) {
	query, err := keyQuery(kind)
	if err != nil {
		return nil, err
	}
	return scanKeys(ctx, p.db, query)
}

func (p *Postgres) Begin(ctx context.Context) (internal.SinkTx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx, pageSize: p.pageSize}, nil
}

func (p *Postgres) RecordRun(ctx context.Context, run internal.RunRecord) error {
	countsJSON, _ := json.Marshal(run.Counts)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, files, failed, counts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.StartedAt, run.FinishedAt, run.Files, run.Failed, string(countsJSON))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]internal.RunRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, files, failed, counts
		FROM runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []internal.RunRecord
	for rows.Next() {
		var run internal.RunRecord
		var counts []byte
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Files, &run.Failed, &counts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		_ = json.Unmarshal(counts, &run.Counts)
		out = append(out, run)
	}
	return out, rows.Err()
}

type postgresTx struct {
	tx       *sql.Tx
	pageSize int
}

func (t *postgresTx) InsertReceivers(ctx context.Context, rows []internal.ReceiverIdentity) error {
	keys, names := make([]string, len(rows)), make([]string, len(rows))
	for i, r := range rows {
		keys[i], names[i] = r.TIN, r.Name
	}
	return t.insertPairs(ctx, `INSERT INTO receivers (tin, name) SELECT * FROM unnest($1::text[], $2::text[])`, keys, names)
}

func (t *postgresTx) InsertProviders(ctx context.Context, rows []internal.ProviderIdentity) error {
	keys, names := make([]string, len(rows)), make([]string, len(rows))
	for i, r := range rows {
		keys[i], names[i] = r.TIN, r.Name
	}
	return t.insertPairs(ctx, `INSERT INTO providers (tin, name) SELECT * FROM unnest($1::text[], $2::text[])`, keys, names)
}

func (t *postgresTx) InsertSupportKinds(ctx context.Context, rows []internal.SupportKind) error {
	keys, names := make([]string, len(rows)), make([]string, len(rows))
	for i, r := range rows {
		keys[i], names[i] = r.Code, r.Name
	}
	return t.insertPairs(ctx, `INSERT INTO support_kinds (code, name) SELECT * FROM unnest($1::text[], $2::text[])`, keys, names)
}

func (t *postgresTx) insertPairs(ctx context.Context, query string, keys, names []string) error {
	for start := 0; start < len(keys); start += t.pageSize {
		end := min(start+t.pageSize, len(keys))
		if _, err := t.tx.ExecContext(ctx, query, pq.Array(keys[start:end]), pq.Array(names[start:end])); err != nil {
			return classifyPQ(err)
		}
	}
	return nil
}

func (t *postgresTx) InsertMeasures(ctx context.Context, rows []internal.SupportMeasure) error {
	const query = `
		INSERT INTO support_measures (
			period, start_date, end_date, size, size_unit, violation, misuse,
			receiver_kind, receiver_category, receiver, provider, kind, form,
			source_file, doc_id
		)
		SELECT * FROM unnest(
			$1::date[], $2::date[], $3::date[], $4::numeric[], $5::text[], $6::boolean[], $7::boolean[],
			$8::text[], $9::text[], $10::text[], $11::text[], $12::text[], $13::text[],
			$14::text[], $15::text[]
		)
	`
	for start := 0; start < len(rows); start += t.pageSize {
		page := rows[start:min(start+t.pageSize, len(rows))]
		cols := newMeasureColumns(len(page))
		for i, m := range page {
			cols.set(i, m)
		}
		if _, err := t.tx.ExecContext(ctx, query,
			pq.Array(cols.period), pq.Array(cols.startDate), pq.Array(cols.endDate),
			pq.Array(cols.size), pq.Array(cols.sizeUnit), pq.Array(cols.violation), pq.Array(cols.misuse),
			pq.Array(cols.receiverKind), pq.Array(cols.category), pq.Array(cols.receiver),
			pq.Array(cols.provider), pq.Array(cols.kind), pq.Array(cols.form),
			pq.Array(cols.sourceFile), pq.Array(cols.docID),
		); err != nil {
			return classifyPQ(err)
		}
	}
	return nil
}

func (t *postgresTx) Commit() error {
	return classifyPQ(t.tx.Commit())
}

func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// measureColumns holds one page of fact rows column by column.
type measureColumns struct {
	period       []string
	startDate    []string
	endDate      []sql.NullString
	size         []float64
	sizeUnit     []string
	violation    []bool
	misuse       []bool
	receiverKind []sql.NullString
	category     []string
	receiver     []string
	provider     []string
	kind         []string
	form         []string
	sourceFile   []string
	docID        []string
}

func newMeasureColumns(n int) *measureColumns {
	return &measureColumns{
		period:       make([]string, n),
		startDate:    make([]string, n),
		endDate:      make([]sql.NullString, n),
		size:         make([]float64, n),
		sizeUnit:     make([]string, n),
		violation:    make([]bool, n),
		misuse:       make([]bool, n),
		receiverKind: make([]sql.NullString, n),
		category:     make([]string, n),
		receiver:     make([]string, n),
		provider:     make([]string, n),
		kind:         make([]string, n),
		form:         make([]string, n),
		sourceFile:   make([]string, n),
		docID:        make([]string, n),
	}
}

func (c *measureColumns) set(i int, m internal.SupportMeasure) {
	c.period[i] = m.Period.Format(dateLayout)
	c.startDate[i] = m.StartDate.Format(dateLayout)
	if m.EndDate != nil {
		c.endDate[i] = sql.NullString{String: m.EndDate.Format(dateLayout), Valid: true}
	}
	if m.ReceiverKind != nil {
		c.receiverKind[i] = sql.NullString{String: *m.ReceiverKind, Valid: true}
	}
	c.size[i] = m.Size
	c.sizeUnit[i] = m.SizeUnit
	c.violation[i] = m.Violation
	c.misuse[i] = m.Misuse
	c.category[i] = m.ReceiverCategory
	c.receiver[i] = m.Receiver
	c.provider[i] = m.Provider
	c.kind[i] = m.Kind
	c.form[i] = m.Form
	c.sourceFile[i] = m.SourceFile
	c.docID[i] = m.DocID
}

// classifyPQ marks integrity constraint violations (SQLSTATE class 23) with
// internal.ErrConstraint.
func classifyPQ(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %v", internal.ErrConstraint, err)
	}
	return err
}
