//go:build integration

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"smbload/internal"
	"smbload/internal/util"
)

func newPostgres(t *testing.T, pageSize int) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("smb"),
		tcpostgres.WithUsername("smb"),
		tcpostgres.WithPassword("smb"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	pg, err := OpenPostgres(ctx, dsn, pageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

func TestPostgresSubmitPaged(t *testing.T) {
	ctx := context.Background()
	pg := newPostgres(t, 2)

	tx, err := pg.Begin(ctx)
	require.NoError(t, err)
	seedReferences(ctx, t, tx)

	var rows []internal.SupportMeasure
	for i := 0; i < 5; i++ {
		m := sampleMeasure()
		m.Size = float64(i) + 0.5
		if i%2 == 0 {
			m.ReceiverKind = util.StringPtr("ul")
			m.EndDate = util.TimePtr(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
		}
		rows = append(rows, m)
	}
	require.NoError(t, tx.InsertMeasures(ctx, rows))
	require.NoError(t, tx.Commit())

	keys, err := pg.KnownKeys(ctx, internal.EntityReceiver)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"1234567890": {}}, keys)

	var total, nullKinds int
	require.NoError(t, pg.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE receiver_kind IS NULL) FROM support_measures`).Scan(&total, &nullKinds))
	assert.Equal(t, 5, total)
	assert.Equal(t, 2, nullKinds)
}

func TestPostgresConstraintAndRunLedger(t *testing.T) {
	ctx := context.Background()
	pg := newPostgres(t, 100)

	tx, err := pg.Begin(ctx)
	require.NoError(t, err)
	seedReferences(ctx, t, tx)
	require.NoError(t, tx.Commit())

	tx, err = pg.Begin(ctx)
	require.NoError(t, err)
	err = tx.InsertReceivers(ctx, []internal.ReceiverIdentity{{TIN: "1234567890", Name: "again"}})
	assert.True(t, errors.Is(err, internal.ErrConstraint), "got %v", err)
	require.NoError(t, tx.Rollback())

	require.NoError(t, pg.RecordRun(ctx, internal.RunRecord{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Files:      1,
		Counts:     map[string]int{"receivers": 1},
	}))
	runs, err := pg.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Counts["receivers"])
}
