package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"PerpEngine/internal/bank"
	"PerpEngine/internal/core"
	"PerpEngine/internal/persistence"
	"PerpEngine/internal/testutil"
)

func setupDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	require.NoError(t, migrator.Up(context.Background()))

	return db, cleanup
}

func sampleOutput(seq int64) persistence.Output {
	return persistence.Output{
		ActionRow: persistence.ActionRow{
			Sequence:       seq,
			ActionType:     "OpenPosition",
			IdempotencyKey: uuid.NewString(),
			Payload:        []byte(`{}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			BlockHeight:    seq,
			BlockTime:      1_000 + seq,
			SourceSequence: seq,
		},
		JournalRows: []persistence.JournalRow{{
			JournalID:   uuid.NewString(),
			Ref:         "test",
			Sequence:    seq,
			FromAddress: "alice",
			ToAddress:   "engine-vault",
			Denom:       "USDC",
			Amount:      100,
			JournalType: 1,
			BlockTime:   1_000 + seq,
		}},
	}
}

func waitForCount(t *testing.T, db *sql.DB, query string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var got int
		require.NoError(t, db.QueryRow(query).Scan(&got))
		if got == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	var got int
	require.NoError(t, db.QueryRow(query).Scan(&got))
	t.Fatalf("count = %d, want %d (%s)", got, want, query)
}

func TestWorkerFlushesOnTimer(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in := make(chan persistence.Output, 8)
	worker := persistence.NewWorker(db, in, 100, 20*time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	for seq := int64(0); seq < 3; seq++ {
		in <- sampleOutput(seq)
	}

	// Three outputs are below the batch size; the timer must flush them.
	waitForCount(t, db, `SELECT COUNT(*) FROM event_log.actions`, 3)
	waitForCount(t, db, `SELECT COUNT(*) FROM event_log.journal`, 3)

	cancel()
	<-done
}

func TestWorkerFlushesRemainderOnClose(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in := make(chan persistence.Output, 8)
	worker := persistence.NewWorker(db, in, 100, time.Hour, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	in <- sampleOutput(0)
	in <- sampleOutput(1)
	close(in)
	require.NoError(t, <-done)

	waitForCount(t, db, `SELECT COUNT(*) FROM event_log.actions`, 2)
}

func TestWriterIgnoresDuplicateSequence(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in := make(chan persistence.Output, 8)
	worker := persistence.NewWorker(db, in, 100, time.Hour, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	out := sampleOutput(7)
	in <- out
	in <- out
	close(in)
	require.NoError(t, <-done)

	// Rewrites during crash recovery must not duplicate rows.
	waitForCount(t, db, `SELECT COUNT(*) FROM event_log.actions`, 1)
	waitForCount(t, db, `SELECT COUNT(*) FROM event_log.journal`, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	ctx := context.Background()
	mgr := persistence.NewSnapshotManager(db)

	snap := &core.SnapshotState{
		Sequence: 41,
		Balances: []bank.BalanceEntry{
			{Address: "alice", Denom: "USDC", Amount: 5_000},
		},
		SequenceState:   map[string]int64{"curve:vamm-eth": 41},
		IdempotencyKeys: []string{"OpenPosition:abc"},
	}
	snap.StateHash[0] = 0xAB

	require.NoError(t, mgr.SaveSnapshot(ctx, snap))

	// Unverified snapshots are not eligible for recovery.
	loaded, err := mgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.NoError(t, mgr.MarkVerified(ctx, 41))

	loaded, err = mgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, int64(41), loaded.Sequence)
	require.Equal(t, snap.StateHash, loaded.StateHash)
	require.Equal(t, snap.Balances, loaded.Balances)
	require.Equal(t, snap.SequenceState, loaded.SequenceState)
	require.Equal(t, snap.IdempotencyKeys, loaded.IdempotencyKeys)
}

func TestLatestSequenceEmptyLog(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	mgr := persistence.NewSnapshotManager(db)
	seq, err := mgr.LatestSequence(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(-1), seq)
}

func TestLoadActionsFromPages(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in := make(chan persistence.Output, 8)
	worker := persistence.NewWorker(db, in, 100, time.Hour, nil, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	for seq := int64(0); seq < 5; seq++ {
		in <- sampleOutput(seq)
	}
	close(in)
	require.NoError(t, <-done)

	mgr := persistence.NewSnapshotManager(db)
	rows, err := mgr.LoadActionsFrom(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(2), rows[0].Sequence)
	require.Equal(t, int64(3), rows[1].Sequence)

	seq, err := mgr.LatestSequence(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), seq)
}

func TestPostgresIdempotencyChecker(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in := make(chan persistence.Output, 8)
	worker := persistence.NewWorker(db, in, 100, time.Hour, nil, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	out := sampleOutput(0)
	in <- out
	close(in)
	require.NoError(t, <-done)

	checker := persistence.NewPostgresIdempotencyChecker(db)

	dup, err := checker.IsDuplicate("OpenPosition", out.ActionRow.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, dup)

	dup, err = checker.IsDuplicate("OpenPosition", uuid.NewString())
	require.NoError(t, err)
	require.False(t, dup)
}
