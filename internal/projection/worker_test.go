package projection_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"PerpEngine/internal/persistence"
	"PerpEngine/internal/projection"
	"PerpEngine/internal/testutil"
)

func setupDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)

	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	require.NoError(t, migrator.Up(context.Background()))

	return db, cleanup
}

func runWorker(t *testing.T, db *sql.DB) (chan<- projection.Output, func()) {
	t.Helper()
	in := make(chan projection.Output, 16)
	worker := projection.NewWorker(db, in, nil, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()
	return in, func() {
		close(in)
		require.NoError(t, <-done)
	}
}

func waitForWatermark(t *testing.T, db *sql.DB, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var got int64
		err := db.QueryRow(`SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`).Scan(&got)
		if err == nil && got >= want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("watermark never reached %d", want)
}

func TestWorkerAppliesJournalsAndPositions(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in, stop := runWorker(t, db)

	curveID := testutil.CurveID
	in <- projection.Output{
		Sequence:   0,
		ActionType: "OpenPosition",
		CurveID:    &curveID,
		BlockTime:  1_001,
		Journals: []projection.JournalEntry{
			// Mint: empty from_address credits without a debit.
			{ToAddress: "alice", Denom: "USDC", Amount: 1_000, JournalType: 0},
			{FromAddress: "alice", ToAddress: "engine-vault", Denom: "USDC", Amount: 250, JournalType: 1},
		},
		Positions: []projection.PositionRow{{
			CurveID:     curveID,
			Trader:      "alice",
			Size:        20_000,
			Margin:      250,
			Notional:    2_500,
			BlockHeight: 2,
			BlockTime:   1_001,
			Version:     1,
		}},
	}
	stop()
	waitForWatermark(t, db, 0)

	var balance int64
	require.NoError(t, db.QueryRow(
		`SELECT balance FROM projections.balances WHERE address = 'alice' AND denom = 'USDC'`,
	).Scan(&balance))
	require.Equal(t, int64(750), balance)

	require.NoError(t, db.QueryRow(
		`SELECT balance FROM projections.balances WHERE address = 'engine-vault' AND denom = 'USDC'`,
	).Scan(&balance))
	require.Equal(t, int64(250), balance)

	var size, margin int64
	require.NoError(t, db.QueryRow(
		`SELECT size, margin FROM projections.positions WHERE curve_id = $1 AND trader = 'alice'`, curveID,
	).Scan(&size, &margin))
	require.Equal(t, int64(20_000), size)
	require.Equal(t, int64(250), margin)
}

func TestWorkerDeletesClosedPosition(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in, stop := runWorker(t, db)

	curveID := testutil.CurveID
	in <- projection.Output{
		Sequence: 0,
		CurveID:  &curveID,
		Positions: []projection.PositionRow{{
			CurveID: curveID, Trader: "bob", Size: 5_000, Margin: 100, Notional: 500, Version: 1,
		}},
	}
	// Zero size tombstone removes the row.
	in <- projection.Output{
		Sequence: 1,
		CurveID:  &curveID,
		Positions: []projection.PositionRow{{
			CurveID: curveID, Trader: "bob", Size: 0,
		}},
	}
	stop()
	waitForWatermark(t, db, 1)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM projections.positions WHERE curve_id = $1 AND trader = 'bob'`, curveID,
	).Scan(&count))
	require.Equal(t, 0, count)
}

func TestWorkerRecordsFundingHistory(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	in, stop := runWorker(t, db)

	curveID := testutil.CurveID
	in <- projection.Output{
		Sequence:   3,
		ActionType: "PayFunding",
		CurveID:    &curveID,
		BlockTime:  4_600,
		Funding: &projection.FundingRow{
			CurveID:         curveID,
			FundingRate:     1_250_000,
			PremiumFraction: 12_500,
			BlockTime:       4_600,
		},
	}
	stop()
	waitForWatermark(t, db, 3)

	var rate, fraction int64
	require.NoError(t, db.QueryRow(
		`SELECT funding_rate, premium_fraction FROM projections.funding_history
		 WHERE curve_id = $1 AND sequence = 3`, curveID,
	).Scan(&rate, &fraction))
	require.Equal(t, int64(1_250_000), rate)
	require.Equal(t, int64(12_500), fraction)

	require.NoError(t, db.QueryRow(
		`SELECT premium_fraction FROM projections.premium_fractions
		 WHERE curve_id = $1 AND sequence = 3`, curveID,
	).Scan(&fraction))
	require.Equal(t, int64(12_500), fraction)
}

func TestRebuildProjectionsFromJournal(t *testing.T) {
	db, cleanup := setupDB(t)
	defer cleanup()

	ctx := context.Background()
	insertJournal := func(seq int64, from, to string, amount int64) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO event_log.journal
				(journal_id, ref, sequence, from_address, to_address, denom, amount, journal_type, block_time)
			VALUES ($1, 'test', $2, $3, $4, 'USDC', $5, 0, 1000)
		`, uuid.NewString(), seq, from, to, amount)
		require.NoError(t, err)
	}

	insertJournal(0, "", "alice", 1_000)
	insertJournal(1, "alice", "engine-vault", 400)
	insertJournal(2, "engine-vault", "alice", 150)

	require.NoError(t, projection.RebuildProjections(ctx, db, zerolog.Nop()))

	var balance int64
	require.NoError(t, db.QueryRow(
		`SELECT balance FROM projections.balances WHERE address = 'alice' AND denom = 'USDC'`,
	).Scan(&balance))
	require.Equal(t, int64(750), balance)

	require.NoError(t, db.QueryRow(
		`SELECT balance FROM projections.balances WHERE address = 'engine-vault' AND denom = 'USDC'`,
	).Scan(&balance))
	require.Equal(t, int64(250), balance)
}
