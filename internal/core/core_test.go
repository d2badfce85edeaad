package core_test

import (
	"testing"

	"github.com/google/uuid"

	"PerpEngine/internal/action"
	"PerpEngine/internal/core"
	"PerpEngine/internal/engine"
	"PerpEngine/internal/testutil"
)

const dec = testutil.Decimals

// newTestCore wires a core against a fresh scenario with buffered
// channels, no DB checker and no metrics.
func newTestCore(t *testing.T) (*core.Core, *testutil.Scenario, chan core.Output, chan core.Output) {
	t.Helper()
	s := testutil.NewScenario(t)
	persistChan := make(chan core.Output, 1024)
	projChan := make(chan core.Output, 1024)
	c := core.New(0, persistChan, projChan, core.Deps{
		Engine:    s.Engine,
		Ledger:    s.Ledger,
		Fund:      s.Fund,
		Feed:      s.Feed,
		FeedOwner: testutil.Owner,
	})
	return c, s, persistChan, projChan
}

func openAction(id uuid.UUID, trader string, quote, leverage, seq, height, tm int64) *action.OpenPosition {
	return &action.OpenPosition{
		ActionID:    id,
		Trader:      trader,
		Curve:       testutil.CurveID,
		Side:        engine.SideBuy,
		QuoteAmount: quote,
		Leverage:    leverage,
		Seq:         seq,
		Height:      height,
		Time:        tm,
	}
}

// ============================================================
// Pipeline
// ============================================================

func TestApplyOpenPositionEmitsOutput(t *testing.T) {
	c, s, persistChan, projChan := newTestCore(t)

	blk := s.NextBlock()
	if err := c.Apply(openAction(uuid.New(), testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := c.Sequence(); got != 1 {
		t.Errorf("sequence = %d, want 1", got)
	}

	out := <-persistChan
	if out.Envelope.Sequence != 0 {
		t.Errorf("envelope sequence = %d, want 0", out.Envelope.Sequence)
	}
	if out.Envelope.ActionType != action.TypeOpenPosition {
		t.Errorf("action type = %s", out.Envelope.ActionType)
	}
	if out.Envelope.CurveID == nil || *out.Envelope.CurveID != testutil.CurveID {
		t.Errorf("curve id = %v", out.Envelope.CurveID)
	}
	if out.Envelope.BlockHeight != blk.Height || out.Envelope.BlockTime != blk.Time {
		t.Errorf("block = %d/%d, want %d/%d",
			out.Envelope.BlockHeight, out.Envelope.BlockTime, blk.Height, blk.Time)
	}
	if out.Envelope.PrevHash == out.Envelope.StateHash {
		t.Error("prev hash must differ from state hash")
	}
	if len(out.Journals) == 0 {
		t.Error("open position must produce journal entries")
	}
	if len(projChan) != 1 {
		t.Errorf("projection outputs = %d, want 1", len(projChan))
	}

	pos, err := s.Engine.GetPosition(testutil.CurveID, testutil.Alice)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Notional != 250*dec {
		t.Errorf("notional = %d, want %d", pos.Notional, 250*dec)
	}
}

func TestDuplicateActionSkipped(t *testing.T) {
	c, s, persistChan, _ := newTestCore(t)

	id := uuid.New()
	blk := s.NextBlock()
	act := openAction(id, testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)

	if err := c.Apply(act); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := c.Apply(act); err != nil {
		t.Fatalf("duplicate Apply should be a no-op, got %v", err)
	}

	if got := c.Sequence(); got != 1 {
		t.Errorf("sequence = %d, want 1 after duplicate", got)
	}
	if len(persistChan) != 1 {
		t.Errorf("persist outputs = %d, want 1", len(persistChan))
	}
}

func TestSequenceGapRejected(t *testing.T) {
	c, s, _, _ := newTestCore(t)

	blk := s.NextBlock()
	err := c.Apply(openAction(uuid.New(), testutil.Alice, 25*dec, 10*dec, 5, blk.Height, blk.Time))
	if err == nil {
		t.Fatal("expected gap error")
	}
	if _, err := s.Engine.GetPosition(testutil.CurveID, testutil.Alice); err == nil {
		t.Error("rejected action must not open a position")
	}
}

func TestOutOfOrderNewActionRejected(t *testing.T) {
	c, s, _, _ := newTestCore(t)

	blk := s.NextBlock()
	if err := c.Apply(openAction(uuid.New(), testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// A NEW action reusing an already consumed source sequence.
	err := c.Apply(openAction(uuid.New(), testutil.Bob, 25*dec, 10*dec, 0, blk.Height, blk.Time))
	if err == nil {
		t.Fatal("expected out-of-order error")
	}
}

func TestRejectedDispatchKeepsSequence(t *testing.T) {
	c, s, persistChan, _ := newTestCore(t)

	blk := s.NextBlock()
	err := c.Apply(&action.WithdrawMargin{
		ActionID: uuid.New(),
		Trader:   testutil.Alice,
		Curve:    testutil.CurveID,
		Amount:   1 * dec,
		Seq:      0,
		Height:   blk.Height,
		Time:     blk.Time,
	})
	if err == nil {
		t.Fatal("expected dispatch error for withdrawal without position")
	}
	if got := c.Sequence(); got != 0 {
		t.Errorf("sequence = %d, want 0 after rejected dispatch", got)
	}
	if len(persistChan) != 0 {
		t.Errorf("persist outputs = %d, want 0", len(persistChan))
	}
}

// ============================================================
// Oracle price partition
// ============================================================

func TestOraclePriceGapsTolerated(t *testing.T) {
	c, s, persistChan, _ := newTestCore(t)

	blk := s.NextBlock()
	if err := c.Apply(&action.OraclePrice{
		FeedKey: testutil.FeedKey, Price: 11 * dec, Seq: 0, Height: blk.Height, Time: blk.Time,
	}); err != nil {
		t.Fatalf("price seq 0: %v", err)
	}

	blk = s.NextBlock()
	if err := c.Apply(&action.OraclePrice{
		FeedKey: testutil.FeedKey, Price: 12 * dec, Seq: 5, Height: blk.Height, Time: blk.Time,
	}); err != nil {
		t.Fatalf("price seq 5 (gap): %v", err)
	}

	// Stale sample: silently skipped, no output.
	if err := c.Apply(&action.OraclePrice{
		FeedKey: testutil.FeedKey, Price: 13 * dec, Seq: 3, Height: blk.Height, Time: blk.Time,
	}); err != nil {
		t.Fatalf("stale price should be skipped, got %v", err)
	}

	if len(persistChan) != 2 {
		t.Errorf("persist outputs = %d, want 2", len(persistChan))
	}
	price, err := s.Feed.Price(testutil.FeedKey)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price != 12*dec {
		t.Errorf("price = %d, want %d", price, 12*dec)
	}
}

// ============================================================
// Hash chain
// ============================================================

func TestHashChainLinksOutputs(t *testing.T) {
	c, s, persistChan, _ := newTestCore(t)

	blk := s.NextBlock()
	if err := c.Apply(openAction(uuid.New(), testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	blk = s.NextBlock()
	if err := c.Apply(openAction(uuid.New(), testutil.Bob, 25*dec, 10*dec, 1, blk.Height, blk.Time)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	first := <-persistChan
	second := <-persistChan
	if second.Envelope.PrevHash != first.Envelope.StateHash {
		t.Error("second envelope must chain to first state hash")
	}
	if c.StateHash() != second.Envelope.StateHash {
		t.Error("core tip must equal latest state hash")
	}
}

func TestHashChainDeterministic(t *testing.T) {
	run := func() [32]byte {
		c, s, persistChan, _ := newTestCore(t)
		blk := s.NextBlock()
		seedID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
		if err := c.Apply(openAction(seedID, testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		for len(persistChan) > 0 {
			<-persistChan
		}
		return c.StateHash()
	}

	if run() != run() {
		t.Error("identical action streams must produce identical state hashes")
	}
}

// ============================================================
// Snapshot & restore
// ============================================================

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	c, s, persistChan, _ := newTestCore(t)

	id := uuid.New()
	blk := s.NextBlock()
	if err := c.Apply(openAction(id, testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for len(persistChan) > 0 {
		<-persistChan
	}

	snap := c.CreateSnapshotState()
	if snap.Sequence != 0 {
		t.Errorf("snapshot sequence = %d, want 0", snap.Sequence)
	}

	restored, s2, _, _ := newTestCore(t)
	restored.RestoreFromSnapshot(snap)

	if restored.Sequence() != 1 {
		t.Errorf("restored sequence = %d, want 1", restored.Sequence())
	}
	if restored.StateHash() != c.StateHash() {
		t.Error("restored state hash must match source")
	}

	pos, err := s2.Engine.GetPosition(testutil.CurveID, testutil.Alice)
	if err != nil {
		t.Fatalf("restored position: %v", err)
	}
	if pos.Notional != 250*dec {
		t.Errorf("restored notional = %d, want %d", pos.Notional, 250*dec)
	}

	// Redelivery of the snapshotted action must be deduplicated.
	if err := restored.Apply(openAction(id, testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
		t.Fatalf("redelivered action after restore: %v", err)
	}
	if restored.Sequence() != 1 {
		t.Errorf("sequence = %d after redelivery, want 1", restored.Sequence())
	}
}

func TestReplayModeSkipsDedupAndEmission(t *testing.T) {
	c, s, persistChan, projChan := newTestCore(t)

	id := uuid.New()
	blk := s.NextBlock()

	c.SetReplay(true)
	if err := c.Apply(openAction(id, testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
		t.Fatalf("Apply during replay: %v", err)
	}
	c.SetReplay(false)

	select {
	case <-persistChan:
		t.Error("replayed action must not be re-persisted")
	default:
	}
	select {
	case <-projChan:
		t.Error("replayed action must not be re-projected")
	default:
	}

	if c.Sequence() != 1 {
		t.Errorf("sequence = %d after replay, want 1", c.Sequence())
	}

	// The replayed key landed in the LRU: live redelivery is rejected.
	if err := c.Apply(openAction(id, testutil.Alice, 25*dec, 10*dec, 0, blk.Height, blk.Time)); err != nil {
		t.Fatalf("redelivered action: %v", err)
	}
	if c.Sequence() != 1 {
		t.Errorf("sequence = %d after redelivery, want 1", c.Sequence())
	}
}
