package bank

import (
	"errors"
	"testing"
)

func TestMintAndTransfer(t *testing.T) {
	l := NewLedger()
	if err := l.Mint("alice", "USDC", 1_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := l.Transfer("alice", "vault", "USDC", 400, JournalTypeMarginDeposit, "action-1"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if got := l.BalanceOf("alice", "USDC"); got != 600 {
		t.Errorf("alice = %d, want 600", got)
	}
	if got := l.BalanceOf("vault", "USDC"); got != 400 {
		t.Errorf("vault = %d, want 400", got)
	}
	if err := l.ValidateSupply(); err != nil {
		t.Errorf("ValidateSupply: %v", err)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	l := NewLedger()
	if err := l.Mint("alice", "USDC", 100); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	err := l.Transfer("alice", "vault", "USDC", 101, JournalTypeMarginDeposit, "action-1")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	// Failed transfer must not move anything.
	if got := l.BalanceOf("alice", "USDC"); got != 100 {
		t.Errorf("alice = %d, want 100", got)
	}
}

func TestTransferRejectsNonPositive(t *testing.T) {
	l := NewLedger()
	if err := l.Transfer("a", "b", "USDC", 0, JournalTypeAdjustment, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if err := l.Transfer("a", "b", "USDC", -5, JournalTypeAdjustment, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestJournalRecordsTransfers(t *testing.T) {
	l := NewLedger()
	if err := l.Mint("alice", "USDC", 1_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := l.Transfer("alice", "vault", "USDC", 250, JournalTypeMarginDeposit, "action-7"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	entries := l.Journal(0)
	if len(entries) != 2 {
		t.Fatalf("journal length = %d, want 2", len(entries))
	}
	last := entries[1]
	if last.From != "alice" || last.To != "vault" || last.Amount != 250 {
		t.Errorf("unexpected journal entry: %+v", last)
	}
	if last.Ref != "action-7" {
		t.Errorf("ref = %q, want action-7", last.Ref)
	}
	if got := l.Journal(2); got != nil {
		t.Errorf("drained journal should be nil, got %d entries", len(got))
	}
}

func TestRevertToUndoesTransfersAndMints(t *testing.T) {
	l := NewLedger()
	if err := l.Mint("alice", "USDC", 1_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	mark := l.JournalLen()

	if err := l.Transfer("alice", "vault", "USDC", 400, JournalTypeMarginDeposit, "action-1"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := l.Transfer("vault", "fee-pool", "USDC", 50, JournalTypeFee, "action-1"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := l.Mint("bob", "USDC", 200); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	l.RevertTo(mark)

	if got := l.BalanceOf("alice", "USDC"); got != 1_000 {
		t.Errorf("alice = %d, want 1000", got)
	}
	if got := l.BalanceOf("vault", "USDC"); got != 0 {
		t.Errorf("vault = %d, want 0", got)
	}
	if got := l.BalanceOf("fee-pool", "USDC"); got != 0 {
		t.Errorf("fee-pool = %d, want 0", got)
	}
	if got := l.BalanceOf("bob", "USDC"); got != 0 {
		t.Errorf("bob = %d, want 0", got)
	}
	if got := l.TotalSupply("USDC"); got != 1_000 {
		t.Errorf("supply = %d, want 1000", got)
	}
	if got := l.JournalLen(); got != mark {
		t.Errorf("journal length = %d, want %d", got, mark)
	}
	if err := l.ValidateSupply(); err != nil {
		t.Errorf("ValidateSupply: %v", err)
	}

	// Reverting at the tip is a no-op.
	l.RevertTo(l.JournalLen())
	if got := l.JournalLen(); got != mark {
		t.Errorf("journal length = %d, want %d", got, mark)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	l := NewLedger()
	if err := l.Mint("alice", "USDC", 1_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := l.Mint("bob", "USDC", 500); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	snap := l.Snapshot()
	restored := NewLedger()
	restored.Restore(snap)

	if got := restored.BalanceOf("bob", "USDC"); got != 500 {
		t.Errorf("bob = %d, want 500", got)
	}
	if got := restored.TotalSupply("USDC"); got != 1_500 {
		t.Errorf("supply = %d, want 1500", got)
	}
	if err := restored.ValidateSupply(); err != nil {
		t.Errorf("ValidateSupply: %v", err)
	}
}
