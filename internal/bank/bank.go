package bank

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("transfer amount must be positive")
)

type balanceKey struct {
	Address string
	Denom   string
}

// Ledger is the in-memory collateral custody. Every margin, fee, insurance
// and payout flow in the engine is a journaled transfer between addresses
// here. Balances never go negative.
type Ledger struct {
	balances map[balanceKey]int64
	supply   map[string]int64
	journal  []Journal
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[balanceKey]int64),
		supply:   make(map[string]int64),
	}
}

// BalanceOf returns the balance of an address in a denom.
func (l *Ledger) BalanceOf(address, denom string) int64 {
	return l.balances[balanceKey{Address: address, Denom: denom}]
}

// Mint credits freshly issued funds to an address. Deposit ramps and test
// scenarios use it; the engine itself only transfers.
func (l *Ledger) Mint(address, denom string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.balances[balanceKey{Address: address, Denom: denom}] += amount
	l.supply[denom] += amount
	l.appendJournal("", address, denom, amount, JournalTypeMint, "")
	return nil
}

// Transfer moves amount between addresses, failing when the sender lacks
// funds. ref ties the entry back to the action that caused it.
func (l *Ledger) Transfer(from, to, denom string, amount int64, journalType JournalType, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	fromKey := balanceKey{Address: from, Denom: denom}
	if l.balances[fromKey] < amount {
		return fmt.Errorf("%w: %s has %d %s, needs %d", ErrInsufficientFunds, from, l.balances[fromKey], denom, amount)
	}
	l.balances[fromKey] -= amount
	l.balances[balanceKey{Address: to, Denom: denom}] += amount
	l.appendJournal(from, to, denom, amount, journalType, ref)
	return nil
}

// RevertTo undoes every journal entry recorded after mark, newest first,
// and truncates the journal back to it. Rejected actions use it to erase
// their partial transfers.
func (l *Ledger) RevertTo(mark int) {
	if mark < 0 || mark >= len(l.journal) {
		return
	}
	for i := len(l.journal) - 1; i >= mark; i-- {
		j := l.journal[i]
		l.balances[balanceKey{Address: j.To, Denom: j.Denom}] -= j.Amount
		if j.From == "" {
			l.supply[j.Denom] -= j.Amount
			continue
		}
		l.balances[balanceKey{Address: j.From, Denom: j.Denom}] += j.Amount
	}
	l.journal = l.journal[:mark]
}

// TotalSupply returns the minted supply of a denom. The sum of all balances
// must always equal it.
func (l *Ledger) TotalSupply(denom string) int64 {
	return l.supply[denom]
}

// ValidateSupply checks the zero-sum invariant for every denom.
func (l *Ledger) ValidateSupply() error {
	totals := make(map[string]int64)
	for key, bal := range l.balances {
		if bal < 0 {
			return fmt.Errorf("account %s has negative balance %d %s", key.Address, bal, key.Denom)
		}
		totals[key.Denom] += bal
	}
	for denom, supply := range l.supply {
		if totals[denom] != supply {
			return fmt.Errorf("denom %s: balances sum to %d, supply is %d", denom, totals[denom], supply)
		}
	}
	return nil
}

// Snapshot returns all balances in deterministic order for state hashing.
func (l *Ledger) Snapshot() []BalanceEntry {
	entries := make([]BalanceEntry, 0, len(l.balances))
	for key, bal := range l.balances {
		entries = append(entries, BalanceEntry{Address: key.Address, Denom: key.Denom, Amount: bal})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Address != entries[j].Address {
			return entries[i].Address < entries[j].Address
		}
		return entries[i].Denom < entries[j].Denom
	})
	return entries
}

// Restore overwrites balances from a snapshot.
func (l *Ledger) Restore(entries []BalanceEntry) {
	l.balances = make(map[balanceKey]int64, len(entries))
	l.supply = make(map[string]int64)
	for _, e := range entries {
		l.balances[balanceKey{Address: e.Address, Denom: e.Denom}] = e.Amount
		l.supply[e.Denom] += e.Amount
	}
}

// BalanceEntry is one row of a balance snapshot.
type BalanceEntry struct {
	Address string
	Denom   string
	Amount  int64
}
