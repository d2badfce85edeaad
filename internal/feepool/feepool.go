package feepool

import (
	"errors"

	"PerpEngine/internal/bank"
)

var ErrUnauthorized = errors.New("caller is not the fee pool owner")

// FeePool accumulates toll fees charged by the engine. It is a thin owner
// gate over a bank address.
type FeePool struct {
	owner   string
	address string
	ledger  *bank.Ledger
}

func New(owner, address string, ledger *bank.Ledger) *FeePool {
	return &FeePool{owner: owner, address: address, ledger: ledger}
}

// Address returns the pool's bank address.
func (p *FeePool) Address() string { return p.address }

// Balance returns the accumulated fees in a denom.
func (p *FeePool) Balance(denom string) int64 {
	return p.ledger.BalanceOf(p.address, denom)
}

// Withdraw sends accumulated fees to a recipient, owner only.
func (p *FeePool) Withdraw(caller, to, denom string, amount int64) error {
	if caller != p.owner {
		return ErrUnauthorized
	}
	return p.ledger.Transfer(p.address, to, denom, amount, bank.JournalTypeFee, "fee-pool-withdraw")
}
