package insurance

import (
	"errors"
	"fmt"
	"sort"

	"PerpEngine/internal/bank"
	"PerpEngine/internal/vamm"
)

var (
	ErrUnauthorized    = errors.New("caller is not the fund owner")
	ErrDuplicateCurve  = errors.New("curve already registered")
	ErrUnknownCurve    = errors.New("curve is not registered")
	ErrShutdownFailure = errors.New("failed to shut down curve")
)

// Fund is the insurance backstop. It registers the curves it is willing to
// cover, holds its reserve as a bank balance, and can halt all registered
// curves at once.
type Fund struct {
	owner   string
	address string
	ledger  *bank.Ledger
	curves  map[string]*vamm.Vamm
}

func NewFund(owner, address string, ledger *bank.Ledger) *Fund {
	return &Fund{
		owner:   owner,
		address: address,
		ledger:  ledger,
		curves:  make(map[string]*vamm.Vamm),
	}
}

// Address returns the fund's bank address.
func (f *Fund) Address() string { return f.address }

// AddCurve registers a curve under insurance coverage, owner only.
func (f *Fund) AddCurve(caller string, v *vamm.Vamm) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	if _, ok := f.curves[v.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCurve, v.ID)
	}
	f.curves[v.ID] = v
	return nil
}

// RemoveCurve drops a curve from coverage, owner only.
func (f *Fund) RemoveCurve(caller, id string) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	if _, ok := f.curves[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurve, id)
	}
	delete(f.curves, id)
	return nil
}

// IsCovered reports whether a curve is registered.
func (f *Fund) IsCovered(id string) bool {
	_, ok := f.curves[id]
	return ok
}

// Curve returns a registered curve handle.
func (f *Fund) Curve(id string) (*vamm.Vamm, bool) {
	v, ok := f.curves[id]
	return v, ok
}

// CurveIDs lists registered curves in deterministic order.
func (f *Fund) CurveIDs() []string {
	ids := make([]string, 0, len(f.curves))
	for id := range f.curves {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Balance returns the fund's reserve in a denom.
func (f *Fund) Balance(denom string) int64 {
	return f.ledger.BalanceOf(f.address, denom)
}

// Withdraw pays out of the reserve, owner only.
func (f *Fund) Withdraw(caller, to, denom string, amount int64) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	return f.ledger.Transfer(f.address, to, denom, amount, bank.JournalTypeInsuranceDebit, "insurance-withdraw")
}

// ShutdownCurves closes every registered curve for trading, owner only.
// Used when the reserve can no longer back open exposure.
func (f *Fund) ShutdownCurves(caller string, blk vamm.Block) error {
	if caller != f.owner {
		return ErrUnauthorized
	}
	for _, id := range f.CurveIDs() {
		if err := f.curves[id].SetOpen(f.address, false, blk); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrShutdownFailure, id, err)
		}
	}
	return nil
}
