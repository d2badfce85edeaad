package bank

import "github.com/google/uuid"

// JournalType classifies a ledger movement.
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeMarginDeposit
	JournalTypeMarginWithdraw
	JournalTypePnLPayout
	JournalTypeFee
	JournalTypeLiquidationFee
	JournalTypeInsuranceCredit
	JournalTypeInsuranceDebit
	JournalTypeFundingSettle
	JournalTypeBadDebtCover
	JournalTypeAdjustment
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeMint:
		return "Mint"
	case JournalTypeMarginDeposit:
		return "MarginDeposit"
	case JournalTypeMarginWithdraw:
		return "MarginWithdraw"
	case JournalTypePnLPayout:
		return "PnLPayout"
	case JournalTypeFee:
		return "Fee"
	case JournalTypeLiquidationFee:
		return "LiquidationFee"
	case JournalTypeInsuranceCredit:
		return "InsuranceCredit"
	case JournalTypeInsuranceDebit:
		return "InsuranceDebit"
	case JournalTypeFundingSettle:
		return "FundingSettle"
	case JournalTypeBadDebtCover:
		return "BadDebtCover"
	case JournalTypeAdjustment:
		return "Adjustment"
	default:
		return "Unknown"
	}
}

// Journal is one recorded transfer. From is empty for mints.
type Journal struct {
	JournalID   uuid.UUID
	From        string
	To          string
	Denom       string
	Amount      int64
	JournalType JournalType
	Ref         string
}

func (l *Ledger) appendJournal(from, to, denom string, amount int64, jt JournalType, ref string) {
	l.journal = append(l.journal, Journal{
		JournalID:   uuid.New(),
		From:        from,
		To:          to,
		Denom:       denom,
		Amount:      amount,
		JournalType: jt,
		Ref:         ref,
	})
}

// Journal returns entries recorded since offset, for the persistence
// worker to drain.
func (l *Ledger) Journal(offset int) []Journal {
	if offset >= len(l.journal) {
		return nil
	}
	return l.journal[offset:]
}

// JournalLen returns the total number of recorded entries.
func (l *Ledger) JournalLen() int {
	return len(l.journal)
}
