package query

// PositionResponse is a projected position for API queries.
type PositionResponse struct {
	CurveID             string `json:"curve_id"`
	Trader              string `json:"trader"`
	Size                int64  `json:"size"`
	Margin              int64  `json:"margin"`
	Notional            int64  `json:"notional"`
	LastPremiumFraction int64  `json:"last_premium_fraction"`
	BlockHeight         int64  `json:"block_height"`
	BlockTime           int64  `json:"block_time"`
	Version             int64  `json:"version"`
	AsOfSequence        int64  `json:"as_of_sequence"`
}

// PremiumFractionResponse is one entry of a curve's cumulative premium
// fraction series.
type PremiumFractionResponse struct {
	CurveID         string `json:"curve_id"`
	Sequence        int64  `json:"sequence"`
	PremiumFraction int64  `json:"premium_fraction"`
	BlockTime       int64  `json:"block_time"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// FundingHistoryResponse is one funding settlement record.
type FundingHistoryResponse struct {
	CurveID         string `json:"curve_id"`
	Sequence        int64  `json:"sequence"`
	FundingRate     int64  `json:"funding_rate"`
	PremiumFraction int64  `json:"premium_fraction"`
	BlockTime       int64  `json:"block_time"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry is one ledger journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID   string `json:"journal_id"`
	Ref         string `json:"ref"`
	Sequence    int64  `json:"sequence"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Denom       string `json:"denom"`
	Amount      int64  `json:"amount"`
	JournalType int32  `json:"journal_type"`
	BlockTime   int64  `json:"block_time"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedDenoms []UnbalancedDenom `json:"unbalanced_denoms,omitempty"`
}

// UnbalancedDenom flags a denom whose projected balances no longer sum
// to its minted supply.
type UnbalancedDenom struct {
	Denom     string `json:"denom"`
	Supply    int64  `json:"supply"`
	Projected int64  `json:"projected"`
}
