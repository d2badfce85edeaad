package query

import (
	"context"
	"database/sql"
)

// BalanceResponse is a projected account balance.
type BalanceResponse struct {
	Address      string `json:"address"`
	Denom        string `json:"denom"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetBalance returns an address's balance for one denom. Unknown
// addresses report a zero balance rather than an error.
func (s *Service) GetBalance(ctx context.Context, address, denom string) (*BalanceResponse, error) {
	defer s.observe("GetBalance")

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, s.fail("GetBalance", err)
	}

	var balance int64
	err = s.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE address = $1 AND denom = $2
	`, address, denom).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, s.fail("GetBalance", err)
	}

	return &BalanceResponse{
		Address:      address,
		Denom:        denom,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetBalances returns every denom balance held by an address.
func (s *Service) GetBalances(ctx context.Context, address string) ([]BalanceResponse, error) {
	defer s.observe("GetBalances")

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, s.fail("GetBalances", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT denom, balance FROM projections.balances
		WHERE address = $1
		ORDER BY denom
	`, address)
	if err != nil {
		return nil, s.fail("GetBalances", err)
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		var b BalanceResponse
		b.Address = address
		b.AsOfSequence = asOfSeq
		if err := rows.Scan(&b.Denom, &b.Balance); err != nil {
			return nil, s.fail("GetBalances", err)
		}
		balances = append(balances, b)
	}

	return balances, s.fail("GetBalances", rows.Err())
}
