package engine

import "fmt"

// Config holds the engine's risk parameters. All ratios are decimal-scaled
// against Decimals.
type Config struct {
	Owner                   string
	InsuranceFund           string
	FeePool                 string
	EligibleCollateral      string
	Decimals                int64
	InitialMarginRatio      int64
	MaintenanceMarginRatio  int64
	PartialLiquidationRatio int64
	LiquidationFee          int64
}

func (c Config) validate() error {
	if c.Decimals <= 0 {
		return fmt.Errorf("%w: decimals must be positive", ErrInvalidState)
	}
	for name, ratio := range map[string]int64{
		"initial_margin_ratio":     c.InitialMarginRatio,
		"maintenance_margin_ratio": c.MaintenanceMarginRatio,
		"liquidation_fee":          c.LiquidationFee,
	} {
		if ratio < 0 || ratio > c.Decimals {
			return fmt.Errorf("%w: %s out of range: %d", ErrInvalidState, name, ratio)
		}
	}
	// A partial ratio of one would liquidate the whole position through the
	// partial path.
	if c.PartialLiquidationRatio < 0 || c.PartialLiquidationRatio >= c.Decimals {
		return fmt.Errorf("%w: partial_liquidation_ratio out of range: %d", ErrInvalidState, c.PartialLiquidationRatio)
	}
	return nil
}

// ConfigUpdate carries optional overrides for UpdateConfig; nil fields are
// untouched.
type ConfigUpdate struct {
	Owner                   *string
	InsuranceFund           *string
	FeePool                 *string
	InitialMarginRatio      *int64
	MaintenanceMarginRatio  *int64
	PartialLiquidationRatio *int64
	LiquidationFee          *int64
}

// UpdateConfig applies optional overrides, owner only.
func (e *Engine) UpdateConfig(caller string, upd ConfigUpdate) error {
	if caller != e.cfg.Owner {
		return fmt.Errorf("%w: only the owner may update config", ErrUnauthorized)
	}
	next := e.cfg
	if upd.Owner != nil {
		next.Owner = *upd.Owner
	}
	if upd.InsuranceFund != nil {
		next.InsuranceFund = *upd.InsuranceFund
	}
	if upd.FeePool != nil {
		next.FeePool = *upd.FeePool
	}
	if upd.InitialMarginRatio != nil {
		next.InitialMarginRatio = *upd.InitialMarginRatio
	}
	if upd.MaintenanceMarginRatio != nil {
		next.MaintenanceMarginRatio = *upd.MaintenanceMarginRatio
	}
	if upd.PartialLiquidationRatio != nil {
		next.PartialLiquidationRatio = *upd.PartialLiquidationRatio
	}
	if upd.LiquidationFee != nil {
		next.LiquidationFee = *upd.LiquidationFee
	}
	if err := next.validate(); err != nil {
		return err
	}
	e.cfg = next
	e.logger.Info().Str("owner", next.Owner).Msg("engine config updated")
	return nil
}

// SetPause toggles trading, owner only. Setting the current value again is
// an error.
func (e *Engine) SetPause(caller string, paused bool) error {
	if caller != e.cfg.Owner {
		return fmt.Errorf("%w: only the owner may pause", ErrUnauthorized)
	}
	if e.paused == paused {
		return fmt.Errorf("%w: pause already %v", ErrInvalidState, paused)
	}
	e.paused = paused
	e.logger.Info().Bool("paused", paused).Msg("pause state changed")
	return nil
}
