package engine

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUndercollateralized = errors.New("position is undercollateralized")
	ErrOvercollateralized  = errors.New("position is overcollateralized")
	ErrZeroPosition        = errors.New("position has zero size")
	ErrRestrictedAction    = errors.New("action blocked by restriction mode")
	ErrSlippageExceeded    = errors.New("slippage limit exceeded")
	ErrArithmetic          = errors.New("arithmetic error")
	ErrInvalidState        = errors.New("invalid state")
	ErrUnknownCurve        = errors.New("curve is not registered")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)
