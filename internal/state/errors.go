package state

import "errors"

var (
	ErrOracleMismatch       = errors.New("oracle key does not match instrument config")
	ErrNegativeAmount       = errors.New("amount must not be negative")
	ErrPositionNotFound     = errors.New("position not found")
	ErrPositionInUse        = errors.New("position is still in use")
	ErrInvalidTransition    = errors.New("invalid liquidation state transition")
	ErrInvalidRiskParams    = errors.New("invalid risk parameters")
	ErrSettleTokenMissing   = errors.New("settle token position missing")
	ErrSerum3OrdersNotFound = errors.New("serum3 open orders not found")
)
