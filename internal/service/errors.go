package service

import "errors"

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidTrade          = errors.New("invalid trade")
	ErrMarketClosed          = errors.New("market closed")
	ErrPositionLimitExceeded = errors.New("position limit exceeded")
	ErrLeverageLimitExceeded = errors.New("leverage limit exceeded")
	ErrTradeNotFound         = errors.New("trade not found")
	ErrTransient             = errors.New("transient failure")
)
