package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrQueueEmpty        = errors.New("queue empty")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnavailable       = errors.New("data unavailable")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStaleTransition   = errors.New("position status changed concurrently")
	ErrWalletMismatch    = errors.New("wallet binding invalid")
	ErrDuplicatePosition = errors.New("active position already exists")
	ErrWSDisconnect      = errors.New("websocket disconnected")
)
