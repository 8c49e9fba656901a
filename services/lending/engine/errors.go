package engine

import "errors"

var (
	ErrNotFound               = errors.New("lending: not found")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("lending: insufficient liquidity")
	ErrInsufficientBalance    = errors.New("lending: insufficient balance")
	ErrInsufficientAllowance  = errors.New("lending: insufficient allowance")
	ErrPositionHealthy        = errors.New("lending: position is healthy")
	ErrNoActiveAuction        = errors.New("lending: no active auction")
	ErrAssetNotConfigured     = errors.New("lending: asset not configured")
	ErrRepayExceedsDebt       = errors.New("lending: repay exceeds debt")
	ErrPaused                 = errors.New("lending: operation paused")
	ErrInvalidAmount          = errors.New("lending: invalid amount")
	ErrInvalidRequest         = errors.New("lending: invalid request")
	ErrUnauthorized           = errors.New("lending: unauthorized")
	ErrInternal               = errors.New("lending: internal error")
)
