package server

import (
	"context"
	"errors"
	"net/http"

	"isolend/services/lending/engine"
)

// statusFor maps an engine error onto an HTTP status and a stable error code.
// State conflicts are 409, failed risk checks 422.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "canceled"
	case errors.Is(err, engine.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrPaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, engine.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, "insufficient_collateral"
	case errors.Is(err, engine.ErrPositionHealthy):
		return http.StatusUnprocessableEntity, "position_healthy"
	case errors.Is(err, engine.ErrInsufficientLiquidity):
		return http.StatusConflict, "insufficient_liquidity"
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, engine.ErrInsufficientAllowance):
		return http.StatusConflict, "insufficient_allowance"
	case errors.Is(err, engine.ErrNoActiveAuction):
		return http.StatusConflict, "no_active_auction"
	case errors.Is(err, engine.ErrRepayExceedsDebt):
		return http.StatusConflict, "repay_exceeds_debt"
	case errors.Is(err, engine.ErrAssetNotConfigured):
		return http.StatusConflict, "asset_not_configured"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
