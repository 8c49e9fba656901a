package lending

import "errors"

var (
	ErrNilState               = errors.New("lending engine: state not configured")
	ErrInvalidAmount          = errors.New("lending engine: amount must be positive")
	ErrInsufficientCollateral = errors.New("lending engine: health factor would fall below 1")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient custody liquidity")
	ErrInsufficientBalance    = errors.New("lending engine: insufficient balance")
	ErrInsufficientAllowance  = errors.New("lending engine: insufficient allowance")
	ErrPositionHealthy        = errors.New("lending engine: position is healthy")
	ErrNoActiveAuction        = errors.New("lending engine: no active liquidation auction")
	ErrAssetNotConfigured     = errors.New("lending engine: asset not configured")
	ErrRepayExceedsDebt       = errors.New("lending engine: no outstanding debt to repay")
	ErrUnauthorized           = errors.New("lending engine: caller is not the owner")
	ErrUnsupportedRepayAsset  = errors.New("lending engine: repay asset must match the debt asset")
	ErrInvalidRiskFactor      = errors.New("lending engine: risk factors must be positive")
	ErrSameAsset              = errors.New("lending engine: collateral and debt assets must differ")
	ErrCollaboratorMissing    = errors.New("lending engine: collaborator not configured")
	ErrInvalidAuctionConfig   = errors.New("lending engine: invalid auction configuration")
)

var (
	ErrPositionNotFound = errors.New("lending engine: position not found")
	ErrInvalidOwner     = errors.New("lending engine: owner must be set")
)
