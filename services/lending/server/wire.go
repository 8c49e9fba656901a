package server

import (
	"isolend/services/lending/engine"
	"isolend/services/lending/journal"
)

// PositionRequest is the body of deposit, withdraw, borrow and repay. Owner
// defaults to the authenticated caller.
type PositionRequest struct {
	Owner           string `json:"owner,omitempty"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	Amount          string `json:"amount"`
}

func (r PositionRequest) ref() engine.PositionRef {
	return engine.PositionRef{Owner: r.Owner, CollateralAsset: r.CollateralAsset, DebtAsset: r.DebtAsset}
}

// LiquidateRequest settles debt of a position under auction. An empty Amount
// repays the whole debt; an empty RepayAsset defaults to the debt asset.
type LiquidateRequest struct {
	Owner           string `json:"owner"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	RepayAsset      string `json:"repayAsset,omitempty"`
	Amount          string `json:"amount,omitempty"`
}

func (r LiquidateRequest) ref() engine.PositionRef {
	return engine.PositionRef{Owner: r.Owner, CollateralAsset: r.CollateralAsset, DebtAsset: r.DebtAsset}
}

type KeyRequest struct {
	Key string `json:"key"`
}

type KeyResponse struct {
	Key string `json:"key"`
}

type OwnerRequest struct {
	Owner string `json:"owner"`
}

type PositionsResponse struct {
	Positions []engine.Position `json:"positions"`
}

type AssetRequest struct {
	Asset string `json:"asset"`
}

type PriceRequest struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type SetOwnerRequest struct {
	NewOwner string `json:"newOwner"`
}

type MintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// ApproveRequest sets the allowance the caller grants the ledger custody.
type ApproveRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type BalanceRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
}

// HistoryRequest pages the newest journal entries; zero selects the default.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
