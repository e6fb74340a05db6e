package lending

import "errors"

// Sentinel errors surfaced by engine operations. Callers match them with
// errors.Is; ErrTransferFailed additionally wraps the collaborator cause.
var (
	ErrNilState      = errors.New("lending engine: state not configured")
	ErrNilOracle     = errors.New("lending engine: value oracle not configured")
	ErrNilTransfer   = errors.New("lending engine: asset transfer not configured")
	ErrReentrantCall = errors.New("lending engine: reentrant call rejected")

	ErrMarketNotFound = errors.New("lending engine: market not found")
	ErrMarketExists   = errors.New("lending engine: market already exists")
	ErrMarketInactive = errors.New("lending engine: market inactive")

	ErrInvalidAmount          = errors.New("lending engine: amount must be positive")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientBalance    = errors.New("lending engine: insufficient balance")

	ErrPositionHealthy     = errors.New("lending engine: borrower not eligible for liquidation")
	ErrSelfLiquidation     = errors.New("lending engine: borrower cannot liquidate themselves")
	ErrNoCollateralToSeize = errors.New("lending engine: no collateral to seize")
	ErrTransferFailed      = errors.New("lending engine: asset transfer failed")
)
