package rpc

import (
	"errors"
	"net/http"

	"openlend/bank"
	"openlend/lending"
	"openlend/oracle"
)

// ledgerError translates engine sentinels into an HTTP status and JSON-RPC
// error code. Unknown errors fall through as internal server errors so the
// caller never sees a misleading validation code.
func ledgerError(err error) (int, int) {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, oracle.ErrUnknownAsset),
		errors.Is(err, bank.ErrInvalidAsset),
		errors.Is(err, bank.ErrInvalidAddress),
		errors.Is(err, bank.ErrReservedAddress),
		errors.Is(err, bank.ErrInvalidAmount):
		return http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, lending.ErrMarketNotFound):
		return http.StatusNotFound, codeServerError
	case errors.Is(err, lending.ErrMarketExists),
		errors.Is(err, lending.ErrMarketInactive),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrPositionHealthy),
		errors.Is(err, lending.ErrSelfLiquidation),
		errors.Is(err, lending.ErrNoCollateralToSeize),
		errors.Is(err, lending.ErrTransferFailed),
		errors.Is(err, bank.ErrInsufficientFunds):
		return http.StatusConflict, codeLedgerRejected
	case errors.Is(err, lending.ErrReentrantCall):
		return http.StatusServiceUnavailable, codeServerError
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	status, code := ledgerError(err)
	writeError(w, status, id, code, err.Error(), nil)
}
