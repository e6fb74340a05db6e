package lending

import (
	"math/big"

	"openlend/crypto"
)

// AssetTransfer moves quantities between user accounts and the ledger vault.
// Either direction may fail; a failure aborts the enclosing operation with no
// ledger mutation retained.
type AssetTransfer interface {
	TransferIn(asset string, from crypto.Address, qty *big.Int) error
	TransferOut(asset string, to crypto.Address, qty *big.Int) error
}
