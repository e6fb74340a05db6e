package lending

import "math/big"

// ValueOracle converts between asset quantities and the common value unit
// used for risk checks. Implementations must be pure and monotonic, with
// ValueOf and QuantityOf acting as inverses within rounding. An oracle
// failure is fatal to the enclosing operation.
type ValueOracle interface {
	ValueOf(asset string, qty *big.Int) (*big.Int, error)
	QuantityOf(asset string, value *big.Int) (*big.Int, error)
}

// IdentityOracle values every asset 1:1 against the common unit. It is the
// reference oracle for tests and development networks.
type IdentityOracle struct{}

func (IdentityOracle) ValueOf(_ string, qty *big.Int) (*big.Int, error) {
	return cloneBig(qty), nil
}

func (IdentityOracle) QuantityOf(_ string, value *big.Int) (*big.Int, error) {
	return cloneBig(value), nil
}
