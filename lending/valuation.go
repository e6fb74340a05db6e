package lending

import (
	"math/big"

	"openlend/crypto"
)

// CollateralValue returns the user's cached collateral aggregate in the
// common value unit.
func (e *Engine) CollateralValue(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.CollateralValue(user), nil
}

// BorrowValue returns the user's cached borrow aggregate in the common value
// unit.
func (e *Engine) BorrowValue(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.BorrowValue(user), nil
}

// MaxBorrowValue scales the collateral aggregate by the global liquidation
// threshold. The per-market collateral factor does not participate.
func (e *Engine) MaxBorrowValue(user crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return mulBps(e.state.CollateralValue(user), e.params.LiquidationThresholdBps), nil
}

// HealthFactor reports the position health in basis points. The boolean is
// false when the user has no debt, in which case the health factor is
// unbounded.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	hf, ok := e.healthFactor(e.state.CollateralValue(user), e.state.BorrowValue(user))
	return hf, ok, nil
}

// Liquidatable reports whether the user's position may be liquidated.
func (e *Engine) Liquidatable(user crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.liquidatable(user), nil
}

func (e *Engine) healthFactor(collateral, borrowed *big.Int) (*big.Int, bool) {
	if borrowed == nil || borrowed.Sign() == 0 {
		return nil, false
	}
	num := new(big.Int).Mul(cloneBig(collateral), new(big.Int).SetUint64(e.params.LiquidationThresholdBps))
	return num.Quo(num, borrowed), true
}

func (e *Engine) liquidatable(user crypto.Address) bool {
	hf, ok := e.healthFactor(e.state.CollateralValue(user), e.state.BorrowValue(user))
	if !ok {
		return false
	}
	return hf.Cmp(new(big.Int).SetUint64(e.params.MinHealthFactorBps)) < 0
}
