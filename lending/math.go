package lending

import "math/big"

var basisPoints = big.NewInt(10_000)

// secondsPerYear converts annualized basis-point rates into per-second simple
// interest.
const secondsPerYear = 31_536_000

var interestDenominator = new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear))

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// mulBps scales amount by bps/10_000, truncating toward zero.
func mulBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return scaled.Quo(scaled, basisPoints)
}

// simpleInterest computes principal × rateBps × elapsed / (10_000 ×
// secondsPerYear) with a single truncating division.
func simpleInterest(principal *big.Int, rateBps uint64, elapsed int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsed <= 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	interest.Mul(interest, big.NewInt(elapsed))
	return interest.Quo(interest, interestDenominator)
}

// subClamped subtracts b from a, flooring the result at zero.
func subClamped(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(cloneBig(a), cloneBig(b))
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}
