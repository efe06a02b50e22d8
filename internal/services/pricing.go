package services

import (
	"math"
	"math/big"
)

// ImpliedPrice is units of quote per unit of base implied by a constant
// product pool. It returns 0 when either reserve is empty.
func ImpliedPrice(baseReserve, quoteReserve *big.Int) float64 {
	if baseReserve == nil || quoteReserve == nil || baseReserve.Sign() <= 0 || quoteReserve.Sign() <= 0 {
		return 0
	}
	price, _ := new(big.Rat).SetFrac(quoteReserve, baseReserve).Float64()
	return price
}

// PairwiseSpread is |p1-p2| / min(p1,p2). It is symmetric in its arguments
// and 0 when either price is not positive.
func PairwiseSpread(p1, p2 float64) float64 {
	low := math.Min(p1, p2)
	if low <= 0 || math.IsNaN(low) {
		return 0
	}
	return math.Abs(p1-p2) / low
}

// TriangularRatio is the round-trip multiplier (1/ab)*(1/bc)*ca of a
// three-leg cycle. Legs are oriented by the caller so that a balanced
// cycle gives exactly 1.
func TriangularRatio(ab, bc, ca float64) float64 {
	if ab <= 0 || bc <= 0 || ca <= 0 {
		return 0
	}
	return (1 / ab) * (1 / bc) * ca
}
