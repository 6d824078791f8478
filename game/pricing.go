package game

import "math/big"

const bpsDenominator = 10_000

// ApplyEscalation raises the round's buy-in by the configured basis-point
// step when a non-winning guess reaches the near-match threshold. The step
// count is capped at MaxPriceSteps and escalation never fires on an exact
// match. Returns whether the buy-in changed.
//
// The new price is local only. It reaches the vault through an explicit
// administrative UpdateBuyIn call, never automatically.
func (r *Round) ApplyEscalation(matches int) bool {
	if r == nil || r.BuyIn == nil {
		return false
	}
	if matches >= r.DigitCount {
		return false
	}
	if matches < r.NearMatchThreshold {
		return false
	}
	if r.PriceSteps >= r.MaxPriceSteps {
		return false
	}
	increase := new(big.Int).Mul(r.BuyIn, big.NewInt(int64(r.PriceIncreaseBps)))
	increase.Div(increase, big.NewInt(bpsDenominator))
	r.BuyIn = new(big.Int).Add(r.BuyIn, increase)
	r.PriceSteps++
	return true
}
