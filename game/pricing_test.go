package game

import (
	"math/big"
	"testing"
)

func escalationRound() *Round {
	return &Round{
		ID:                 1,
		DigitCount:         4,
		BuyIn:              big.NewInt(1_000_000),
		Pot:                big.NewInt(0),
		NearMatchThreshold: 3,
		PriceIncreaseBps:   1500,
		MaxPriceSteps:      2,
	}
}

func TestEscalationNearMatch(t *testing.T) {
	round := escalationRound()
	if !round.ApplyEscalation(3) {
		t.Fatal("expected escalation to fire")
	}
	if round.BuyIn.Cmp(big.NewInt(1_150_000)) != 0 {
		t.Fatalf("buy-in = %s, want 1150000", round.BuyIn)
	}
	if round.PriceSteps != 1 {
		t.Fatalf("price steps = %d, want 1", round.PriceSteps)
	}
}

func TestEscalationBelowThreshold(t *testing.T) {
	round := escalationRound()
	if round.ApplyEscalation(2) {
		t.Fatal("escalation fired below threshold")
	}
	if round.BuyIn.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("buy-in changed to %s", round.BuyIn)
	}
}

func TestEscalationNeverOnExactMatch(t *testing.T) {
	round := escalationRound()
	if round.ApplyEscalation(4) {
		t.Fatal("escalation fired on winning guess")
	}
	if round.PriceSteps != 0 {
		t.Fatalf("price steps = %d, want 0", round.PriceSteps)
	}
}

func TestEscalationCapped(t *testing.T) {
	round := escalationRound()
	for i := 0; i < 5; i++ {
		round.ApplyEscalation(3)
	}
	if round.PriceSteps != round.MaxPriceSteps {
		t.Fatalf("price steps = %d, want %d", round.PriceSteps, round.MaxPriceSteps)
	}
	// 1_000_000 * 1.15 -> 1_150_000, * 1.15 -> 1_322_500, then capped.
	if round.BuyIn.Cmp(big.NewInt(1_322_500)) != 0 {
		t.Fatalf("buy-in = %s, want 1322500", round.BuyIn)
	}
}
