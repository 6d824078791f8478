package game

import (
	"math/big"
	"time"
)

// GuessRecord captures a single accepted guess. Records are immutable once
// appended to a round.
type GuessRecord struct {
	Player      string    `json:"player"`
	Guess       string    `json:"guess"`
	Stake       *big.Int  `json:"stake"`
	Matches     int       `json:"matches"`
	Distance    int       `json:"distance"`
	Hint        string    `json:"hint"`
	SubmittedAt time.Time `json:"submittedAt"`
	PriceStep   int       `json:"priceStep"`
}

// Winner pairs the winning guess with the payout taken from the pot at the
// moment of the match.
type Winner struct {
	GuessRecord
	Payout *big.Int `json:"payout"`
}

// Round is the single mutable game instance tracked by the coordinator. The
// secret never leaves the process; everything else is reconcilable from the
// vault contract.
type Round struct {
	ID                 uint64
	DigitCount         int
	Secret             string
	Commitment         TargetCommitment
	BuyIn              *big.Int
	Pot                *big.Int
	GuessCount         uint64
	PriceSteps         int
	NearMatchThreshold int
	PriceIncreaseBps   int
	MaxPriceSteps      int
	StartedAt          time.Time
	Winner             *Winner

	// Guesses is ordered newest first.
	Guesses []GuessRecord
}

// Settled reports whether a winner has been recorded for the round.
func (r *Round) Settled() bool {
	return r != nil && r.Winner != nil
}

// RecordGuess prepends the record so the public list stays newest first.
func (r *Round) RecordGuess(rec GuessRecord) {
	r.Guesses = append([]GuessRecord{rec}, r.Guesses...)
}

// SetWinner records the winning guess at most once. The payout is the full
// pot at the moment of the match and the pot is zeroed in the same step.
func (r *Round) SetWinner(rec GuessRecord) *Winner {
	if r.Winner != nil {
		return r.Winner
	}
	payout := new(big.Int)
	if r.Pot != nil {
		payout.Set(r.Pot)
	}
	r.Winner = &Winner{GuessRecord: rec, Payout: payout}
	r.Pot = new(big.Int)
	return r.Winner
}

// Clone returns a deep copy of the round, including big.Int fields, so
// callers can publish snapshots without racing the owner.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	out := *r
	out.BuyIn = cloneBig(r.BuyIn)
	out.Pot = cloneBig(r.Pot)
	if r.Winner != nil {
		winner := *r.Winner
		winner.Stake = cloneBig(r.Winner.Stake)
		winner.Payout = cloneBig(r.Winner.Payout)
		out.Winner = &winner
	}
	out.Guesses = make([]GuessRecord, len(r.Guesses))
	for i, g := range r.Guesses {
		g.Stake = cloneBig(g.Stake)
		out.Guesses[i] = g
	}
	return &out
}

func cloneBig(in *big.Int) *big.Int {
	if in == nil {
		return nil
	}
	return new(big.Int).Set(in)
}
