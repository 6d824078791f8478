package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aodhgan/closest-number/game"
)

// Well-known failure modes surfaced by the vault client. Callers branch on
// these with errors.Is and wrap them into their own taxonomy.
var (
	// ErrReverted indicates a mined transaction with a failed receipt status.
	ErrReverted = errors.New("ledger: transaction reverted")
	// ErrNoPaymentEvent indicates a successful payment transaction whose
	// receipt carried no GuessPaid log for the expected player.
	ErrNoPaymentEvent = errors.New("ledger: no matching payment event")
	// ErrNoActiveRound indicates the vault has no active round.
	ErrNoActiveRound = errors.New("ledger: no active round")
	// ErrNoSigner indicates a write was attempted on a vault client built
	// without a signer key. Views keep working.
	ErrNoSigner = errors.New("ledger: no signer key configured")
)

// RoundState mirrors the vault's rounds(id) view and is the authoritative
// record the coordinator reconciles against.
type RoundState struct {
	ID         uint64
	BuyIn      *big.Int
	Pot        *big.Int
	GuessCount uint64
	Winner     common.Address
	Active     bool
	Commitment [32]byte
}

// CommitmentHex returns the round's on-chain commitment digest as hex.
func (s RoundState) CommitmentHex() string {
	return hex.EncodeToString(s.Commitment[:])
}

// PaymentEvent is the decoded GuessPaid log. Its amount and counters, not the
// caller's claims, are the basis of truth for the guess that paid for it.
type PaymentEvent struct {
	RoundID    uint64
	Player     common.Address
	Amount     *big.Int
	PotAfter   *big.Int
	GuessCount uint64
	TxHash     common.Hash
}

// PayParams carries a player's signed transfer authorization to the vault's
// payment entry point.
type PayParams struct {
	RoundID  uint64
	Payer    common.Address
	Amount   *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// Vault is the ledger boundary consumed by the coordinator. Every
// state-changing call blocks until transaction finality and checks the
// receipt status; views are synchronous round-trips with no caching.
type Vault interface {
	CurrentRoundID(ctx context.Context) (uint64, error)
	Round(ctx context.Context, id uint64) (RoundState, error)

	PayForGuess(ctx context.Context, p PayParams) (PaymentEvent, error)
	SettleWinner(ctx context.Context, winner common.Address) error
	StartNextRound(ctx context.Context, buyIn *big.Int, commitment [32]byte) (uint64, error)
	SettleAndStartNextRound(ctx context.Context, winner common.Address, buyIn *big.Int, commitment [32]byte) (uint64, error)
	UpdateBuyIn(ctx context.Context, newBuyIn *big.Int) error
	CloseActiveRound(ctx context.Context) error
	WithdrawIdle(ctx context.Context, recipient common.Address, amount *big.Int) error
}

// CommitmentBytes converts a hex commitment digest into the fixed-size word
// the vault stores.
func CommitmentBytes(digest string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(digest), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("decode commitment digest: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("commitment digest must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// MatchesCommitment reports whether the on-chain digest equals the sealed
// local commitment.
func (s RoundState) MatchesCommitment(c game.TargetCommitment) bool {
	want, err := CommitmentBytes(c.Digest)
	if err != nil {
		return false
	}
	return want == s.Commitment
}
