package coordinatord

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/aodhgan/closest-number/game"
)

func newTestArchive(t *testing.T) *ArchiveStore {
	t.Helper()
	store, err := NewArchiveStore(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("new archive store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func archivedFixture() *game.Round {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	round := &game.Round{
		ID:         4,
		DigitCount: 4,
		Secret:     "5912",
		Commitment: game.TargetCommitment{
			Digest:      game.CommitmentDigest(4, "5912"),
			Attestation: game.AttestationMessage(4, game.CommitmentDigest(4, "5912")),
			CommittedAt: started,
		},
		BuyIn:     big.NewInt(1_150_000),
		Pot:       new(big.Int),
		StartedAt: started,
	}
	winning := game.GuessRecord{
		Player:      "0x00000000000000000000000000000000000000Aa",
		Guess:       "5912",
		Stake:       big.NewInt(1_150_000),
		Matches:     4,
		Hint:        "4/4 digits in place",
		SubmittedAt: started.Add(time.Hour),
	}
	round.Pot = big.NewInt(2_150_000)
	round.SetWinner(winning)
	round.RecordGuess(game.GuessRecord{
		Player:      "0x00000000000000000000000000000000000000Bb",
		Guess:       "1234",
		Stake:       big.NewInt(1_000_000),
		Matches:     1,
		Distance:    3,
		Hint:        "1/4 digits in place",
		SubmittedAt: started.Add(30 * time.Minute),
	})
	round.RecordGuess(winning)
	return round
}

func TestArchiveRoundRoundtrip(t *testing.T) {
	store := newTestArchive(t)
	round := archivedFixture()

	if err := store.ArchiveRound(context.Background(), round); err != nil {
		t.Fatalf("archive: %v", err)
	}
	got, err := store.GetRound(context.Background(), round.ID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if got.Secret != "5912" {
		t.Fatalf("secret = %q", got.Secret)
	}
	if !game.VerifyCommitment(got.ID, got.Secret, got.Commitment) {
		t.Fatal("archived commitment does not verify against revealed secret")
	}
	if got.WinnerPlayer == "" || got.WinnerGuess != "5912" {
		t.Fatalf("winner = %q / %q", got.WinnerPlayer, got.WinnerGuess)
	}
	if got.Payout != "2150000" {
		t.Fatalf("payout = %q", got.Payout)
	}
	if len(got.Guesses) != 2 {
		t.Fatalf("guesses = %d", len(got.Guesses))
	}
	// Archive preserves the newest-first ordering.
	if got.Guesses[0].Guess != "5912" || got.Guesses[1].Guess != "1234" {
		t.Fatalf("guess order = %q, %q", got.Guesses[0].Guess, got.Guesses[1].Guess)
	}
}

func TestArchiveRoundReplacesExisting(t *testing.T) {
	store := newTestArchive(t)
	round := archivedFixture()
	if err := store.ArchiveRound(context.Background(), round); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// Archiving again must not duplicate the guess rows.
	if err := store.ArchiveRound(context.Background(), round); err != nil {
		t.Fatalf("re-archive: %v", err)
	}
	got, err := store.GetRound(context.Background(), round.ID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if len(got.Guesses) != 2 {
		t.Fatalf("guesses = %d after re-archive", len(got.Guesses))
	}
}

func TestGetRoundMissing(t *testing.T) {
	store := newTestArchive(t)
	_, err := store.GetRound(context.Background(), 99)
	if !errors.Is(err, ErrRoundNotArchived) {
		t.Fatalf("err = %v, want ErrRoundNotArchived", err)
	}
}
