package coordinatord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aodhgan/closest-number/game"
)

// ErrRoundNotArchived indicates the requested round is not in the archive.
var ErrRoundNotArchived = errors.New("round not archived")

// ArchiveStore persists superseded rounds, including the revealed secret so
// past commitments stay publicly verifiable.
type ArchiveStore struct {
	db *sql.DB
}

func NewArchiveStore(path string) (*ArchiveStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &ArchiveStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *ArchiveStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
            id INTEGER PRIMARY KEY,
            digit_count INTEGER NOT NULL,
            secret TEXT NOT NULL,
            commitment TEXT NOT NULL,
            attestation TEXT NOT NULL,
            attestation_signature TEXT,
            attestation_signer TEXT,
            buy_in TEXT NOT NULL,
            winner_player TEXT,
            winner_guess TEXT,
            payout TEXT,
            started_at TIMESTAMP NOT NULL,
            archived_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS guesses (
            id TEXT PRIMARY KEY,
            round_id INTEGER NOT NULL,
            position INTEGER NOT NULL,
            player TEXT NOT NULL,
            guess TEXT NOT NULL,
            stake TEXT NOT NULL,
            matches INTEGER NOT NULL,
            distance INTEGER NOT NULL,
            hint TEXT NOT NULL,
            price_step INTEGER NOT NULL,
            submitted_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS guesses_round ON guesses(round_id, position);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *ArchiveStore) Close() error { return s.db.Close() }

// ArchiveRound stores the round and its guess history. Re-archiving the same
// round id replaces the previous record.
func (s *ArchiveStore) ArchiveRound(ctx context.Context, round *game.Round) error {
	if round == nil {
		return fmt.Errorf("nil round")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var winnerPlayer, winnerGuess, payout interface{}
	if round.Winner != nil {
		winnerPlayer = round.Winner.Player
		winnerGuess = round.Winner.Guess
		if round.Winner.Payout != nil {
			payout = round.Winner.Payout.String()
		}
	}
	const insertRound = `INSERT OR REPLACE INTO rounds(
        id, digit_count, secret, commitment, attestation, attestation_signature, attestation_signer,
        buy_in, winner_player, winner_guess, payout, started_at, archived_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertRound,
		round.ID, round.DigitCount, round.Secret,
		round.Commitment.Digest, round.Commitment.Attestation,
		round.Commitment.Signature, round.Commitment.Signer,
		round.BuyIn.String(), winnerPlayer, winnerGuess, payout,
		round.StartedAt.UTC(), time.Now().UTC(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM guesses WHERE round_id = ?`, round.ID); err != nil {
		return err
	}
	const insertGuess = `INSERT INTO guesses(
        id, round_id, position, player, guess, stake, matches, distance, hint, price_step, submitted_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i, g := range round.Guesses {
		stake := "0"
		if g.Stake != nil {
			stake = g.Stake.String()
		}
		if _, err := tx.ExecContext(ctx, insertGuess,
			uuid.NewString(), round.ID, i, g.Player, g.Guess, stake,
			g.Matches, g.Distance, g.Hint, g.PriceStep, g.SubmittedAt.UTC(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ArchivedGuess is one guess row served from the archive, newest first.
type ArchivedGuess struct {
	Player      string    `json:"player"`
	Guess       string    `json:"guess"`
	Stake       string    `json:"stake"`
	Matches     int       `json:"matches"`
	Distance    int       `json:"distance"`
	Hint        string    `json:"hint"`
	PriceStep   int       `json:"priceStep"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ArchivedRound is a settled or superseded round with its revealed secret.
type ArchivedRound struct {
	ID                   uint64          `json:"roundId"`
	DigitCount           int             `json:"digitCount"`
	Secret               string          `json:"secret"`
	Commitment           string          `json:"commitment"`
	Attestation          string          `json:"attestation"`
	AttestationSignature string          `json:"attestationSignature,omitempty"`
	AttestationSigner    string          `json:"attestationSigner,omitempty"`
	BuyIn                string          `json:"buyIn"`
	WinnerPlayer         string          `json:"winnerPlayer,omitempty"`
	WinnerGuess          string          `json:"winnerGuess,omitempty"`
	Payout               string          `json:"payout,omitempty"`
	StartedAt            time.Time       `json:"startedAt"`
	ArchivedAt           time.Time       `json:"archivedAt"`
	Guesses              []ArchivedGuess `json:"guesses"`
}

func (s *ArchiveStore) GetRound(ctx context.Context, id uint64) (*ArchivedRound, error) {
	const query = `SELECT id, digit_count, secret, commitment, attestation,
        attestation_signature, attestation_signer, buy_in,
        winner_player, winner_guess, payout, started_at, archived_at
        FROM rounds WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	var rec ArchivedRound
	var sig, signer, winnerPlayer, winnerGuess, payout sql.NullString
	err := row.Scan(&rec.ID, &rec.DigitCount, &rec.Secret, &rec.Commitment, &rec.Attestation,
		&sig, &signer, &rec.BuyIn, &winnerPlayer, &winnerGuess, &payout,
		&rec.StartedAt, &rec.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoundNotArchived
	}
	if err != nil {
		return nil, err
	}
	rec.AttestationSignature = sig.String
	rec.AttestationSigner = signer.String
	rec.WinnerPlayer = winnerPlayer.String
	rec.WinnerGuess = winnerGuess.String
	rec.Payout = payout.String

	const guessQuery = `SELECT player, guess, stake, matches, distance, hint, price_step, submitted_at
        FROM guesses WHERE round_id = ? ORDER BY position ASC`
	rows, err := s.db.QueryContext(ctx, guessQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var g ArchivedGuess
		if err := rows.Scan(&g.Player, &g.Guess, &g.Stake, &g.Matches, &g.Distance, &g.Hint, &g.PriceStep, &g.SubmittedAt); err != nil {
			return nil, err
		}
		rec.Guesses = append(rec.Guesses, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}
