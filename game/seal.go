package game

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TargetCommitment binds the coordinator to a sealed target before any guess
// is accepted. The digest is published on the vault when the round opens; the
// attestation signature is optional and only produced when a signer key is
// configured.
type TargetCommitment struct {
	Digest      string    `json:"digest"`
	Attestation string    `json:"attestation"`
	Signature   string    `json:"signature,omitempty"`
	Signer      string    `json:"signer,omitempty"`
	CommittedAt time.Time `json:"committedAt"`
}

// ClampDigitCount bounds the requested digit count to the configured range.
func ClampDigitCount(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// NewSecret draws a fixed-length decimal secret from crypto/rand, one digit
// per byte modulo 10.
func NewSecret(digits int) (string, error) {
	if digits <= 0 {
		return "", fmt.Errorf("digit count must be positive")
	}
	buf := make([]byte, digits)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random secret: %w", err)
	}
	out := make([]byte, digits)
	for i, b := range buf {
		out[i] = '0' + b%10
	}
	return string(out), nil
}

// CommitmentDigest computes the hex-encoded SHA-256 binding over the round id
// and the secret.
func CommitmentDigest(roundID uint64, secret string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", roundID, secret)))
	return hex.EncodeToString(sum[:])
}

// AttestationMessage is the canonical human-readable statement signed by the
// coordinator key when sealing a round.
func AttestationMessage(roundID uint64, digest string) string {
	return fmt.Sprintf("closest-number|round=%d|commitment=%s", roundID, digest)
}

// SealTarget generates a fresh secret for the round and the commitment that
// must be published on the vault before guesses are accepted. When key is
// non-nil the attestation message is signed with it.
func SealTarget(roundID uint64, digits int, key *ecdsa.PrivateKey, at time.Time) (string, TargetCommitment, error) {
	secret, err := NewSecret(digits)
	if err != nil {
		return "", TargetCommitment{}, err
	}
	digest := CommitmentDigest(roundID, secret)
	commitment := TargetCommitment{
		Digest:      digest,
		Attestation: AttestationMessage(roundID, digest),
		CommittedAt: at.UTC(),
	}
	if key != nil {
		hash := ethcrypto.Keccak256([]byte(commitment.Attestation))
		sig, err := ethcrypto.Sign(hash, key)
		if err != nil {
			return "", TargetCommitment{}, fmt.Errorf("sign attestation: %w", err)
		}
		commitment.Signature = hex.EncodeToString(sig)
		commitment.Signer = ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	}
	return secret, commitment, nil
}

// VerifyCommitment re-derives the digest for a revealed secret. It is used
// when serving archived rounds so players can audit past commitments.
func VerifyCommitment(roundID uint64, secret, digest string) bool {
	return CommitmentDigest(roundID, secret) == digest
}
