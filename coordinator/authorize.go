package coordinator

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/aodhgan/closest-number/ledger"
)

const authorizationDomain = "closest-number-pay"

// Authorization is a player-signed, single-use permission allowing the
// coordinator to pull the buy-in on the player's behalf. The signature is
// forwarded to the vault's payment entry point as (v, r, s).
type Authorization struct {
	RoundID   uint64 `json:"roundId"`
	Payer     string `json:"payer"`
	Amount    string `json:"amount"`
	Deadline  int64  `json:"deadline"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

func (a Authorization) validate() error {
	if !common.IsHexAddress(strings.TrimSpace(a.Payer)) {
		return &AuthorizationError{Reason: "payer address required"}
	}
	if strings.TrimSpace(a.Nonce) == "" {
		return &AuthorizationError{Reason: "authorization nonce required"}
	}
	if a.Deadline <= 0 {
		return &AuthorizationError{Reason: "authorization deadline required"}
	}
	if _, err := a.AmountInt(); err != nil {
		return &AuthorizationError{Reason: "invalid authorization amount", Err: err}
	}
	if strings.TrimSpace(a.Signature) == "" {
		return &AuthorizationError{Reason: "authorization signature required"}
	}
	return nil
}

// AmountInt parses the amount as a positive integer in the token's smallest
// unit.
func (a Authorization) AmountInt() (*big.Int, error) {
	trimmed := strings.TrimSpace(a.Amount)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", a.Amount)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// PayerAddress returns the checksummed payer address.
func (a Authorization) PayerAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(a.Payer))
}

// Hash computes the digest the player signed. The nonce is part of the
// payload so a replay cannot be retargeted by swapping the replay token.
func (a Authorization) Hash() []byte {
	payload := fmt.Sprintf("%s|round=%d|payer=%s|amount=%s|deadline=%d|nonce=%s",
		authorizationDomain,
		a.RoundID,
		strings.ToLower(strings.TrimSpace(a.Payer)),
		strings.TrimSpace(a.Amount),
		a.Deadline,
		strings.ToLower(strings.TrimSpace(a.Nonce)),
	)
	return ethcrypto.Keccak256([]byte(payload))
}

func (a Authorization) signatureBytes() ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(a.Signature), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	// Wallets emit v as 27/28; go-ethereum recovery expects 0/1.
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	return raw, nil
}

// RecoverSigner recovers the address that produced the authorization
// signature.
func (a Authorization) RecoverSigner() (common.Address, error) {
	sig, err := a.signatureBytes()
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(a.Hash(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// PayParams converts the authorization into the vault call parameters.
func (a Authorization) PayParams() (ledger.PayParams, error) {
	amount, err := a.AmountInt()
	if err != nil {
		return ledger.PayParams{}, err
	}
	sig, err := a.signatureBytes()
	if err != nil {
		return ledger.PayParams{}, err
	}
	params := ledger.PayParams{
		RoundID:  a.RoundID,
		Payer:    a.PayerAddress(),
		Amount:   amount,
		Deadline: big.NewInt(a.Deadline),
		V:        sig[64] + 27,
	}
	copy(params.R[:], sig[0:32])
	copy(params.S[:], sig[32:64])
	return params, nil
}

// SignAuthorization fills in the signature for the payload using the
// player's key. Exported for client tooling and tests.
func SignAuthorization(a Authorization, key *ecdsa.PrivateKey) (Authorization, error) {
	sig, err := ethcrypto.Sign(a.Hash(), key)
	if err != nil {
		return Authorization{}, fmt.Errorf("sign authorization: %w", err)
	}
	a.Signature = hex.EncodeToString(sig)
	return a, nil
}
