package coordinator

import (
	"errors"
	"fmt"
)

// The coordinator reports failures through a closed set of error kinds so
// callers can branch on type rather than message text.

// ValidationError rejects a guess for local reasons: malformed value, wrong
// length, or an already-settled round.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// AuthorizationError rejects a payment authorization before any ledger call:
// missing fields, payer mismatch, expired deadline, or a bad signature.
type AuthorizationError struct {
	Reason string
	Err    error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// ReplayError rejects an authorization whose (payer, nonce) pair has already
// been consumed in the current session.
type ReplayError struct {
	Payer string
	Nonce string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("authorization nonce %q already consumed for payer %s", e.Nonce, e.Payer)
}

// ChainError surfaces a failed ledger interaction: submission failure,
// revert, missing event, or read failure. Timeout marks a bounded wait that
// expired before finality was observed; the round state is unchanged and the
// operation is safe to retry.
type ChainError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *ChainError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("ledger %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// ConfigError indicates a missing startup requirement for a capability, such
// as the signer key or the vault contract address.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("missing configuration: %s", e.Field) }

// IsChainTimeout reports whether the error is a timed-out ledger wait.
func IsChainTimeout(err error) bool {
	var chainErr *ChainError
	return errors.As(err, &chainErr) && chainErr.Timeout
}
