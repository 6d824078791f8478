package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const vaultABIJSON = `[
  {"type":"function","name":"payForGuess","stateMutability":"nonpayable","inputs":[{"name":"roundId","type":"uint256"},{"name":"payer","type":"address"},{"name":"amount","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"settleWinner","stateMutability":"nonpayable","inputs":[{"name":"winner","type":"address"}],"outputs":[]},
  {"type":"function","name":"startNextRound","stateMutability":"nonpayable","inputs":[{"name":"buyIn","type":"uint256"},{"name":"commitment","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"settleAndStartNextRound","stateMutability":"nonpayable","inputs":[{"name":"winner","type":"address"},{"name":"buyIn","type":"uint256"},{"name":"commitment","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"updateBuyIn","stateMutability":"nonpayable","inputs":[{"name":"newBuyIn","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"closeActiveRound","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"withdrawIdle","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"rounds","stateMutability":"view","inputs":[{"name":"roundId","type":"uint256"}],"outputs":[{"name":"buyIn","type":"uint256"},{"name":"pot","type":"uint256"},{"name":"guessCount","type":"uint256"},{"name":"winner","type":"address"},{"name":"active","type":"bool"},{"name":"commitment","type":"bytes32"}]},
  {"type":"function","name":"currentRoundId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"GuessPaid","inputs":[{"name":"roundId","type":"uint256","indexed":true},{"name":"player","type":"address","indexed":true},{"name":"amount","type":"uint256"},{"name":"pot","type":"uint256"},{"name":"guessCount","type":"uint256"}],"anonymous":false},
  {"type":"event","name":"RoundSettled","inputs":[{"name":"roundId","type":"uint256","indexed":true},{"name":"winner","type":"address","indexed":true},{"name":"payout","type":"uint256"}],"anonymous":false},
  {"type":"event","name":"RoundStarted","inputs":[{"name":"roundId","type":"uint256","indexed":true},{"name":"buyIn","type":"uint256"},{"name":"commitment","type":"bytes32"}],"anonymous":false},
  {"type":"event","name":"BuyInUpdated","inputs":[{"name":"roundId","type":"uint256","indexed":true},{"name":"newBuyIn","type":"uint256"}],"anonymous":false}
]`

// Backend is the subset of the Ethereum RPC surface the vault client needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Dial initialises an Ethereum RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// EVMVault talks to the deployed vault contract. All writes are signed with
// the coordinator key, wait for mining under a bounded deadline, and check
// the receipt status before reporting success.
type EVMVault struct {
	backend  Backend
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	timeout  time.Duration
}

// NewEVMVault constructs a vault client. The key may be nil, in which case
// only views are served and writes fail.
func NewEVMVault(backend Backend, address common.Address, key *ecdsa.PrivateKey, chainID *big.Int, timeout time.Duration) (*EVMVault, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if (address == common.Address{}) {
		return nil, fmt.Errorf("vault contract address required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &EVMVault{
		backend:  backend,
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		key:      key,
		chainID:  chainID,
		timeout:  timeout,
	}, nil
}

// CurrentRoundID returns the vault's active round id; zero means no round
// has ever been opened.
func (v *EVMVault) CurrentRoundID(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "currentRoundId"); err != nil {
		return 0, fmt.Errorf("read current round id: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("unexpected currentRoundId result arity %d", len(out))
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected currentRoundId result type %T", out[0])
	}
	return id.Uint64(), nil
}

// Round reads the on-chain record for the given round id.
func (v *EVMVault) Round(ctx context.Context, id uint64) (RoundState, error) {
	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "rounds", new(big.Int).SetUint64(id)); err != nil {
		return RoundState{}, fmt.Errorf("read round %d: %w", id, err)
	}
	if len(out) != 6 {
		return RoundState{}, fmt.Errorf("unexpected rounds result arity %d", len(out))
	}
	state := RoundState{ID: id}
	state.BuyIn, _ = out[0].(*big.Int)
	state.Pot, _ = out[1].(*big.Int)
	if count, ok := out[2].(*big.Int); ok {
		state.GuessCount = count.Uint64()
	}
	state.Winner, _ = out[3].(common.Address)
	state.Active, _ = out[4].(bool)
	state.Commitment, _ = out[5].([32]byte)
	if state.BuyIn == nil || state.Pot == nil {
		return RoundState{}, fmt.Errorf("round %d record incomplete", id)
	}
	return state, nil
}

// PayForGuess submits the signed transfer authorization, waits for the
// transaction, and decodes the resulting GuessPaid event. Log entries for
// other payers are skipped.
func (v *EVMVault) PayForGuess(ctx context.Context, p PayParams) (PaymentEvent, error) {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return PaymentEvent{}, fmt.Errorf("payment amount must be positive")
	}
	if p.Deadline == nil {
		p.Deadline = new(big.Int)
	}
	receipt, err := v.transact(ctx, "payForGuess",
		new(big.Int).SetUint64(p.RoundID), p.Payer, p.Amount, p.Deadline, p.V, p.R, p.S)
	if err != nil {
		return PaymentEvent{}, err
	}
	event, err := v.decodeGuessPaid(receipt, p.Payer)
	if err != nil {
		return PaymentEvent{}, err
	}
	event.TxHash = receipt.TxHash
	return event, nil
}

// SettleWinner pays the full pot to the winner and deactivates the round.
func (v *EVMVault) SettleWinner(ctx context.Context, winner common.Address) error {
	_, err := v.transact(ctx, "settleWinner", winner)
	return err
}

// StartNextRound activates a new round and returns its id.
func (v *EVMVault) StartNextRound(ctx context.Context, buyIn *big.Int, commitment [32]byte) (uint64, error) {
	receipt, err := v.transact(ctx, "startNextRound", buyIn, commitment)
	if err != nil {
		return 0, err
	}
	return v.startedRoundID(ctx, receipt)
}

// SettleAndStartNextRound atomically settles the active round to the winner
// and opens the next one, returning the new round id.
func (v *EVMVault) SettleAndStartNextRound(ctx context.Context, winner common.Address, buyIn *big.Int, commitment [32]byte) (uint64, error) {
	receipt, err := v.transact(ctx, "settleAndStartNextRound", winner, buyIn, commitment)
	if err != nil {
		return 0, err
	}
	return v.startedRoundID(ctx, receipt)
}

// UpdateBuyIn pushes a new guess price to the active round.
func (v *EVMVault) UpdateBuyIn(ctx context.Context, newBuyIn *big.Int) error {
	_, err := v.transact(ctx, "updateBuyIn", newBuyIn)
	return err
}

// CloseActiveRound deactivates the round without payout. Escrowed funds stay
// withdrawable through WithdrawIdle.
func (v *EVMVault) CloseActiveRound(ctx context.Context) error {
	_, err := v.transact(ctx, "closeActiveRound")
	return err
}

// WithdrawIdle withdraws funds not tied to an active pot.
func (v *EVMVault) WithdrawIdle(ctx context.Context, recipient common.Address, amount *big.Int) error {
	_, err := v.transact(ctx, "withdrawIdle", recipient, amount)
	return err
}

func (v *EVMVault) transact(ctx context.Context, method string, args ...interface{}) (*gethtypes.Receipt, error) {
	if v.key == nil {
		return nil, fmt.Errorf("%s: %w", method, ErrNoSigner)
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	auth, err := bind.NewKeyedTransactorWithChainID(v.key, v.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	auth.Context = ctx
	tx, err := v.contract.Transact(auth, method, args...)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, v.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("await %s (%s): %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s (%s): %w", method, tx.Hash().Hex(), ErrReverted)
	}
	return receipt, nil
}

func (v *EVMVault) startedRoundID(ctx context.Context, receipt *gethtypes.Receipt) (uint64, error) {
	if id, ok := decodeRoundStarted(v.address, receipt); ok {
		return id, nil
	}
	// Older vault deployments omit the RoundStarted log; fall back to a view.
	return v.CurrentRoundID(ctx)
}
