package coordinator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aodhgan/closest-number/game"
	"github.com/aodhgan/closest-number/ledger"
	"github.com/aodhgan/closest-number/observability"
)

// State names the lifecycle phase of the active round.
type State string

const (
	StateBootstrapping State = "bootstrapping"
	StateActive        State = "active"
	StateSettling      State = "settling"
	StateClosed        State = "closed"
)

// Config carries the game parameters for rounds opened by this coordinator.
type Config struct {
	DigitCount         int
	MinDigitCount      int
	MaxDigitCount      int
	InitialBuyIn       *big.Int
	NearMatchThreshold int
	PriceIncreaseBps   int
	MaxPriceSteps      int
}

func (c *Config) normalize() error {
	if c.MinDigitCount <= 0 {
		c.MinDigitCount = 2
	}
	if c.MaxDigitCount <= 0 {
		c.MaxDigitCount = 12
	}
	if c.DigitCount <= 0 {
		c.DigitCount = 4
	}
	c.DigitCount = game.ClampDigitCount(c.DigitCount, c.MinDigitCount, c.MaxDigitCount)
	if c.InitialBuyIn == nil || c.InitialBuyIn.Sign() <= 0 {
		return &ConfigError{Field: "initial buy-in"}
	}
	if c.NearMatchThreshold <= 0 {
		c.NearMatchThreshold = c.DigitCount - 1
	}
	if c.PriceIncreaseBps <= 0 {
		c.PriceIncreaseBps = 1500
	}
	if c.MaxPriceSteps <= 0 {
		c.MaxPriceSteps = 10
	}
	return nil
}

// Snapshot is the public round view. It never carries the target secret.
// Snapshots are immutable once published; callers must not mutate them.
type Snapshot struct {
	State              State                 `json:"state"`
	RoundID            uint64                `json:"roundId"`
	DigitCount         int                   `json:"digitCount"`
	BuyIn              *big.Int              `json:"buyIn"`
	Pot                *big.Int              `json:"pot"`
	GuessCount         uint64                `json:"guessCount"`
	PriceSteps         int                   `json:"priceSteps"`
	MaxPriceSteps      int                   `json:"maxPriceSteps"`
	NearMatchThreshold int                   `json:"nearMatchThreshold"`
	Commitment         game.TargetCommitment `json:"commitment"`
	StartedAt          time.Time             `json:"startedAt"`
	Winner             *game.Winner          `json:"winner,omitempty"`
	Guesses            []game.GuessRecord    `json:"guesses"`
}

// Event is published to the optional sink after state changes. Sinks must
// not block; they are invoked from the guess-submission critical section.
type Event struct {
	Type    string            `json:"type"`
	RoundID uint64            `json:"roundId"`
	Record  *game.GuessRecord `json:"record,omitempty"`
	Payout  *big.Int          `json:"payout,omitempty"`
	BuyIn   *big.Int          `json:"buyIn,omitempty"`
}

// Event types emitted through the sink.
const (
	EventGuess        = "guess"
	EventEscalation   = "escalation"
	EventSettled      = "settled"
	EventRoundStarted = "round_started"
	EventClosed       = "closed"
)

// PaymentResult reports the authoritative outcome of a settled payment, taken
// from the vault's GuessPaid event rather than the caller's claims.
type PaymentResult struct {
	RoundID    uint64   `json:"roundId"`
	Amount     *big.Int `json:"amount"`
	PotAfter   *big.Int `json:"potAfter"`
	GuessCount uint64   `json:"guessCount"`
	BuyInAfter *big.Int `json:"buyInAfter"`
}

// SubmitResult is returned to the guess submitter.
type SubmitResult struct {
	Snapshot Snapshot         `json:"round"`
	Record   game.GuessRecord `json:"guess"`
	Payment  PaymentResult    `json:"payment"`
	// Payout is set when the guess won the round.
	Payout *big.Int `json:"payout,omitempty"`
	// SettlementError carries the ledger failure when the winning payout
	// succeeded locally but the settle-and-open call must be retried.
	SettlementError string `json:"settlementError,omitempty"`
}

// Archiver persists superseded rounds. Failures never block settlement.
type Archiver interface {
	ArchiveRound(ctx context.Context, round *game.Round) error
}

// Option customises the coordinator instance.
type Option func(*Coordinator)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.now = clock }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.log = logger }
}

// WithMetrics wires the prometheus registry.
func WithMetrics(m *observability.CoordinatorMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithPaymentSet replaces the default in-memory processed-payment set.
func WithPaymentSet(set PaymentSet) Option {
	return func(c *Coordinator) { c.payments = set }
}

// WithSignerKey supplies the key used to sign commitment attestations.
func WithSignerKey(key *ecdsa.PrivateKey) Option {
	return func(c *Coordinator) { c.signer = key }
}

// WithEventSink registers a non-blocking sink for round events.
func WithEventSink(sink func(Event)) Option {
	return func(c *Coordinator) { c.events = sink }
}

// WithArchiver registers a best-effort archive for superseded rounds.
func WithArchiver(a Archiver) Option {
	return func(c *Coordinator) { c.archiver = a }
}

// Coordinator owns the single mutable Round and drives it through
// bootstrapping, guessing, settlement, and rollover. The entire guess
// submission sequence runs under one mutex; status reads are lock-free
// snapshot loads.
type Coordinator struct {
	vault    ledger.Vault
	cfg      Config
	payments PaymentSet
	signer   *ecdsa.PrivateKey
	log      *slog.Logger
	metrics  *observability.CoordinatorMetrics
	now      func() time.Time
	events   func(Event)
	archiver Archiver

	mu    sync.Mutex
	state State
	round *game.Round

	snapshot atomic.Pointer[Snapshot]
}

// NewCoordinator constructs a coordinator in the Bootstrapping state. Call
// Bootstrap to reconcile with the vault before serving guesses; a failed
// bootstrap is retried on the next submission.
func NewCoordinator(vault ledger.Vault, cfg Config, opts ...Option) (*Coordinator, error) {
	if vault == nil {
		return nil, &ConfigError{Field: "vault client"}
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		vault:    vault,
		cfg:      cfg,
		payments: NewMemoryPaymentSet(),
		log:      slog.Default(),
		now:      time.Now,
		state:    StateBootstrapping,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.payments == nil {
		c.payments = NewMemoryPaymentSet()
	}
	c.publishLocked()
	return c, nil
}

// Bootstrap reconciles local state with the vault, opening a fresh round when
// none is active.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrapLocked(ctx)
}

func (c *Coordinator) bootstrapLocked(ctx context.Context) error {
	currentID, err := chainRead(c, ctx, "currentRoundId", func(ctx context.Context) (uint64, error) {
		return c.vault.CurrentRoundID(ctx)
	})
	if err != nil {
		return err
	}
	if currentID == 0 {
		return c.openNextLocked(ctx, 0, c.cfg.InitialBuyIn)
	}
	state, err := chainRead(c, ctx, "rounds", func(ctx context.Context) (ledger.RoundState, error) {
		return c.vault.Round(ctx, currentID)
	})
	if err != nil {
		return err
	}
	if !state.Active {
		return c.openNextLocked(ctx, currentID, c.cfg.InitialBuyIn)
	}
	return c.adoptRoundLocked(ctx, state)
}

// adoptRoundLocked rebuilds the local round from the ledger record. When the
// held secret still validates against the on-chain commitment the round
// survives intact; otherwise a fresh seal is generated and the stale guess
// history is dropped.
func (c *Coordinator) adoptRoundLocked(ctx context.Context, state ledger.RoundState) error {
	if c.round != nil && c.round.ID == state.ID && state.MatchesCommitment(c.round.Commitment) {
		c.round.BuyIn = new(big.Int).Set(state.BuyIn)
		c.round.Pot = new(big.Int).Set(state.Pot)
		c.round.GuessCount = state.GuessCount
		c.state = StateActive
		c.publishLocked()
		return nil
	}

	digits := game.ClampDigitCount(c.cfg.DigitCount, c.cfg.MinDigitCount, c.cfg.MaxDigitCount)
	secret, commitment, err := game.SealTarget(state.ID, digits, c.signer, c.now())
	if err != nil {
		return fmt.Errorf("seal target for round %d: %w", state.ID, err)
	}
	if !state.MatchesCommitment(commitment) {
		// The on-chain digest was published by a previous process whose
		// secret is gone. The round keeps running against the new local
		// target; operators can reset the round to restore the binding.
		c.log.Warn("on-chain commitment does not match local seal",
			"round", state.ID, "chain_digest", state.CommitmentHex(), "local_digest", commitment.Digest)
	}
	c.round = &game.Round{
		ID:                 state.ID,
		DigitCount:         digits,
		Secret:             secret,
		Commitment:         commitment,
		BuyIn:              new(big.Int).Set(state.BuyIn),
		Pot:                new(big.Int).Set(state.Pot),
		GuessCount:         state.GuessCount,
		NearMatchThreshold: c.cfg.NearMatchThreshold,
		PriceIncreaseBps:   c.cfg.PriceIncreaseBps,
		MaxPriceSteps:      c.cfg.MaxPriceSteps,
		StartedAt:          c.now().UTC(),
	}
	c.state = StateActive
	if err := c.payments.Reset(ctx); err != nil {
		c.log.Warn("reset payment set", "err", err)
	}
	c.publishLocked()
	c.emit(Event{Type: EventRoundStarted, RoundID: c.round.ID, BuyIn: new(big.Int).Set(c.round.BuyIn)})
	return nil
}

// openNextLocked seals a fresh target and opens round previousID+1 on the
// vault.
func (c *Coordinator) openNextLocked(ctx context.Context, previousID uint64, buyIn *big.Int) error {
	nextID := previousID + 1
	digits := game.ClampDigitCount(c.cfg.DigitCount, c.cfg.MinDigitCount, c.cfg.MaxDigitCount)
	secret, commitment, err := game.SealTarget(nextID, digits, c.signer, c.now())
	if err != nil {
		return fmt.Errorf("seal target for round %d: %w", nextID, err)
	}
	word, err := ledger.CommitmentBytes(commitment.Digest)
	if err != nil {
		return fmt.Errorf("encode commitment: %w", err)
	}
	openedID, err := chainRead(c, ctx, "startNextRound", func(ctx context.Context) (uint64, error) {
		return c.vault.StartNextRound(ctx, buyIn, word)
	})
	if err != nil {
		return err
	}
	if openedID != nextID {
		return &ChainError{Op: "startNextRound", Err: fmt.Errorf("round id drift: opened %d, sealed %d", openedID, nextID)}
	}
	c.installRoundLocked(ctx, nextID, digits, secret, commitment, buyIn)
	return nil
}

func (c *Coordinator) installRoundLocked(ctx context.Context, id uint64, digits int, secret string, commitment game.TargetCommitment, buyIn *big.Int) {
	c.round = &game.Round{
		ID:                 id,
		DigitCount:         digits,
		Secret:             secret,
		Commitment:         commitment,
		BuyIn:              new(big.Int).Set(buyIn),
		Pot:                new(big.Int),
		NearMatchThreshold: c.cfg.NearMatchThreshold,
		PriceIncreaseBps:   c.cfg.PriceIncreaseBps,
		MaxPriceSteps:      c.cfg.MaxPriceSteps,
		StartedAt:          c.now().UTC(),
	}
	c.state = StateActive
	if err := c.payments.Reset(ctx); err != nil {
		c.log.Warn("reset payment set", "err", err)
	}
	c.publishLocked()
	c.emit(Event{Type: EventRoundStarted, RoundID: id, BuyIn: new(big.Int).Set(buyIn)})
	c.log.Info("round opened", "round", id, "digits", digits, "buy_in", buyIn.String(), "commitment", commitment.Digest)
}

// SubmitGuess runs the full guess-submission protocol. The sequence is one
// critical section: concurrent submissions serialize on the round mutex, and
// every ledger wait happens while it is held so two guesses can never both
// observe a stale pot or both claim the win.
func (c *Coordinator) SubmitGuess(ctx context.Context, player, guess string, auth Authorization) (SubmitResult, error) {
	if !game.IsDecimal(guess) {
		c.metrics.RecordGuess("rejected")
		return SubmitResult{}, &ValidationError{Reason: "guess must contain only decimal digits"}
	}
	if !common.IsHexAddress(strings.TrimSpace(player)) {
		c.metrics.RecordGuess("rejected")
		return SubmitResult{}, &AuthorizationError{Reason: "player address required"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateBootstrapping:
		if err := c.bootstrapLocked(ctx); err != nil {
			c.metrics.RecordGuess("chain_error")
			return SubmitResult{}, err
		}
	case StateClosed:
		c.metrics.RecordGuess("rejected")
		return SubmitResult{}, &ValidationError{Reason: "round is closed"}
	}
	// A round stuck in Settling is not rejected up front: the settled check
	// runs after payment to keep the vault's economics unchanged. If the
	// settlement actually landed on-chain, the reconciliation below rolls
	// the local round forward instead.

	// The ledger may have moved to a new round id since the last
	// observation; rebuild before accepting funds against a stale round.
	currentID, err := chainRead(c, ctx, "currentRoundId", func(ctx context.Context) (uint64, error) {
		return c.vault.CurrentRoundID(ctx)
	})
	if err != nil {
		c.metrics.RecordGuess("chain_error")
		return SubmitResult{}, err
	}
	if c.round == nil || currentID != c.round.ID {
		if err := c.bootstrapLocked(ctx); err != nil {
			c.metrics.RecordGuess("chain_error")
			return SubmitResult{}, err
		}
	}

	payment, err := c.verifyAndPayLocked(ctx, player, auth)
	if err != nil {
		c.metrics.RecordGuess(outcomeFor(err))
		return SubmitResult{}, err
	}

	// Ledger truth first: the pot and guess count from the payment event
	// are applied before any local validation, so a guess rejected below
	// still reflects its consumed payment.
	c.round.Pot = new(big.Int).Set(payment.PotAfter)
	c.round.GuessCount = payment.GuessCount

	if c.round.Settled() {
		c.publishLocked()
		c.metrics.RecordGuess("rejected")
		return SubmitResult{}, &ValidationError{Reason: "Round already settled"}
	}
	if len(guess) != c.round.DigitCount {
		c.publishLocked()
		c.metrics.RecordGuess("rejected")
		return SubmitResult{}, &ValidationError{
			Reason: fmt.Sprintf("guess must be exactly %d digits", c.round.DigitCount),
		}
	}

	matches, distance, hint, err := game.Score(c.round.Secret, guess)
	if err != nil {
		// Unreachable after the length check, kept for safety.
		c.metrics.RecordGuess("rejected")
		return SubmitResult{}, &ValidationError{Reason: err.Error()}
	}

	rec := game.GuessRecord{
		Player:      common.HexToAddress(strings.TrimSpace(player)).Hex(),
		Guess:       guess,
		Stake:       new(big.Int).Set(payment.Amount),
		Matches:     matches,
		Distance:    distance,
		Hint:        hint,
		SubmittedAt: c.now().UTC(),
		PriceStep:   c.round.PriceSteps,
	}

	if matches == c.round.DigitCount {
		return c.winLocked(ctx, rec, payment, auth)
	}

	if c.round.ApplyEscalation(matches) {
		c.metrics.RecordEscalation()
		c.emit(Event{Type: EventEscalation, RoundID: c.round.ID, BuyIn: new(big.Int).Set(c.round.BuyIn)})
	}
	c.round.RecordGuess(rec)
	if err := c.payments.Mark(ctx, c.round.ID, auth.Payer, auth.Nonce); err != nil {
		c.log.Warn("mark payment nonce", "err", err)
	}
	payment.BuyInAfter = new(big.Int).Set(c.round.BuyIn)
	c.publishLocked()
	c.emit(Event{Type: EventGuess, RoundID: c.round.ID, Record: &rec})
	c.metrics.RecordGuess("accepted")

	return SubmitResult{
		Snapshot: *c.snapshot.Load(),
		Record:   rec,
		Payment:  payment,
	}, nil
}

// winLocked records the winner, pays out through the atomic settle-and-open
// entry point, and installs the next round. When the ledger call fails the
// round stays in Settling: the winning record is still returned and the
// advance must be retried.
func (c *Coordinator) winLocked(ctx context.Context, rec game.GuessRecord, payment PaymentResult, auth Authorization) (SubmitResult, error) {
	winner := c.round.SetWinner(rec)
	c.state = StateSettling
	c.round.RecordGuess(rec)
	if err := c.payments.Mark(ctx, c.round.ID, auth.Payer, auth.Nonce); err != nil {
		c.log.Warn("mark payment nonce", "err", err)
	}
	payment.BuyInAfter = new(big.Int).Set(c.round.BuyIn)
	c.publishLocked()
	c.metrics.RecordGuess("won")
	c.emit(Event{Type: EventSettled, RoundID: c.round.ID, Record: &rec, Payout: new(big.Int).Set(winner.Payout)})

	result := SubmitResult{
		Record:  rec,
		Payment: payment,
		Payout:  new(big.Int).Set(winner.Payout),
	}
	if err := c.settleAndOpenLocked(ctx); err != nil {
		c.log.Error("settle and open next round", "round", result.Payment.RoundID, "err", err)
		result.Snapshot = *c.snapshot.Load()
		result.SettlementError = err.Error()
		return result, nil
	}
	c.metrics.RecordSettlement()
	result.Snapshot = *c.snapshot.Load()
	return result, nil
}

func (c *Coordinator) settleAndOpenLocked(ctx context.Context) error {
	if c.round == nil || c.round.Winner == nil {
		return &ValidationError{Reason: "no settlement pending"}
	}
	// The payout belongs to the winner whether or not their connection
	// survives the wait, so the settle call runs to the vault's own bound.
	ctx = context.WithoutCancel(ctx)
	settled := c.round
	nextID := settled.ID + 1
	digits := game.ClampDigitCount(c.cfg.DigitCount, c.cfg.MinDigitCount, c.cfg.MaxDigitCount)
	secret, commitment, err := game.SealTarget(nextID, digits, c.signer, c.now())
	if err != nil {
		return fmt.Errorf("seal target for round %d: %w", nextID, err)
	}
	word, err := ledger.CommitmentBytes(commitment.Digest)
	if err != nil {
		return fmt.Errorf("encode commitment: %w", err)
	}
	winnerAddr := common.HexToAddress(settled.Winner.Player)
	openedID, err := chainRead(c, ctx, "settleAndStartNextRound", func(ctx context.Context) (uint64, error) {
		return c.vault.SettleAndStartNextRound(ctx, winnerAddr, c.cfg.InitialBuyIn, word)
	})
	if err != nil {
		return err
	}
	if openedID != nextID {
		return &ChainError{Op: "settleAndStartNextRound", Err: fmt.Errorf("round id drift: opened %d, sealed %d", openedID, nextID)}
	}
	c.archive(settled)
	c.installRoundLocked(ctx, nextID, digits, secret, commitment, c.cfg.InitialBuyIn)
	return nil
}

// RetrySettlement re-runs the settle-and-open call for a round stuck in
// Settling after a ledger failure.
func (c *Coordinator) RetrySettlement(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSettling {
		return &ValidationError{Reason: "no settlement pending"}
	}
	if err := c.settleAndOpenLocked(ctx); err != nil {
		return err
	}
	c.metrics.RecordSettlement()
	return nil
}

func (c *Coordinator) verifyAndPayLocked(ctx context.Context, player string, auth Authorization) (PaymentResult, error) {
	if err := auth.validate(); err != nil {
		return PaymentResult{}, err
	}
	if !strings.EqualFold(strings.TrimSpace(auth.Payer), strings.TrimSpace(player)) {
		return PaymentResult{}, &AuthorizationError{Reason: "authorization payer does not match player"}
	}
	if auth.RoundID != c.round.ID {
		return PaymentResult{}, &AuthorizationError{
			Reason: fmt.Sprintf("authorization bound to round %d, active round is %d", auth.RoundID, c.round.ID),
		}
	}
	if deadline := time.Unix(auth.Deadline, 0); c.now().After(deadline) {
		return PaymentResult{}, &AuthorizationError{Reason: "authorization deadline has passed"}
	}
	seen, err := c.payments.Seen(ctx, c.round.ID, auth.Payer, auth.Nonce)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("check payment set: %w", err)
	}
	if seen {
		return PaymentResult{}, &ReplayError{Payer: auth.PayerAddress().Hex(), Nonce: auth.Nonce}
	}
	signer, err := auth.RecoverSigner()
	if err != nil {
		return PaymentResult{}, &AuthorizationError{Reason: "invalid authorization signature", Err: err}
	}
	if signer != auth.PayerAddress() {
		return PaymentResult{}, &AuthorizationError{
			Reason: fmt.Sprintf("authorization signed by %s, not payer %s", signer.Hex(), auth.PayerAddress().Hex()),
		}
	}
	params, err := auth.PayParams()
	if err != nil {
		return PaymentResult{}, &AuthorizationError{Reason: "invalid authorization payload", Err: err}
	}
	// Past this point funds move. A caller disconnect must not abort the
	// wait for the mined payment; the vault bounds the wait itself.
	ctx = context.WithoutCancel(ctx)
	event, err := chainRead(c, ctx, "payForGuess", func(ctx context.Context) (ledger.PaymentEvent, error) {
		return c.vault.PayForGuess(ctx, params)
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if event.RoundID != c.round.ID {
		return PaymentResult{}, &ChainError{
			Op:  "payForGuess",
			Err: fmt.Errorf("payment event for round %d, active round is %d", event.RoundID, c.round.ID),
		}
	}
	return PaymentResult{
		RoundID:    event.RoundID,
		Amount:     new(big.Int).Set(event.Amount),
		PotAfter:   new(big.Int).Set(event.PotAfter),
		GuessCount: event.GuessCount,
	}, nil
}

// PublicState returns the latest published snapshot. It never blocks on the
// submission critical section.
func (c *Coordinator) PublicState() Snapshot {
	if snap := c.snapshot.Load(); snap != nil {
		return *snap
	}
	return Snapshot{State: StateBootstrapping}
}

// ResetRound is the administrative override: it closes any active vault
// round and opens a fresh one at the configured initial buy-in.
func (c *Coordinator) ResetRound(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentID, err := chainRead(c, ctx, "currentRoundId", func(ctx context.Context) (uint64, error) {
		return c.vault.CurrentRoundID(ctx)
	})
	if err != nil {
		return err
	}
	if currentID > 0 {
		state, err := chainRead(c, ctx, "rounds", func(ctx context.Context) (ledger.RoundState, error) {
			return c.vault.Round(ctx, currentID)
		})
		if err != nil {
			return err
		}
		if state.Active {
			if err := c.chainCall(ctx, "closeActiveRound", c.vault.CloseActiveRound); err != nil {
				return err
			}
		}
	}
	if c.round != nil {
		c.archive(c.round)
	}
	return c.openNextLocked(ctx, currentID, c.cfg.InitialBuyIn)
}

// Close deactivates the round without payout. Funds remain escrowed and
// withdrawable through Withdraw.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive && c.state != StateSettling {
		return &ValidationError{Reason: "no active round to close"}
	}
	if err := c.chainCall(ctx, "closeActiveRound", c.vault.CloseActiveRound); err != nil {
		return err
	}
	c.state = StateClosed
	if c.round != nil {
		c.archive(c.round)
	}
	c.publishLocked()
	c.emit(Event{Type: EventClosed, RoundID: c.roundID()})
	return nil
}

// Open starts a new round from Closed (or before the first bootstrap) with
// an arbitrary buy-in; a nil buy-in uses the configured initial price.
func (c *Coordinator) Open(ctx context.Context, buyIn *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive || c.state == StateSettling {
		return &ValidationError{Reason: "round already active"}
	}
	if buyIn == nil || buyIn.Sign() <= 0 {
		buyIn = c.cfg.InitialBuyIn
	}
	currentID, err := chainRead(c, ctx, "currentRoundId", func(ctx context.Context) (uint64, error) {
		return c.vault.CurrentRoundID(ctx)
	})
	if err != nil {
		return err
	}
	return c.openNextLocked(ctx, currentID, buyIn)
}

// PushBuyIn publishes the locally escalated buy-in to the vault. Escalation
// itself never touches the ledger; this is the explicit administrative step.
func (c *Coordinator) PushBuyIn(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.round == nil {
		return &ValidationError{Reason: "no active round"}
	}
	buyIn := new(big.Int).Set(c.round.BuyIn)
	return c.chainCall(ctx, "updateBuyIn", func(ctx context.Context) error {
		return c.vault.UpdateBuyIn(ctx, buyIn)
	})
}

// Withdraw moves idle escrowed funds (not tied to an active pot) to the
// recipient.
func (c *Coordinator) Withdraw(ctx context.Context, recipient string, amount *big.Int) error {
	if !common.IsHexAddress(strings.TrimSpace(recipient)) {
		return &ValidationError{Reason: "recipient address required"}
	}
	if amount == nil || amount.Sign() <= 0 {
		return &ValidationError{Reason: "withdraw amount must be positive"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := common.HexToAddress(strings.TrimSpace(recipient))
	return c.chainCall(ctx, "withdrawIdle", func(ctx context.Context) error {
		return c.vault.WithdrawIdle(ctx, addr, amount)
	})
}

func (c *Coordinator) archive(round *game.Round) {
	if c.archiver == nil || round == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.archiver.ArchiveRound(ctx, round.Clone()); err != nil {
		c.log.Warn("archive round", "round", round.ID, "err", err)
	}
}

func (c *Coordinator) publishLocked() {
	snap := &Snapshot{State: c.state}
	if c.round != nil {
		round := c.round.Clone()
		snap.RoundID = round.ID
		snap.DigitCount = round.DigitCount
		snap.BuyIn = round.BuyIn
		snap.Pot = round.Pot
		snap.GuessCount = round.GuessCount
		snap.PriceSteps = round.PriceSteps
		snap.MaxPriceSteps = round.MaxPriceSteps
		snap.NearMatchThreshold = round.NearMatchThreshold
		snap.Commitment = round.Commitment
		snap.StartedAt = round.StartedAt
		snap.Winner = round.Winner
		snap.Guesses = round.Guesses
		c.metrics.SetRound(round.ID, round.Pot, round.BuyIn)
	}
	c.snapshot.Store(snap)
}

func (c *Coordinator) emit(evt Event) {
	if c.events != nil {
		c.events(evt)
	}
}

func (c *Coordinator) roundID() uint64 {
	if c.round == nil {
		return 0
	}
	return c.round.ID
}

// chainRead wraps a value-returning vault interaction with latency metrics
// and the ChainError taxonomy.
func chainRead[T any](c *Coordinator, ctx context.Context, op string, call func(context.Context) (T, error)) (T, error) {
	start := c.now()
	out, err := call(ctx)
	c.metrics.ObserveChainLatency(op, c.now().Sub(start))
	if err != nil {
		var zero T
		return zero, wrapChainErr(op, err)
	}
	return out, nil
}

func (c *Coordinator) chainCall(ctx context.Context, op string, call func(context.Context) error) error {
	start := c.now()
	err := call(ctx)
	c.metrics.ObserveChainLatency(op, c.now().Sub(start))
	if err != nil {
		return wrapChainErr(op, err)
	}
	return nil
}

// wrapChainErr classifies a vault failure. A missing signer key is a
// capability gap on this process, not a chain fault, so it surfaces as a
// ConfigError and leaves the read surface untouched.
func wrapChainErr(op string, err error) error {
	if errors.Is(err, ledger.ErrNoSigner) {
		return &ConfigError{Field: "signer key"}
	}
	return &ChainError{Op: op, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// outcomeFor keeps the metric outcome labels bounded.
func outcomeFor(err error) string {
	switch err.(type) {
	case *ValidationError:
		return "rejected"
	case *AuthorizationError:
		return "unauthorized"
	case *ReplayError:
		return "replay"
	case *ChainError:
		return "chain_error"
	default:
		return "error"
	}
}
