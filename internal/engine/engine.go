package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spinbank/internal/game"
	"spinbank/internal/kafka"
	"spinbank/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

const (
	gameTagSlot = "slot"

	eventTypeWalletSettled = "wallet.settled"
	eventVersion           = 1
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account inactive")
	ErrInvalidStake      = errors.New("invalid stake")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAdjustment = errors.New("invalid adjustment")
	ErrConflict          = errors.New("settlement conflict, retry")
)

// WalletStore is the narrow store surface the engine mutates through.
// CommitSettlement must apply the balance write and the ledger append as one
// indivisible unit, rejecting stale versions.
type WalletStore interface {
	LockAndRead(ctx context.Context, accountID uuid.UUID) (storage.Account, error)
	CommitSettlement(ctx context.Context, req storage.CommitRequest) (storage.LedgerEntry, error)
}

// Spinner produces one randomized outcome per wager.
type Spinner interface {
	Spin(reelCount int) ([]game.Symbol, error)
}

type Config struct {
	ReelCount  int
	MinStake   decimal.Decimal
	MaxStake   decimal.Decimal
	MaxRetries int
}

// Engine settles wagers and administrative adjustments against the wallet
// store. Every mutation flows through one path: read balance and version,
// validate, resolve the net change, round once, commit atomically. A lost
// version race retries from the top a bounded number of times.
type Engine struct {
	store     WalletStore
	reels     Spinner
	table     *game.PayTable
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
	metrics   *Metrics
	cfg       Config
}

func New(store WalletStore, reels Spinner, table *game.PayTable, cfg Config, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Engine{
		store:   store,
		reels:   reels,
		table:   table,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}
}

// WithPublisher enables post-commit settlement events on the given topic.
func (e *Engine) WithPublisher(publisher kafka.Publisher, topic string) *Engine {
	e.publisher = publisher
	e.topic = topic
	return e
}

// SpinOutcome is the ephemeral result of one resolved wager.
type SpinOutcome struct {
	Symbols []game.Symbol
	Payout  game.Payout
}

type SettlementResult struct {
	Entry      storage.LedgerEntry
	NewBalance decimal.Decimal
	Outcome    *SpinOutcome
}

// Settle validates a wager, resolves its outcome and commits the balance
// effect with exactly one ledger entry.
func (e *Engine) Settle(ctx context.Context, accountID uuid.UUID, stake decimal.Decimal) (*SettlementResult, error) {
	start := time.Now()
	if stake.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: stake must be positive", ErrInvalidStake)
	}
	if stake.LessThan(e.cfg.MinStake) {
		return nil, fmt.Errorf("%w: stake below minimum %s", ErrInvalidStake, e.cfg.MinStake)
	}
	if stake.GreaterThan(e.cfg.MaxStake) {
		return nil, fmt.Errorf("%w: stake above maximum %s", ErrInvalidStake, e.cfg.MaxStake)
	}

	result, err := e.settleWithRetry(ctx, accountID, stake)
	e.observe("settle", start, err)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		outcome := "loss"
		if result.Outcome.Payout.Win() {
			outcome = "win"
		}
		e.metrics.SpinsTotal.WithLabelValues(outcome).Inc()
	}
	e.publish(ctx, result.Entry)
	return result, nil
}

func (e *Engine) settleWithRetry(ctx context.Context, accountID uuid.UUID, stake decimal.Decimal) (*SettlementResult, error) {
	for attempt := 1; ; attempt++ {
		acct, err := e.store.LockAndRead(ctx, accountID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if !acct.Active {
			return nil, ErrAccountInactive
		}
		if stake.GreaterThan(acct.Balance) {
			return nil, fmt.Errorf("%w: stake %s exceeds balance %s", ErrInsufficientFunds, stake, acct.Balance)
		}

		symbols, err := e.reels.Spin(e.cfg.ReelCount)
		if err != nil {
			return nil, fmt.Errorf("spin reels: %w", err)
		}
		payout, err := e.table.Evaluate(symbols, stake)
		if err != nil {
			return nil, fmt.Errorf("evaluate pay table: %w", err)
		}

		// Round once; the recorded amount is derived from the rounded
		// balances so ledger and account can never drift.
		newBalance := acct.Balance.Add(payout.NetChange).Round(2)
		amount := newBalance.Sub(acct.Balance)

		kind := storage.KindWager
		if payout.Win() {
			kind = storage.KindPayout
		}
		entry, err := e.store.CommitSettlement(ctx, storage.CommitRequest{
			AccountID:       accountID,
			NewBalance:      newBalance,
			ExpectedVersion: acct.Version,
			Entry: storage.LedgerEntry{
				Kind:          kind,
				Amount:        amount,
				GameTag:       gameTagSlot,
				Description:   spinDescription(symbols, payout),
				BalanceBefore: acct.Balance,
				BalanceAfter:  newBalance,
			},
		})
		if err == nil {
			return &SettlementResult{
				Entry:      entry,
				NewBalance: newBalance,
				Outcome:    &SpinOutcome{Symbols: symbols, Payout: payout},
			}, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, mapStoreErr(err)
		}
		if e.metrics != nil {
			e.metrics.VersionConflicts.Inc()
		}
		if attempt >= e.cfg.MaxRetries {
			return nil, ErrConflict
		}
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

type AdjustInput struct {
	AccountID uuid.UUID
	Delta     decimal.Decimal
	Kind      storage.EntryKind
	Reason    string
	// AllowNegative permits the resulting balance to go below zero.
	// Explicit policy, never the default.
	AllowNegative bool
}

// Adjust applies a direct balance delta under the same commit discipline as
// Settle, skipping outcome resolution. A zero delta is rejected rather than
// recorded as a no-op.
func (e *Engine) Adjust(ctx context.Context, in AdjustInput) (*SettlementResult, error) {
	start := time.Now()
	result, err := e.adjust(ctx, in)
	e.observe("adjust", start, err)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, result.Entry)
	return result, nil
}

func (e *Engine) adjust(ctx context.Context, in AdjustInput) (*SettlementResult, error) {
	if !validAdjustmentKind(in.Kind) {
		return nil, fmt.Errorf("%w: kind must be one of %v", ErrInvalidAdjustment, storage.AdjustmentKinds())
	}
	if in.Delta.IsZero() {
		return nil, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAdjustment)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return nil, fmt.Errorf("%w: reason required", ErrInvalidAdjustment)
	}
	if in.Kind == storage.KindDeposit && in.Delta.IsNegative() {
		return nil, fmt.Errorf("%w: deposit delta must be positive", ErrInvalidAdjustment)
	}
	if in.Kind == storage.KindWithdrawal && in.Delta.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal delta must be negative", ErrInvalidAdjustment)
	}

	for attempt := 1; ; attempt++ {
		acct, err := e.store.LockAndRead(ctx, in.AccountID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if !acct.Active {
			return nil, ErrAccountInactive
		}

		newBalance := acct.Balance.Add(in.Delta).Round(2)
		if newBalance.IsNegative() && !in.AllowNegative {
			return nil, fmt.Errorf("%w: delta %s would drive balance below zero", ErrInsufficientFunds, in.Delta)
		}
		amount := newBalance.Sub(acct.Balance)

		entry, err := e.store.CommitSettlement(ctx, storage.CommitRequest{
			AccountID:       in.AccountID,
			NewBalance:      newBalance,
			ExpectedVersion: acct.Version,
			Entry: storage.LedgerEntry{
				Kind:          in.Kind,
				Amount:        amount,
				Description:   strings.TrimSpace(in.Reason),
				BalanceBefore: acct.Balance,
				BalanceAfter:  newBalance,
			},
		})
		if err == nil {
			return &SettlementResult{Entry: entry, NewBalance: newBalance}, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return nil, mapStoreErr(err)
		}
		if e.metrics != nil {
			e.metrics.VersionConflicts.Inc()
		}
		if attempt >= e.cfg.MaxRetries {
			return nil, ErrConflict
		}
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	select {
	case <-time.After(backoffDuration(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) observe(method string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		status = "conflict"
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrInvalidStake), errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidAdjustment):
		status = "rejected"
	default:
		status = "error"
	}
	e.metrics.SettlementsTotal.WithLabelValues(method, status).Inc()
	e.metrics.SettlementDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// publish emits the settlement event after commit. Failures are logged, never
// unwound: the ledger is the source of truth, the stream is derived.
func (e *Engine) publish(ctx context.Context, entry storage.LedgerEntry) {
	if e.publisher == nil || e.topic == "" {
		return
	}
	envelope, err := kafka.NewEnvelopeWithID(entry.ID.String(), eventTypeWalletSettled, eventVersion, "")
	if err != nil {
		e.logger.Error("build settlement event", "entry_id", entry.ID.String(), "error", err)
		return
	}
	payload := map[string]any{
		"envelope":       envelope,
		"account_id":     entry.AccountID.String(),
		"entry_id":       entry.ID.String(),
		"kind":           string(entry.Kind),
		"amount":         entry.Amount.String(),
		"balance_before": entry.BalanceBefore.String(),
		"balance_after":  entry.BalanceAfter.String(),
		"created_at":     entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, _, err := e.publisher.PublishJSON(ctx, e.topic, entry.AccountID.String(), payload); err != nil {
		e.logger.Error("publish settlement event", "entry_id", entry.ID.String(), "error", err)
	}
}

func spinDescription(symbols []game.Symbol, payout game.Payout) string {
	faces := make([]string, len(symbols))
	for i, s := range symbols {
		faces[i] = string(s)
	}
	joined := strings.Join(faces, " ")
	if payout.Win() {
		return fmt.Sprintf("slot win x%s (%s)", payout.Multiplier, joined)
	}
	return fmt.Sprintf("slot wager lost (%s)", joined)
}

func validAdjustmentKind(kind storage.EntryKind) bool {
	for _, k := range storage.AdjustmentKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	return fmt.Errorf("wallet store: %w", err)
}

func backoffDuration(attempt int) time.Duration {
	base := 10 * time.Millisecond
	if attempt <= 1 {
		return base
	}
	return base * time.Duration(attempt)
}
