package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"spinbank/internal/game"
	"spinbank/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fixedSpinner always lands the same faces.
type fixedSpinner struct {
	symbols []game.Symbol
}

func (f *fixedSpinner) Spin(reelCount int) ([]game.Symbol, error) {
	out := make([]game.Symbol, len(f.symbols))
	copy(out, f.symbols)
	return out, nil
}

// recordingPublisher captures settlement events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	return 0, int64(len(p.topics)), nil
}

func (p *recordingPublisher) Close() error { return nil }

// conflictStore rejects every commit with a stale version.
type conflictStore struct {
	account storage.Account
	commits int
}

func (s *conflictStore) LockAndRead(ctx context.Context, accountID uuid.UUID) (storage.Account, error) {
	return s.account, nil
}

func (s *conflictStore) CommitSettlement(ctx context.Context, req storage.CommitRequest) (storage.LedgerEntry, error) {
	s.commits++
	return storage.LedgerEntry{}, storage.ErrVersionConflict
}

func testConfig() Config {
	return Config{
		ReelCount:  3,
		MinStake:   dec("1"),
		MaxStake:   dec("1000"),
		MaxRetries: 3,
	}
}

func newTestEngine(t *testing.T, store WalletStore, spinner Spinner, cfg Config) *Engine {
	t.Helper()
	return New(store, spinner, game.DefaultPayTable(), cfg, nil, nil)
}

func mustCreate(t *testing.T, store *storage.MemoryStore, balance string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := store.CreateAccount(context.Background(), id, dec(balance)); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return id
}

func TestSettleWinCreditsNetAndAppendsPayout(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolSeven, game.SymbolSeven, game.SymbolSeven}}
	eng := newTestEngine(t, store, spinner, testConfig())

	result, err := eng.Settle(context.Background(), accountID, dec("10"))
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if !result.NewBalance.Equal(dec("1090")) {
		t.Fatalf("new balance = %s, want 1090", result.NewBalance)
	}
	if result.Entry.Kind != storage.KindPayout {
		t.Fatalf("kind = %s, want %s", result.Entry.Kind, storage.KindPayout)
	}
	if !result.Entry.Amount.Equal(dec("990")) {
		t.Fatalf("amount = %s, want 990", result.Entry.Amount)
	}
	if !result.Entry.BalanceBefore.Equal(dec("100")) || !result.Entry.BalanceAfter.Equal(dec("1090")) {
		t.Fatalf("balance snapshots = %s -> %s, want 100 -> 1090", result.Entry.BalanceBefore, result.Entry.BalanceAfter)
	}
	if result.Entry.GameTag != "slot" {
		t.Fatalf("game tag = %q, want slot", result.Entry.GameTag)
	}

	acct, err := store.LockAndRead(context.Background(), accountID)
	if err != nil {
		t.Fatalf("LockAndRead: %v", err)
	}
	if !acct.Balance.Equal(dec("1090")) {
		t.Fatalf("stored balance = %s, want 1090", acct.Balance)
	}
	if acct.Version != 2 {
		t.Fatalf("version = %d, want 2", acct.Version)
	}
	if entries := store.AllEntries(); len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
}

func TestSettleLossDebitsStake(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	eng := newTestEngine(t, store, spinner, testConfig())

	result, err := eng.Settle(context.Background(), accountID, dec("10"))
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !result.NewBalance.Equal(dec("90")) {
		t.Fatalf("new balance = %s, want 90", result.NewBalance)
	}
	if result.Entry.Kind != storage.KindWager {
		t.Fatalf("kind = %s, want %s", result.Entry.Kind, storage.KindWager)
	}
	if !result.Entry.Amount.Equal(dec("-10")) {
		t.Fatalf("amount = %s, want -10", result.Entry.Amount)
	}
	if result.Outcome == nil || result.Outcome.Payout.Win() {
		t.Fatal("expected a losing outcome")
	}
}

func TestSettleRoundsOnceAndDerivesAmount(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	// Two cherries pay x1.5: stake 1.25 yields net 0.625, rounded to 0.63
	// at the balance.
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolCherry, game.SymbolCherry, game.SymbolBell}}
	eng := newTestEngine(t, store, spinner, testConfig())

	result, err := eng.Settle(context.Background(), accountID, dec("1.25"))
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !result.NewBalance.Equal(dec("100.63")) {
		t.Fatalf("new balance = %s, want 100.63", result.NewBalance)
	}
	if !result.Entry.Amount.Equal(result.Entry.BalanceAfter.Sub(result.Entry.BalanceBefore)) {
		t.Fatalf("amount %s must equal balance delta %s", result.Entry.Amount, result.Entry.BalanceAfter.Sub(result.Entry.BalanceBefore))
	}
	if !result.Entry.Amount.Equal(dec("0.63")) {
		t.Fatalf("amount = %s, want 0.63", result.Entry.Amount)
	}
}

func TestSettleInsufficientFundsWritesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "5")
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	eng := newTestEngine(t, store, spinner, testConfig())

	_, err := eng.Settle(context.Background(), accountID, dec("10"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	acct, _ := store.LockAndRead(context.Background(), accountID)
	if !acct.Balance.Equal(dec("5")) {
		t.Fatalf("balance changed to %s on rejected wager", acct.Balance)
	}
	if entries := store.AllEntries(); len(entries) != 0 {
		t.Fatalf("ledger has %d entries, want 0", len(entries))
	}
}

func TestSettleStakeValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	eng := newTestEngine(t, store, spinner, testConfig())

	for _, stake := range []string{"0", "-5", "0.5", "1000.01"} {
		if _, err := eng.Settle(context.Background(), accountID, dec(stake)); !errors.Is(err, ErrInvalidStake) {
			t.Fatalf("stake %s: err = %v, want ErrInvalidStake", stake, err)
		}
	}
	if entries := store.AllEntries(); len(entries) != 0 {
		t.Fatalf("ledger has %d entries, want 0", len(entries))
	}
}

func TestSettleUnknownAccount(t *testing.T) {
	store := storage.NewMemoryStore()
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	eng := newTestEngine(t, store, spinner, testConfig())

	_, err := eng.Settle(context.Background(), uuid.New(), dec("10"))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestSettleInactiveAccount(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	if _, err := store.SetActive(context.Background(), accountID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	eng := newTestEngine(t, store, spinner, testConfig())

	_, err := eng.Settle(context.Background(), accountID, dec("10"))
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
}

func TestSettleConcurrentSpendOfSameFunds(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "15")
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	cfg := testConfig()
	cfg.MaxRetries = 10
	eng := newTestEngine(t, store, spinner, cfg)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := eng.Settle(context.Background(), accountID, dec("10"))
			errs <- err
		}()
	}

	var succeeded, insufficient int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("succeeded=%d insufficient=%d, want exactly one of each", succeeded, insufficient)
	}

	acct, _ := store.LockAndRead(context.Background(), accountID)
	if !acct.Balance.Equal(dec("5")) {
		t.Fatalf("balance = %s, want 5", acct.Balance)
	}
	if entries := store.AllEntries(); len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
}

func TestSettleConcurrentLedgerChains(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "10000")
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	cfg := testConfig()
	cfg.MaxRetries = 100
	eng := newTestEngine(t, store, spinner, cfg)

	const spins = 8
	var wg sync.WaitGroup
	errs := make(chan error, spins)
	for i := 0; i < spins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Settle(context.Background(), accountID, dec("10"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Settle: %v", err)
		}
	}

	entries := store.AllEntries()
	if len(entries) != spins {
		t.Fatalf("ledger has %d entries, want %d", len(entries), spins)
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].BalanceBefore.Equal(entries[i-1].BalanceAfter) {
			t.Fatalf("entry %d balance_before %s does not chain from %s", i, entries[i].BalanceBefore, entries[i-1].BalanceAfter)
		}
	}
	acct, _ := store.LockAndRead(context.Background(), accountID)
	if !acct.Balance.Equal(dec("9920")) {
		t.Fatalf("balance = %s, want 9920", acct.Balance)
	}
}

func TestSettleRetriesThenConflict(t *testing.T) {
	store := &conflictStore{account: storage.Account{
		ID:      uuid.New(),
		Balance: dec("100"),
		Active:  true,
		Version: 1,
	}}
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	eng := newTestEngine(t, store, spinner, testConfig())

	_, err := eng.Settle(context.Background(), store.account.ID, dec("10"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if store.commits != 3 {
		t.Fatalf("commit attempts = %d, want 3", store.commits)
	}
}

func TestSettlePublishesAfterCommit(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	spinner := &fixedSpinner{symbols: []game.Symbol{game.SymbolLemon, game.SymbolBell, game.SymbolGrape}}
	pub := &recordingPublisher{}
	eng := newTestEngine(t, store, spinner, testConfig()).WithPublisher(pub, "wallet.settled")

	if _, err := eng.Settle(context.Background(), accountID, dec("10")); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "wallet.settled" {
		t.Fatalf("published topics = %v, want one wallet.settled", pub.topics)
	}
	if pub.keys[0] != accountID.String() {
		t.Fatalf("message key = %s, want account id %s", pub.keys[0], accountID)
	}

	// A rejected wager must not publish.
	if _, err := eng.Settle(context.Background(), accountID, dec("5000")); !errors.Is(err, ErrInvalidStake) {
		t.Fatalf("err = %v, want ErrInvalidStake", err)
	}
	if len(pub.topics) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.topics))
	}
}

func TestAdjustDeposit(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	eng := newTestEngine(t, store, nil, testConfig())

	result, err := eng.Adjust(context.Background(), AdjustInput{
		AccountID: accountID,
		Delta:     dec("50"),
		Kind:      storage.KindDeposit,
		Reason:    "  promo credit  ",
	})
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !result.NewBalance.Equal(dec("150")) {
		t.Fatalf("new balance = %s, want 150", result.NewBalance)
	}
	if result.Entry.Kind != storage.KindDeposit {
		t.Fatalf("kind = %s, want %s", result.Entry.Kind, storage.KindDeposit)
	}
	if result.Entry.Description != "promo credit" {
		t.Fatalf("description = %q, want trimmed reason", result.Entry.Description)
	}
	if result.Entry.GameTag != "" {
		t.Fatalf("game tag = %q, want empty for adjustments", result.Entry.GameTag)
	}
	if result.Outcome != nil {
		t.Fatal("adjustment must not carry a spin outcome")
	}
}

func TestAdjustValidation(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	eng := newTestEngine(t, store, nil, testConfig())

	cases := []struct {
		name string
		in   AdjustInput
	}{
		{"wager kind rejected", AdjustInput{AccountID: accountID, Delta: dec("5"), Kind: storage.KindWager, Reason: "x"}},
		{"unknown kind", AdjustInput{AccountID: accountID, Delta: dec("5"), Kind: "bonus", Reason: "x"}},
		{"zero delta", AdjustInput{AccountID: accountID, Delta: decimal.Zero, Kind: storage.KindAdjustment, Reason: "x"}},
		{"blank reason", AdjustInput{AccountID: accountID, Delta: dec("5"), Kind: storage.KindAdjustment, Reason: "   "}},
		{"negative deposit", AdjustInput{AccountID: accountID, Delta: dec("-5"), Kind: storage.KindDeposit, Reason: "x"}},
		{"positive withdrawal", AdjustInput{AccountID: accountID, Delta: dec("5"), Kind: storage.KindWithdrawal, Reason: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.Adjust(context.Background(), tc.in); !errors.Is(err, ErrInvalidAdjustment) {
				t.Fatalf("err = %v, want ErrInvalidAdjustment", err)
			}
		})
	}
	if entries := store.AllEntries(); len(entries) != 0 {
		t.Fatalf("ledger has %d entries, want 0", len(entries))
	}
}

func TestAdjustNegativeBalancePolicy(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "20")
	eng := newTestEngine(t, store, nil, testConfig())

	_, err := eng.Adjust(context.Background(), AdjustInput{
		AccountID: accountID,
		Delta:     dec("-30"),
		Kind:      storage.KindWithdrawal,
		Reason:    "cashout",
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	result, err := eng.Adjust(context.Background(), AdjustInput{
		AccountID:     accountID,
		Delta:         dec("-30"),
		Kind:          storage.KindAdjustment,
		Reason:        "chargeback",
		AllowNegative: true,
	})
	if err != nil {
		t.Fatalf("Adjust with AllowNegative: %v", err)
	}
	if !result.NewBalance.Equal(dec("-10")) {
		t.Fatalf("new balance = %s, want -10", result.NewBalance)
	}
}

func TestAdjustInactiveAccount(t *testing.T) {
	store := storage.NewMemoryStore()
	accountID := mustCreate(t, store, "100")
	if _, err := store.SetActive(context.Background(), accountID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	eng := newTestEngine(t, store, nil, testConfig())

	_, err := eng.Adjust(context.Background(), AdjustInput{
		AccountID: accountID,
		Delta:     dec("10"),
		Kind:      storage.KindDeposit,
		Reason:    "deposit",
	})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
}
