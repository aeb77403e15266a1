package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory wallet store with the same contract as Store.
// Used by engine tests and local runs without Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Account
	entries  []LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[uuid.UUID]Account)}
}

func (m *MemoryStore) LockAndRead(ctx context.Context, accountID uuid.UUID) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (m *MemoryStore) CommitSettlement(ctx context.Context, req CommitRequest) (LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[req.AccountID]
	if !ok {
		return LedgerEntry{}, ErrAccountNotFound
	}
	if acct.Version != req.ExpectedVersion {
		return LedgerEntry{}, ErrVersionConflict
	}

	now := time.Now().UTC()
	acct.Balance = req.NewBalance
	acct.Version++
	acct.UpdatedAt = now
	m.accounts[req.AccountID] = acct

	entry := req.Entry
	entry.ID = uuid.New()
	entry.AccountID = req.AccountID
	entry.CreatedAt = now
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *MemoryStore) SetActive(ctx context.Context, accountID uuid.UUID, active bool) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	acct.Active = active
	acct.Version++
	acct.UpdatedAt = time.Now().UTC()
	m.accounts[accountID] = acct
	return acct, nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[accountID]; ok {
		return acct, nil
	}
	now := time.Now().UTC()
	acct := Account{
		ID:        accountID,
		Balance:   balance,
		Active:    true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.accounts[accountID] = acct
	return acct, nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, accountID uuid.UUID, filter EntryFilter) ([]LedgerEntry, int64, error) {
	filter = filter.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]LedgerEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		if accountID != uuid.Nil && entry.AccountID != accountID {
			continue
		}
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		matched = append(matched, entry)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page := make([]LedgerEntry, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

func (m *MemoryStore) TodayStats(ctx context.Context) (DayStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	stats := DayStats{TotalWagered: decimal.Zero, TotalPaidOut: decimal.Zero}
	for _, entry := range m.entries {
		if entry.CreatedAt.Before(dayStart) {
			continue
		}
		stats.EntryCount++
		switch entry.Kind {
		case KindWager:
			stats.TotalWagered = stats.TotalWagered.Sub(entry.Amount)
		case KindPayout:
			stats.TotalPaidOut = stats.TotalPaidOut.Add(entry.Amount)
		}
	}
	return stats, nil
}

// AllEntries returns a copy of every ledger entry in insertion order.
// Test helper.
func (m *MemoryStore) AllEntries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]LedgerEntry, len(m.entries))
	copy(copied, m.entries)
	return copied
}
