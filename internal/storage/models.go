package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is the single mutable fact per player: current balance plus the
// version token every balance write must present.
type Account struct {
	ID        uuid.UUID
	Balance   decimal.Decimal
	Active    bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EntryKind string

const (
	KindWager      EntryKind = "wager"
	KindPayout     EntryKind = "payout"
	KindDeposit    EntryKind = "deposit"
	KindWithdrawal EntryKind = "withdrawal"
	KindAdjustment EntryKind = "adjustment"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindWager, KindPayout, KindDeposit, KindWithdrawal, KindAdjustment:
		return true
	}
	return false
}

// AdjustmentKinds are the kinds the administrative path may write.
func AdjustmentKinds() []EntryKind {
	return []EntryKind{KindDeposit, KindWithdrawal, KindAdjustment}
}

// LedgerEntry is one immutable audit record of a balance change. Amount is
// the signed net change; BalanceBefore/BalanceAfter snapshot the account
// around it.
type LedgerEntry struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Kind          EntryKind
	Amount        decimal.Decimal
	GameTag       string
	Description   string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

// CommitRequest carries one atomic balance mutation: the new balance guarded
// by the version read alongside it, and the ledger entry recording the
// transition. Entry.ID and Entry.CreatedAt are assigned by the store.
type CommitRequest struct {
	AccountID       uuid.UUID
	NewBalance      decimal.Decimal
	ExpectedVersion int64
	Entry           LedgerEntry
}

// EntryFilter selects a page of ledger history. Kind empty means all kinds.
type EntryFilter struct {
	Kind     EntryKind
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging values into range.
func (f EntryFilter) Normalize() EntryFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// DayStats aggregates today's ledger activity for the admin dashboard.
type DayStats struct {
	TotalWagered decimal.Decimal
	TotalPaidOut decimal.Decimal
	EntryCount   int64
}
