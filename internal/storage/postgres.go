package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrVersionConflict = errors.New("account version conflict")
)

// Store persists accounts and the append-only ledger in Postgres. Ledger rows
// are inserted in the same transaction as the guarded balance write, so a
// reader can never observe one without the other.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// LockAndRead returns the account's balance, active flag and version token.
// With optimistic concurrency the snapshot itself is the lock: the version
// must be presented back at commit time.
func (s *Store) LockAndRead(ctx context.Context, accountID uuid.UUID) (Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, balance::text, active, version, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID)
	return scanAccount(row)
}

// CommitSettlement applies one balance write plus its ledger entry as a
// single transaction. The write is rejected when the presented version is
// stale; nothing is left behind in that case.
func (s *Store) CommitSettlement(ctx context.Context, req CommitRequest) (LedgerEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("begin settlement tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
	`, req.NewBalance.String(), now, req.AccountID, req.ExpectedVersion)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("write balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, req.AccountID).Scan(&exists); err != nil {
			return LedgerEntry{}, fmt.Errorf("check account: %w", err)
		}
		if !exists {
			return LedgerEntry{}, ErrAccountNotFound
		}
		return LedgerEntry{}, ErrVersionConflict
	}

	entry := req.Entry
	entry.ID = uuid.New()
	entry.AccountID = req.AccountID
	entry.CreatedAt = now
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, game_tag, description, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.AccountID, string(entry.Kind), entry.Amount.String(), entry.GameTag,
		entry.Description, entry.BalanceBefore.String(), entry.BalanceAfter.String(), entry.CreatedAt)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return LedgerEntry{}, fmt.Errorf("commit settlement tx: %w", err)
	}
	committed = true
	return entry, nil
}

// SetActive flips the account's active flag. The flag write bumps the version
// so in-flight settlements that read the old flag lose their commit race.
func (s *Store) SetActive(ctx context.Context, accountID uuid.UUID, active bool) (Account, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET active = $1, version = version + 1, updated_at = $2
		WHERE id = $3
		RETURNING id, balance::text, active, version, created_at, updated_at
	`, active, time.Now().UTC(), accountID)
	return scanAccount(row)
}

// CreateAccount inserts a new account. Registration lives outside the core;
// this exists for the seeder and admin tooling.
func (s *Store) CreateAccount(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) (Account, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, balance, active, version, created_at, updated_at)
		VALUES ($1, $2, TRUE, 1, $3, $3)
		RETURNING id, balance::text, active, version, created_at, updated_at
	`, accountID, balance.String(), now)
	acct, err := scanAccount(row)
	if err != nil && isUniqueViolation(err) {
		return s.LockAndRead(ctx, accountID)
	}
	return acct, err
}

// ListEntries returns one page of ledger history plus the total count.
// accountID uuid.Nil selects all accounts (admin view).
func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID, filter EntryFilter) ([]LedgerEntry, int64, error) {
	filter = filter.Normalize()

	conds := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if accountID != uuid.Nil {
		args = append(args, accountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM ledger_entries %s`, where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, account_id, kind, amount::text, game_tag, description, balance_before::text, balance_after::text, created_at
		FROM ledger_entries
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return entries, total, nil
}

// TodayStats aggregates today's activity. Wager amounts are recorded as
// negative net changes, so the wagered total is negated back to a positive
// figure.
func (s *Store) TodayStats(ctx context.Context) (DayStats, error) {
	var wageredStr, paidStr string
	var count int64
	row := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'wager' THEN -amount ELSE 0 END), 0)::text,
			COALESCE(SUM(CASE WHEN kind = 'payout' THEN amount ELSE 0 END), 0)::text,
			COUNT(*)
		FROM ledger_entries
		WHERE created_at >= date_trunc('day', now() AT TIME ZONE 'utc')
	`)
	if err := row.Scan(&wageredStr, &paidStr, &count); err != nil {
		return DayStats{}, fmt.Errorf("today stats: %w", err)
	}

	wagered, err := decimal.NewFromString(wageredStr)
	if err != nil {
		return DayStats{}, fmt.Errorf("parse wagered total: %w", err)
	}
	paid, err := decimal.NewFromString(paidStr)
	if err != nil {
		return DayStats{}, fmt.Errorf("parse paid total: %w", err)
	}
	return DayStats{TotalWagered: wagered, TotalPaidOut: paid, EntryCount: count}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var acct Account
	var balanceStr string
	if err := row.Scan(&acct.ID, &balanceStr, &acct.Active, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return Account{}, fmt.Errorf("parse balance: %w", err)
	}
	acct.Balance = balance
	return acct, nil
}

func scanEntry(row rowScanner) (LedgerEntry, error) {
	var entry LedgerEntry
	var kind, amountStr, beforeStr, afterStr string
	if err := row.Scan(&entry.ID, &entry.AccountID, &kind, &amountStr, &entry.GameTag, &entry.Description, &beforeStr, &afterStr, &entry.CreatedAt); err != nil {
		return LedgerEntry{}, err
	}
	entry.Kind = EntryKind(kind)
	var err error
	entry.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("parse entry amount: %w", err)
	}
	entry.BalanceBefore, err = decimal.NewFromString(beforeStr)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("parse balance before: %w", err)
	}
	entry.BalanceAfter, err = decimal.NewFromString(afterStr)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("parse balance after: %w", err)
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
