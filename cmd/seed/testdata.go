package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	disabledAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	brokeAccountID    = uuid.MustParse("00000000-0000-0000-0000-000000000004")
)

func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	now := time.Now().UTC()

	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, balance, active, version, created_at, updated_at)
		VALUES ($1, $2, FALSE, 1, $3, $3)
		ON CONFLICT (id) DO UPDATE
		SET active = FALSE,
		    version = accounts.version + 1,
		    updated_at = EXCLUDED.updated_at
	`, disabledAccountID, startingBalance, now)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO accounts (id, balance, active, version, created_at, updated_at)
		VALUES ($1, '0.00', TRUE, 1, $2, $2)
		ON CONFLICT (id) DO UPDATE
		SET balance = '0.00',
		    version = accounts.version + 1,
		    updated_at = EXCLUDED.updated_at
	`, brokeAccountID, now)
	return err
}
